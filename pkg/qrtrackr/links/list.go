package links

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mikepea/qrtrackr/pkg/qrtrackr/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultPerPage is the admin list page size.
const DefaultPerPage = 20

// sortColumns whitelists the columns a list may be ordered by.
var sortColumns = map[string]bool{
	"id":              true,
	"scans":           true,
	"created_at":      true,
	"last_accessed":   true,
	"common_name":     true,
	"referral_code":   true,
	"destination_url": true,
}

// ListQuery selects one page of links.
type ListQuery struct {
	Search         string `json:"s"`
	ReferralFilter string `json:"referral_filter"`
	OrderBy        string `json:"orderby"`
	Order          string `json:"order"`
	Page           int    `json:"paged"`
	PerPage        int    `json:"per_page"`
}

// Normalize applies defaults and drops unknown sort columns.
func (q ListQuery) Normalize() ListQuery {
	q.Search = strings.TrimSpace(q.Search)
	q.ReferralFilter = strings.TrimSpace(q.ReferralFilter)
	if !sortColumns[q.OrderBy] {
		q.OrderBy = "id"
	}
	if strings.EqualFold(q.Order, "asc") {
		q.Order = "asc"
	} else {
		q.Order = "desc"
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 || q.PerPage > 100 {
		q.PerPage = DefaultPerPage
	}
	return q
}

// ListResult is one page of links plus the total matching count.
type ListResult struct {
	Links      []models.TrackingLink `json:"links"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	PerPage    int                   `json:"per_page"`
	TotalPages int                   `json:"total_pages"`
}

// List returns links matching q. Results are cached per query shape until the
// next write.
func (s *Store) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	q = q.Normalize()
	key := listKey(s.listGeneration(ctx), q)

	var result ListResult
	if s.cacheGet(ctx, key, &result) {
		return &result, nil
	}

	query := s.db.WithContext(ctx).Model(&models.TrackingLink{})
	if q.Search != "" {
		like := "%" + escapeLike(strings.ToLower(q.Search)) + "%"
		query = query.Where(
			"(LOWER(destination_url) LIKE ? ESCAPE '\\' OR LOWER(COALESCE(common_name, '')) LIKE ? ESCAPE '\\' OR LOWER(COALESCE(referral_code, '')) LIKE ? ESCAPE '\\' OR qr_code LIKE ? ESCAPE '\\')",
			like, like, like, like,
		)
	}
	if q.ReferralFilter != "" {
		query = query.Where("referral_code = ?", q.ReferralFilter)
	}

	if err := query.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		return nil, fmt.Errorf("count tracking links: %w", err)
	}

	desc := q.Order == "desc"
	query = query.Order(clause.OrderByColumn{Column: clause.Column{Name: q.OrderBy}, Desc: desc})
	if q.OrderBy != "id" {
		query = query.Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: desc})
	}

	result.Links = []models.TrackingLink{}
	if err := query.Limit(q.PerPage).Offset((q.Page - 1) * q.PerPage).Find(&result.Links).Error; err != nil {
		return nil, fmt.Errorf("list tracking links: %w", err)
	}

	result.Page = q.Page
	result.PerPage = q.PerPage
	result.TotalPages = int((result.Total + int64(q.PerPage) - 1) / int64(q.PerPage))

	s.cacheSet(ctx, key, result, listTTL)
	return &result, nil
}

func listKey(generation string, q ListQuery) string {
	data, _ := json.Marshal(q)
	sum := sha256.Sum256(data)
	return listKeyPrefix + generation + "_" + hex.EncodeToString(sum[:16])
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
