// Package links stores tracking links and their scan history, with a read
// cache in front of the lookups the redirect path and admin pages repeat.
package links

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/cache"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/logger"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/models"
	"gorm.io/gorm"
)

const (
	detailsKeyPrefix  = "qr_trackr_details_"
	redirectKeyPrefix = "qr_trackr_redirect_"
	listKeyPrefix     = "qr_trackr_list_"
	listGenerationKey = "qr_trackr_list_generation"
	referralCodesKey  = "qr_trackr_referral_codes"

	detailsTTL  = 5 * time.Minute
	redirectTTL = 5 * time.Minute
	listTTL     = time.Hour
	referralTTL = time.Hour
)

// ImageRemover deletes a generated image by its public URL.
type ImageRemover interface {
	Remove(imageURL string) error
}

// Store reads and writes tracking links.
type Store struct {
	db     *gorm.DB
	cache  cache.Cache
	logger *logger.Logger
	images ImageRemover
	salt   string
}

// Config configures a Store. Every field is optional.
type Config struct {
	Cache    cache.Cache
	Logger   *logger.Logger
	Images   ImageRemover
	ScanSalt string
}

func NewStore(db *gorm.DB, cfg Config) *Store {
	s := &Store{
		db:     db,
		cache:  cfg.Cache,
		logger: cfg.Logger,
		images: cfg.Images,
		salt:   cfg.ScanSalt,
	}
	if s.cache == nil {
		s.cache = cache.Nop{}
	}
	return s
}

// Fields are the user-editable attributes of a new link.
type Fields struct {
	// Code keeps an existing tracking code; empty means generate one.
	Code           string
	DestinationURL string
	CommonName     string
	ReferralCode   string
	PostID         *uint
	Metadata       string
}

// UpdateFields holds a partial update; nil fields are left untouched.
type UpdateFields struct {
	DestinationURL *string
	CommonName     *string
	ReferralCode   *string
}

// UpdateResult describes what an Update changed.
type UpdateResult struct {
	Link               models.TrackingLink
	DestinationChanged bool
	// PostUnlinked is set when a destination change detached the link from its post.
	PostUnlinked bool
}

// Scan describes one visit to a tracking link.
type Scan struct {
	At        time.Time
	IP        string
	UserAgent string
	Referrer  string
}

// GetOrCreate returns the link for a post, or for a bare destination URL when
// postID is nil, creating it on first use.
func (s *Store) GetOrCreate(ctx context.Context, postID *uint, destinationURL string) (*models.TrackingLink, error) {
	if postID == nil {
		dest, err := ValidateDestination(destinationURL)
		if err != nil {
			return nil, err
		}
		destinationURL = dest
	}

	if link, err := s.findOwner(ctx, postID, destinationURL); err == nil {
		return link, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if postID != nil {
		dest, err := ValidateDestination(destinationURL)
		if err != nil {
			return nil, err
		}
		destinationURL = dest
	}

	code, err := s.generateCode(ctx)
	if err != nil {
		return nil, err
	}
	created := models.TrackingLink{
		DestinationURL: destinationURL,
		QRCode:         code,
		PostID:         postID,
	}
	if err := s.db.WithContext(ctx).Create(&created).Error; err != nil {
		return nil, fmt.Errorf("create tracking link: %w", err)
	}

	// Another request may have inserted a row for the same owner meanwhile.
	// The oldest row wins and ours is discarded.
	winner, err := s.findOwner(ctx, postID, destinationURL)
	if err != nil {
		return nil, err
	}
	if winner.ID != created.ID {
		s.logger.Debug("LINKS", fmt.Sprintf("discarding duplicate link %d in favour of %d", created.ID, winner.ID))
		if err := s.db.WithContext(ctx).Delete(&models.TrackingLink{}, created.ID).Error; err != nil {
			s.logger.Warn("LINKS", fmt.Sprintf("failed to discard duplicate link %d: %v", created.ID, err))
		}
		return winner, nil
	}

	s.invalidateLists(ctx)
	s.logger.LogDatabase("CREATE", "qr_trackr_links", fmt.Sprintf("link %d code %s", created.ID, created.QRCode))
	return &created, nil
}

func (s *Store) findOwner(ctx context.Context, postID *uint, destinationURL string) (*models.TrackingLink, error) {
	query := s.db.WithContext(ctx).Order("id ASC")
	if postID != nil {
		query = query.Where("post_id = ?", *postID)
	} else {
		query = query.Where("post_id IS NULL AND destination_url = ?", destinationURL)
	}

	var link models.TrackingLink
	if err := query.First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find tracking link: %w", err)
	}
	return &link, nil
}

// Create inserts a new link. A post may own at most one link.
func (s *Store) Create(ctx context.Context, f Fields) (*models.TrackingLink, error) {
	dest, err := ValidateDestination(f.DestinationURL)
	if err != nil {
		return nil, err
	}
	if f.PostID != nil {
		switch _, err := s.findOwner(ctx, f.PostID, ""); {
		case err == nil:
			return nil, &ValidationError{Message: "This post already has a QR code."}
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
	}
	name := strings.TrimSpace(f.CommonName)
	if err := validateName(name); err != nil {
		return nil, err
	}
	referral := strings.TrimSpace(f.ReferralCode)
	if err := s.validateReferral(ctx, referral, 0); err != nil {
		return nil, err
	}

	code := strings.TrimSpace(f.Code)
	if code != "" {
		if err := s.validateCode(ctx, code); err != nil {
			return nil, err
		}
	} else if code, err = s.generateCode(ctx); err != nil {
		return nil, err
	}

	link := models.TrackingLink{
		DestinationURL: dest,
		QRCode:         code,
		PostID:         f.PostID,
		CommonName:     optional(name),
		ReferralCode:   optional(referral),
		Metadata:       f.Metadata,
	}
	if err := s.db.WithContext(ctx).Create(&link).Error; err != nil {
		return nil, fmt.Errorf("create tracking link: %w", err)
	}

	s.invalidateLists(ctx)
	s.logger.LogDatabase("CREATE", "qr_trackr_links", fmt.Sprintf("link %d code %s", link.ID, link.QRCode))
	return &link, nil
}

// FindByID returns a link by id, from cache when possible.
func (s *Store) FindByID(ctx context.Context, id uint) (*models.TrackingLink, error) {
	key := detailsKeyPrefix + strconv.FormatUint(uint64(id), 10)

	var link models.TrackingLink
	if s.cacheGet(ctx, key, &link) {
		return &link, nil
	}

	if err := s.db.WithContext(ctx).First(&link, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find tracking link %d: %w", id, err)
	}

	s.cacheSet(ctx, key, link, detailsTTL)
	return &link, nil
}

// FindByCode resolves a tracking code, from cache when possible.
func (s *Store) FindByCode(ctx context.Context, code string) (*models.TrackingLink, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrNotFound
	}
	key := redirectKeyPrefix + code

	var link models.TrackingLink
	if s.cacheGet(ctx, key, &link) {
		return &link, nil
	}

	if err := s.db.WithContext(ctx).Where("qr_code = ?", code).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find tracking code %s: %w", code, err)
	}

	s.cacheSet(ctx, key, link, redirectTTL)
	return &link, nil
}

// Update applies f to the link. A referral code already used by another link
// is rejected before anything is written.
func (s *Store) Update(ctx context.Context, id uint, f UpdateFields) (*UpdateResult, error) {
	var link models.TrackingLink
	if err := s.db.WithContext(ctx).First(&link, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find tracking link %d: %w", id, err)
	}

	updates := map[string]interface{}{}
	result := &UpdateResult{}

	if f.DestinationURL != nil {
		dest, err := ValidateDestination(*f.DestinationURL)
		if err != nil {
			return nil, err
		}
		if dest != link.DestinationURL {
			updates["destination_url"] = dest
			result.DestinationChanged = true
			if link.PostID != nil {
				updates["post_id"] = nil
				result.PostUnlinked = true
			}
		}
	}
	if f.CommonName != nil {
		name := strings.TrimSpace(*f.CommonName)
		if err := validateName(name); err != nil {
			return nil, err
		}
		updates["common_name"] = nullable(name)
	}
	if f.ReferralCode != nil {
		referral := strings.TrimSpace(*f.ReferralCode)
		if err := s.validateReferral(ctx, referral, id); err != nil {
			return nil, err
		}
		updates["referral_code"] = nullable(referral)
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&link).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update tracking link %d: %w", id, err)
		}
		s.invalidate(ctx, &link)
		if f.ReferralCode != nil {
			s.deleteKeys(ctx, referralCodesKey)
		}
	}

	if err := s.db.WithContext(ctx).First(&result.Link, id).Error; err != nil {
		return nil, fmt.Errorf("reload tracking link %d: %w", id, err)
	}
	return result, nil
}

// Delete removes the link and its scan history, then tries to remove its
// image. A file that cannot be removed is only logged.
func (s *Store) Delete(ctx context.Context, id uint) error {
	var link models.TrackingLink
	if err := s.db.WithContext(ctx).First(&link, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("find tracking link %d: %w", id, err)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("link_id = ?", id).Delete(&models.ScanEvent{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.TrackingLink{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete tracking link %d: %w", id, err)
	}

	s.invalidate(ctx, &link)
	s.deleteKeys(ctx, referralCodesKey)
	s.logger.LogDatabase("DELETE", "qr_trackr_links", fmt.Sprintf("link %d code %s", link.ID, link.QRCode))

	if imageURL := link.ImageURL(); imageURL != "" && s.images != nil {
		if err := s.images.Remove(imageURL); err != nil {
			s.logger.Warn("LINKS", fmt.Sprintf("could not remove image for link %d: %v", id, err))
		}
	}
	return nil
}

// RecordScan counts one visit in a single UPDATE and stores the scan event.
func (s *Store) RecordScan(ctx context.Context, id uint, scan Scan) error {
	if scan.At.IsZero() {
		scan.At = time.Now()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.TrackingLink{}).Where("id = ?", id).UpdateColumns(map[string]interface{}{
			"scans":         gorm.Expr("scans + 1"),
			"last_accessed": scan.At,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Create(&models.ScanEvent{
			LinkID:    id,
			ScannedAt: scan.At,
			IPHash:    s.hashIP(scan.IP),
			UserAgent: truncate(scan.UserAgent, 512),
			Referrer:  truncate(scan.Referrer, 512),
		}).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("record scan for link %d: %w", id, err)
	}

	s.deleteKeys(ctx, detailsKeyPrefix+strconv.FormatUint(uint64(id), 10))
	s.invalidateLists(ctx)
	return nil
}

// RecentScanCount counts scan events for a link since the given time.
func (s *Store) RecentScanCount(ctx context.Context, id uint, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ScanEvent{}).
		Where("link_id = ? AND scanned_at >= ?", id, since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count scans for link %d: %w", id, err)
	}
	return count, nil
}

// SetImageURL stores the URL of a generated image.
func (s *Store) SetImageURL(ctx context.Context, id uint, imageURL string) error {
	var link models.TrackingLink
	if err := s.db.WithContext(ctx).First(&link, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("find tracking link %d: %w", id, err)
	}
	if link.ImageURL() == imageURL {
		return nil
	}

	if err := s.db.WithContext(ctx).Model(&link).Update("qr_code_url", imageURL).Error; err != nil {
		return fmt.Errorf("set image for link %d: %w", id, err)
	}
	s.invalidate(ctx, &link)
	return nil
}

// ReferralCodes lists the distinct referral codes in use, sorted.
func (s *Store) ReferralCodes(ctx context.Context) ([]string, error) {
	var codes []string
	if s.cacheGet(ctx, referralCodesKey, &codes) {
		return codes, nil
	}

	err := s.db.WithContext(ctx).Model(&models.TrackingLink{}).
		Where("referral_code IS NOT NULL AND referral_code != ''").
		Distinct().Order("referral_code ASC").
		Pluck("referral_code", &codes).Error
	if err != nil {
		return nil, fmt.Errorf("list referral codes: %w", err)
	}

	s.cacheSet(ctx, referralCodesKey, codes, referralTTL)
	return codes, nil
}

// Stats summarises the whole table.
type Stats struct {
	TotalLinks  int64 `json:"total_links"`
	TotalScans  int64 `json:"total_scans"`
	RecentScans int64 `json:"recent_scans"`
	LinkedPosts int64 `json:"linked_posts"`
	Referrals   int64 `json:"referral_codes"`
}

func (s *Store) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	db := s.db.WithContext(ctx)
	var stats Stats

	if err := db.Model(&models.TrackingLink{}).Count(&stats.TotalLinks).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.TrackingLink{}).Select("COALESCE(SUM(scans), 0)").Scan(&stats.TotalScans).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.ScanEvent{}).Where("scanned_at >= ?", since).Count(&stats.RecentScans).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.TrackingLink{}).Where("post_id IS NOT NULL").Count(&stats.LinkedPosts).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.TrackingLink{}).
		Where("referral_code IS NOT NULL AND referral_code != ''").
		Distinct("referral_code").Count(&stats.Referrals).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *Store) hashIP(ip string) string {
	if ip == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ip + s.salt))
	return hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (s *Store) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	ok, err := cache.GetJSON(ctx, s.cache, key, dest)
	if err != nil {
		s.logger.Debug("CACHE", fmt.Sprintf("get %s: %v", key, err))
		return false
	}
	return ok
}

func (s *Store) cacheSet(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if err := cache.SetJSON(ctx, s.cache, key, value, ttl); err != nil {
		s.logger.Debug("CACHE", fmt.Sprintf("set %s: %v", key, err))
	}
}

func (s *Store) deleteKeys(ctx context.Context, keys ...string) {
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Debug("CACHE", fmt.Sprintf("delete %v: %v", keys, err))
	}
}

// listGeneration names the current set of cached list pages. Pages cached
// under an older generation are never read again and age out with listTTL.
func (s *Store) listGeneration(ctx context.Context) string {
	var gen string
	if s.cacheGet(ctx, listGenerationKey, &gen) && gen != "" {
		return gen
	}
	return s.invalidateLists(ctx)
}

// invalidateLists starts a new list generation with a single cache write.
func (s *Store) invalidateLists(ctx context.Context) string {
	gen := uuid.NewString()
	s.cacheSet(ctx, listGenerationKey, gen, 0)
	return gen
}

// invalidate drops every cached view of link.
func (s *Store) invalidate(ctx context.Context, link *models.TrackingLink) {
	s.deleteKeys(ctx,
		detailsKeyPrefix+strconv.FormatUint(uint64(link.ID), 10),
		redirectKeyPrefix+link.QRCode,
	)
	s.invalidateLists(ctx)
}
