package links

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strings"

	"github.com/mikepea/qrtrackr/pkg/qrtrackr/models"
)

const (
	codeCharset        = "abcdefghijklmnopqrstuvwxyz0123456789"
	codeLength         = 8
	fallbackCodeLength = 12
	codeAttempts       = 10

	maxReferralLength = 100
	maxNameLength     = 255
)

var (
	referralRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	codeRegex     = regexp.MustCompile(`^[a-z0-9]{4,32}$`)
)

// randomCode returns length characters drawn uniformly from codeCharset.
func randomCode(length int) (string, error) {
	max := big.NewInt(int64(len(codeCharset)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = codeCharset[n.Int64()]
	}
	return string(b), nil
}

// generateCode creates a tracking code no existing row uses.
func (s *Store) generateCode(ctx context.Context) (string, error) {
	for attempts := 0; attempts < codeAttempts; attempts++ {
		code, err := randomCode(codeLength)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.TrackingLink{}).Where("qr_code = ?", code).Count(&count).Error; err != nil {
			return "", fmt.Errorf("check code: %w", err)
		}
		if count == 0 {
			return code, nil
		}
	}

	// Fallback to a longer code if short ones keep colliding
	s.logger.Warn("LINKS", "short code space crowded, using long code")
	return randomCode(fallbackCodeLength)
}

// validateCode checks a caller-chosen tracking code, used when links are
// imported from another install.
func (s *Store) validateCode(ctx context.Context, code string) error {
	if !codeRegex.MatchString(code) {
		return &ValidationError{"Tracking code must be 4 to 32 lowercase letters or numbers"}
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.TrackingLink{}).Where("qr_code = ?", code).Count(&count).Error; err != nil {
		return fmt.Errorf("check code: %w", err)
	}
	if count > 0 {
		return &ValidationError{"This tracking code is already in use"}
	}
	return nil
}

// ValidateDestination accepts absolute http and https URLs only.
func ValidateDestination(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ValidationError{"Destination URL is required"}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", &ValidationError{"Please enter a valid destination URL"}
	}
	return raw, nil
}

// validateReferral checks format and that no other row uses the code.
func (s *Store) validateReferral(ctx context.Context, code string, excludeID uint) error {
	if code == "" {
		return nil
	}
	if len(code) > maxReferralLength || !referralRegex.MatchString(code) {
		return &ValidationError{"Referral code may only contain letters, numbers, hyphens, and underscores"}
	}

	var count int64
	query := s.db.WithContext(ctx).Model(&models.TrackingLink{}).Where("referral_code = ?", code)
	if excludeID > 0 {
		query = query.Where("id != ?", excludeID)
	}
	if err := query.Count(&count).Error; err != nil {
		return fmt.Errorf("check referral code: %w", err)
	}
	if count > 0 {
		return &ValidationError{"This referral code is already in use"}
	}
	return nil
}

func validateName(name string) error {
	if len(name) > maxNameLength {
		return &ValidationError{"Common name is too long"}
	}
	return nil
}

// optional maps "" to nil so empty labels are stored as NULL.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullable maps "" to an untyped nil for column maps.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
