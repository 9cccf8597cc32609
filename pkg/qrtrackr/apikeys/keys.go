// Package apikeys issues API keys and authenticates requests that carry
// either a key or a session token.
package apikeys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/mikepea/qrtrackr/pkg/qrtrackr/models"
	"gorm.io/gorm"
)

const (
	// KeyLength is the number of random bytes in a key, hex encoded after the prefix
	KeyLength = 32
	// KeyPrefix marks qrtrackr keys so they are recognisable in configs and logs
	KeyPrefix = "qrt_"
	// KeyPrefixLength is how much of a key is stored in clear for identification
	KeyPrefixLength = len(KeyPrefix) + 8

	// MaxLifetimeDays bounds expires_in_days on new keys
	MaxLifetimeDays = 365

	// touchInterval limits last_used_at writes for busy keys
	touchInterval = time.Minute
)

var (
	ErrUnknownKey = errors.New("unknown API key")
	ErrKeyExpired = errors.New("API key expired")
)

func newKey() (string, error) {
	b := make([]byte, KeyLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(b), nil
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Issue stores a new key for userID and returns it with the plaintext key,
// which is not recoverable afterwards. lifetime 0 means no expiry.
func Issue(db *gorm.DB, userID uint, description string, lifetime time.Duration) (*models.APIKey, string, error) {
	key, err := newKey()
	if err != nil {
		return nil, "", err
	}

	record := models.APIKey{
		UserID:      userID,
		KeyHash:     hashKey(key),
		KeyPrefix:   key[:KeyPrefixLength],
		Description: description,
	}
	if lifetime > 0 {
		expires := time.Now().Add(lifetime)
		record.ExpiresAt = &expires
	}

	if err := db.Create(&record).Error; err != nil {
		return nil, "", fmt.Errorf("store API key: %w", err)
	}
	return &record, key, nil
}

// ValidateAPIKey resolves key to its record with the owning user loaded.
func ValidateAPIKey(db *gorm.DB, key string) (*models.APIKey, error) {
	var record models.APIKey
	err := db.Preload("User").Where("key_hash = ?", hashKey(key)).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && record.User.ID == 0) {
		return nil, ErrUnknownKey
	}
	if err != nil {
		return nil, fmt.Errorf("look up API key: %w", err)
	}
	if record.Expired(time.Now()) {
		return nil, ErrKeyExpired
	}
	return &record, nil
}

// UpdateLastUsed records use of a key, at most once per touchInterval.
func UpdateLastUsed(db *gorm.DB, id uint) error {
	now := time.Now()
	return db.Model(&models.APIKey{}).
		Where("id = ? AND (last_used_at IS NULL OR last_used_at < ?)", id, now.Add(-touchInterval)).
		UpdateColumn("last_used_at", now).Error
}
