package models

import "time"

// APIKey lets scripts act as a user without a session. Only a hash of the
// key is stored.
type APIKey struct {
	ID          uint       `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	UserID      uint       `gorm:"not null;index" json:"user_id"`
	KeyHash     string     `gorm:"uniqueIndex;not null" json:"-"`
	KeyPrefix   string     `gorm:"not null" json:"key_prefix"`
	Description string     `json:"description"`
	LastUsedAt  *time.Time `json:"last_used_at"`
	// ExpiresAt is nil for keys that never expire
	ExpiresAt *time.Time `json:"expires_at"`

	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// Expired reports whether the key can no longer be used at now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}
