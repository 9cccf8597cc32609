package models

import "time"

// Role represents a user's role, which maps to a set of capabilities
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
)

// User represents someone allowed into the admin UI and AJAX endpoints
type User struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `gorm:"not null" json:"name"`
	Role         Role      `gorm:"type:varchar(20);default:'editor'" json:"role"`

	APIKeys []APIKey `gorm:"foreignKey:UserID" json:"api_keys,omitempty"`
}
