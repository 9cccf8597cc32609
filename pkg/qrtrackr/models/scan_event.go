package models

import "time"

// ScanEvent records a single resolved visit to a tracking link.
type ScanEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	LinkID    uint      `gorm:"not null;index" json:"link_id"`
	ScannedAt time.Time `gorm:"not null;index" json:"scanned_at"`
	IPHash    string    `gorm:"size:64" json:"-"`
	UserAgent string    `gorm:"size:512" json:"user_agent"`
	Referrer  string    `gorm:"size:512" json:"referrer"`
}

func (ScanEvent) TableName() string {
	return "qr_trackr_scans"
}
