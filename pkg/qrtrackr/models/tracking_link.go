package models

import "time"

// TrackingLink is one generated QR code and the destination it redirects to.
type TrackingLink struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DestinationURL string     `gorm:"type:text;not null" json:"destination_url"`
	QRCode         string     `gorm:"size:32;uniqueIndex;not null" json:"qr_code"`
	QRCodeURL      *string    `gorm:"type:text" json:"qr_code_url"`
	PostID         *uint      `gorm:"index" json:"post_id"`
	CommonName     *string    `gorm:"size:255" json:"common_name"`
	ReferralCode   *string    `gorm:"size:100;index" json:"referral_code"`
	Scans          uint       `gorm:"not null;default:0" json:"scans"`
	LastAccessed   *time.Time `json:"last_accessed"`
	Metadata       string     `gorm:"type:text" json:"metadata"`
}

func (TrackingLink) TableName() string {
	return "qr_trackr_links"
}

// ImageURL returns the stored image URL or "" when none has been generated yet.
func (l *TrackingLink) ImageURL() string {
	if l.QRCodeURL == nil {
		return ""
	}
	return *l.QRCodeURL
}

// Name returns the common name or "".
func (l *TrackingLink) Name() string {
	if l.CommonName == nil {
		return ""
	}
	return *l.CommonName
}

// Referral returns the referral code or "".
func (l *TrackingLink) Referral() string {
	if l.ReferralCode == nil {
		return ""
	}
	return *l.ReferralCode
}
