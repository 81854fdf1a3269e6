package models

import "time"

// TrackingLink maps a short public code to a destination URL and carries
// its scan counters. Code is assigned at creation and never mutated.
type TrackingLink struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Code           string     `gorm:"uniqueIndex;size:16;not null" json:"code"`
	DestinationURL string     `gorm:"not null" json:"destination_url"`
	ContentID      *uint      `gorm:"index" json:"content_id,omitempty"`
	CommonName     string     `gorm:"size:255" json:"common_name,omitempty"`
	ReferralCode   string     `gorm:"size:100" json:"referral_code,omitempty"`
	AccessCount    uint64     `gorm:"not null;default:0" json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	// QRImageRef holds the content-addressed key of the most recently
	// generated QR artifact. Cleared when the destination changes.
	QRImageRef string `gorm:"size:64" json:"qr_image_ref,omitempty"`
}
