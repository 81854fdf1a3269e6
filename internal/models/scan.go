package models

import "time"

// ScanEvent is one resolved visit of a tracking code, stored append-only
// for time-series analytics. Rows are never updated; they go away only when
// the owning link is deleted.
type ScanEvent struct {
	ID uint `gorm:"primaryKey"`

	// LinkID references the scanned TrackingLink. Indexed for per-link
	// counting; not a strong foreign key, broken references are tolerated.
	LinkID uint `gorm:"index"`

	Timestamp time.Time

	// Coarse client metadata.
	UserAgent string `gorm:"size:255"`
	IPAddress string `gorm:"size:50"`
}

// ScanRecord is the lightweight message passed through the analytics channel
// to the scan workers. It carries only what is needed to build a ScanEvent.
type ScanRecord struct {
	LinkID    uint
	Timestamp time.Time
	UserAgent string
	IPAddress string
}
