package repository

import (
	"fmt"

	"github.com/mlecomte/qrtrack/internal/models"
	"gorm.io/gorm"
)

// ScanRepository defines persistence for the append-only scan event log.
type ScanRepository interface {
	CreateScan(event *models.ScanEvent) error
	CountScansByLinkID(linkID uint) (int64, error)
}

// GormScanRepository implements ScanRepository using GORM.
type GormScanRepository struct {
	db *gorm.DB
}

// NewScanRepository creates and returns a new GormScanRepository.
func NewScanRepository(db *gorm.DB) *GormScanRepository {
	return &GormScanRepository{db: db}
}

// CreateScan appends one scan event. Events are never updated afterwards.
func (r *GormScanRepository) CreateScan(event *models.ScanEvent) error {
	if err := r.db.Create(event).Error; err != nil {
		return fmt.Errorf("failed to create scan event: %w", err)
	}
	return nil
}

// CountScansByLinkID counts recorded scan events for a link.
func (r *GormScanRepository) CountScansByLinkID(linkID uint) (int64, error) {
	var count int64
	if err := r.db.Model(&models.ScanEvent{}).Where("link_id = ?", linkID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count scan events for link %d: %w", linkID, err)
	}
	return count, nil
}
