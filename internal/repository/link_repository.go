package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mlecomte/qrtrack/internal/apperrors"
	"github.com/mlecomte/qrtrack/internal/models"
	"gorm.io/gorm"
)

// ListFilter is a conjunction of optional filters applied by ListLinks.
type ListFilter struct {
	// Search matches case-insensitively against common name, destination
	// URL and code.
	Search string
	// ReferralCode is an exact match when non-empty.
	ReferralCode string
	// MinScans keeps only links with at least this many recorded scans.
	MinScans uint64
}

// sortColumns is the whitelist of columns ListLinks may sort by. Anything
// else falls back to "id" instead of erroring, to tolerate malformed client
// input.
var sortColumns = map[string]bool{
	"id":               true,
	"code":             true,
	"common_name":      true,
	"access_count":     true,
	"created_at":       true,
	"last_accessed_at": true,
}

// mutableColumns are the only TrackingLink fields UpdateLink will touch.
// id, code and created_at are immutable.
var mutableColumns = map[string]bool{
	"destination_url": true,
	"common_name":     true,
	"referral_code":   true,
	"content_id":      true,
	"qr_image_ref":    true,
}

// LinkRepository defines persistence operations for tracking links. It is
// the only component allowed to issue TrackingLink queries.
type LinkRepository interface {
	CreateLink(link *models.TrackingLink) error
	GetLinkByID(id uint) (*models.TrackingLink, error)
	GetLinkByCode(code string) (*models.TrackingLink, error)
	GetLinkByContentID(contentID uint) (*models.TrackingLink, error)
	ListLinks(filter ListFilter, sort, order string, page, pageSize int) ([]models.TrackingLink, int64, error)
	UpdateLink(id uint, fields map[string]interface{}) (*models.TrackingLink, error)
	DeleteLink(id uint) error
	IncrementScan(id uint, at time.Time) error
}

// GormLinkRepository implements LinkRepository using GORM.
type GormLinkRepository struct {
	db *gorm.DB
}

// NewLinkRepository creates and returns a new GormLinkRepository.
func NewLinkRepository(db *gorm.DB) *GormLinkRepository {
	return &GormLinkRepository{db: db}
}

// CreateLink inserts a new tracking link. Uniqueness violations on the code
// column surface as ErrDuplicate rather than a raw driver error.
func (r *GormLinkRepository) CreateLink(link *models.TrackingLink) error {
	if err := r.db.Create(link).Error; err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrDuplicate
		}
		return fmt.Errorf("failed to create link: %w", err)
	}
	return nil
}

// GetLinkByID retrieves a tracking link by its surrogate key.
func (r *GormLinkRepository) GetLinkByID(id uint) (*models.TrackingLink, error) {
	var link models.TrackingLink
	if err := r.db.First(&link, id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &link, nil
}

// GetLinkByCode retrieves a tracking link by its public code. This is the
// hot lookup used by the redirect resolver; the code column is uniquely
// indexed.
func (r *GormLinkRepository) GetLinkByCode(code string) (*models.TrackingLink, error) {
	var link models.TrackingLink
	if err := r.db.Where("code = ?", code).First(&link).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &link, nil
}

// GetLinkByContentID retrieves the link associated with an external content
// item. Used by get-or-create callers.
func (r *GormLinkRepository) GetLinkByContentID(contentID uint) (*models.TrackingLink, error) {
	var link models.TrackingLink
	if err := r.db.Where("content_id = ?", contentID).First(&link).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &link, nil
}

// ListLinks returns one page of links matching the filter plus the total
// match count. Pagination is 1-indexed; page sizes below 1 get a sane
// default.
func (r *GormLinkRepository) ListLinks(filter ListFilter, sort, order string, page, pageSize int) ([]models.TrackingLink, int64, error) {
	q := r.db.Model(&models.TrackingLink{})

	if s := strings.TrimSpace(filter.Search); s != "" {
		pattern := "%" + s + "%"
		q = q.Where("common_name LIKE ? OR destination_url LIKE ? OR code LIKE ?", pattern, pattern, pattern)
	}
	if filter.ReferralCode != "" {
		q = q.Where("referral_code = ?", filter.ReferralCode)
	}
	if filter.MinScans > 0 {
		q = q.Where("access_count >= ?", filter.MinScans)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count links: %w", err)
	}

	if !sortColumns[sort] {
		sort = "id"
	}
	if order != "desc" {
		order = "asc"
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	var links []models.TrackingLink
	err := q.Order(sort + " " + order).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&links).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list links: %w", err)
	}
	return links, total, nil
}

// UpdateLink applies a partial update restricted to mutable columns and
// returns the fresh record. Unknown or immutable fields are dropped.
func (r *GormLinkRepository) UpdateLink(id uint, fields map[string]interface{}) (*models.TrackingLink, error) {
	updates := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if mutableColumns[k] {
			updates[k] = v
		}
	}
	if len(updates) > 0 {
		res := r.db.Model(&models.TrackingLink{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to update link %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, apperrors.ErrNotFound
		}
	}
	return r.GetLinkByID(id)
}

// DeleteLink removes a link and cascades its scan events in one
// transaction.
func (r *GormLinkRepository) DeleteLink(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.TrackingLink{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete link %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrNotFound
		}
		if err := tx.Where("link_id = ?", id).Delete(&models.ScanEvent{}).Error; err != nil {
			return fmt.Errorf("failed to delete scan events for link %d: %w", id, err)
		}
		return nil
	})
}

// IncrementScan bumps the access counter and stamps last_accessed_at in a
// single UPDATE so concurrent scans of the same link never lose updates.
func (r *GormLinkRepository) IncrementScan(id uint, at time.Time) error {
	res := r.db.Model(&models.TrackingLink{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"access_count":     gorm.Expr("access_count + ?", 1),
			"last_accessed_at": at,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to increment scan count for link %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrNotFound
	}
	return err
}

// isUniqueViolation matches sqlite's unique-constraint error. GORM only
// translates this with TranslateError enabled, so we also match the driver
// message directly.
func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}
