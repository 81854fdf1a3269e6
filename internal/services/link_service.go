// Package services contains the business logic for tracking links. It sits
// between the HTTP/CLI surfaces and the repositories, and owns cache
// read-through and invalidation.
package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/mlecomte/qrtrack/internal/apperrors"
	"github.com/mlecomte/qrtrack/internal/cache"
	"github.com/mlecomte/qrtrack/internal/models"
	"github.com/mlecomte/qrtrack/internal/repository"
	"go.uber.org/zap"
)

// charset for generated codes: base62, 62^6 combinations at the default
// length.
const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	codeLength     = 6
	maxCodeRetries = 5
)

// DestinationChecker probes a destination URL for reachability. Satisfied
// by verify.Verifier.
type DestinationChecker interface {
	CheckDestination(ctx context.Context, url string) bool
}

// ArtifactRemover deletes cached QR artifacts by content key. Satisfied by
// qrimage.Generator.
type ArtifactRemover interface {
	Remove(key string)
}

// Options tunes service behavior from configuration.
type Options struct {
	BaseURL            string
	PrettyURLs         bool
	VerifyDestinations bool
}

// CreateParams carries admin input for link creation.
type CreateParams struct {
	DestinationURL string
	CommonName     string
	ReferralCode   string
	ContentID      *uint
}

// UpdateParams carries a partial admin update. Nil pointers mean "leave
// unchanged".
type UpdateParams struct {
	DestinationURL *string
	CommonName     *string
	ReferralCode   *string
	ContentID      *uint
}

// LinkService provides business logic for managing tracking links.
type LinkService struct {
	linkRepo  repository.LinkRepository
	scanRepo  repository.ScanRepository
	cache     *cache.Cache
	checker   DestinationChecker
	artifacts ArtifactRemover
	opts      Options
	logger    *zap.Logger
}

// NewLinkService creates a LinkService. checker and artifacts may be nil
// when the corresponding features are disabled.
func NewLinkService(
	linkRepo repository.LinkRepository,
	scanRepo repository.ScanRepository,
	c *cache.Cache,
	checker DestinationChecker,
	artifacts ArtifactRemover,
	opts Options,
) *LinkService {
	return &LinkService{
		linkRepo:  linkRepo,
		scanRepo:  scanRepo,
		cache:     c,
		checker:   checker,
		artifacts: artifacts,
		opts:      opts,
		logger:    zap.L().With(zap.String("component", "LinkService")),
	}
}

// GenerateCode generates a cryptographically random base62 code.
func (s *LinkService) GenerateCode(length int) (string, error) {
	code := make([]byte, length)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

// CreateLink validates the destination, optionally probes it, generates a
// unique code with collision retry and persists the link. When ContentID is
// set, an existing association is rejected with ErrDuplicate; get-or-create
// callers use GetOrCreateForContent instead.
func (s *LinkService) CreateLink(ctx context.Context, p CreateParams) (*models.TrackingLink, error) {
	dest, err := s.validateDestination(p.DestinationURL)
	if err != nil {
		return nil, err
	}
	if p.ContentID != nil {
		if _, err := s.linkRepo.GetLinkByContentID(*p.ContentID); err == nil {
			return nil, apperrors.ErrDuplicate
		} else if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}
	if err := s.probeDestination(ctx, dest); err != nil {
		return nil, err
	}

	code, err := s.uniqueCode()
	if err != nil {
		return nil, err
	}

	link := &models.TrackingLink{
		Code:           code,
		DestinationURL: dest,
		CommonName:     p.CommonName,
		ReferralCode:   p.ReferralCode,
		ContentID:      p.ContentID,
	}
	if err := s.linkRepo.CreateLink(link); err != nil {
		return nil, err
	}

	s.cache.BumpListVersion(ctx)
	s.logger.Info("tracking link created",
		zap.Uint("id", link.ID), zap.String("code", link.Code))
	return link, nil
}

// GetOrCreateForContent returns the link already associated with a content
// item, creating one when absent. The check-then-create never surfaces
// ErrDuplicate to the caller: a concurrent create is resolved by re-reading.
func (s *LinkService) GetOrCreateForContent(ctx context.Context, contentID uint, destinationURL string) (*models.TrackingLink, error) {
	link, err := s.linkRepo.GetLinkByContentID(contentID)
	if err == nil {
		return link, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	link, err = s.CreateLink(ctx, CreateParams{
		DestinationURL: destinationURL,
		ContentID:      &contentID,
	})
	if errors.Is(err, apperrors.ErrDuplicate) {
		// Lost a race with another creator; the existing record wins.
		return s.linkRepo.GetLinkByContentID(contentID)
	}
	return link, err
}

// GetLink retrieves a link by id through the cache.
func (s *LinkService) GetLink(ctx context.Context, id uint) (*models.TrackingLink, error) {
	if link, ok := s.cache.GetLink(ctx, cache.IDKey(id)); ok {
		return link, nil
	}
	link, err := s.linkRepo.GetLinkByID(id)
	if err != nil {
		return nil, err
	}
	s.cache.SetLink(ctx, link, cache.IDKey(link.ID), cache.CodeKey(link.Code))
	return link, nil
}

// ResolveCode is the hot lookup behind the redirect resolver: cache first,
// store on miss. A link whose destination is empty or unparseable resolves
// as not found rather than redirecting to an invalid location.
func (s *LinkService) ResolveCode(ctx context.Context, code string) (*models.TrackingLink, error) {
	link, ok := s.cache.GetLink(ctx, cache.CodeKey(code))
	if !ok {
		var err error
		link, err = s.linkRepo.GetLinkByCode(code)
		if err != nil {
			return nil, err
		}
		s.cache.SetLink(ctx, link, cache.IDKey(link.ID), cache.CodeKey(link.Code))
	}

	if _, err := s.validateDestination(link.DestinationURL); err != nil {
		s.logger.Warn("link has invalid destination at resolve time",
			zap.Uint("id", link.ID), zap.String("code", code))
		return nil, apperrors.ErrNotFound
	}
	return link, nil
}

// ListLinks returns a filtered, sorted page of links plus the total match
// count, cached under a fingerprint of the whole query tuple.
func (s *LinkService) ListLinks(ctx context.Context, filter repository.ListFilter, sort, order string, page, pageSize int) ([]models.TrackingLink, int64, error) {
	fingerprint := fmt.Sprintf("%s|%s|%d|%s|%s|%d|%d",
		filter.Search, filter.ReferralCode, filter.MinScans, sort, order, page, pageSize)
	key := s.cache.ListKey(ctx, fingerprint)
	if items, total, ok := s.cache.GetList(ctx, key); ok {
		return items, total, nil
	}

	items, total, err := s.linkRepo.ListLinks(filter, sort, order, page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	s.cache.SetList(ctx, key, items, total)
	return items, total, nil
}

// UpdateLink applies a partial update. A destination change invalidates the
// cached QR artifact reference so the next render regenerates it.
func (s *LinkService) UpdateLink(ctx context.Context, id uint, p UpdateParams) (*models.TrackingLink, error) {
	existing, err := s.linkRepo.GetLinkByID(id)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]interface{})
	if p.DestinationURL != nil && *p.DestinationURL != existing.DestinationURL {
		dest, err := s.validateDestination(*p.DestinationURL)
		if err != nil {
			return nil, err
		}
		if err := s.probeDestination(ctx, dest); err != nil {
			return nil, err
		}
		fields["destination_url"] = dest
		fields["qr_image_ref"] = "" // stale on destination change
	}
	if p.CommonName != nil {
		fields["common_name"] = *p.CommonName
	}
	if p.ReferralCode != nil {
		fields["referral_code"] = *p.ReferralCode
	}
	if p.ContentID != nil {
		// One link per content item, same rule as create.
		if existing.ContentID == nil || *existing.ContentID != *p.ContentID {
			other, err := s.linkRepo.GetLinkByContentID(*p.ContentID)
			if err == nil && other.ID != id {
				return nil, apperrors.ErrDuplicate
			}
			if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
				return nil, err
			}
		}
		fields["content_id"] = *p.ContentID
	}

	updated, err := s.linkRepo.UpdateLink(id, fields)
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, cache.IDKey(id), cache.CodeKey(existing.Code))
	s.cache.BumpListVersion(ctx)
	return updated, nil
}

// SetQRImageRef records the content key of the freshest QR artifact.
func (s *LinkService) SetQRImageRef(ctx context.Context, id uint, ref string) error {
	_, err := s.linkRepo.UpdateLink(id, map[string]interface{}{"qr_image_ref": ref})
	if err != nil {
		return err
	}
	link, err := s.linkRepo.GetLinkByID(id)
	if err == nil {
		s.cache.Invalidate(ctx, cache.IDKey(id), cache.CodeKey(link.Code))
	}
	return nil
}

// DeleteLink removes a link, its scan events (cascade), its cache entries
// and, best effort, its QR artifacts.
func (s *LinkService) DeleteLink(ctx context.Context, id uint) error {
	existing, err := s.linkRepo.GetLinkByID(id)
	if err != nil {
		return err
	}
	if err := s.linkRepo.DeleteLink(id); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, cache.IDKey(id), cache.CodeKey(existing.Code))
	s.cache.BumpListVersion(ctx)
	if s.artifacts != nil && existing.QRImageRef != "" {
		s.artifacts.Remove(existing.QRImageRef)
	}
	s.logger.Info("tracking link deleted",
		zap.Uint("id", id), zap.String("code", existing.Code))
	return nil
}

// RecordScan atomically bumps the scan counter. Counter staleness in the
// cache is bounded by the short single-record TTL; scans do not invalidate.
func (s *LinkService) RecordScan(ctx context.Context, id uint, at time.Time) error {
	return s.linkRepo.IncrementScan(id, at)
}

// GetLinkStats returns a link together with its recorded scan-event count.
func (s *LinkService) GetLinkStats(ctx context.Context, code string) (*models.TrackingLink, int64, error) {
	link, err := s.linkRepo.GetLinkByCode(code)
	if err != nil {
		return nil, 0, err
	}
	events, err := s.scanRepo.CountScansByLinkID(link.ID)
	if err != nil {
		return nil, 0, err
	}
	return link, events, nil
}

// GetLinkStatsByID is the id-keyed variant used by the admin API.
func (s *LinkService) GetLinkStatsByID(ctx context.Context, id uint) (*models.TrackingLink, int64, error) {
	link, err := s.linkRepo.GetLinkByID(id)
	if err != nil {
		return nil, 0, err
	}
	events, err := s.scanRepo.CountScansByLinkID(id)
	if err != nil {
		return nil, 0, err
	}
	return link, events, nil
}

// TrackingURL builds the canonical public URL for a code. The query-string
// form is used when pretty routing is unavailable.
func (s *LinkService) TrackingURL(code string) string {
	base := strings.TrimRight(s.opts.BaseURL, "/")
	if s.opts.PrettyURLs {
		return base + "/" + code
	}
	return base + "/?tracking_code=" + url.QueryEscape(code)
}

// uniqueCode generates a code and retries on collision, like any write to a
// uniquely-indexed column with a small keyspace.
func (s *LinkService) uniqueCode() (string, error) {
	for i := 0; i < maxCodeRetries; i++ {
		code, err := s.GenerateCode(codeLength)
		if err != nil {
			return "", err
		}
		_, err = s.linkRepo.GetLinkByCode(code)
		if errors.Is(err, apperrors.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("database error checking code uniqueness: %w", err)
		}
		s.logger.Debug("code collision, retrying",
			zap.String("code", code), zap.Int("attempt", i+1))
	}
	return "", apperrors.ErrCodeGenerationFailed
}

// validateDestination requires a well-formed absolute http(s) URL and
// returns it trimmed.
func (s *LinkService) validateDestination(raw string) (string, error) {
	dest := strings.TrimSpace(raw)
	if dest == "" {
		return "", apperrors.NewValidation("destination_url", "must not be empty")
	}
	parsed, err := url.Parse(dest)
	if err != nil {
		return "", apperrors.NewValidation("destination_url", "not a valid URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", apperrors.NewValidation("destination_url", "must be an absolute http or https URL")
	}
	if parsed.Host == "" {
		return "", apperrors.NewValidation("destination_url", "missing host")
	}
	return dest, nil
}

// probeDestination runs the optional pre-save reachability check.
func (s *LinkService) probeDestination(ctx context.Context, dest string) error {
	if !s.opts.VerifyDestinations || s.checker == nil {
		return nil
	}
	if !s.checker.CheckDestination(ctx, dest) {
		return &apperrors.DestinationUnreachableError{URL: dest, Reason: "HEAD probe failed"}
	}
	return nil
}
