package api

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mlecomte/qrtrack/internal/apperrors"
	"github.com/mlecomte/qrtrack/internal/models"
	"github.com/mlecomte/qrtrack/internal/qrimage"
	"github.com/mlecomte/qrtrack/internal/repository"
	"github.com/mlecomte/qrtrack/internal/services"
	"go.uber.org/zap"
)

// ScanRecordsChannel carries scan events to the worker pool. The redirect
// handler writes to it non-blocking so analytics can never delay a visitor.
var ScanRecordsChannel chan models.ScanRecord

// codePattern bounds what the resolver will even look up. Anything else is
// not one of our codes and answers a generic 404 without touching counters.
var codePattern = regexp.MustCompile(`^[A-Za-z0-9]{4,16}$`)

// SetupRoutes configures all routes and injects dependencies.
func SetupRoutes(router *gin.Engine, linkService *services.LinkService, generator *qrimage.Generator, bufferSize int) {
	if ScanRecordsChannel == nil {
		ScanRecordsChannel = make(chan models.ScanRecord, bufferSize)
	}

	router.GET("/healthz", HealthCheckHandler)

	// Public redirect surface: pretty form plus the query-string fallback
	// at the root for installs without pretty routing.
	router.GET("/:code", RedirectHandler(linkService))
	router.GET("/", QueryRedirectHandler(linkService))

	// Immutable content-addressed artifacts.
	router.GET("/qr/:file", ArtifactHandler(generator))

	api := router.Group("/api/v1")
	api.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	{
		api.POST("/links", CreateLinkHandler(linkService))
		api.GET("/links", ListLinksHandler(linkService))
		api.GET("/links/:id", GetLinkHandler(linkService))
		api.PUT("/links/:id", UpdateLinkHandler(linkService))
		api.DELETE("/links/:id", DeleteLinkHandler(linkService))
		api.POST("/links/:id/qr", GenerateQRHandler(linkService, generator))
		api.GET("/links/:id/stats", LinkStatsHandler(linkService))
	}
}

// HealthCheckHandler answers liveness probes.
func HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RedirectHandler resolves a tracking code, records the scan and redirects.
// The public path never leaks internal error detail: every failure mode is
// the same generic 404.
func RedirectHandler(linkService *services.LinkService) gin.HandlerFunc {
	logger := zap.L().With(zap.String("handler", "Redirect"))
	return func(c *gin.Context) {
		resolveAndRedirect(c, linkService, c.Param("code"), logger)
	}
}

// QueryRedirectHandler is the ?tracking_code= fallback form bound at the
// root. Requests without the parameter are not ours and pass through to a
// plain 404 untouched.
func QueryRedirectHandler(linkService *services.LinkService) gin.HandlerFunc {
	logger := zap.L().With(zap.String("handler", "QueryRedirect"))
	return func(c *gin.Context) {
		code := c.Query("tracking_code")
		if code == "" {
			c.Status(http.StatusNotFound)
			return
		}
		resolveAndRedirect(c, linkService, code, logger)
	}
}

func resolveAndRedirect(c *gin.Context, linkService *services.LinkService, code string, logger *zap.Logger) {
	if !codePattern.MatchString(code) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	link, err := linkService.ResolveCode(c.Request.Context(), code)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			logger.Error("resolve failed", zap.String("code", code), zap.Error(err))
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	// Counter first, synchronously: a single atomic UPDATE. Failure is
	// logged and the redirect proceeds; availability beats perfect counts.
	now := time.Now()
	if err := linkService.RecordScan(c.Request.Context(), link.ID, now); err != nil {
		logger.Error("failed to record scan",
			zap.Uint("link_id", link.ID), zap.Error(err))
	}

	// The per-scan event is best-effort and asynchronous.
	record := models.ScanRecord{
		LinkID:    link.ID,
		Timestamp: now,
		UserAgent: c.GetHeader("User-Agent"),
		IPAddress: c.ClientIP(),
	}
	select {
	case ScanRecordsChannel <- record:
	default:
		logger.Warn("scan channel full, dropping event", zap.Uint("link_id", link.ID))
	}

	// no-store keeps intermediaries from replaying the redirect and
	// bypassing future scan counting.
	c.Header("Cache-Control", "no-store")
	c.Redirect(http.StatusFound, link.DestinationURL)
}

// ArtifactHandler serves QR artifact bytes. Content is immutable per
// tracking URL, so the cache lifetime is as long as it gets.
func ArtifactHandler(generator *qrimage.Generator) gin.HandlerFunc {
	return func(c *gin.Context) {
		file := c.Param("file")
		path, ok := generator.ArtifactPath(file)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		switch {
		case len(file) > 4 && file[len(file)-4:] == ".svg":
			c.Header("Content-Type", "image/svg+xml")
		default:
			c.Header("Content-Type", "image/png")
		}
		c.Header("Cache-Control", "public, max-age=31536000, immutable")
		c.File(path)
	}
}

// CreateLinkRequest is the admin payload for link creation.
type CreateLinkRequest struct {
	DestinationURL string `json:"destination_url" binding:"required"`
	CommonName     string `json:"common_name"`
	ReferralCode   string `json:"referral_code"`
	ContentID      *uint  `json:"content_id"`
}

// CreateLinkHandler creates a tracking link. When content_id is supplied
// the call is get-or-create: an existing association returns the existing
// record instead of erroring.
func CreateLinkHandler(linkService *services.LinkService) gin.HandlerFunc {
	logger := zap.L().With(zap.String("handler", "CreateLink"))
	return func(c *gin.Context) {
		var req CreateLinkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		var link *models.TrackingLink
		var err error
		if req.ContentID != nil {
			link, err = linkService.GetOrCreateForContent(c.Request.Context(), *req.ContentID, req.DestinationURL)
		} else {
			link, err = linkService.CreateLink(c.Request.Context(), services.CreateParams{
				DestinationURL: req.DestinationURL,
				CommonName:     req.CommonName,
				ReferralCode:   req.ReferralCode,
			})
		}
		if err != nil {
			respondError(c, logger, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"link":         link,
			"tracking_url": linkService.TrackingURL(link.Code),
		})
	}
}

// ListLinksHandler returns one filtered, sorted page of links.
func ListLinksHandler(linkService *services.LinkService) gin.HandlerFunc {
	logger := zap.L().With(zap.String("handler", "ListLinks"))
	return func(c *gin.Context) {
		minScans, _ := strconv.ParseUint(c.Query("min_scans"), 10, 64)
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

		filter := repository.ListFilter{
			Search:       c.Query("q"),
			ReferralCode: c.Query("ref"),
			MinScans:     minScans,
		}
		items, total, err := linkService.ListLinks(c.Request.Context(), filter,
			c.DefaultQuery("sort", "id"), c.DefaultQuery("order", "asc"), page, pageSize)
		if err != nil {
			respondError(c, logger, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"items": items,
			"total": total,
			"page":  page,
		})
	}
}

// GetLinkHandler fetches one link by id.
func GetLinkHandler(linkService *services.LinkService) gin.HandlerFunc {
	logger := zap.L().With(zap.String("handler", "GetLink"))
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		link, err := linkService.GetLink(c.Request.Context(), id)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"link":         link,
			"tracking_url": linkService.TrackingURL(link.Code),
		})
	}
}

// UpdateLinkRequest is a partial admin update; absent fields stay as-is.
type UpdateLinkRequest struct {
	DestinationURL *string `json:"destination_url"`
	CommonName     *string `json:"common_name"`
	ReferralCode   *string `json:"referral_code"`
	ContentID      *uint   `json:"content_id"`
}

// UpdateLinkHandler applies a partial update to mutable fields.
func UpdateLinkHandler(linkService *services.LinkService) gin.HandlerFunc {
	logger := zap.L().With(zap.String("handler", "UpdateLink"))
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var req UpdateLinkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		link, err := linkService.UpdateLink(c.Request.Context(), id, services.UpdateParams{
			DestinationURL: req.DestinationURL,
			CommonName:     req.CommonName,
			ReferralCode:   req.ReferralCode,
			ContentID:      req.ContentID,
		})
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"link": link})
	}
}

// DeleteLinkHandler removes a link with its scan events and cached
// artifacts.
func DeleteLinkHandler(linkService *services.LinkService) gin.HandlerFunc {
	logger := zap.L().With(zap.String("handler", "DeleteLink"))
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		if err := linkService.DeleteLink(c.Request.Context(), id); err != nil {
			respondError(c, logger, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// GenerateQRHandler produces (or reuses) the QR artifacts for a link. Local
// failure degrades to the hosted fallback URL; the page always has
// something to render.
func GenerateQRHandler(linkService *services.LinkService, generator *qrimage.Generator) gin.HandlerFunc {
	logger := zap.L().With(zap.String("handler", "GenerateQR"))
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		link, err := linkService.GetLink(c.Request.Context(), id)
		if err != nil {
			respondError(c, logger, err)
			return
		}

		trackingURL := linkService.TrackingURL(link.Code)
		art, genErr := generator.Generate(trackingURL)
		if genErr != nil {
			if art.RemoteURL == "" {
				respondError(c, logger, apperrors.ErrQRUnavailable)
				return
			}
			logger.Warn("QR generation degraded to remote fallback",
				zap.Uint("link_id", id), zap.Error(genErr))
			c.JSON(http.StatusOK, gin.H{
				"degraded":   true,
				"remote_url": art.RemoteURL,
			})
			return
		}

		if link.QRImageRef != art.Key {
			if err := linkService.SetQRImageRef(c.Request.Context(), id, art.Key); err != nil {
				logger.Warn("failed to store QR image ref", zap.Uint("link_id", id), zap.Error(err))
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"key":     art.Key,
			"png_url": "/qr/" + art.Key + ".png",
			"svg_url": "/qr/" + art.Key + ".svg",
		})
	}
}

// LinkStatsHandler returns counter plus scan-event analytics for one link.
func LinkStatsHandler(linkService *services.LinkService) gin.HandlerFunc {
	logger := zap.L().With(zap.String("handler", "LinkStats"))
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		link, events, err := linkService.GetLinkStatsByID(c.Request.Context(), id)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"code":             link.Code,
			"destination_url":  link.DestinationURL,
			"access_count":     link.AccessCount,
			"scan_events":      events,
			"last_accessed_at": link.LastAccessedAt,
			"created_at":       link.CreatedAt,
		})
	}
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid link id"})
		return 0, false
	}
	return uint(id), true
}

// respondError maps error kinds to admin-facing responses. Specific kinds
// get specific messages; anything unexpected is logged and answered
// generically.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "tracking link not found"})
	case errors.Is(err, apperrors.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": "tracking link already exists"})
	case errors.Is(err, apperrors.ErrCodeGenerationFailed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unable to generate unique tracking code, try again later"})
	case errors.Is(err, apperrors.ErrQRUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "qr image unavailable"})
	default:
		logger.Error("unexpected error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
