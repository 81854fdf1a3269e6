// Package qrimage produces and caches QR artifacts for tracking URLs.
// Artifacts are content-addressed by the tracking URL, so an existing file
// is always safe to reuse: same input, byte-identical output, no TTL.
package qrimage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// Artifacts describes the generated (or cached) QR images for one tracking
// URL. When Fallback is set, local generation failed and RemoteURL is the
// only usable rendering.
type Artifacts struct {
	Key       string // content-addressed cache key
	PNGPath   string
	SVGPath   string
	RemoteURL string
	Fallback  bool
}

// Generator encodes tracking URLs into PNG and SVG artifacts under a
// storage directory, with a hosted-service fallback when local encoding or
// persistence fails.
type Generator struct {
	storageDir  string
	sizePx      int
	fallbackURL string
	logger      *zap.Logger
}

// NewGenerator builds a Generator. The storage directory is created lazily
// on first use.
func NewGenerator(storageDir string, sizePx int, fallbackURL string) *Generator {
	if sizePx <= 0 {
		sizePx = 256
	}
	return &Generator{
		storageDir:  storageDir,
		sizePx:      sizePx,
		fallbackURL: fallbackURL,
		logger:      zap.L().With(zap.String("component", "QRGenerator")),
	}
}

// Key derives the content-addressed cache key for a tracking URL.
func Key(trackingURL string) string {
	sum := sha256.Sum256([]byte(trackingURL))
	return hex.EncodeToString(sum[:16])
}

// Generate returns the artifact locations for trackingURL, encoding and
// persisting them only if they are not already cached. On any local failure
// it degrades to the remote fallback URL instead of failing the caller's
// page render; the error is still returned so callers can log it.
func (g *Generator) Generate(trackingURL string) (Artifacts, error) {
	key := Key(trackingURL)
	art := Artifacts{
		Key:     key,
		PNGPath: filepath.Join(g.storageDir, key+".png"),
		SVGPath: filepath.Join(g.storageDir, key+".svg"),
	}

	if fileExists(art.PNGPath) && fileExists(art.SVGPath) {
		return art, nil
	}

	if err := g.encode(trackingURL, art); err != nil {
		g.logger.Warn("local QR generation failed, using remote fallback",
			zap.String("key", key), zap.Error(err))
		return g.fallback(trackingURL, key), err
	}
	return art, nil
}

// RemoteURL builds the hosted-service rendering URL for a tracking URL, or
// "" when no fallback service is configured.
func (g *Generator) RemoteURL(trackingURL string) string {
	if g.fallbackURL == "" {
		return ""
	}
	return fmt.Sprintf("%s?size=%dx%d&data=%s",
		g.fallbackURL, g.sizePx, g.sizePx, url.QueryEscape(trackingURL))
}

func (g *Generator) fallback(trackingURL, key string) Artifacts {
	return Artifacts{
		Key:       key,
		RemoteURL: g.RemoteURL(trackingURL),
		Fallback:  true,
	}
}

// encode produces both renderings and persists each atomically
// (write-then-rename) so a partially-written file is never served.
func (g *Generator) encode(trackingURL string, art Artifacts) error {
	if err := os.MkdirAll(g.storageDir, 0o755); err != nil {
		return fmt.Errorf("failed to create QR storage dir: %w", err)
	}

	qr, err := qrcode.New(trackingURL, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("failed to encode QR: %w", err)
	}

	png, err := qr.PNG(g.sizePx)
	if err != nil {
		return fmt.Errorf("failed to render PNG: %w", err)
	}
	if err := writeAtomic(art.PNGPath, png); err != nil {
		return err
	}

	svg := renderSVG(qr.Bitmap(), g.sizePx)
	if err := writeAtomic(art.SVGPath, svg); err != nil {
		// Keep the pair consistent so a later call regenerates both.
		os.Remove(art.PNGPath)
		return err
	}

	g.logger.Info("QR artifacts generated",
		zap.String("key", art.Key), zap.String("url", trackingURL))
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".qr-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("failed to rename into place: %w", err)
	}
	return nil
}

// Remove deletes the cached artifacts for a key, used when a link is
// deleted. Best effort: a missing file is not an error.
func (g *Generator) Remove(key string) {
	for _, ext := range []string{".png", ".svg"} {
		path := filepath.Join(g.storageDir, key+ext)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			g.logger.Warn("failed to remove QR artifact", zap.String("path", path), zap.Error(err))
		}
	}
}

// ArtifactPath resolves a stored artifact filename inside the storage dir,
// rejecting anything that would escape it.
func (g *Generator) ArtifactPath(file string) (string, bool) {
	if file != filepath.Base(file) {
		return "", false
	}
	ext := filepath.Ext(file)
	if ext != ".png" && ext != ".svg" {
		return "", false
	}
	path := filepath.Join(g.storageDir, file)
	if !fileExists(path) {
		return "", false
	}
	return path, true
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
