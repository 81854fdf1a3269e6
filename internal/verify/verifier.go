// Package verify checks destination-URL reachability. The probe is only
// invoked from administrative create/update flows and the background
// monitor, never from the redirect hot path.
package verify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/mlecomte/qrtrack/internal/repository"
	"go.uber.org/zap"
)

const probeTimeout = 5 * time.Second

// Verifier performs bounded HTTP HEAD probes against destination URLs and
// optionally runs a periodic monitor that logs accessibility transitions.
type Verifier struct {
	linkRepo    repository.LinkRepository
	interval    time.Duration
	pageSize    int
	knownStates map[uint]bool
	mu          sync.Mutex
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewVerifier creates a Verifier. interval <= 0 disables the background
// monitor; CheckDestination stays usable either way.
func NewVerifier(linkRepo repository.LinkRepository, interval time.Duration) *Verifier {
	return &Verifier{
		linkRepo:    linkRepo,
		interval:    interval,
		pageSize:    1000,
		knownStates: make(map[uint]bool),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      zap.L().With(zap.String("component", "Verifier")),
	}
}

// CheckDestination reports whether a destination answers a HEAD request
// with a 2xx or 3xx within the probe timeout.
func (v *Verifier) CheckDestination(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		v.logger.Debug("probe request build failed", zap.String("url", url), zap.Error(err))
		return false
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		v.logger.Debug("probe failed", zap.String("url", url), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

// Start runs the periodic destination monitor until ctx is cancelled.
// Blocking; run it on its own goroutine.
func (v *Verifier) Start(ctx context.Context) {
	if v.interval <= 0 {
		return
	}
	v.logger.Info("destination monitor started", zap.Duration("interval", v.interval))
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	v.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			v.logger.Info("destination monitor stopped")
			return
		case <-ticker.C:
			v.sweep(ctx)
		}
	}
}

// sweep probes every stored destination, paging through the full result
// set, and logs state transitions.
func (v *Verifier) sweep(ctx context.Context) {
	for page := 1; ; page++ {
		links, _, err := v.linkRepo.ListLinks(repository.ListFilter{}, "id", "asc", page, v.pageSize)
		if err != nil {
			v.logger.Error("failed to load links for monitoring", zap.Error(err))
			return
		}

		for _, link := range links {
			current := v.CheckDestination(ctx, link.DestinationURL)

			v.mu.Lock()
			previous, seen := v.knownStates[link.ID]
			v.knownStates[link.ID] = current
			v.mu.Unlock()

			if !seen {
				v.logger.Info("initial destination state",
					zap.String("code", link.Code),
					zap.String("url", link.DestinationURL),
					zap.Bool("accessible", current))
				continue
			}
			if current != previous {
				v.logger.Warn("destination accessibility changed",
					zap.String("code", link.Code),
					zap.String("url", link.DestinationURL),
					zap.Bool("accessible", current))
			}
		}

		if len(links) < v.pageSize {
			return
		}
	}
}
