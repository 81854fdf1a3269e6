package verify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mlecomte/qrtrack/internal/models"
	"github.com/mlecomte/qrtrack/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCheckDestination(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	v := NewVerifier(nil, 0)
	ctx := context.Background()

	assert.True(t, v.CheckDestination(ctx, ok.URL))
	assert.False(t, v.CheckDestination(ctx, broken.URL))
	assert.False(t, v.CheckDestination(ctx, "http://127.0.0.1:1/unreachable"))
	assert.False(t, v.CheckDestination(ctx, "://not-a-url"))
}

func TestCheckDestination_RedirectCountsAsAccessible(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/elsewhere")
		w.WriteHeader(http.StatusMovedPermanently)
	}))
	defer srv.Close()

	v := NewVerifier(nil, 0)
	assert.True(t, v.CheckDestination(context.Background(), srv.URL))
}

func TestSweep_CoversEveryPage(t *testing.T) {
	var probes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "verify.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.TrackingLink{}))

	repo := repository.NewLinkRepository(db)
	const total = 5
	for i := 0; i < total; i++ {
		require.NoError(t, repo.CreateLink(&models.TrackingLink{
			Code:           fmt.Sprintf("page%02d", i),
			DestinationURL: srv.URL,
		}))
	}

	v := NewVerifier(repo, time.Minute)
	v.pageSize = 2
	v.sweep(context.Background())

	assert.EqualValues(t, total, probes.Load())
	assert.Len(t, v.knownStates, total)
}
