package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/mlecomte/qrtrack/internal/models"
	"github.com/mlecomte/qrtrack/internal/qrimage"
	"github.com/mlecomte/qrtrack/internal/repository"
	"github.com/mlecomte/qrtrack/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	router   *gin.Engine
	linkRepo *repository.GormLinkRepository
	service  *services.LinkService
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := filepath.Join(t.TempDir(), "api.db") + "?_pragma=busy_timeout(10000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.TrackingLink{}, &models.ScanEvent{}))

	linkRepo := repository.NewLinkRepository(db)
	scanRepo := repository.NewScanRepository(db)
	generator := qrimage.NewGenerator(t.TempDir(), 128, "https://api.qrserver.com/v1/create-qr-code/")
	service := services.NewLinkService(linkRepo, scanRepo, nil, nil, generator, services.Options{
		BaseURL:    "http://localhost:8080",
		PrettyURLs: true,
	})

	router := gin.New()
	ScanRecordsChannel = make(chan models.ScanRecord, 100)
	SetupRoutes(router, service, generator, 100)

	return &testEnv{router: router, linkRepo: linkRepo, service: service}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) createLink(t *testing.T, dest string) *models.TrackingLink {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/links", gin.H{"destination_url": dest})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Link models.TrackingLink `json:"link"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return &resp.Link
}

func TestRedirect_KnownCode(t *testing.T) {
	env := setupEnv(t)
	link := env.createLink(t, "https://example.com/a")

	w := env.do(t, http.MethodGet, "/"+link.Code, nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/a", w.Header().Get("Location"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	got, err := env.linkRepo.GetLinkByID(link.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.AccessCount)
	assert.NotNil(t, got.LastAccessedAt)
}

func TestRedirect_UnknownCode(t *testing.T) {
	env := setupEnv(t)
	env.createLink(t, "https://example.com/a")

	w := env.do(t, http.MethodGet, "/zzz999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotContains(t, w.Body.String(), "sql")
}

func TestRedirect_MalformedCode(t *testing.T) {
	env := setupEnv(t)

	for _, code := range []string{"ab", "bad!chars", "under_score", "waytoolongforacode12345"} {
		w := env.do(t, http.MethodGet, "/"+code, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, "code %q", code)
	}
}

func TestRedirect_QueryFallback(t *testing.T) {
	env := setupEnv(t)
	link := env.createLink(t, "https://example.com/q")

	w := env.do(t, http.MethodGet, "/?tracking_code="+link.Code, nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/q", w.Header().Get("Location"))

	w = env.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRedirect_CountsEachScan(t *testing.T) {
	env := setupEnv(t)
	link := env.createLink(t, "https://example.com/n")

	for i := 0; i < 3; i++ {
		w := env.do(t, http.MethodGet, "/"+link.Code, nil)
		require.Equal(t, http.StatusFound, w.Code)
	}

	got, err := env.linkRepo.GetLinkByID(link.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.AccessCount)
}

func TestCreateLink_Validation(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/links", gin.H{"destination_url": "not a url"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "destination_url")

	w = env.do(t, http.MethodPost, "/api/v1/links", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateLink_GetOrCreateByContentID(t *testing.T) {
	env := setupEnv(t)

	first := env.do(t, http.MethodPost, "/api/v1/links",
		gin.H{"destination_url": "https://example.com/post", "content_id": 9})
	require.Equal(t, http.StatusCreated, first.Code)

	second := env.do(t, http.MethodPost, "/api/v1/links",
		gin.H{"destination_url": "https://example.com/other", "content_id": 9})
	require.Equal(t, http.StatusCreated, second.Code)

	var a, b struct {
		Link models.TrackingLink `json:"link"`
	}
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.Equal(t, a.Link.Code, b.Link.Code, "same content id must reuse the link")
}

func TestUpdateLink_RedirectFollowsNewDestination(t *testing.T) {
	env := setupEnv(t)
	link := env.createLink(t, "https://example.com/a")

	w := env.do(t, http.MethodPut, fmt.Sprintf("/api/v1/links/%d", link.ID),
		gin.H{"destination_url": "https://example.com/b"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	redirect := env.do(t, http.MethodGet, "/"+link.Code, nil)
	assert.Equal(t, http.StatusFound, redirect.Code)
	assert.Equal(t, "https://example.com/b", redirect.Header().Get("Location"))
}

func TestDeleteLink_SubsequentScanIs404(t *testing.T) {
	env := setupEnv(t)
	link := env.createLink(t, "https://example.com/gone")

	w := env.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/links/%d", link.ID), nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	redirect := env.do(t, http.MethodGet, "/"+link.Code, nil)
	assert.Equal(t, http.StatusNotFound, redirect.Code)

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/links/%d", link.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListLinks(t *testing.T) {
	env := setupEnv(t)
	env.createLink(t, "https://example.com/one")
	env.createLink(t, "https://example.com/two")

	w := env.do(t, http.MethodGet, "/api/v1/links?page=1&page_size=10", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Items []models.TrackingLink `json:"items"`
		Total int64                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 2, resp.Total)
	assert.Len(t, resp.Items, 2)
}

func TestLinkStats(t *testing.T) {
	env := setupEnv(t)
	link := env.createLink(t, "https://example.com/s")

	env.do(t, http.MethodGet, "/"+link.Code, nil)
	env.do(t, http.MethodGet, "/"+link.Code, nil)

	w := env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/links/%d/stats", link.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		AccessCount uint64 `json:"access_count"`
		Code        string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, link.Code, resp.Code)
	assert.EqualValues(t, 2, resp.AccessCount)
}

func TestGenerateQR_AndServeArtifact(t *testing.T) {
	env := setupEnv(t)
	link := env.createLink(t, "https://example.com/qr")

	w := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/links/%d/qr", link.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Key    string `json:"key"`
		PNGURL string `json:"png_url"`
		SVGURL string `json:"svg_url"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Key)

	again := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/links/%d/qr", link.ID), nil)
	require.Equal(t, http.StatusOK, again.Code)
	var resp2 struct {
		Key string `json:"key"`
	}
	require.NoError(t, json.Unmarshal(again.Body.Bytes(), &resp2))
	assert.Equal(t, resp.Key, resp2.Key, "same link must reuse the same artifact key")

	png := env.do(t, http.MethodGet, resp.PNGURL, nil)
	assert.Equal(t, http.StatusOK, png.Code)
	assert.Equal(t, "image/png", png.Header().Get("Content-Type"))
	assert.Contains(t, png.Header().Get("Cache-Control"), "immutable")

	svg := env.do(t, http.MethodGet, resp.SVGURL, nil)
	assert.Equal(t, http.StatusOK, svg.Code)
	assert.Equal(t, "image/svg+xml", svg.Header().Get("Content-Type"))

	missing := env.do(t, http.MethodGet, "/qr/doesnotexist.png", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}
