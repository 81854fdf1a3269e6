package schema

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/mlecomte/qrtrack/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "guardian.db")), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestEnsure_CreatesTablesFromScratch(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, NewGuardian(db).Ensure())

	m := db.Migrator()
	assert.True(t, m.HasTable(&models.TrackingLink{}))
	assert.True(t, m.HasTable(&models.ScanEvent{}))
	assert.True(t, m.HasColumn(&models.TrackingLink{}, "access_count"))
	assert.True(t, m.HasColumn(&models.TrackingLink{}, "qr_image_ref"))
}

func TestEnsure_Idempotent(t *testing.T) {
	db := newTestDB(t)
	g := NewGuardian(db)

	require.NoError(t, g.Ensure())

	var before int
	require.NoError(t, db.Raw(
		"SELECT COUNT(*) FROM pragma_table_info('tracking_links')").Scan(&before).Error)

	require.NoError(t, g.Ensure())

	var after int
	require.NoError(t, db.Raw(
		"SELECT COUNT(*) FROM pragma_table_info('tracking_links')").Scan(&after).Error)
	assert.Equal(t, before, after, "second run must be a no-op")
}

func TestEnsure_BackfillsMissingColumn(t *testing.T) {
	db := newTestDB(t)

	// An old deployment's table, predating the qr_image_ref and
	// referral_code columns.
	require.NoError(t, db.Exec(`CREATE TABLE tracking_links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL,
		destination_url TEXT NOT NULL,
		content_id INTEGER,
		common_name TEXT,
		access_count INTEGER NOT NULL DEFAULT 0,
		last_accessed_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`).Error)
	require.NoError(t, db.Exec(
		`INSERT INTO tracking_links (code, destination_url) VALUES ('old001', 'https://example.com')`).Error)

	require.NoError(t, NewGuardian(db).Ensure())

	m := db.Migrator()
	assert.True(t, m.HasColumn(&models.TrackingLink{}, "referral_code"))
	assert.True(t, m.HasColumn(&models.TrackingLink{}, "qr_image_ref"))

	// Existing rows survive the backfill.
	var link models.TrackingLink
	require.NoError(t, db.Where("code = ?", "old001").First(&link).Error)
	assert.Equal(t, "https://example.com", link.DestinationURL)
	assert.Empty(t, link.QRImageRef)
}
