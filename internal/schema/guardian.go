// Package schema keeps the backing tables consistent with the models using
// additive-only evolution: tables and columns are created when missing,
// never dropped or renamed.
package schema

import (
	"fmt"

	"github.com/mlecomte/qrtrack/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Guardian inspects the live schema on startup and applies additive
// changes. It is idempotent: a correct schema is a strict no-op.
type Guardian struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGuardian creates a Guardian for the given database handle.
func NewGuardian(db *gorm.DB) *Guardian {
	return &Guardian{
		db:     db,
		logger: zap.L().With(zap.String("component", "SchemaGuardian")),
	}
}

// managed lists every model the guardian owns, in creation order.
func managed() []interface{} {
	return []interface{}{
		&models.TrackingLink{},
		&models.ScanEvent{},
	}
}

// Ensure creates missing tables and backfills missing columns. A failed
// column-add is logged and skipped so the system keeps serving with
// whatever columns exist; only table creation failures are fatal.
func (g *Guardian) Ensure() error {
	m := g.db.Migrator()

	for _, model := range managed() {
		if !m.HasTable(model) {
			if err := m.CreateTable(model); err != nil {
				return fmt.Errorf("failed to create table for %T: %w", model, err)
			}
			g.logger.Info("table created", zap.String("model", fmt.Sprintf("%T", model)))
			continue
		}
		g.ensureColumns(model)
	}
	return nil
}

// ensureColumns diffs the model's fields against the live table and adds
// whatever is missing.
func (g *Guardian) ensureColumns(model interface{}) {
	m := g.db.Migrator()

	stmt := &gorm.Statement{DB: g.db}
	if err := stmt.Parse(model); err != nil {
		g.logger.Error("failed to parse model schema",
			zap.String("model", fmt.Sprintf("%T", model)), zap.Error(err))
		return
	}

	for _, field := range stmt.Schema.Fields {
		if field.DBName == "" {
			continue
		}
		if m.HasColumn(model, field.DBName) {
			continue
		}
		if err := m.AddColumn(model, field.DBName); err != nil {
			// Degraded mode: keep running with the columns we have.
			g.logger.Error("failed to add column, continuing without it",
				zap.String("table", stmt.Schema.Table),
				zap.String("column", field.DBName),
				zap.Error(err))
			continue
		}
		g.logger.Info("column added",
			zap.String("table", stmt.Schema.Table),
			zap.String("column", field.DBName))
	}
}
