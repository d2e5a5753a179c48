package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/quickentry-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(domain.Models()...)
}

// EnsureEntryIndexes adds indexes gorm tags cannot express. Both statements
// are valid in Postgres and SQLite.
func EnsureEntryIndexes(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_quick_entry_stage_open
		ON quick_entry (stage, stage_at)
		WHERE stage NOT IN ('completed', 'failed');
	`).Error; err != nil {
		return fmt.Errorf("create idx_quick_entry_stage_open: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_entry_embedding_user_subtype_active
		ON entry_embedding (user_id, subtype, active, event_at DESC);
	`).Error; err != nil {
		return fmt.Errorf("create idx_entry_embedding_user_subtype_active: %w", err)
	}
	return nil
}

func (s *Service) AutoMigrateAll() error {
	s.log.Info("Auto migrating tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureEntryIndexes(s.db); err != nil {
		s.log.Error("Entry index migration failed", "error", err)
		return err
	}
	return nil
}
