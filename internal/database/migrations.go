package database

import (
	"errors"
	"time"

	"github.com/atlasuniv/coursefeed/internal/feed"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillPublicationScope = "2026-08-12_backfill_publication_scope"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillPublicationScope, apply: backfillPublicationScope},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows imported from the legacy schema carried no scope column; everything it
// published was course-global.
func backfillPublicationScope(db *gorm.DB) error {
	return db.Model(&feed.Publication{}).
		Where("scope_kind = ''").
		Update("scope_kind", feed.ScopeGlobal).Error
}
