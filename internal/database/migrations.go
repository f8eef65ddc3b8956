package database

import (
	"errors"
	"time"

	"github.com/notesmate/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationClampNegativeWallets = "2026-08-20_clamp_negative_wallets"

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
		{name: migrationClampNegativeWallets, apply: clampNegativeWallets},
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

// Wallet balances must never be negative. Rows written before the floor was
// enforced in the purchase flow are clamped to zero.
func clampNegativeWallets(db *gorm.DB) error {
	return db.Model(&users.User{}).
		Where("wallet < 0").
		Update("wallet", 0).Error
}
