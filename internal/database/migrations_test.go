package database

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/notesmate/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsClampsNegativeWallets(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&users.User{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	overdrawn := users.User{
		ID:        "user-1",
		GoogleUID: "sub-1",
		Email:     "overdrawn@example.edu",
		Name:      "Overdrawn",
		Wallet:    -40,
		LastLogin: time.Now().UTC(),
	}
	if err := database.Create(&overdrawn).Error; err != nil {
		testContext.Fatalf("failed to insert user: %v", err)
	}
	healthy := users.User{
		ID:        "user-2",
		GoogleUID: "sub-2",
		Email:     "healthy@example.edu",
		Name:      "Healthy",
		Wallet:    60,
		LastLogin: time.Now().UTC(),
	}
	if err := database.Create(&healthy).Error; err != nil {
		testContext.Fatalf("failed to insert user: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var repaired users.User
	if err := database.Where("id = ?", overdrawn.ID).Take(&repaired).Error; err != nil {
		testContext.Fatalf("failed to reload user: %v", err)
	}
	if repaired.Wallet != 0 {
		testContext.Fatalf("expected wallet clamped to 0, got %d", repaired.Wallet)
	}

	var untouched users.User
	if err := database.Where("id = ?", healthy.ID).Take(&untouched).Error; err != nil {
		testContext.Fatalf("failed to reload user: %v", err)
	}
	if untouched.Wallet != 60 {
		testContext.Fatalf("expected wallet untouched at 60, got %d", untouched.Wallet)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationClampNegativeWallets).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	// Reapplying is a no-op.
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to reapply migrations: %v", err)
	}
}

func TestOpenSQLiteRequiresPath(testContext *testing.T) {
	if _, err := OpenSQLite("", zap.NewNop()); err == nil {
		testContext.Fatalf("expected error for empty path")
	}
}

func TestOpenSQLiteMigratesSchema(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "app.db")

	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	for _, table := range []string{"users", "purchases", "revoked_identities", "notes", "question_papers", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}
}
