package catalog

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Migrator returns the schema migrations for the catalog database.
func Migrator(db *gorm.DB) *gormigrate.Gormigrate {
	migrator := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID:      "0",
			Migrate: migration0,
		},
		{
			ID:       "1",
			Migrate:  migration1,
			Rollback: rollback1,
		},
		{
			ID:       "2",
			Migrate:  migration2,
			Rollback: rollback2,
		},
	})

	migrator.InitSchema(func(txn *gorm.DB) error {
		// Clean database: create the latest schema directly instead of
		// replaying every migration.
		logf("", "clean database detected, running full schema initialization")
		if err := enableForeignKeys(txn); err != nil {
			return err
		}
		if err := txn.AutoMigrate(&Run{}, &Category{}, &ImageRecord{}); err != nil {
			return err
		}
		return createStatusIndex(txn)
	})

	return migrator
}

func migration0(db *gorm.DB) error {
	if err := db.AutoMigrate(&Run{}, &Category{}, &ImageRecord{}); err != nil {
		return fmt.Errorf("initial migration failed: %w", err)
	}
	return nil
}

// migration1 indexes the status column used by LoadRecords(onlyValid).
func migration1(db *gorm.DB) error {
	if err := createStatusIndex(db); err != nil {
		return fmt.Errorf("migration 1 failed: %w", err)
	}
	return nil
}

func rollback1(db *gorm.DB) error {
	if err := db.Exec("DROP INDEX IF EXISTS idx_image_records_status").Error; err != nil {
		return fmt.Errorf("rollback 1 failed: %w", err)
	}
	return nil
}

// migration2 records each row's position in the annotation file so the
// loader sees the same order with or without a catalog.
func migration2(db *gorm.DB) error {
	if db.Migrator().HasColumn(&ImageRecord{}, "Position") {
		return nil
	}
	if err := db.Migrator().AddColumn(&ImageRecord{}, "Position"); err != nil {
		return fmt.Errorf("migration 2 failed: %w", err)
	}
	return nil
}

func rollback2(db *gorm.DB) error {
	if err := db.Migrator().DropColumn(&ImageRecord{}, "Position"); err != nil {
		return fmt.Errorf("rollback 2 failed: %w", err)
	}
	return nil
}

func createStatusIndex(db *gorm.DB) error {
	return db.Exec("CREATE INDEX IF NOT EXISTS idx_image_records_status ON image_records (run_id, split, status)").Error
}

func enableForeignKeys(db *gorm.DB) error {
	switch db.Dialector.Name() {
	case "sqlite", "sqlite3":
		// sqlite leaves foreign key constraints off by default.
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	}
	return nil
}
