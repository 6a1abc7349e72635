// Package repositories provides the data access layer. Every read and write
// of the relational store goes through it; all queries are parameterised.
package repositories

import (
	"fmt"
	"time"

	"kithly/internal/config"
	"kithly/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to Postgres, configures the connection pool and applies the
// schema. The returned handle is owned by the process supervisor; everything
// else borrows it.
func Open(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DBPoolSize)
	sqlDB.SetMaxIdleConns(cfg.DBPoolSize)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return db, nil
}

// Close tears the pool down. Safe to call once at shutdown.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func migrate(db *gorm.DB) error {
	db.Exec("CREATE EXTENSION IF NOT EXISTS postgis")

	err := db.AutoMigrate(
		&models.GiftTransaction{},
		&models.Shop{},
		&models.Product{},
		&models.DeliveryProof{},
		&models.InventoryLock{},
	)
	if err != nil {
		return err
	}

	// The proximity search needs the geography index; AutoMigrate does not
	// create GIST indexes.
	return db.Exec(
		`CREATE INDEX IF NOT EXISTS idx_shops_location ON "Shops" USING GIST (location)`,
	).Error
}
