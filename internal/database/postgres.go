package database

import (
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gmailfarm-bot/internal/config"
	"gmailfarm-bot/internal/models"
)

// Connect opens the store selected by cfg.DBDriver and migrates the schema.
func Connect(cfg *config.Config, log *slog.Logger) (*gorm.DB, error) {
	switch cfg.DBDriver {
	case "sqlite":
		return ConnectSQLite(cfg.SQLitePath, log)
	case "postgres", "":
		return ConnectPostgres(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
}

func ConnectPostgres(cfg *config.Config, log *slog.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if log != nil {
		log.Info("connected to postgres", slog.String("host", cfg.DBHost), slog.String("db", cfg.DBName))
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
