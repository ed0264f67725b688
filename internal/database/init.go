package database

import (
	"context"
	"fmt"
	"io"

	"github.com/earnsigma/go_earnsigma/internal/config"
)

// InitFromConfig initializes a database connection from application config
func InitFromConfig(cfg *config.Config) (*DB, error) {
	dbConfig := Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}

	db, err := New(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// RunMigrations applies all pending embedded migrations
func RunMigrations(ctx context.Context, db *DB, out io.Writer) error {
	runner := NewMigrationRunner(db.DB, Migrations(), out)
	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// MigrationStatus writes the current migration status to out
func MigrationStatus(ctx context.Context, db *DB, out io.Writer) error {
	runner := NewMigrationRunner(db.DB, Migrations(), out)
	states, err := runner.Status(ctx)
	if err != nil {
		return err
	}
	PrintStatus(out, states)
	return nil
}
