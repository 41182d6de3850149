package database

import (
	"fmt"
	"os"
	"path/filepath"

	"drive-go/internal/config"
	"drive-go/internal/drive"
)

// FileName is the database file inside data_dir.
const FileName = "drive.db"

// PathFromConfig returns the database path for cfg: a file under data_dir
// for sqlite, ":memory:" for memory.
func PathFromConfig(cfg config.DatabaseConfig) (string, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return "", fmt.Errorf("data_dir required for sqlite database")
		}
		return filepath.Join(cfg.DataDir, FileName), nil
	case "memory":
		return ":memory:", nil
	default:
		return "", fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// NewDatabaseFromConfig creates a Database implementation based on the database config type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (drive.Database, error) {
	path, err := PathFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Type == "sqlite" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := NewSQLiteDatabase(path)
	if err != nil {
		return nil, err
	}
	return db, nil
}
