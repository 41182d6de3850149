// Package migrations owns the drive metadata schema and moves databases
// between its versions.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var schemaFiles embed.FS

var (
	// ErrNoSchema is returned for a database that was never migrated.
	ErrNoSchema = errors.New("database has no schema version")
	// ErrDirty is returned when a previous migration stopped half way.
	ErrDirty = errors.New("database schema is dirty")
	// ErrBehind is returned when migrations are pending.
	ErrBehind = errors.New("database schema is behind")
	// ErrAhead is returned when the database was migrated by a newer binary.
	ErrAhead = errors.New("database schema is ahead of this binary")
)

// Status describes where a database stands relative to the embedded schema.
type Status struct {
	Current uint
	Latest  uint
	Dirty   bool
}

// Inspect reports the schema version of db. A never-migrated database has
// Current 0 and no error.
func Inspect(db *sql.DB) (Status, error) {
	latest, err := latestVersion()
	if err != nil {
		return Status{}, err
	}
	// The migrate instance is not closed: closing it closes db, which
	// belongs to the caller.
	m, err := open(db)
	if err != nil {
		return Status{}, err
	}
	current, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, fmt.Errorf("reading schema version: %w", err)
	}
	return Status{Current: current, Latest: latest, Dirty: dirty}, nil
}

// Check returns nil only when db is exactly at the latest schema version.
func Check(db *sql.DB) error {
	st, err := Inspect(db)
	if err != nil {
		return err
	}
	switch {
	case st.Dirty:
		return fmt.Errorf("%w at version %d", ErrDirty, st.Current)
	case st.Current == 0:
		return ErrNoSchema
	case st.Current < st.Latest:
		return fmt.Errorf("%w: at %d, latest %d", ErrBehind, st.Current, st.Latest)
	case st.Current > st.Latest:
		return fmt.Errorf("%w: at %d, binary knows %d", ErrAhead, st.Current, st.Latest)
	}
	return nil
}

// Up applies every pending migration. Up on a current database is a no-op.
func Up(db *sql.DB) error {
	m, err := open(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func open(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(schemaFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("loading schema files: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("wrapping database: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}

func latestVersion() (uint, error) {
	src, err := iofs.New(schemaFiles, "files")
	if err != nil {
		return 0, fmt.Errorf("loading schema files: %w", err)
	}
	defer src.Close()
	return lastOf(src)
}

// lastOf walks src to its final version.
func lastOf(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("reading first migration: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("reading migration after %d: %w", v, err)
		}
		v = next
	}
}
