package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite3/*.sql
var migrationsFS embed.FS

// goose keeps dialect, base FS and logger in package globals.
var gooseMu sync.Mutex

// Migrate applies every pending migration.
func (s *Store) Migrate(ctx context.Context) error {
	return s.withGoose(func(db *sql.DB, dir string) error {
		return goose.UpContext(ctx, db, dir)
	})
}

// MigrateDown rolls back the most recent migration.
func (s *Store) MigrateDown(ctx context.Context) error {
	return s.withGoose(func(db *sql.DB, dir string) error {
		return goose.DownContext(ctx, db, dir)
	})
}

// MigrationStatus logs the applied state of every migration.
func (s *Store) MigrationStatus(ctx context.Context) error {
	return s.withGoose(func(db *sql.DB, dir string) error {
		return goose.StatusContext(ctx, db, dir)
	})
}

// SchemaVersion returns the latest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	var version int64
	err := s.withGoose(func(db *sql.DB, _ string) error {
		v, err := goose.GetDBVersionContext(ctx, db)
		version = v
		return err
	})
	return version, err
}

func (s *Store) withGoose(fn func(db *sql.DB, dir string) error) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := goose.SetDialect(s.dialect); err != nil {
		return err
	}
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(s.log)

	if err := fn(sqlDB, path.Join("migrations", s.dialect)); err != nil {
		return fmt.Errorf("migrations (%s): %w", s.dialect, err)
	}
	return nil
}
