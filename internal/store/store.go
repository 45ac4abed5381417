// Package store persists the emotion taxonomy, model versions, users and the
// append-only prediction log.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Brownie44l1/visionai-api/internal/logger"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Supported database dialects. The values double as goose dialect names and
// migration directory names.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

const taxonomyCacheKey = "emotions"

type Store struct {
	db      *gorm.DB
	dialect string
	cache   *cache.Cache
	log     *logger.Logger
}

// Open connects to dsn. postgres:// URLs and key=value DSNs go to Postgres,
// anything else is treated as a SQLite file path.
func Open(dsn string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	dialect := DialectFor(dsn)

	cfg := &gorm.Config{
		Logger: gormlogger.New(log.Writer(zapcore.WarnLevel), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	}

	var (
		db  *gorm.DB
		err error
	)
	switch dialect {
	case DialectPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	default:
		db, err = gorm.Open(sqlite.Open(sqliteDSN(dsn)), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// one writer at a time keeps sqlite from returning SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	}

	return &Store{
		db:      db,
		dialect: dialect,
		cache:   cache.New(10*time.Minute, 20*time.Minute),
		log:     log,
	}, nil
}

// DialectFor reports which dialect Open would pick for dsn.
func DialectFor(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") ||
		strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=") {
		return DialectPostgres
	}
	return DialectSQLite
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on&_busy_timeout=5000"
}

func (s *Store) Dialect() string { return s.dialect }

// Ping checks the connection for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
