// Package storage opens the bun database used by passport and applies the
// embedded schema migrations.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/goliatone/go-passport/storage/migrations"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the database.
type Config struct {
	Driver       string `yaml:"driver" env:"PASSPORT_DB_DRIVER"`
	DSN          string `yaml:"dsn" json:"-" env:"PASSPORT_DB_DSN"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"PASSPORT_DB_MAX_OPEN_CONNS"`
}

// MemoryConfig is an in-memory SQLite database, used by tests and the
// development server.
func MemoryConfig() Config {
	return Config{Driver: DriverSQLite, DSN: ":memory:"}
}

// Open returns a bun database for cfg.
func Open(cfg Config) (*bun.DB, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverSQLite, "sqlite3":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open sqlite database")
		}
		// every in-memory connection is its own database
		if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
			sqldb.SetMaxOpenConns(1)
		} else if cfg.MaxOpenConns > 0 {
			sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		db := bun.NewDB(sqldb, sqlitedialect.New())
		if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
			db.Close()
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to enable foreign keys")
		}
		return db, nil

	case DriverPostgres, "pgx":
		sqldb, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open postgres database")
		}
		if cfg.MaxOpenConns > 0 {
			sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil

	default:
		return nil, goerrors.New(fmt.Sprintf("unsupported database driver %q", cfg.Driver), goerrors.CategoryValidation)
	}
}

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

// Migrate applies the embedded migrations.
func Migrate(ctx context.Context, db *bun.DB) error {
	gooseDialect := "sqlite3"
	if db.Dialect().Name() == dialect.PG {
		gooseDialect = "pgx"
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect(gooseDialect); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to set migration dialect")
	}
	if err := goose.UpContext(ctx, db.DB, "."); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to apply migrations")
	}
	return nil
}

// OpenAndMigrate opens cfg and applies the migrations.
func OpenAndMigrate(ctx context.Context, cfg Config) (*bun.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
