package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/pineapplepizza/tokenkeeper/internal/tokenstore/migrations"
)

// SQL drivers supported by SQLStore.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLStore keeps tokens in the cached_tokens table.
type SQLStore struct {
	db     *sqlx.DB
	driver string
	now    func() time.Time
}

// Compile-time check to ensure SQLStore implements Store
var _ Store = (*SQLStore)(nil)

// NewSQLStore opens the database and applies pending migrations.
func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported sql driver: %s", driver)
	}
	if dsn == "" {
		return nil, fmt.Errorf("dsn cannot be empty")
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", driver, err)
	}

	s := &SQLStore{
		db:     db,
		driver: driver,
		now:    time.Now,
	}

	if err := s.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	return s, nil
}

// ApplyMigrations applies any pending migrations from the embedded schema.
func (s *SQLStore) ApplyMigrations() error {
	var (
		driver database.Driver
		err    error
	)
	switch s.driver {
	case DriverPostgres:
		driver, err = migratepostgres.WithInstance(s.db.DB, &migratepostgres.Config{})
	default:
		driver, err = migratesqlite.WithInstance(s.db.DB, &migratesqlite.Config{})
	}
	if err != nil {
		return err
	}

	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return err
	}

	instance, err := migrate.NewWithInstance("iofs", source, s.driver, driver)
	if err != nil {
		return err
	}

	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error { return s.db.Close() }

// Read returns the token stored under name.
func (s *SQLStore) Read(ctx context.Context, name string) (string, error) {
	var value string
	query := s.db.Rebind(`SELECT value FROM cached_tokens WHERE name = ?`)
	if err := s.db.GetContext(ctx, &value, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", err
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("empty token row %s", name)
	}
	return value, nil
}

// Write upserts the token under name.
func (s *SQLStore) Write(ctx context.Context, name, value string) error {
	query := s.db.Rebind(`
		INSERT INTO cached_tokens (name, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	_, err := s.db.ExecContext(ctx, query, name, value, s.now().UTC())
	return err
}
