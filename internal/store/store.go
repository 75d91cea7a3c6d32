package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Schema version tracking:
// 1 - Index for the worker's oldest-first pending scan
// 2 - Index for buyer purchase history
const currentSchemaVersion = 2

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrReplay is returned when a transaction reference already backs a purchase.
	ErrReplay = errors.New("transaction reference already used")
	// ErrNotPending is returned when a guarded transition found the purchase
	// already finalized.
	ErrNotPending = errors.New("purchase not pending")
)

// Clock supplies wall-clock timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// IDGenerator supplies row identifiers.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 identifiers.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the wall clock used for timestamps.
func WithClock(c Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithIDGenerator overrides the generator used for purchase and price ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) { s.ids = g }
}

// Store provides durable storage for rails, prices, purchases and
// entitlements on SQLite or PostgreSQL.
type Store struct {
	db     *sql.DB
	driver string
	clock  Clock
	ids    IDGenerator
}

// Open connects to the database and applies the schema and migrations.
//
// For SQLite the connection pool is limited to one connection and the
// database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, driver: driver, clock: SystemClock{}, ids: UUIDv7Generator{}}
	for _, opt := range opts {
		opt(s)
	}

	if driver == DriverSQLite {
		// SQLite only supports one writer at a time. Every transaction
		// must use its own tx handle or it will wait on itself.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	if err := s.applySchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the database driver name.
func (s *Store) Driver() string {
	return s.driver
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func (s *Store) applySchema() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

type migration struct {
	version    int
	statements []string
}

var migrations = []migration{
	{1, []string{`CREATE INDEX IF NOT EXISTS idx_purchases_status_created ON purchases(status, created_at, id)`}},
	{2, []string{`CREATE INDEX IF NOT EXISTS idx_purchases_buyer_created ON purchases(buyer, created_at)`}},
}

// runMigrations applies every migration newer than the recorded version,
// each in its own transaction.
func (s *Store) runMigrations() error {
	var version sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	for _, m := range migrations {
		if int64(m.version) <= version.Int64 {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(m migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("migrate to v%d: begin tx: %w", m.version, err)
	}
	defer tx.Rollback()

	for _, stmt := range m.statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
	}
	_, err = tx.Exec(s.rebind(`
		INSERT INTO schema_version (version, applied_at) VALUES (?, ?)
		ON CONFLICT (version) DO NOTHING
	`), m.version, s.now())
	if err != nil {
		return fmt.Errorf("migrate to v%d: record version: %w", m.version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate to v%d: commit: %w", m.version, err)
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return int(version.Int64), nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL. Queries in this
// package never contain literal question marks.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) now() int64 {
	return s.clock.Now().UnixNano()
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY violation
// on either driver.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// chainColumn maps an optional chain id to the stored column value.
func chainColumn(chainID *int64) int64 {
	if chainID == nil {
		return 0
	}
	return *chainID
}

// chainFromColumn maps the stored column value back to an optional chain id.
func chainFromColumn(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func timeFromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
