package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/ipfs/go-cid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteBlockstore implements Blockstore using SQLite
type SQLiteBlockstore struct {
	db   *sql.DB
	cfg  Config
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteBlockstore creates a new SQLite blockstore instance
func NewSQLiteBlockstore(cfg Config) (*SQLiteBlockstore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to ":memory:" opens a distinct database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
	}

	return &SQLiteBlockstore{
		cfg:  cfg,
		path: cfg.Path,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteBlockstore) Init(ctx context.Context) error {
	dsn := s.path + "?_pragma=busy_timeout(5000)"
	if s.path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteBlockstore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteBlockstore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Get retrieves a block by CID
func (s *SQLiteBlockstore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	query := `SELECT data FROM blocks WHERE cid = ?`

	var data []byte
	err := s.db.QueryRowContext(ctx, query, c.String()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, c)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block: %w", err)
	}

	return data, nil
}

// Put stores a block. Blocks are content addressed, so an existing row is kept.
func (s *SQLiteBlockstore) Put(ctx context.Context, c cid.Cid, data []byte) error {
	if data == nil {
		data = []byte{}
	}

	query := `
		INSERT INTO blocks (cid, codec, data, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cid) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		c.String(),
		int64(c.Prefix().Codec),
		data,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to put block: %w", err)
	}

	return nil
}

// Has reports whether a block exists
func (s *SQLiteBlockstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM blocks WHERE cid = ?)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, c.String()).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check block: %w", err)
	}

	return exists, nil
}

// Count returns the number of stored blocks
func (s *SQLiteBlockstore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count blocks: %w", err)
	}
	return count, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteBlockstore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
