package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/adrecon/internal/vault"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Empty database
// 1 - blobs and meta tables
const currentSchemaVersion = 1

// DefaultMaxMessages caps each message log unless overridden.
const DefaultMaxMessages = 2000

const (
	rowsPrefix     = "rows:"
	messagesPrefix = "messages:"
)

// Observer receives storage outcomes. Implemented by metrics.Metrics.
type Observer interface {
	BlobWritten(table string, err error)
	BlobLoadFailed(table string)
}

type nopObserver struct{}

func (nopObserver) BlobWritten(string, error) {}
func (nopObserver) BlobLoadFailed(string)     {}

// Option configures a Store.
type Option func(*Store)

// WithObserver reports blob writes and failed loads to o.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithMaxMessages caps every message log at n entries, evicting the oldest.
// n <= 0 disables the cap.
func WithMaxMessages(n int) Option {
	return func(s *Store) {
		s.maxMessages = n
	}
}

// Store provides durable, encrypted storage for row tables and message logs.
// Uses SQLite with WAL mode.
type Store struct {
	db          *sql.DB
	vault       *vault.Vault
	observer    Observer
	maxMessages int

	mu     sync.Mutex
	tables map[string]*Table
}

// Open creates or opens a SQLite database at the given path and derives the
// blob key from secret and the database salt.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func Open(path string, secret []byte, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	salt, err := loadSalt(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	v, err := vault.New(secret, salt)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:          db,
		vault:       v,
		observer:    nopObserver{},
		maxMessages: DefaultMaxMessages,
		tables:      make(map[string]*Table),
	}
	for _, opt := range opts {
		opt(s)
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

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Table returns the named table, loading it from storage on first use.
// Loading never fails: unreadable records load as empty collections.
func (s *Store) Table(ctx context.Context, name string) *Table {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tables[name]; ok {
		return t
	}
	t := newTable(s, name)
	t.load(ctx)
	s.tables[name] = t
	return t
}

// TableNames lists tables that have a persisted row record, sorted by name.
func (s *Store) TableNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM blobs WHERE name LIKE ? ORDER BY name ASC`, rowsPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, strings.TrimPrefix(name, rowsPrefix))
	}
	return names, rows.Err()
}

// readBlob loads and opens a sealed record. Returns (nil, nil) when absent.
func (s *Store) readBlob(ctx context.Context, name string) ([]byte, error) {
	var sealed []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM blobs WHERE name = ?`, name).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return s.vault.Open(name, sealed)
}

// writeBlob seals and overwrites a record.
func (s *Store) writeBlob(ctx context.Context, name string, plaintext []byte) error {
	sealed, err := s.vault.Seal(name, plaintext)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO blobs (name, payload, revision, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(name) DO UPDATE SET
			payload = excluded.payload,
			revision = blobs.revision + 1,
			updated_at = excluded.updated_at
	`, name, sealed, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// deleteBlob removes a record if present.
func (s *Store) deleteBlob(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and records the version.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// loadSalt returns the database salt, creating it on first open.
func loadSalt(db *sql.DB) ([]byte, error) {
	var salt []byte
	err := db.QueryRow(`SELECT value FROM meta WHERE key = 'salt'`).Scan(&salt)
	if err == nil {
		return salt, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read salt: %w", err)
	}

	salt, err = vault.NewSalt()
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`INSERT INTO meta (key, value) VALUES ('salt', ?)`, salt); err != nil {
		return nil, fmt.Errorf("store salt: %w", err)
	}
	slog.Debug("generated database salt")
	return salt, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
