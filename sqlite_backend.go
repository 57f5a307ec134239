package datavet

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// SQLiteBackendConfig configures the SQLite storage backend.
type SQLiteBackendConfig struct {
	// Path to the SQLite database file
	Path string `yaml:"path"`

	// BusyTimeout is the timeout for acquiring locks in milliseconds
	BusyTimeout int `yaml:"busy_timeout"`

	// MaxConnections is the max number of database connections
	MaxConnections int `yaml:"max_connections"`
}

// DefaultSQLiteBackendConfig returns default configuration.
func DefaultSQLiteBackendConfig() SQLiteBackendConfig {
	return SQLiteBackendConfig{
		Path:           "datavet-artifacts.db",
		BusyTimeout:    5000,
		MaxConnections: 10,
	}
}

// SQLiteBackend stores registry artifacts in a single SQLite file, which
// keeps schemas, snapshots, and reports inspectable with standard SQLite
// tools. It can share a file with the run history store.
type SQLiteBackend struct {
	db     *sql.DB
	config SQLiteBackendConfig
	mu     sync.RWMutex
	closed bool

	insertStmt *sql.Stmt
	selectStmt *sql.Stmt
	deleteStmt *sql.Stmt
	existsStmt *sql.Stmt
}

var _ StorageBackend = (*SQLiteBackend)(nil)

// NewSQLiteBackend creates a new SQLite-based storage backend.
func NewSQLiteBackend(config SQLiteBackendConfig) (*SQLiteBackend, error) {
	if config.Path == "" {
		config.Path = "datavet-artifacts.db"
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5000
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = 10
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d",
		config.Path, config.BusyTimeout)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, newStorageError(StorageErrorUnknown, "open SQLite database", config.Path, err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.MaxConnections / 2)

	backend := &SQLiteBackend{db: db, config: config}
	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, newStorageError(StorageErrorUnknown, "initialize artifact schema", config.Path, err)
	}
	if err := backend.prepareStatements(); err != nil {
		db.Close()
		return nil, newStorageError(StorageErrorUnknown, "prepare artifact statements", config.Path, err)
	}
	return backend, nil
}

func (s *SQLiteBackend) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS artifacts (
			key TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			size INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_artifacts_updated ON artifacts(updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteBackend) prepareStatements() error {
	var err error

	s.insertStmt, err = s.db.Prepare(`
		INSERT INTO artifacts (key, data, created_at, updated_at, size)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at,
			size = excluded.size
	`)
	if err != nil {
		return err
	}

	s.selectStmt, err = s.db.Prepare(`SELECT data FROM artifacts WHERE key = ?`)
	if err != nil {
		return err
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM artifacts WHERE key = ?`)
	if err != nil {
		return err
	}

	s.existsStmt, err = s.db.Prepare(`SELECT 1 FROM artifacts WHERE key = ? LIMIT 1`)
	return err
}

func (s *SQLiteBackend) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *SQLiteBackend) Read(ctx context.Context, key string) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.selectStmt.QueryRowContext(ctx, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, newStorageError(StorageErrorNotFound, "artifact not found", key, err)
	}
	if err != nil {
		return nil, newStorageError(StorageErrorRead, "read artifact", key, err)
	}
	return data, nil
}

func (s *SQLiteBackend) Write(ctx context.Context, key string, data []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	now := time.Now().UnixNano()
	if _, err := s.insertStmt.ExecContext(ctx, key, data, now, now, len(data)); err != nil {
		return newStorageError(StorageErrorWrite, "write artifact", key, err)
	}
	return nil
}

func (s *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.deleteStmt.ExecContext(ctx, key); err != nil {
		return newStorageError(StorageErrorDelete, "delete artifact", key, err)
	}
	return nil
}

func (s *SQLiteBackend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM artifacts WHERE key LIKE ? ORDER BY key`, prefix+"%")
	if err != nil {
		return nil, newStorageError(StorageErrorList, "list artifacts", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, newStorageError(StorageErrorList, "scan artifact key", prefix, err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQLiteBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	var one int
	err := s.existsStmt.QueryRowContext(ctx, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, newStorageError(StorageErrorRead, "check artifact", key, err)
	}
	return true, nil
}

// Close releases the database and prepared statements.
func (s *SQLiteBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.insertStmt != nil {
		s.insertStmt.Close()
	}
	if s.selectStmt != nil {
		s.selectStmt.Close()
	}
	if s.deleteStmt != nil {
		s.deleteStmt.Close()
	}
	if s.existsStmt != nil {
		s.existsStmt.Close()
	}
	return s.db.Close()
}
