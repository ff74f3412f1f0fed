package mutationqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Schema version tracking:
// 0 - empty database
// 1 - pending_mutations table with AUTOINCREMENT ids
const sqliteSchemaVersion = 1

// SQLiteStore persists the queue in an embedded SQLite database.
//
// AUTOINCREMENT guarantees that a rowid is never reused, even after Clear,
// so the replay order stays monotonic for the lifetime of the file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore creates or opens the database at path and runs the
// upgrade hook for any schema version older than sqliteSchemaVersion.
//
// This function is idempotent - safe to call multiple times on one path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applySQLitePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := upgradeSQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func applySQLitePragmas(db *sql.DB) error {
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

// upgradeSQLiteSchema applies migrations based on user_version.
func upgradeSQLiteSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if err := migrateSQLiteToV1(db); err != nil {
			return err
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func migrateSQLiteToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS pending_mutations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL,
			method TEXT NOT NULL,
			headers TEXT NOT NULL,
			body BLOB,
			enqueued_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]QueuedMutation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, method, headers, body, enqueued_at
		FROM pending_mutations
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load mutations: %w", err)
	}
	defer rows.Close()

	out := make([]QueuedMutation, 0)
	for rows.Next() {
		var (
			record      QueuedMutation
			headersJSON string
			enqueuedAt  int64
		)
		if err := rows.Scan(&record.ID, &record.URL, &record.Method, &headersJSON, &record.Body, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("load mutations: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(headersJSON), &record.Headers); err != nil {
			return nil, fmt.Errorf("load mutations: decode headers for %d: %w", record.ID, err)
		}
		record.Timestamp = time.UnixMilli(enqueuedAt).UTC()
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load mutations: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Append(ctx context.Context, record QueuedMutation) (int64, error) {
	if err := validateRecord(record); err != nil {
		return 0, err
	}
	headersJSON, err := marshalHeaders(record.Headers)
	if err != nil {
		return 0, fmt.Errorf("append mutation: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_mutations (url, method, headers, body, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		record.URL,
		record.Method,
		headersJSON,
		record.Body,
		record.Timestamp.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("append mutation: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append mutation: last insert id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) Remove(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM pending_mutations WHERE id = ?", id); err != nil {
		return fmt.Errorf("remove mutation %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM pending_mutations"); err != nil {
		return fmt.Errorf("clear mutations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_mutations").Scan(&n); err != nil {
		return 0, fmt.Errorf("count mutations: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func marshalHeaders(headers []Header) (string, error) {
	if headers == nil {
		headers = []Header{}
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
