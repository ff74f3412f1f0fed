package mutationqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresMutationTableName = "fieldsync_pending_mutations"
	postgresQueueKey          = "default"
	postgresOperationTimeout  = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore keeps pending mutations in a shared Postgres table. Several
// devices can share one table by using distinct queue keys.
type PostgresStore struct {
	dsn       string
	tableName string
	queueKey  string
	openDB    sqlOpenFunc

	// mu guards db; a failed init leaves db nil so the next call retries.
	mu sync.Mutex
	db *sql.DB
}

func NewPostgresStore(dsn, queueKey string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	queueKey = strings.TrimSpace(queueKey)
	if queueKey == "" {
		queueKey = postgresQueueKey
	}
	return &PostgresStore{
		dsn:       dsn,
		tableName: postgresMutationTableName,
		queueKey:  queueKey,
		openDB:    sql.Open,
	}, nil
}

func (s *PostgresStore) ensureReady() (*sql.DB, error) {
	if s == nil {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	db, err := s.openDB("postgres", s.dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	createTableQuery := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			queue_key TEXT NOT NULL,
			url TEXT NOT NULL,
			method TEXT NOT NULL,
			headers TEXT NOT NULL,
			body BYTEA,
			enqueued_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, postgresQuoteIdentifier(s.tableName))
	if _, err := db.ExecContext(ctx, createTableQuery); err != nil {
		_ = db.Close()
		return nil, err
	}
	indexName := s.tableName + "_queue_key_id_idx"
	createIndexQuery := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s (queue_key, id)",
		postgresQuoteIdentifier(indexName),
		postgresQuoteIdentifier(s.tableName),
	)
	if _, err := db.ExecContext(ctx, createIndexQuery); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.db = db
	return db, nil
}

func (s *PostgresStore) Load(ctx context.Context) ([]QueuedMutation, error) {
	db, err := s.ensureReady()
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT id, url, method, headers, body, enqueued_at
		FROM %s
		WHERE queue_key = $1
		ORDER BY id ASC`, postgresQuoteIdentifier(s.tableName))
	rows, err := db.QueryContext(ctx, query, s.queueKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]QueuedMutation, 0)
	for rows.Next() {
		var record QueuedMutation
		var headersJSON string
		if err := rows.Scan(&record.ID, &record.URL, &record.Method, &headersJSON, &record.Body, &record.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(headersJSON), &record.Headers); err != nil {
			return nil, err
		}
		record.Timestamp = record.Timestamp.UTC()
		items = append(items, record)
	}
	return items, rows.Err()
}

func (s *PostgresStore) Append(ctx context.Context, record QueuedMutation) (int64, error) {
	if err := validateRecord(record); err != nil {
		return 0, err
	}
	db, err := s.ensureReady()
	if err != nil {
		return 0, err
	}
	headersJSON, err := marshalHeaders(record.Headers)
	if err != nil {
		return 0, err
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// Serialize appends per queue so ids are committed in the order they are issued.
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", postgresQueueLockKey(s.tableName, s.queueKey)); err != nil {
		return 0, err
	}
	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (queue_key, url, method, headers, body, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`, postgresQuoteIdentifier(s.tableName))
	var id int64
	if err := tx.QueryRowContext(ctx, insertQuery, s.queueKey, record.URL, record.Method, headersJSON, record.Body, record.Timestamp).Scan(&id); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return id, nil
}

func (s *PostgresStore) Remove(ctx context.Context, id int64) error {
	db, err := s.ensureReady()
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE queue_key = $1 AND id = $2", postgresQuoteIdentifier(s.tableName))
	_, err = db.ExecContext(ctx, query, s.queueKey, id)
	return err
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	db, err := s.ensureReady()
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE queue_key = $1", postgresQuoteIdentifier(s.tableName))
	_, err = db.ExecContext(ctx, query, s.queueKey)
	return err
}

func (s *PostgresStore) Len(ctx context.Context) (int, error) {
	db, err := s.ensureReady()
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE queue_key = $1", postgresQuoteIdentifier(s.tableName))
	var depth int
	if err := db.QueryRowContext(ctx, query, s.queueKey).Scan(&depth); err != nil {
		return 0, err
	}
	return depth, nil
}

func (s *PostgresStore) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func postgresQueueLockKey(tableName, queueKey string) int64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(strings.TrimSpace(tableName)))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(strings.TrimSpace(queueKey)))
	return int64(hasher.Sum64())
}
