package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/c360studio/semplan/llm"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One connection: concurrent writers would get SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return db, nil
}

// SQLiteStore keeps sessions as JSON documents in a sessions table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the schema if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to init sqlite session store: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		data JSON NOT NULL,
		plans INTEGER NOT NULL DEFAULT 0,
		messages INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Load returns the session or an error wrapping ErrNotFound.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// Save inserts or replaces the session.
func (s *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	if err := ValidateID(sess.ID); err != nil {
		return err
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	query := `INSERT INTO sessions (id, data, plans, messages, updated_at) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET data = excluded.data, plans = excluded.plans,
		messages = excluded.messages, updated_at = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query,
		sess.ID, string(data), len(sess.Plans), len(sess.History), sess.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// List returns every stored session, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, plans, messages, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Summary
	for rows.Next() {
		var (
			sum       Summary
			updatedAt string
		)
		if err := rows.Scan(&sum.ID, &sum.Plans, &sum.Messages, &updatedAt); err != nil {
			return nil, err
		}
		sum.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// SQLiteCallStore records provider calls in an llm_calls table. It
// implements llm.CallStore.
type SQLiteCallStore struct {
	db *sql.DB
}

var _ llm.CallStore = (*SQLiteCallStore)(nil)

// NewSQLiteCallStore creates the schema if needed.
func NewSQLiteCallStore(db *sql.DB) (*SQLiteCallStore, error) {
	s := &SQLiteCallStore{db: db}
	query := `
	CREATE TABLE IF NOT EXISTS llm_calls (
		request_id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		model TEXT,
		messages JSON,
		response TEXT,
		prompt_tokens INTEGER,
		completion_tokens INTEGER,
		total_tokens INTEGER,
		finish_reason TEXT,
		started_at TEXT,
		completed_at TEXT,
		duration_ms INTEGER,
		error TEXT,
		retries INTEGER
	);`
	if _, err := db.ExecContext(context.Background(), query); err != nil {
		return nil, fmt.Errorf("failed to init sqlite call store: %w", err)
	}
	return s, nil
}

// Store inserts one call record.
func (s *SQLiteCallStore) Store(ctx context.Context, r *llm.CallRecord) error {
	messages, _ := json.Marshal(r.Messages)
	query := `INSERT OR REPLACE INTO llm_calls (
		request_id, provider, model, messages, response, prompt_tokens, completion_tokens, total_tokens,
		finish_reason, started_at, completed_at, duration_ms, error, retries
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		r.RequestID, r.Provider, r.Model, string(messages), r.Response,
		r.PromptTokens, r.CompletionTokens, r.TotalTokens, r.FinishReason,
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.CompletedAt.UTC().Format(time.RFC3339Nano),
		r.DurationMs, r.Error, r.Retries,
	)
	if err != nil {
		return fmt.Errorf("failed to insert call record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *SQLiteCallStore) Recent(ctx context.Context, limit int) ([]*llm.CallRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, provider, model, messages, response, prompt_tokens, completion_tokens, total_tokens,
			finish_reason, started_at, completed_at, duration_ms, error, retries
		FROM llm_calls
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []*llm.CallRecord
	for rows.Next() {
		var (
			r                      llm.CallRecord
			model, messages        sql.NullString
			response, finishReason sql.NullString
			startedAt, completedAt sql.NullString
			errMsg                 sql.NullString
		)
		if err := rows.Scan(&r.RequestID, &r.Provider, &model, &messages, &response,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &finishReason,
			&startedAt, &completedAt, &r.DurationMs, &errMsg, &r.Retries); err != nil {
			return nil, err
		}
		r.Model = model.String
		r.Response = response.String
		r.FinishReason = finishReason.String
		r.Error = errMsg.String
		if messages.Valid {
			_ = json.Unmarshal([]byte(messages.String), &r.Messages)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt.String)
		r.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt.String)
		records = append(records, &r)
	}
	return records, rows.Err()
}
