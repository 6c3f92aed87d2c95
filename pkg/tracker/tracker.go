package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/chargeback/pkg/models"
)

// Tracker records and queries chargeback usage.
type Tracker interface {
	// Record stores a usage record. Recording the same id twice is a no-op.
	Record(ctx context.Context, rec models.UsageRecord) error
	// QueryByKey returns usage records for an app key recorded since a given time.
	QueryByKey(ctx context.Context, appKey string, since time.Time) ([]models.StoredUsage, error)
	// TotalByKey returns total tokens used by an app key since a given time.
	TotalByKey(ctx context.Context, appKey string, since time.Time) (int64, error)
	// TotalByKeyAndOperation returns total tokens used by an app key for one operation since a given time.
	TotalByKeyAndOperation(ctx context.Context, appKey string, op models.Operation, since time.Time) (int64, error)
	// Summary returns aggregated usage summaries, optionally filtered by app key.
	Summary(ctx context.Context, appKey string) ([]models.UsageSummary, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db  *sql.DB
	now func() time.Time
}

const createTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	token_info_id TEXT PRIMARY KEY,
	api_operation TEXT NOT NULL,
	app_key TEXT NOT NULL,
	event_time TEXT NOT NULL DEFAULT '',
	stream INTEGER NOT NULL DEFAULT 0,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_usage_key_time ON usage_records(app_key, recorded_at);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	return &SQLiteTracker{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Record stores a usage record. The stored total is derived from the two counts.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.UsageRecord) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO usage_records
		 (token_info_id, api_operation, app_key, event_time, stream, prompt_tokens, completion_tokens, total_tokens, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Operation), rec.AppKey, rec.Timestamp, rec.Stream,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens(), t.now(),
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// QueryByKey returns usage records for an app key since a given time.
func (t *SQLiteTracker) QueryByKey(ctx context.Context, appKey string, since time.Time) ([]models.StoredUsage, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT token_info_id, api_operation, app_key, event_time, stream, prompt_tokens, completion_tokens, recorded_at
		 FROM usage_records WHERE app_key = ? AND recorded_at >= ? ORDER BY recorded_at DESC`,
		appKey, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var records []models.StoredUsage
	for rows.Next() {
		var r models.StoredUsage
		var op string
		if err := rows.Scan(&r.ID, &op, &r.AppKey, &r.Timestamp, &r.Stream, &r.PromptTokens, &r.CompletionTokens, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		r.Operation = models.Operation(op)
		records = append(records, r)
	}
	return records, rows.Err()
}

// TotalByKey returns total tokens used by an app key since a given time.
func (t *SQLiteTracker) TotalByKey(ctx context.Context, appKey string, since time.Time) (int64, error) {
	var total int64
	err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_tokens), 0) FROM usage_records WHERE app_key = ? AND recorded_at >= ?`,
		appKey, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total usage: %w", err)
	}
	return total, nil
}

// TotalByKeyAndOperation returns total tokens used by an app key and operation since a given time.
func (t *SQLiteTracker) TotalByKeyAndOperation(ctx context.Context, appKey string, op models.Operation, since time.Time) (int64, error) {
	var total int64
	err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_tokens), 0) FROM usage_records WHERE app_key = ? AND api_operation = ? AND recorded_at >= ?`,
		appKey, string(op), since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total usage by operation: %w", err)
	}
	return total, nil
}

// Summary returns aggregated usage grouped by app key and operation.
func (t *SQLiteTracker) Summary(ctx context.Context, appKey string) ([]models.UsageSummary, error) {
	query := `SELECT app_key, api_operation, COUNT(*), SUM(stream), SUM(prompt_tokens), SUM(completion_tokens), SUM(total_tokens)
		 FROM usage_records`
	var args []any
	if appKey != "" {
		query += ` WHERE app_key = ?`
		args = append(args, appKey)
	}
	query += ` GROUP BY app_key, api_operation ORDER BY app_key, api_operation`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		var op string
		if err := rows.Scan(&s.AppKey, &op, &s.RequestCount, &s.StreamCount, &s.TotalPrompt, &s.TotalCompletion, &s.TotalTokens); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.Operation = models.Operation(op)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
