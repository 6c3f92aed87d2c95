// Package deadletter keeps batch records that failed metering so they can be
// inspected and replayed.
package deadletter

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/chargeback/pkg/meter"
	"github.com/pario-ai/chargeback/pkg/models"
)

// Store writes and queries failed records in a dedicated SQLite database.
type Store struct {
	db            *sql.DB
	retentionDays int
	done          chan struct{}
	wg            sync.WaitGroup
}

// New opens the dead-letter database, creates the schema and starts the
// retention loop when retentionDays is positive.
func New(dbPath string, retentionDays int) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open dead-letter db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate dead-letter db: %w", err)
	}

	s := &Store{
		db:            db,
		retentionDays: retentionDays,
		done:          make(chan struct{}),
	}
	if retentionDays > 0 {
		s.wg.Add(1)
		go s.retentionLoop()
	}
	return s, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS failed_records (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id    TEXT NOT NULL,
		record_index INTEGER NOT NULL,
		source      TEXT NOT NULL DEFAULT '',
		payload     TEXT NOT NULL,
		record_id   TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL,
		replayed    INTEGER NOT NULL DEFAULT 0,
		created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return err
	}
	if err := addColumn(db, "failed_records", "record_id", `TEXT NOT NULL DEFAULT ''`); err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_failed_batch ON failed_records(batch_id)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_failed_created ON failed_records(created_at)`)
	return err
}

// addColumn adds a column to databases created before it existed.
func addColumn(db *sql.DB, table, column, decl string) error {
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl))
	return err
}

// Save stores every failure of a batch under batchID.
func (s *Store) Save(ctx context.Context, batchID, source string, failures []*meter.RecordError) error {
	if s == nil || len(failures) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dead-letter tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, f := range failures {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO failed_records (batch_id, record_index, source, payload, record_id, error, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			batchID, f.Index, source, f.Payload, f.RecordID, f.Err.Error(), now,
		)
		if err != nil {
			return fmt.Errorf("insert failed record: %w", err)
		}
	}
	return tx.Commit()
}

// Query returns failed records matching the given options, newest first.
func (s *Store) Query(ctx context.Context, opts models.FailedQueryOpts) ([]models.FailedRecord, error) {
	q := `SELECT id, batch_id, record_index, source, payload, record_id, error, replayed, created_at
		FROM failed_records WHERE 1=1`
	var args []any

	if opts.BatchID != "" {
		q += " AND batch_id = ?"
		args = append(args, opts.BatchID)
	}
	if opts.Source != "" {
		q += " AND source = ?"
		args = append(args, opts.Source)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since)
	}
	if !opts.IncludeReplayed {
		q += " AND replayed = 0"
	}

	q += " ORDER BY id DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed records: %w", err)
	}
	defer rows.Close()

	var records []models.FailedRecord
	for rows.Next() {
		var r models.FailedRecord
		if err := rows.Scan(&r.ID, &r.BatchID, &r.Index, &r.Source, &r.Payload, &r.RecordID, &r.Error, &r.Replayed, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan failed record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Get returns a single failed record by id.
func (s *Store) Get(ctx context.Context, id int64) (models.FailedRecord, error) {
	var r models.FailedRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, batch_id, record_index, source, payload, record_id, error, replayed, created_at
		 FROM failed_records WHERE id = ?`, id,
	).Scan(&r.ID, &r.BatchID, &r.Index, &r.Source, &r.Payload, &r.RecordID, &r.Error, &r.Replayed, &r.CreatedAt)
	if err != nil {
		return r, fmt.Errorf("get failed record %d: %w", id, err)
	}
	return r, nil
}

// MarkReplayed flags records as replayed so they drop out of default queries.
func (s *Store) MarkReplayed(ctx context.Context, ids ...int64) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `UPDATE failed_records SET replayed = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("mark replayed: %w", err)
		}
	}
	return nil
}

// Stats returns failure counts grouped by source and day.
func (s *Store) Stats(ctx context.Context) ([]models.FailureStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, substr(created_at, 1, 10) AS day, count(*) AS cnt
		 FROM failed_records GROUP BY source, day ORDER BY day DESC, source`)
	if err != nil {
		return nil, fmt.Errorf("dead-letter stats: %w", err)
	}
	defer rows.Close()

	var stats []models.FailureStat
	for rows.Next() {
		var st models.FailureStat
		var day sql.NullString
		if err := rows.Scan(&st.Source, &day, &st.Count); err != nil {
			return nil, fmt.Errorf("scan dead-letter stat: %w", err)
		}
		st.Day = day.String
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Cleanup deletes records older than the retention period.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM failed_records WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("dead-letter cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (s *Store) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) retentionLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			_, _ = s.Cleanup(context.Background())
		}
	}
}
