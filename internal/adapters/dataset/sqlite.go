package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/okian/cgmrisk/internal/domain/model"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS training_rows (
	session_id TEXT NOT NULL,
	partition  TEXT NOT NULL,
	grid_time  TEXT NOT NULL,
	glucose    REAL,
	carbs      REAL,
	slope_15   REAL,
	slope_60   REAL,
	cob_2h     REAL,
	future_max REAL,
	target     INTEGER NOT NULL,
	PRIMARY KEY (session_id, grid_time)
);
CREATE INDEX IF NOT EXISTS training_rows_partition ON training_rows (partition);
`

// SQLiteStore persists rows in a SQLite database. NaN values are stored as NULL.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save inserts rows in one transaction. Rows already stored for the same
// session and grid time are replaced.
func (s *SQLiteStore) Save(ctx context.Context, rows []model.TrainingRow) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO training_rows
		(session_id, partition, grid_time, glucose, carbs, slope_15, slope_60, cob_2h, future_max, target)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range rows {
		rec := NewRecord(r)
		if _, err = stmt.ExecContext(ctx,
			rec.SessionID, rec.Partition, rec.GridTime.Format(time.RFC3339),
			nullable(rec.Glucose), nullable(rec.Carbs), nullable(rec.Slope15),
			nullable(rec.Slope60), nullable(rec.Cob2h), nullable(rec.FutureMax),
			rec.Target,
		); err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rows loads a partition ordered by session and grid time.
func (s *SQLiteStore) Rows(ctx context.Context, partition string) ([]model.TrainingRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT session_id, partition, grid_time, glucose, carbs,
		slope_15, slope_60, cob_2h, future_max, target
		FROM training_rows WHERE partition = ? ORDER BY session_id, grid_time`, partition)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.TrainingRow
	for rows.Next() {
		var (
			rec      Record
			gridTime string
			vals     [6]sql.NullFloat64
		)
		if err := rows.Scan(&rec.SessionID, &rec.Partition, &gridTime,
			&vals[0], &vals[1], &vals[2], &vals[3], &vals[4], &vals[5], &rec.Target); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if rec.GridTime, err = time.Parse(time.RFC3339, gridTime); err != nil {
			return nil, fmt.Errorf("parse grid_time %q: %w", gridTime, err)
		}
		rec.Glucose = fromNull(vals[0])
		rec.Carbs = fromNull(vals[1])
		rec.Slope15 = fromNull(vals[2])
		rec.Slope60 = fromNull(vals[3])
		rec.Cob2h = fromNull(vals[4])
		rec.FutureMax = fromNull(vals[5])
		out = append(out, rec.Row())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Count returns the number of rows stored for a partition.
func (s *SQLiteStore) Count(ctx context.Context, partition string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM training_rows WHERE partition = ?`, partition).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func nullable(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func fromNull(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
