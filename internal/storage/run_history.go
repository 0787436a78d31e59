package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/model"
)

// RunFilter narrows List and Count. Zero fields match everything.
type RunFilter struct {
	Label  string
	Status model.RunStatus
	Batch  string
}

// RunHistory stores finished run records
type RunHistory interface {
	// Store stores a run record
	Store(ctx context.Context, batch string, rec *model.RunRecord) error

	// Get retrieves a run record by ID
	Get(ctx context.Context, id string) (*model.RunRecord, error)

	// List retrieves run records, newest first
	List(ctx context.Context, filter RunFilter, offset, limit int) ([]*model.RunRecord, error)

	// Count returns the number of records matching the filter
	Count(ctx context.Context, filter RunFilter) (int, error)

	// DeleteBefore deletes records started before the given time
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRunHistory implements RunHistory using SQLite
type SQLiteRunHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteRunHistory opens (or creates) the history database at dbPath
func NewSQLiteRunHistory(logger *zap.Logger, dbPath string) (*SQLiteRunHistory, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single writer avoids SQLITE_BUSY under concurrent runs
	db.SetMaxOpenConns(1)

	h := &SQLiteRunHistory{
		logger: logger.Named("run-history"),
		db:     db,
	}

	if err := h.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return h, nil
}

func (s *SQLiteRunHistory) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS run_history (
			id TEXT PRIMARY KEY,
			batch TEXT NOT NULL,
			label TEXT NOT NULL,
			idx INTEGER NOT NULL,
			status TEXT NOT NULL,
			error_class TEXT,
			reason TEXT,
			exit_code INTEGER NOT NULL,
			events INTEGER NOT NULL,
			stats TEXT,
			dumps TEXT,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			wall_time INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_run_history_batch ON run_history(batch);
		CREATE INDEX IF NOT EXISTS idx_run_history_label ON run_history(label);
		CREATE INDEX IF NOT EXISTS idx_run_history_status ON run_history(status);
		CREATE INDEX IF NOT EXISTS idx_run_history_started_at ON run_history(started_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Store implements RunHistory.Store
func (s *SQLiteRunHistory) Store(ctx context.Context, batch string, rec *model.RunRecord) error {
	stats, err := json.Marshal(rec.Stats)
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}
	var dumps []byte
	if len(rec.Dumps) > 0 {
		if dumps, err = json.Marshal(rec.Dumps); err != nil {
			return fmt.Errorf("failed to encode dumps: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_history (
			id, batch, label, idx, status, error_class, reason, exit_code,
			events, stats, dumps, started_at, completed_at, wall_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		batch,
		rec.Label,
		rec.Index,
		rec.Status,
		sql.NullString{String: string(rec.ErrorClass), Valid: rec.ErrorClass != ""},
		sql.NullString{String: rec.Reason, Valid: rec.Reason != ""},
		rec.ExitCode,
		rec.Events,
		string(stats),
		sql.NullString{String: string(dumps), Valid: len(dumps) > 0},
		rec.StartedAt,
		sql.NullTime{Time: rec.CompletedAt, Valid: !rec.CompletedAt.IsZero()},
		sql.NullInt64{Int64: int64(rec.WallTime), Valid: rec.WallTime != 0},
	)
	if err != nil {
		return fmt.Errorf("failed to store run record: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, label, idx, status, error_class, reason, exit_code,
	events, stats, dumps, started_at, completed_at, wall_time FROM run_history`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*model.RunRecord, error) {
	rec := &model.RunRecord{}
	var class, reason, stats, dumps sql.NullString
	var completedAt sql.NullTime
	var wallNanos sql.NullInt64

	err := row.Scan(
		&rec.ID,
		&rec.Label,
		&rec.Index,
		&rec.Status,
		&class,
		&reason,
		&rec.ExitCode,
		&rec.Events,
		&stats,
		&dumps,
		&rec.StartedAt,
		&completedAt,
		&wallNanos,
	)
	if err != nil {
		return nil, err
	}

	rec.ErrorClass = model.ErrorClass(class.String)
	rec.Reason = reason.String
	if stats.Valid && stats.String != "" && stats.String != "null" {
		if err := json.Unmarshal([]byte(stats.String), &rec.Stats); err != nil {
			return nil, fmt.Errorf("failed to decode stats: %w", err)
		}
	}
	if dumps.Valid && dumps.String != "" {
		if err := json.Unmarshal([]byte(dumps.String), &rec.Dumps); err != nil {
			return nil, fmt.Errorf("failed to decode dumps: %w", err)
		}
	}
	if completedAt.Valid {
		rec.CompletedAt = completedAt.Time
	}
	if wallNanos.Valid {
		rec.WallTime = time.Duration(wallNanos.Int64)
	}
	return rec, nil
}

// Get implements RunHistory.Get
func (s *SQLiteRunHistory) Get(ctx context.Context, id string) (*model.RunRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run record: %w", err)
	}
	return rec, nil
}

func (f RunFilter) where() (string, []any) {
	var clauses []string
	var args []any
	if f.Label != "" {
		clauses = append(clauses, "label = ?")
		args = append(args, f.Label)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.Batch != "" {
		clauses = append(clauses, "batch = ?")
		args = append(args, f.Batch)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List implements RunHistory.List
func (s *SQLiteRunHistory) List(ctx context.Context, filter RunFilter, offset, limit int) ([]*model.RunRecord, error) {
	where, args := filter.where()
	query := selectColumns + where + " ORDER BY started_at DESC, idx ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list run history: %w", err)
	}
	defer rows.Close()

	var records []*model.RunRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return records, nil
}

// Count implements RunHistory.Count
func (s *SQLiteRunHistory) Count(ctx context.Context, filter RunFilter) (int, error) {
	where, args := filter.where()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM run_history"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count run history: %w", err)
	}
	return count, nil
}

// DeleteBefore implements RunHistory.DeleteBefore
func (s *SQLiteRunHistory) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM run_history WHERE started_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete run history: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old run records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}

// Close closes the database connection
func (s *SQLiteRunHistory) Close() error {
	return s.db.Close()
}
