package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/mismo/pkg/conform"
)

// SQLStore implements Store using database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id TEXT PRIMARY KEY,
	direction TEXT NOT NULL,
	deal_reference TEXT NOT NULL DEFAULT '',
	pack_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	stage TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	byte_size BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	conformance_report_ref TEXT NOT NULL DEFAULT '',
	created_deal_reference TEXT NOT NULL DEFAULT '',
	duplicate_of TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_content_hash ON pipeline_runs (content_hash);
`

const runColumns = `run_id, direction, deal_reference, pack_id, status, stage, content_hash, byte_size,
	created_at, finished_at, conformance_report_ref, created_deal_reference, duplicate_of, error`

// Init creates the table if it does not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("runstore: init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Create(ctx context.Context, run Run) error {
	if err := validateNew(run); err != nil {
		return err
	}
	if _, err := s.Get(ctx, run.RunID); err == nil {
		return fmt.Errorf("runstore: %s: %w", run.RunID, ErrAlreadyExists)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	query := `
		INSERT INTO pipeline_runs (run_id, direction, deal_reference, pack_id, status, stage, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		run.RunID, string(run.Direction), run.DealReference, run.PackID, string(run.Status), run.Stage, dbTime(run.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("runstore: create %s: %w", run.RunID, err)
	}
	return nil
}

// Finalize is a conditional update on status = 'running', so a second
// writer can never overwrite a terminal record.
func (s *SQLStore) Finalize(ctx context.Context, runID string, out Outcome) (Run, error) {
	current, err := s.Get(ctx, runID)
	if err != nil {
		return Run{}, err
	}
	if current.Status != StatusRunning {
		return Run{}, fmt.Errorf("runstore: %s: %w", runID, ErrAlreadyFinalized)
	}
	if err := validateOutcome(current.Direction, runID, out); err != nil {
		return Run{}, err
	}
	packID := current.PackID
	if out.PackID != "" {
		packID = out.PackID
	}

	query := `
		UPDATE pipeline_runs
		SET status = $1, stage = $2, content_hash = $3, byte_size = $4, finished_at = $5,
			conformance_report_ref = $6, created_deal_reference = $7, duplicate_of = $8, error = $9,
			pack_id = $10
		WHERE run_id = $11 AND status = 'running'
	`
	res, err := s.db.ExecContext(ctx, query,
		string(out.Status), out.Stage, out.ContentHash, out.ByteSize, dbTime(out.FinishedAt),
		out.ConformanceReportRef, out.CreatedDealReference, out.DuplicateOf, out.Error, packID, runID,
	)
	if err != nil {
		return Run{}, fmt.Errorf("runstore: finalize %s: %w", runID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return Run{}, fmt.Errorf("runstore: finalize %s: failed to check rows affected: %w", runID, err)
	}
	if rows == 0 {
		return Run{}, fmt.Errorf("runstore: %s: %w", runID, ErrAlreadyFinalized)
	}
	return s.Get(ctx, runID)
}

func (s *SQLStore) Get(ctx context.Context, runID string) (Run, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE run_id = $1`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, fmt.Errorf("runstore: %s: %w", runID, ErrNotFound)
		}
		return Run{}, fmt.Errorf("runstore: get %s: %w", runID, err)
	}
	return run, nil
}

func (s *SQLStore) List(ctx context.Context, f Filter) ([]Run, error) {
	var (
		where []string
		args  []any
	)
	add := func(col string, v string) {
		args = append(args, v)
		where = append(where, col+" = $"+strconv.Itoa(len(args)))
	}
	if f.Direction != "" {
		add("direction", string(f.Direction))
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if f.DealReference != "" {
		add("deal_reference", f.DealReference)
	}

	query := `SELECT ` + runColumns + ` FROM pipeline_runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC, run_id ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	return s.query(ctx, query, args...)
}

func (s *SQLStore) FindByContentHash(ctx context.Context, hash string) ([]Run, error) {
	if hash == "" {
		return []Run{}, nil
	}
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE content_hash = $1 ORDER BY created_at ASC, run_id ASC`
	return s.query(ctx, query, hash)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("runstore: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("runstore: list: %w", err)
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runstore: list: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run       Run
		direction string
		status    string
		created   time.Time
		finished  sql.NullTime
	)
	err := row.Scan(&run.RunID, &direction, &run.DealReference, &run.PackID, &status, &run.Stage,
		&run.ContentHash, &run.ByteSize, &created, &finished, &run.ConformanceReportRef,
		&run.CreatedDealReference, &run.DuplicateOf, &run.Error)
	if err != nil {
		return Run{}, err
	}
	run.Direction = conform.Direction(direction)
	run.Status = Status(status)
	if !run.Status.Valid() {
		return Run{}, fmt.Errorf("run %s has unknown status %q", run.RunID, status)
	}
	run.CreatedAt = created.UTC()
	if finished.Valid {
		t := finished.Time.UTC()
		run.FinishedAt = &t
	}
	return run, nil
}
