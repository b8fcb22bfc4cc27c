// Package history keeps an index of past runs in SQLite so coverage can be
// compared across runs without re-reading every report file.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	_ "modernc.org/sqlite"

	"github.com/ethereum-optimism/infra/op-coverage/types"
)

const DefaultFilename = "history.db"

var ErrNotFound = errors.New("not found")

// Run is one indexed run. AverageCoverage is nil when the run had no coverage data.
type Run struct {
	RunID           string
	Timestamp       time.Time
	Duration        time.Duration
	Succeeded       bool
	TotalUnits      int
	PassedUnits     int
	FailedUnits     int
	AverageCoverage *float64
	Band            types.Band
	Phases          []types.Phase
	RecordPath      string
}

// UnitPoint is one unit's result within a run.
type UnitPoint struct {
	RunID     string
	Timestamp time.Time
	Unit      string
	Kind      types.UnitKind
	Succeeded bool
	Coverage  *float64
	Band      types.Band
	Duration  time.Duration
}

type Store struct {
	log  log.Logger
	db   *sql.DB
	path string
}

// Open opens or creates the history database at path and applies migrations.
func Open(ctx context.Context, logger log.Logger, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	version, err := migrate(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating history database %s: %w", path, err)
	}
	logger.Debug("Opened history database", "path", path, "schema", version)
	return &Store{log: logger, db: db, path: path}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append indexes summary. Appending a run id that is already present replaces
// the earlier entry.
func (s *Store) Append(ctx context.Context, summary *types.ProjectSummary, recordPath string) error {
	if summary == nil {
		return errors.New("summary is nil")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id=?`, summary.RunID); err != nil {
		return fmt.Errorf("replacing run %s: %w", summary.RunID, err)
	}

	var average any
	if !summary.CoverageNoData {
		average = summary.AverageCoverage
	}
	phases := make([]string, 0, len(summary.RequestedPhases))
	for _, p := range summary.RequestedPhases {
		phases = append(phases, p.String())
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs(run_id,timestamp,duration_seconds,succeeded,total_units,passed_units,failed_units,average_coverage,band,phases,record_path)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		summary.RunID, formatTime(summary.Timestamp), summary.Duration.Seconds(), summary.Succeeded(),
		summary.TotalUnits, summary.PassedUnits, summary.FailedUnits, average, string(summary.Band),
		strings.Join(phases, ","), nullable(recordPath))
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", summary.RunID, err)
	}

	for _, r := range summary.Results() {
		var coverage any
		if pct, ok := r.Coverage.Percent(); ok && !slices.Contains(summary.RejectedCoverage, r.Unit.Name) {
			coverage = pct
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO unit_results(run_id,unit,kind,succeeded,coverage,band,duration_seconds) VALUES (?,?,?,?,?,?,?)`,
			summary.RunID, r.Unit.Name, string(r.Unit.Kind), r.OverallSuccess, coverage,
			string(summary.Bands[r.Unit.Name]), r.Duration.Seconds())
		if err != nil {
			return fmt.Errorf("inserting unit %s of run %s: %w", r.Unit.Name, summary.RunID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Debug("Indexed run", "runID", summary.RunID, "units", summary.TotalUnits)
	return nil
}

// Recent returns up to limit runs, newest first. A limit of zero or less returns all runs.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT run_id,timestamp,duration_seconds,succeeded,total_units,passed_units,failed_units,average_coverage,band,phases,COALESCE(record_path,'')
		FROM runs ORDER BY timestamp DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// Get returns the run with the given id.
func (s *Store) Get(ctx context.Context, runID string) (Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id,timestamp,duration_seconds,succeeded,total_units,passed_units,failed_units,average_coverage,band,phases,COALESCE(record_path,'')
		 FROM runs WHERE run_id=?`, runID)
	if err != nil {
		return Run{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Run{}, err
		}
		return Run{}, ErrNotFound
	}
	return scanRun(rows)
}

// UnitHistory returns up to limit results for unit, newest first.
func (s *Store) UnitHistory(ctx context.Context, unit string, limit int) ([]UnitPoint, error) {
	query := `SELECT u.run_id,r.timestamp,u.unit,u.kind,u.succeeded,u.coverage,u.band,u.duration_seconds
		FROM unit_results u JOIN runs r ON r.run_id=u.run_id
		WHERE u.unit=? ORDER BY r.timestamp DESC, r.rowid DESC`
	args := []any{unit}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []UnitPoint
	for rows.Next() {
		var (
			p        UnitPoint
			ts       string
			kind     string
			band     string
			coverage sql.NullFloat64
			seconds  float64
		)
		if err := rows.Scan(&p.RunID, &ts, &p.Unit, &kind, &p.Succeeded, &coverage, &band, &seconds); err != nil {
			return nil, err
		}
		if p.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		p.Kind = types.UnitKind(kind)
		p.Band = types.Band(band)
		p.Duration = seconds2duration(seconds)
		if coverage.Valid {
			p.Coverage = &coverage.Float64
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func scanRun(rows *sql.Rows) (Run, error) {
	var (
		run     Run
		ts      string
		seconds float64
		average sql.NullFloat64
		band    string
		phases  string
	)
	if err := rows.Scan(&run.RunID, &ts, &seconds, &run.Succeeded, &run.TotalUnits, &run.PassedUnits,
		&run.FailedUnits, &average, &band, &phases, &run.RecordPath); err != nil {
		return Run{}, err
	}
	var err error
	if run.Timestamp, err = parseTime(ts); err != nil {
		return Run{}, err
	}
	run.Duration = seconds2duration(seconds)
	run.Band = types.Band(band)
	if average.Valid {
		run.AverageCoverage = &average.Float64
	}
	if phases != "" {
		for _, name := range strings.Split(phases, ",") {
			run.Phases = append(run.Phases, types.Phase(name))
		}
	}
	return run, nil
}

// timestamps are stored as fixed-width UTC text so they sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func seconds2duration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
