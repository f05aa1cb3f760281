package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/okian/stopodds/internal/domain/model"
	"github.com/okian/stopodds/pkg/metrics"
	_ "modernc.org/sqlite"
)

const driverSQLite = "sqlite"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS submissions (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT NOT NULL UNIQUE,
	trips          INTEGER NOT NULL CHECK (trips BETWEEN 1 AND 200),
	stops          INTEGER NOT NULL CHECK (stops >= 0 AND stops <= trips),
	traits         TEXT NOT NULL,
	fraud_signal   TEXT NOT NULL,
	anomalies      TEXT NOT NULL,
	schema_version INTEGER NOT NULL,
	created_at     INTEGER NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_submissions_created_at ON submissions (created_at)`,
	`CREATE TABLE IF NOT EXISTS model_runs (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	kind       TEXT NOT NULL,
	model_type TEXT NOT NULL,
	train_rows INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	body       TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS registry_pointers (
	kind       TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES model_runs (id),
	updated_at INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS aggregate_cells (
	run_id       TEXT NOT NULL,
	position     INTEGER NOT NULL,
	trait        TEXT NOT NULL,
	value        TEXT NOT NULL,
	n_people     INTEGER NOT NULL,
	n_trips      INTEGER NOT NULL,
	n_stops      INTEGER NOT NULL,
	rate_per_100 REAL NOT NULL,
	irr_vs_ref   REAL,
	ci_lower     REAL,
	ci_upper     REAL,
	PRIMARY KEY (run_id, position)
)`,
}

// SQLiteStore persists every logical store in one SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	stored atomic.Int64
}

// OpenSQLite opens the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions`).Scan(&n); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("count submissions: %w", err)
	}
	s.stored.Store(n)
	metrics.UpdateStoredSubmissions(int(n))
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func observeSQL(op string, start time.Time) {
	metrics.RecordStoreLatency(driverSQLite, op, float64(time.Since(start).Microseconds())/1000)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Insert implements SubmissionStore.
func (s *SQLiteStore) Insert(ctx context.Context, sub model.Submission) error {
	defer observeSQL("insert", time.Now())

	traits, err := json.Marshal(sub.Traits)
	if err != nil {
		return fmt.Errorf("encode traits: %w", err)
	}
	anomalies := sub.Anomalies
	if anomalies == nil {
		anomalies = []string{}
	}
	flags, err := json.Marshal(anomalies)
	if err != nil {
		return fmt.Errorf("encode anomalies: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO submissions (id, trips, stops, traits, fraud_signal, anomalies, schema_version, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Trips, sub.Stops, string(traits), sub.FraudSignal, string(flags),
		sub.SchemaVersion, sub.CreatedAt.UTC().UnixNano(),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	metrics.UpdateStoredSubmissions(int(s.stored.Add(1)))
	return nil
}

// Snapshot implements SubmissionStore. Rows are read inside one transaction
// so a concurrent insert is either wholly in or out.
func (s *SQLiteStore) Snapshot(ctx context.Context) (_ []model.Submission, err error) {
	defer observeSQL("snapshot", time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() {
		if cerr := tx.Commit(); err == nil && cerr != nil {
			err = fmt.Errorf("end snapshot: %w", cerr)
		}
	}()

	rows, err := tx.QueryContext(ctx, `
SELECT id, trips, stops, traits, fraud_signal, anomalies, schema_version, created_at
FROM submissions
ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var out []model.Submission
	for rows.Next() {
		var (
			sub            model.Submission
			traits, flags  string
			createdAtNanos int64
		)
		if err := rows.Scan(&sub.ID, &sub.Trips, &sub.Stops, &traits, &sub.FraudSignal, &flags,
			&sub.SchemaVersion, &createdAtNanos); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		if err := json.Unmarshal([]byte(traits), &sub.Traits); err != nil {
			return nil, fmt.Errorf("decode traits: %w", err)
		}
		if err := json.Unmarshal([]byte(flags), &sub.Anomalies); err != nil {
			return nil, fmt.Errorf("decode anomalies: %w", err)
		}
		if len(sub.Anomalies) == 0 {
			sub.Anomalies = nil
		}
		sub.CreatedAt = time.Unix(0, createdAtNanos).UTC()
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}

// Stats implements SubmissionStore.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	defer observeSQL("stats", time.Now())

	var st Stats
	err := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN anomalies = '[]' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN anomalies = '[]' THEN trips ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN anomalies = '[]' THEN stops ELSE 0 END), 0)
FROM submissions`).Scan(&st.Stored, &st.Clean.Submissions, &st.Clean.Trips, &st.Clean.Stops)
	if err != nil {
		return Stats{}, fmt.Errorf("submission stats: %w", err)
	}
	return st, nil
}

// DeleteBefore implements SubmissionStore.
func (s *SQLiteStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	defer observeSQL("delete", time.Now())

	res, err := s.db.ExecContext(ctx, `DELETE FROM submissions WHERE created_at < ?`, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete submissions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete submissions: %w", err)
	}
	metrics.UpdateStoredSubmissions(int(s.stored.Add(-n)))
	return int(n), nil
}

// Append implements RunStore.
func (s *SQLiteStore) Append(ctx context.Context, run *model.ModelRun) error {
	defer observeSQL("append_run", time.Now())

	cp := *run
	cp.Published = false
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO model_runs (id, kind, model_type, train_rows, created_at, body)
VALUES (?, ?, ?, ?, ?, ?)`,
		cp.ID, string(cp.Kind), string(cp.Type), cp.TrainRows, cp.CreatedAt.UTC().UnixNano(), string(body),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func decodeRun(body string) (*model.ModelRun, error) {
	var run model.ModelRun
	if err := json.Unmarshal([]byte(body), &run); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &run, nil
}

// Get implements RunStore.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.ModelRun, error) {
	defer observeSQL("get_run", time.Now())

	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM model_runs WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return decodeRun(body)
}

// List implements RunStore.
func (s *SQLiteStore) List(ctx context.Context, kind model.RunKind, limit int) ([]*model.ModelRun, error) {
	defer observeSQL("list_runs", time.Now())
	if limit < 1 {
		return nil, ErrInvalidLimit
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT body FROM model_runs
WHERE ? = '' OR kind = ?
ORDER BY created_at DESC, seq ASC
LIMIT ?`, string(kind), string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]*model.ModelRun, 0, limit)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run, err := decodeRun(body)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// SetCurrent implements RunStore.
func (s *SQLiteStore) SetCurrent(ctx context.Context, kind model.RunKind, id string) error {
	defer observeSQL("set_current", time.Now())

	var runKind string
	err := s.db.QueryRowContext(ctx, `SELECT kind FROM model_runs WHERE id = ?`, id).Scan(&runKind)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup run: %w", err)
	}
	if model.RunKind(runKind) != kind {
		return ErrKindMismatch
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO registry_pointers (kind, run_id, updated_at) VALUES (?, ?, ?)
ON CONFLICT (kind) DO UPDATE SET run_id = excluded.run_id, updated_at = excluded.updated_at`,
		string(kind), id, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("set pointer: %w", err)
	}
	return nil
}

// Current implements RunStore.
func (s *SQLiteStore) Current(ctx context.Context, kind model.RunKind) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT run_id FROM registry_pointers WHERE kind = ?`, string(kind)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get pointer: %w", err)
	}
	return id, nil
}

func nullable(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func fromNullable(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// Replace implements AggregateStore.
func (s *SQLiteStore) Replace(ctx context.Context, runID string, cells []model.GroupCell) (err error) {
	defer observeSQL("replace_cells", time.Now())
	if err := checkCells(cells); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM aggregate_cells WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("clear cells: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO aggregate_cells
	(run_id, position, trait, value, n_people, n_trips, n_stops, rate_per_100, irr_vs_ref, ci_lower, ci_upper)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare cells: %w", err)
	}
	defer stmt.Close()

	for i, c := range cells {
		if _, err = stmt.ExecContext(ctx, runID, i, string(c.Key.Trait), c.Key.Value,
			c.NPeople, c.NTrips, c.NStops, c.RatePer100,
			nullable(c.IRR), nullable(c.CILower), nullable(c.CIUpper)); err != nil {
			return fmt.Errorf("insert cell: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit cells: %w", err)
	}
	return nil
}

// ListByRun implements AggregateStore.
func (s *SQLiteStore) ListByRun(ctx context.Context, runID string) ([]model.GroupCell, error) {
	defer observeSQL("list_cells", time.Now())

	rows, err := s.db.QueryContext(ctx, `
SELECT trait, value, n_people, n_trips, n_stops, rate_per_100, irr_vs_ref, ci_lower, ci_upper
FROM aggregate_cells
WHERE run_id = ?
ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("list cells: %w", err)
	}
	defer rows.Close()

	var out []model.GroupCell
	for rows.Next() {
		var (
			c           model.GroupCell
			trait       string
			irr, lo, hi sql.NullFloat64
		)
		if err := rows.Scan(&trait, &c.Key.Value, &c.NPeople, &c.NTrips, &c.NStops, &c.RatePer100,
			&irr, &lo, &hi); err != nil {
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		c.Key.Trait = model.Trait(trait)
		c.IRR, c.CILower, c.CIUpper = fromNullable(irr), fromNullable(lo), fromNullable(hi)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cells: %w", err)
	}
	return out, nil
}
