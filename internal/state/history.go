package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"grimm.is/ddnsfw/internal/clock"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// OutcomeAbandoned marks a pass that never recorded its finish.
const OutcomeAbandoned = "abandoned"

// ErrRunNotFound is returned when a run ID is not in the journal.
var ErrRunNotFound = errors.New("run not found")

// Run is one journal row.
type Run struct {
	ID         string    `json:"id" yaml:"id"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	DryRun     bool      `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	RunSummary `yaml:",inline"`
}

// Finished reports whether the pass recorded its end.
func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// RunSummary is what a pass records when it ends.
type RunSummary struct {
	Outcome      string `json:"outcome" yaml:"outcome"`
	Entries      int    `json:"entries" yaml:"entries"`
	Unresolved   int    `json:"unresolved" yaml:"unresolved"`
	Added        int    `json:"added" yaml:"added"`
	Removed      int    `json:"removed" yaml:"removed"`
	RemoveFailed int    `json:"remove_failed" yaml:"remove_failed"`
	Error        string `json:"error,omitempty" yaml:"error,omitempty"`
	Generation   uint64 `json:"generation" yaml:"generation"`
}

// HistoryOptions configures the journal.
type HistoryOptions struct {
	Path  string      // Database file path (":memory:" for in-memory)
	Clock clock.Clock // Optional: time source (defaults to RealClock if nil)
}

// History is the SQLite-backed pass journal.
type History struct {
	db    *sql.DB
	clock clock.Clock
}

// OpenHistory opens (creating if needed) the journal database.
func OpenHistory(opts HistoryOptions) (*History, error) {
	dsn := opts.Path
	if opts.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A ":memory:" database lives per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	h := &History{db: db, clock: clock.OrReal(opts.Clock)}
	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return h, nil
}

func (h *History) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			finished_at INTEGER,
			dry_run INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL DEFAULT '',
			entries INTEGER NOT NULL DEFAULT 0,
			unresolved INTEGER NOT NULL DEFAULT 0,
			added INTEGER NOT NULL DEFAULT 0,
			removed INTEGER NOT NULL DEFAULT 0,
			remove_failed INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			generation INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
		CREATE INDEX IF NOT EXISTS idx_runs_unfinished ON runs(finished_at) WHERE finished_at IS NULL;
	`
	_, err := h.db.Exec(schema)
	return err
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

// BeginRun records the start of a pass.
func (h *History) BeginRun(ctx context.Context, id string, dryRun bool) error {
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, dry_run) VALUES (?, ?, ?)`,
		id, h.clock.Now().UnixNano(), boolInt(dryRun))
	if err != nil {
		return fmt.Errorf("begin run %s: %w", id, err)
	}
	return nil
}

// FinishRun records the end of a pass.
func (h *History) FinishRun(ctx context.Context, id string, s RunSummary) error {
	res, err := h.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, outcome = ?, entries = ?, unresolved = ?,
			added = ?, removed = ?, remove_failed = ?, error = ?, generation = ?
		WHERE id = ?`,
		h.clock.Now().UnixNano(), s.Outcome, s.Entries, s.Unresolved,
		s.Added, s.Removed, s.RemoveFailed, s.Error, int64(s.Generation), id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

// Unfinished returns passes other than exclude that began but never finished,
// oldest first.
func (h *History) Unfinished(ctx context.Context, exclude string) ([]Run, error) {
	return h.query(ctx, `SELECT `+runColumns+` FROM runs
		WHERE finished_at IS NULL AND id != ?
		ORDER BY started_at ASC, rowid ASC`, exclude)
}

// MarkAbandoned closes out unfinished passes so they are reported once.
func (h *History) MarkAbandoned(ctx context.Context, ids []string) error {
	now := h.clock.Now().UnixNano()
	for _, id := range ids {
		if _, err := h.db.ExecContext(ctx,
			`UPDATE runs SET finished_at = ?, outcome = ? WHERE id = ? AND finished_at IS NULL`,
			now, OutcomeAbandoned, id); err != nil {
			return fmt.Errorf("mark run %s abandoned: %w", id, err)
		}
	}
	return nil
}

// Get returns a single run.
func (h *History) Get(ctx context.Context, id string) (*Run, error) {
	runs, err := h.query(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrRunNotFound
	}
	return &runs[0], nil
}

// LastRuns returns up to n passes, newest first.
func (h *History) LastRuns(ctx context.Context, n int) ([]Run, error) {
	return h.query(ctx, `SELECT `+runColumns+` FROM runs
		ORDER BY started_at DESC, rowid DESC LIMIT ?`, n)
}

// Prune keeps the newest keep passes and deletes the rest.
func (h *History) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := h.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}

const runColumns = `id, started_at, finished_at, dry_run, outcome, entries, unresolved,
	added, removed, remove_failed, error, generation`

func (h *History) query(ctx context.Context, q string, args ...any) ([]Run, error) {
	rows, err := h.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			started  int64
			finished sql.NullInt64
			dryRun   int
			gen      int64
		)
		if err := rows.Scan(&r.ID, &started, &finished, &dryRun, &r.Outcome, &r.Entries,
			&r.Unresolved, &r.Added, &r.Removed, &r.RemoveFailed, &r.Error, &gen); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		r.StartedAt = time.Unix(0, started).UTC()
		if finished.Valid {
			r.FinishedAt = time.Unix(0, finished.Int64).UTC()
		}
		r.DryRun = dryRun != 0
		r.Generation = uint64(gen)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
