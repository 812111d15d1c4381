// Package history keeps a queryable log of recipe transitions in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-runtime/internal/transition"
)

// Page size limits for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrInvalidReport is returned by Record for reports it cannot store.
var ErrInvalidReport = errors.New("history: invalid report")

// Filter controls which transitions List returns.
type Filter struct {
	RecipeID string // optional: only transitions to this recipe
	// Committed, when set, keeps only committed (true) or uncommitted
	// (false) transitions.
	Committed *bool
	Since     time.Time // optional: started at or after
	Limit     int       // default 50, max 200
	Offset    int
}

// ListResult is one page of transitions, most recent first.
type ListResult struct {
	Transitions []transition.Report `json:"transitions"`
	Total       int                 `json:"total"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
}

// Repository stores and queries transition reports.
type Repository interface {
	Record(ctx context.Context, report *transition.Report) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores transitions in the transitions table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new transition history repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts report. Recording the same report twice is a no-op.
func (r *SQLiteRepository) Record(ctx context.Context, report *transition.Report) error {
	if report == nil || report.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidReport)
	}

	devices := report.Devices
	if devices == nil {
		devices = []transition.DeviceResult{}
	}
	devicesJSON, err := json.Marshal(devices)
	if err != nil {
		return fmt.Errorf("marshalling transition devices: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO transitions
		 (id, recipe_id, previous_id, started_at, finished_at, duration_ms, committed, persisted,
		  started, restarted, stopped, failed, unchanged, devices)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID, report.RecipeID, report.PreviousID,
		report.StartedAt.UTC().Format(timeLayout),
		report.FinishedAt.UTC().Format(timeLayout),
		report.Duration().Milliseconds(),
		boolInt(report.Committed), boolInt(report.Persisted),
		report.Count(transition.OutcomeStarted),
		report.Count(transition.OutcomeRestarted),
		report.Count(transition.OutcomeStopped),
		report.Count(transition.OutcomeFailed),
		report.Count(transition.OutcomeUnchanged),
		string(devicesJSON),
	)
	if err != nil {
		return fmt.Errorf("inserting transition: %w", err)
	}
	return nil
}

// List returns transitions matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.RecipeID != "" {
		conditions = append(conditions, "recipe_id = ?")
		args = append(args, filter.RecipeID)
	}
	if filter.Committed != nil {
		conditions = append(conditions, "committed = ?")
		args = append(args, boolInt(*filter.Committed))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM transitions " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting transitions: %w", err)
	}

	query := "SELECT id, recipe_id, previous_id, started_at, finished_at, committed, persisted, devices FROM transitions " + //nolint:gosec // WHERE built from parameterised conditions
		where + " ORDER BY started_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	reports := []transition.Report{}
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transitions: %w", err)
	}

	return &ListResult{
		Transitions: reports,
		Total:       total,
		Limit:       filter.Limit,
		Offset:      filter.Offset,
	}, nil
}

func scanReport(rows *sql.Rows) (transition.Report, error) {
	var (
		report               transition.Report
		startedAt, finished  string
		committed, persisted int
		devicesJSON          string
	)
	if err := rows.Scan(&report.ID, &report.RecipeID, &report.PreviousID,
		&startedAt, &finished, &committed, &persisted, &devicesJSON); err != nil {
		return transition.Report{}, fmt.Errorf("scanning transition: %w", err)
	}

	var err error
	if report.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return transition.Report{}, fmt.Errorf("parsing transition start %q: %w", startedAt, err)
	}
	if report.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return transition.Report{}, fmt.Errorf("parsing transition finish %q: %w", finished, err)
	}
	report.Committed = committed != 0
	report.Persisted = persisted != 0
	if err := json.Unmarshal([]byte(devicesJSON), &report.Devices); err != nil {
		return transition.Report{}, fmt.Errorf("decoding transition devices: %w", err)
	}
	return report, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
