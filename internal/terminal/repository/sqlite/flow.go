package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/caolabs/cao/internal/common/errors"
	"github.com/caolabs/cao/internal/terminal/models"
)

// Flow operations. Flows are scheduled agent invocations; the cron engine
// that executes them is external and only reads/writes these records.

// CreateFlow inserts a new flow record.
func (r *Repository) CreateFlow(ctx context.Context, f *models.Flow) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO flows (name, file_path, schedule, agent_profile, provider, script, last_run, next_run, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.Name, f.FilePath, f.Schedule, f.AgentProfile, f.Provider, f.Script, f.LastRun, f.NextRun, boolToInt(f.Enabled))
	return err
}

// GetFlow retrieves a flow by name.
func (r *Repository) GetFlow(ctx context.Context, name string) (*models.Flow, error) {
	f, err := r.scanFlow(r.ro.QueryRowContext(ctx, `
		SELECT name, file_path, schedule, agent_profile, provider, script, last_run, next_run, enabled
		FROM flows WHERE name = ?
	`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("flow", name)
	}
	return f, err
}

// ListFlows returns all flows ordered by next run time.
func (r *Repository) ListFlows(ctx context.Context) ([]*models.Flow, error) {
	return r.listFlows(ctx, `
		SELECT name, file_path, schedule, agent_profile, provider, script, last_run, next_run, enabled
		FROM flows ORDER BY next_run ASC
	`)
}

// ListDueFlows returns enabled flows whose next_run is at or before now.
func (r *Repository) ListDueFlows(ctx context.Context, now time.Time) ([]*models.Flow, error) {
	return r.listFlows(ctx, `
		SELECT name, file_path, schedule, agent_profile, provider, script, last_run, next_run, enabled
		FROM flows WHERE enabled = 1 AND next_run IS NOT NULL AND next_run <= ?
	`, now)
}

func (r *Repository) listFlows(ctx context.Context, query string, args ...interface{}) ([]*models.Flow, error) {
	rows, err := r.ro.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Flow
	for rows.Next() {
		f, err := r.scanFlow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *Repository) scanFlow(row rowScanner) (*models.Flow, error) {
	f := &models.Flow{}
	var lastRun, nextRun sql.NullTime
	var enabled int
	if err := row.Scan(&f.Name, &f.FilePath, &f.Schedule, &f.AgentProfile, &f.Provider, &f.Script, &lastRun, &nextRun, &enabled); err != nil {
		return nil, err
	}
	if lastRun.Valid {
		f.LastRun = &lastRun.Time
	}
	if nextRun.Valid {
		f.NextRun = &nextRun.Time
	}
	f.Enabled = enabled == 1
	return f, nil
}

// UpdateFlowRunTimes records an execution of a flow.
func (r *Repository) UpdateFlowRunTimes(ctx context.Context, name string, lastRun, nextRun time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE flows SET last_run = ?, next_run = ? WHERE name = ?
	`, lastRun, nextRun, name)
	if err != nil {
		return err
	}
	return flowAffected(res, name)
}

// UpdateFlowEnabled enables or disables a flow, optionally rescheduling it.
func (r *Repository) UpdateFlowEnabled(ctx context.Context, name string, enabled bool, nextRun *time.Time) error {
	var res sql.Result
	var err error
	if nextRun != nil {
		res, err = r.db.ExecContext(ctx, `UPDATE flows SET enabled = ?, next_run = ? WHERE name = ?`, boolToInt(enabled), *nextRun, name)
	} else {
		res, err = r.db.ExecContext(ctx, `UPDATE flows SET enabled = ? WHERE name = ?`, boolToInt(enabled), name)
	}
	if err != nil {
		return err
	}
	return flowAffected(res, name)
}

// DeleteFlow removes a flow record.
func (r *Repository) DeleteFlow(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM flows WHERE name = ?`, name)
	if err != nil {
		return err
	}
	return flowAffected(res, name)
}

func flowAffected(res sql.Result, name string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("flow", name)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
