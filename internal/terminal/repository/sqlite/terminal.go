package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/caolabs/cao/internal/common/errors"
	"github.com/caolabs/cao/internal/terminal/models"
)

// Terminal operations

// CreateTerminal inserts a new terminal metadata record.
func (r *Repository) CreateTerminal(ctx context.Context, t *models.Terminal) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO terminals (id, tmux_session, tmux_window, provider, agent_profile, delegating_agent_id, initial_message, created_at, last_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.TmuxSession, t.TmuxWindow, t.Provider, t.AgentProfile, t.DelegatingAgentID, t.InitialMessage, t.CreatedAt, t.LastActive)
	return err
}

// GetTerminal retrieves a terminal by ID.
func (r *Repository) GetTerminal(ctx context.Context, id string) (*models.Terminal, error) {
	return r.scanTerminal(ctx, `
		SELECT id, tmux_session, tmux_window, provider, agent_profile, delegating_agent_id, initial_message, created_at, last_active
		FROM terminals WHERE id = ?
	`, id)
}

// GetTerminalByDelegatingAgent retrieves the terminal spawned by the given
// delegating agent id (terminal id or agent-internal session id).
func (r *Repository) GetTerminalByDelegatingAgent(ctx context.Context, delegatingAgentID string) (*models.Terminal, error) {
	return r.scanTerminal(ctx, `
		SELECT id, tmux_session, tmux_window, provider, agent_profile, delegating_agent_id, initial_message, created_at, last_active
		FROM terminals WHERE delegating_agent_id = ? ORDER BY created_at DESC LIMIT 1
	`, delegatingAgentID)
}

func (r *Repository) scanTerminal(ctx context.Context, query string, args ...interface{}) (*models.Terminal, error) {
	t := &models.Terminal{}
	var lastActive sql.NullTime
	err := r.ro.QueryRowContext(ctx, query, args...).Scan(
		&t.ID, &t.TmuxSession, &t.TmuxWindow, &t.Provider, &t.AgentProfile,
		&t.DelegatingAgentID, &t.InitialMessage, &t.CreatedAt, &lastActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("terminal", argString(args))
	}
	if err != nil {
		return nil, err
	}
	if lastActive.Valid {
		t.LastActive = &lastActive.Time
	}
	return t, nil
}

func argString(args []interface{}) string {
	if len(args) == 1 {
		if s, ok := args[0].(string); ok {
			return s
		}
	}
	return ""
}

// ListTerminals returns all terminal records.
func (r *Repository) ListTerminals(ctx context.Context) ([]*models.Terminal, error) {
	return r.listTerminals(ctx, `
		SELECT id, tmux_session, tmux_window, provider, agent_profile, delegating_agent_id, initial_message, created_at, last_active
		FROM terminals ORDER BY created_at ASC
	`)
}

// ListTerminalsBySession returns all terminals in a tmux session.
func (r *Repository) ListTerminalsBySession(ctx context.Context, tmuxSession string) ([]*models.Terminal, error) {
	return r.listTerminals(ctx, `
		SELECT id, tmux_session, tmux_window, provider, agent_profile, delegating_agent_id, initial_message, created_at, last_active
		FROM terminals WHERE tmux_session = ? ORDER BY created_at ASC
	`, tmuxSession)
}

func (r *Repository) listTerminals(ctx context.Context, query string, args ...interface{}) ([]*models.Terminal, error) {
	rows, err := r.ro.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Terminal
	for rows.Next() {
		t := &models.Terminal{}
		var lastActive sql.NullTime
		if err := rows.Scan(
			&t.ID, &t.TmuxSession, &t.TmuxWindow, &t.Provider, &t.AgentProfile,
			&t.DelegatingAgentID, &t.InitialMessage, &t.CreatedAt, &lastActive,
		); err != nil {
			return nil, err
		}
		if lastActive.Valid {
			t.LastActive = &lastActive.Time
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// UpdateLastActive updates a terminal's last active timestamp.
func (r *Repository) UpdateLastActive(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE terminals SET last_active = ? WHERE id = ?`, at, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("terminal", id)
	}
	return nil
}

// DeleteTerminal removes a terminal metadata record.
func (r *Repository) DeleteTerminal(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM terminals WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("terminal", id)
	}
	return nil
}

// DeleteTerminalsBySession removes all terminal records in a tmux session.
func (r *Repository) DeleteTerminalsBySession(ctx context.Context, tmuxSession string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM terminals WHERE tmux_session = ?`, tmuxSession)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
