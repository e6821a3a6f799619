// Package repository defines the persistence interface for terminal metadata.
package repository

import (
	"context"
	"time"

	"github.com/caolabs/cao/internal/terminal/models"
)

// Repository persists terminal metadata, inbox messages and flow records.
type Repository interface {
	// Terminals
	CreateTerminal(ctx context.Context, t *models.Terminal) error
	GetTerminal(ctx context.Context, id string) (*models.Terminal, error)
	GetTerminalByDelegatingAgent(ctx context.Context, delegatingAgentID string) (*models.Terminal, error)
	ListTerminals(ctx context.Context) ([]*models.Terminal, error)
	ListTerminalsBySession(ctx context.Context, tmuxSession string) ([]*models.Terminal, error)
	UpdateLastActive(ctx context.Context, id string, at time.Time) error
	DeleteTerminal(ctx context.Context, id string) error
	DeleteTerminalsBySession(ctx context.Context, tmuxSession string) (int64, error)

	// Inbox
	CreateInboxMessage(ctx context.Context, m *models.InboxMessage) error
	ListInboxMessages(ctx context.Context, receiverID string, limit int, status models.MessageStatus) ([]*models.InboxMessage, error)
	UpdateMessageStatus(ctx context.Context, id int64, status models.MessageStatus) error

	// Flows
	CreateFlow(ctx context.Context, f *models.Flow) error
	GetFlow(ctx context.Context, name string) (*models.Flow, error)
	ListFlows(ctx context.Context) ([]*models.Flow, error)
	ListDueFlows(ctx context.Context, now time.Time) ([]*models.Flow, error)
	UpdateFlowRunTimes(ctx context.Context, name string, lastRun, nextRun time.Time) error
	UpdateFlowEnabled(ctx context.Context, name string, enabled bool, nextRun *time.Time) error
	DeleteFlow(ctx context.Context, name string) error

	Close() error
}
