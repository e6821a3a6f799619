package provider

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/caolabs/cao/internal/common/errors"
	"github.com/caolabs/cao/internal/common/logger"
	"github.com/caolabs/cao/internal/profile"
	"github.com/caolabs/cao/internal/terminal/models"
	"github.com/caolabs/cao/internal/terminal/repository"
	"github.com/caolabs/cao/internal/tmux"
	"github.com/caolabs/cao/pkg/opencode"
)

// Registry is the process-wide owner of live provider instances, keyed by
// terminal id. Instances for terminals created by an earlier process are
// reconstructed lazily from stored metadata.
type Registry struct {
	mu        sync.Mutex
	providers map[string]Provider

	client   tmux.Client
	repo     repository.Repository
	profiles *profile.Store
	api      *opencode.Client
	log      *logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(client tmux.Client, repo repository.Repository, profiles *profile.Store, api *opencode.Client, log *logger.Logger) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		client:    client,
		repo:      repo,
		profiles:  profiles,
		api:       api,
		log:       log,
	}
}

// New constructs a provider instance for the given kind without caching it.
func (r *Registry) New(kind models.ProviderKind, terminalID, session, window, agentProfile string) (Provider, error) {
	switch kind {
	case models.ProviderClaudeCode:
		return NewClaudeCode(terminalID, session, window, agentProfile, r.client, r.profiles, r.log), nil
	case models.ProviderOpencode:
		return NewOpencode(terminalID, session, window, agentProfile, r.client, r.log), nil
	case models.ProviderOpencodeAPI:
		return NewOpencodeAPI(terminalID, session, agentProfile, r.api, r.log), nil
	case models.ProviderOpencodeAttach:
		return NewOpencodeAttach(terminalID, session, window, agentProfile, r.client, r.log), nil
	default:
		return nil, apperrors.InvalidArgument(fmt.Sprintf("unknown provider kind %q", kind))
	}
}

// Register caches a freshly constructed provider for a terminal.
func (r *Registry) Register(terminalID string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[terminalID] = p
}

// Get returns the cached provider for a terminal, reconstructing it from
// metadata when the process has not seen the terminal yet. Returns a
// NotFound error when no metadata exists.
func (r *Registry) Get(ctx context.Context, terminalID string) (Provider, error) {
	r.mu.Lock()
	if p, ok := r.providers[terminalID]; ok {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	t, err := r.repo.GetTerminal(ctx, terminalID)
	if err != nil {
		return nil, err
	}

	p, err := r.New(t.Provider, t.ID, t.TmuxSession, t.TmuxWindow, t.AgentProfile)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another goroutine may have reconstructed it meanwhile.
	if existing, ok := r.providers[terminalID]; ok {
		return existing, nil
	}
	r.providers[terminalID] = p
	return p, nil
}

// Cleanup releases the provider for a terminal and removes it from the
// registry. Unknown ids are a no-op, so the call is idempotent.
func (r *Registry) Cleanup(terminalID string) error {
	r.mu.Lock()
	p, ok := r.providers[terminalID]
	delete(r.providers, terminalID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return p.Cleanup()
}
