package bus

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/caolabs/cao/internal/common/logger"
)

// MemoryEventBus fans events out to in-process subscribers. Handlers run
// on their own goroutines so a slow consumer cannot stall a publisher.
type MemoryEventBus struct {
	mu     sync.RWMutex
	subs   []*memorySub
	closed bool
	logger *logger.Logger
}

type memorySub struct {
	bus     *MemoryEventBus
	pattern string
	regex   *regexp.Regexp // nil when the pattern has no wildcards
	handler Handler

	mu     sync.Mutex
	active bool
}

// NewMemoryEventBus creates the in-process event bus used when no NATS
// server is configured.
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{logger: log}
}

// Publish delivers the event to every subscriber whose pattern matches.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	for _, sub := range b.subs {
		if !sub.IsValid() || !sub.matches(subject) {
			continue
		}
		go func(s *memorySub) {
			if err := s.handler(ctx, event); err != nil {
				b.logger.Error("event handler failed",
					zap.String("subject", subject),
					zap.String("event_type", event.Type),
					zap.Error(err))
			}
		}(sub)
	}

	b.logger.Debug("published event",
		zap.String("subject", subject),
		zap.String("event_id", event.ID))
	return nil
}

// Subscribe registers a handler for a subject pattern.
func (b *MemoryEventBus) Subscribe(pattern string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	sub := &memorySub{
		bus:     b,
		pattern: pattern,
		regex:   compilePattern(pattern),
		handler: handler,
		active:  true,
	}
	b.subs = append(b.subs, sub)
	return sub, nil
}

// Close deactivates every subscription and rejects further publishes.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, sub := range b.subs {
		sub.mu.Lock()
		sub.active = false
		sub.mu.Unlock()
	}
	b.subs = nil
}

// IsConnected reports whether the bus still accepts publishes.
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// Unsubscribe deactivates the subscription and removes it from the bus.
func (s *memorySub) Unsubscribe() error {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	for i, sub := range s.bus.subs {
		if sub == s {
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			break
		}
	}
	return nil
}

// IsValid reports whether the subscription still receives events.
func (s *memorySub) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *memorySub) matches(subject string) bool {
	if s.regex != nil {
		return s.regex.MatchString(subject)
	}
	return subject == s.pattern
}

// compilePattern turns a NATS-style pattern into a regexp. Patterns
// without wildcards return nil and are compared for equality instead.
func compilePattern(pattern string) *regexp.Regexp {
	if !strings.ContainsAny(pattern, "*>") {
		return nil
	}
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `[^.]+`)
	escaped = strings.ReplaceAll(escaped, `>`, `.+`)
	regex, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return nil
	}
	return regex
}
