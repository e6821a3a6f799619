package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caolabs/cao/internal/common/logger"
)

func newTestBus(t *testing.T) *MemoryEventBus {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return NewMemoryEventBus(log)
}

func waitForEvent(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestNewEvent(t *testing.T) {
	e := NewEvent(SubjectTerminalCreated, "terminal-service", map[string]interface{}{
		"terminal_id": "aaaa0001",
	})
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, SubjectTerminalCreated, e.Type)
	assert.Equal(t, "terminal-service", e.Source)
	assert.Equal(t, "aaaa0001", e.Data["terminal_id"])
	assert.WithinDuration(t, time.Now().UTC(), e.Timestamp, time.Second)
}

func TestPublishDeliversToExactSubject(t *testing.T) {
	b := newTestBus(t)
	defer b.Close()

	received := make(chan *Event, 1)
	sub, err := b.Subscribe(SubjectInboxDelivered, func(ctx context.Context, e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)
	assert.True(t, sub.IsValid())

	event := NewEvent(SubjectInboxDelivered, "scheduler", map[string]interface{}{
		"receiver_id": "bbbb0002",
		"message_id":  int64(7),
	})
	require.NoError(t, b.Publish(context.Background(), SubjectInboxDelivered, event))

	got := waitForEvent(t, received)
	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, "bbbb0002", got.Data["receiver_id"])
}

func TestPublishSkipsNonMatchingSubject(t *testing.T) {
	b := newTestBus(t)
	defer b.Close()

	received := make(chan *Event, 1)
	_, err := b.Subscribe(SubjectTerminalDeleted, func(ctx context.Context, e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)

	event := NewEvent(SubjectTerminalCreated, "terminal-service", nil)
	require.NoError(t, b.Publish(context.Background(), SubjectTerminalCreated, event))

	select {
	case <-received:
		t.Fatal("terminal.deleted subscriber received a terminal.created event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWildcardSingleToken(t *testing.T) {
	b := newTestBus(t)
	defer b.Close()

	received := make(chan *Event, 4)
	_, err := b.Subscribe("terminal.*", func(ctx context.Context, e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, SubjectTerminalCreated, NewEvent(SubjectTerminalCreated, "terminal-service", nil)))
	require.NoError(t, b.Publish(ctx, SubjectInboxFailed, NewEvent(SubjectInboxFailed, "scheduler", nil)))
	require.NoError(t, b.Publish(ctx, SubjectTerminalDeleted, NewEvent(SubjectTerminalDeleted, "terminal-service", nil)))

	types := map[string]bool{}
	types[waitForEvent(t, received).Type] = true
	types[waitForEvent(t, received).Type] = true
	assert.True(t, types[SubjectTerminalCreated])
	assert.True(t, types[SubjectTerminalDeleted])

	select {
	case e := <-received:
		t.Fatalf("terminal.* subscriber received %s", e.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWildcardRestOfSubject(t *testing.T) {
	b := newTestBus(t)
	defer b.Close()

	received := make(chan *Event, 4)
	_, err := b.Subscribe(">", func(ctx context.Context, e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	for _, subject := range []string{SubjectTerminalCreated, SubjectInboxDelivered, SubjectRelaySent} {
		require.NoError(t, b.Publish(ctx, subject, NewEvent(subject, "test", nil)))
	}

	types := map[string]bool{}
	for i := 0; i < 3; i++ {
		types[waitForEvent(t, received).Type] = true
	}
	assert.Len(t, types, 3)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus(t)
	defer b.Close()

	received := make(chan *Event, 1)
	sub, err := b.Subscribe(SubjectRelaySent, func(ctx context.Context, e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())

	event := NewEvent(SubjectRelaySent, "scheduler", nil)
	require.NoError(t, b.Publish(context.Background(), SubjectRelaySent, event))

	select {
	case <-received:
		t.Fatal("unsubscribed handler received an event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClosedBusRejectsOperations(t *testing.T) {
	b := newTestBus(t)

	sub, err := b.Subscribe(SubjectTerminalCreated, func(ctx context.Context, e *Event) error {
		return nil
	})
	require.NoError(t, err)
	assert.True(t, b.IsConnected())

	b.Close()

	assert.False(t, b.IsConnected())
	assert.False(t, sub.IsValid())
	assert.Error(t, b.Publish(context.Background(), SubjectTerminalCreated, NewEvent(SubjectTerminalCreated, "test", nil)))
	_, err = b.Subscribe(SubjectTerminalDeleted, func(ctx context.Context, e *Event) error { return nil })
	assert.Error(t, err)
}

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		match   bool
	}{
		{"terminal.*", "terminal.created", true},
		{"terminal.*", "terminal.deleted", true},
		{"terminal.*", "inbox.delivered", false},
		{"terminal.*", "terminal.created.extra", false},
		{"inbox.>", "inbox.delivered", true},
		{"inbox.>", "inbox.delivered.extra", true},
		{"inbox.>", "relay.sent", false},
		{">", "relay.sent", true},
	}
	for _, tt := range tests {
		regex := compilePattern(tt.pattern)
		require.NotNil(t, regex, tt.pattern)
		assert.Equal(t, tt.match, regex.MatchString(tt.subject), "%s vs %s", tt.pattern, tt.subject)
	}

	assert.Nil(t, compilePattern(SubjectTerminalCreated))
}
