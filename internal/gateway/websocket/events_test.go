package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caolabs/cao/internal/events/bus"
)

func newEventsFixture(t *testing.T) (*bus.MemoryEventBus, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := newTestLogger(t)
	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	handler := NewEventsHandler(eventBus, log)
	router := gin.New()
	router.GET("/events/stream", handler.HandleEvents)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return eventBus, server
}

// publishUntilClosed republishes the event until the test finishes; the
// server side subscribes shortly after the handshake completes, so a
// single publish could be lost.
func publishUntilClosed(t *testing.T, eventBus *bus.MemoryEventBus, subject string, event *bus.Event) {
	t.Helper()
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = eventBus.Publish(context.Background(), subject, event)
			}
		}
	}()
}

func dialEvents(t *testing.T, server *httptest.Server, query string) *gorillaws.Conn {
	t.Helper()
	url := strings.Replace(server.URL, "http://", "ws://", 1) + "/events/stream" + query
	conn, resp, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		resp.Body.Close()
	})
	return conn
}

func TestEventStreamForwardsEvents(t *testing.T) {
	eventBus, server := newEventsFixture(t)
	conn := dialEvents(t, server, "")

	event := bus.NewEvent(bus.SubjectTerminalCreated, "terminal-service", map[string]interface{}{
		"terminal_id": "aaaa0001",
	})
	publishUntilClosed(t, eventBus, bus.SubjectTerminalCreated, event)

	var got bus.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, bus.SubjectTerminalCreated, got.Type)
	assert.Equal(t, "terminal-service", got.Source)
	assert.Equal(t, "aaaa0001", got.Data["terminal_id"])
}

func TestEventStreamSubjectFilter(t *testing.T) {
	eventBus, server := newEventsFixture(t)
	conn := dialEvents(t, server, "?subject=terminal.*")

	publishUntilClosed(t, eventBus, bus.SubjectInboxDelivered,
		bus.NewEvent(bus.SubjectInboxDelivered, "scheduler", nil))
	publishUntilClosed(t, eventBus, bus.SubjectTerminalDeleted,
		bus.NewEvent(bus.SubjectTerminalDeleted, "terminal-service", nil))

	// Only terminal.* frames may come through, no matter the publish order.
	var got bus.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, bus.SubjectTerminalDeleted, got.Type)
}
