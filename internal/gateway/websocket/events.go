package websocket

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/caolabs/cao/internal/common/logger"
	"github.com/caolabs/cao/internal/events/bus"
)

// eventBufferSize bounds how far a slow client may fall behind before
// events are dropped for it.
const eventBufferSize = 64

// EventsHandler pushes orchestrator lifecycle events to WebSocket clients
// as JSON frames. Clients may narrow the feed with a ?subject= pattern
// ("terminal.*", "inbox.>"); the default is every subject.
type EventsHandler struct {
	bus    bus.EventBus
	logger *logger.Logger
}

// NewEventsHandler creates an event feed handler backed by the given bus.
func NewEventsHandler(eventBus bus.EventBus, log *logger.Logger) *EventsHandler {
	return &EventsHandler{
		bus:    eventBus,
		logger: log.WithFields(zap.String("component", "event_stream")),
	}
}

// HandleEvents upgrades /events/stream and forwards matching bus events
// until the client disconnects.
func (h *EventsHandler) HandleEvents(c *gin.Context) {
	pattern := c.DefaultQuery("subject", ">")

	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade event stream connection", zap.Error(err))
		return
	}
	defer conn.Close()

	events := make(chan *bus.Event, eventBufferSize)
	sub, err := h.bus.Subscribe(pattern, func(ctx context.Context, event *bus.Event) error {
		select {
		case events <- event:
		default:
			// Client is not keeping up; drop rather than stall the bus.
		}
		return nil
	})
	if err != nil {
		h.logger.Error("event subscription failed",
			zap.String("pattern", pattern), zap.Error(err))
		return
	}
	defer func() { _ = sub.Unsubscribe() }()

	h.logger.Info("event stream connected", zap.String("pattern", pattern))
	defer h.logger.Info("event stream disconnected", zap.String("pattern", pattern))

	// Reads only serve to detect the peer closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event := <-events:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
