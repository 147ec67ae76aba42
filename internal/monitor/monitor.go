package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grandb369/tradebot/internal/events"
)

// AlertSink delivers alert messages.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	Logger *zap.SugaredLogger
}

func (s LogSink) Send(message string) error {
	if s.Logger != nil {
		s.Logger.Warnw("alert", "message", message)
	}
	return nil
}

// AlertTopics are the lifecycle events that need an operator's attention.
var AlertTopics = []events.Event{
	events.EventBracketFailed,
	events.EventUnknownFill,
	events.EventShutdown,
}

// Monitor watches the bus and emits alerts.
type Monitor struct {
	Bus    *events.Bus
	Sink   AlertSink
	Logger *zap.SugaredLogger
}

// Start subscribes to AlertTopics and returns once all subscriptions exist.
// The forwarding goroutines exit when ctx is done.
func (m *Monitor) Start(ctx context.Context) *sync.WaitGroup {
	var wg sync.WaitGroup
	if m.Bus == nil || m.Sink == nil {
		if m.Logger != nil {
			m.Logger.Warn("monitor not fully configured; skipping")
		}
		return &wg
	}
	for _, topic := range AlertTopics {
		stream, unsub := m.Bus.Subscribe(topic, 50)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-stream:
					if !ok {
						return
					}
					if err := m.Sink.Send(formatAlert(msg)); err != nil && m.Logger != nil {
						m.Logger.Errorw("alert_send_failed", "error", err)
					}
				}
			}
		}()
	}
	return &wg
}

func formatAlert(msg any) string {
	ev, ok := msg.(events.OrderEvent)
	if !ok {
		return "[" + time.Now().Format(time.RFC3339) + "] alert triggered"
	}
	text := fmt.Sprintf("[%s] %s %s", ev.Timestamp.Format(time.RFC3339), ev.Type, ev.Symbol)
	if ev.OrderID != "" {
		text += " order=" + ev.OrderID
	}
	if ev.Role != "" {
		text += " role=" + ev.Role
	}
	if ev.Detail != "" {
		text += ": " + ev.Detail
	}
	return text
}
