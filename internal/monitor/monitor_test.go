package monitor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grandb369/tradebot/internal/events"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []string
}

func (s *recordingSink) Send(message string) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, message)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

func TestMonitorForwardsAlertTopics(t *testing.T) {
	bus := events.NewBus()
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	wg := (&Monitor{Bus: bus, Sink: sink}).Start(ctx)

	bus.PublishOrder(events.OrderEvent{Type: events.EventBracketPlaced, Symbol: "BTCUSDT"})
	bus.PublishOrder(events.OrderEvent{Type: events.EventBracketFailed, Symbol: "BTCUSDT", OrderID: "R1", Detail: "insufficient margin"})

	deadline := time.After(2 * time.Second)
	for len(sink.all()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("no alert delivered")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	wg.Wait()

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("alerts = %v, want one", got)
	}
	if !strings.Contains(got[0], "bracket.failed") || !strings.Contains(got[0], "order=R1") || !strings.Contains(got[0], "insufficient margin") {
		t.Fatalf("unexpected alert %q", got[0])
	}
}

func TestMetricsNilSafeAndSnapshot(t *testing.T) {
	var nilMetrics *Metrics
	nilMetrics.IncFills()
	nilMetrics.ObserveOrder(time.Millisecond)

	m := NewMetrics()
	m.IncFills()
	m.IncFills()
	m.IncBracketFailures()
	m.ObserveOrder(10 * time.Millisecond)
	m.ObserveOrder(30 * time.Millisecond)

	snap := m.Snapshot()
	if snap.Fills != 2 || snap.BracketFailures != 1 {
		t.Fatalf("unexpected counters %+v", snap)
	}
	if snap.OrderLatency.Count != 2 || snap.OrderLatency.Min != 10 || snap.OrderLatency.Max != 30 {
		t.Fatalf("unexpected latency %+v", snap.OrderLatency)
	}
}

func TestLatencyHistogramWindow(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{100, 1, 2, 3} {
		h.Record(v)
	}
	st := h.Stats()
	if st.Count != 3 || st.Max != 3 || st.Avg != 2 {
		t.Fatalf("window did not evict oldest sample: %+v", st)
	}
}
