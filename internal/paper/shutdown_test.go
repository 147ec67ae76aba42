package paper

import (
	"context"
	"testing"
	"time"

	"github.com/grandb369/tradebot/internal/market"
	"github.com/grandb369/tradebot/internal/order"
	"github.com/grandb369/tradebot/internal/quoting"
	"github.com/grandb369/tradebot/internal/session"
	"github.com/grandb369/tradebot/internal/shutdown"
	"github.com/grandb369/tradebot/internal/state"
	"github.com/grandb369/tradebot/pkg/exchanges/common"
	stream "github.com/grandb369/tradebot/pkg/market/binance"
)

// scriptedTickers hands out one subscription whose messages the test sends.
type scriptedTickers struct {
	ch chan stream.TickerMessage
}

func (s *scriptedTickers) SubscribeBookTicker(context.Context, string) (<-chan stream.TickerMessage, func(), error) {
	return s.ch, func() {}, nil
}

type quietStrategy struct{}

func (quietStrategy) Name() string { return "quiet" }
func (quietStrategy) Quote(market.Snapshot, common.Position) (quoting.Quote, bool) {
	return quoting.Quote{}, false
}

// A market-data error event and a regular fill arrive in either order; once
// both are handled and cleanup has run, the flag is up and nothing is tracked
// or left resting.
func TestMarketErrorAndFillInterleaved(t *testing.T) {
	tests := []struct {
		name       string
		errorFirst bool
	}{
		{"fill then market error", false},
		{"market error then fill", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := New(Config{Symbol: "BTCUSDT", TickSize: "0.1", StepSize: "0.001"}, nil)
			x.SetBook(100, 100.1)

			store := state.NewParamStore(3)
			mkt := market.NewState(1, 3, 0.01)
			eng := order.NewEngine(order.Config{Symbol: "BTCUSDT", TakeProfitPct: 0.1, StopLossPct: 0.1}, x, store, mkt, nil)
			coord := shutdown.NewCoordinator(nil)
			tickers := &scriptedTickers{ch: make(chan stream.TickerMessage, 1)}

			marketConsumer := &market.Consumer{
				Symbol:     "BTCUSDT",
				Source:     tickers,
				State:      mkt,
				Shutdown:   coord,
				MaxRetries: 3,
				RetryDelay: 10 * time.Millisecond,
			}
			userConsumer := &order.UserDataConsumer{
				Symbol:     "BTCUSDT",
				Session:    x,
				Source:     x,
				Handler:    eng,
				Store:      store,
				Token:      &session.Token{},
				Shutdown:   coord,
				MaxRetries: 3,
				RetryDelay: 10 * time.Millisecond,
			}
			loop := &quoting.Loop{
				Engine:          eng,
				Market:          mkt,
				Orders:          store,
				Strategy:        quietStrategy{},
				Shutdown:        coord,
				PollInterval:    10 * time.Millisecond,
				RequoteInterval: time.Hour,
				MaxRegular:      3,
				ShutdownTimeout: 2 * time.Second,
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			marketDone := make(chan error, 1)
			userDone := make(chan error, 1)
			loopDone := make(chan error, 1)
			go func() { marketDone <- marketConsumer.Run(ctx) }()
			go func() { userDone <- userConsumer.Run(ctx) }()
			waitFor(t, "user stream subscription", func() bool {
				x.mu.Lock()
				defer x.mu.Unlock()
				return len(x.userSubs) > 0
			})

			for _, q := range []struct {
				side  common.Side
				price float64
			}{
				{common.SideBuy, 99.9},
				{common.SideBuy, 99},
				{common.SideSell, 101},
			} {
				if _, err := eng.PlaceRegular(ctx, q.side, 0.01, q.price); err != nil {
					t.Fatalf("place regular %s@%v: %v", q.side, q.price, err)
				}
			}
			if got := store.RegularCount(); got != 3 {
				t.Fatalf("tracked regulars = %d, want 3", got)
			}
			go func() { loopDone <- loop.Run(ctx) }()

			marketError := func() {
				tickers.ch <- stream.TickerMessage{Err: &stream.StreamError{Code: -1003, Msg: "too many requests"}}
			}
			if tt.errorFirst {
				marketError()
				waitFor(t, "shutdown flag", coord.Active)
				x.SetBook(99.5, 99.8)
			} else {
				x.SetBook(99.5, 99.8)
				waitFor(t, "bracket", func() bool { return len(store.Brackets()) == 1 })
				marketError()
			}

			for name, ch := range map[string]chan error{"loop": loopDone, "market": marketDone, "user": userDone} {
				select {
				case <-ch:
				case <-time.After(3 * time.Second):
					t.Fatalf("%s did not stop", name)
				}
			}

			if !coord.Active() {
				t.Fatalf("shutdown flag not set")
			}
			if ids := store.RegularIDs(); len(ids) != 0 {
				t.Fatalf("regular orders after cleanup: %v", ids)
			}
			if b := store.Brackets(); len(b) != 0 {
				t.Fatalf("brackets after cleanup: %+v", b)
			}
			if o := store.Orphans(); len(o) != 0 {
				t.Fatalf("orphans after cleanup: %+v", o)
			}
			if open, _ := x.GetOpenOrders(ctx, "BTCUSDT"); len(open) != 0 {
				t.Fatalf("orders left resting: %+v", open)
			}
		})
	}
}
