package paper

import (
	"context"
	"testing"
	"time"

	"github.com/grandb369/tradebot/internal/market"
	"github.com/grandb369/tradebot/internal/order"
	"github.com/grandb369/tradebot/internal/session"
	"github.com/grandb369/tradebot/internal/shutdown"
	"github.com/grandb369/tradebot/internal/state"
	"github.com/grandb369/tradebot/pkg/exchanges/common"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// A regular order fills, gets a bracket, one exit leg fills and the sibling
// is cancelled, all through the user-data stream.
func TestBracketLifecycleAgainstPaperVenue(t *testing.T) {
	tests := []struct {
		name     string
		side     common.Side
		price    float64
		fillBook [2]float64
		exitBook [2]float64
		wantTP   float64
		wantSL   float64
	}{
		{
			name:     "long exits at take-profit",
			side:     common.SideBuy,
			price:    99.9,
			fillBook: [2]float64{99.5, 99.8},
			exitBook: [2]float64{110, 110.1},
			wantTP:   109.9,
			wantSL:   89.9,
		},
		{
			name:     "short exits at stop-loss",
			side:     common.SideSell,
			price:    100.2,
			fillBook: [2]float64{100.3, 100.4},
			exitBook: [2]float64{110.5, 110.6},
			wantTP:   90.2,
			wantSL:   110.2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := New(Config{Symbol: "BTCUSDT", TickSize: "0.1", StepSize: "0.001"}, nil)
			x.SetBook(100, 100.1)

			store := state.NewParamStore(2)
			mkt := market.NewState(1, 3, 0.01)
			eng := order.NewEngine(order.Config{Symbol: "BTCUSDT", TakeProfitPct: 0.1, StopLossPct: 0.1}, x, store, mkt, nil)
			coord := shutdown.NewCoordinator(nil)
			consumer := &order.UserDataConsumer{
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

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- consumer.Run(ctx) }()
			defer func() {
				cancel()
				select {
				case <-done:
				case <-time.After(2 * time.Second):
					t.Errorf("consumer did not stop")
				}
			}()
			waitFor(t, "user stream subscription", func() bool {
				x.mu.Lock()
				defer x.mu.Unlock()
				return len(x.userSubs) > 0
			})

			regular, err := eng.PlaceRegular(ctx, tt.side, 0.01, tt.price)
			if err != nil {
				t.Fatalf("place regular: %v", err)
			}
			x.SetBook(tt.fillBook[0], tt.fillBook[1])

			waitFor(t, "bracket", func() bool { return len(store.Brackets()) == 1 })
			b := store.Brackets()[0]
			if b.RegularID != regular.ID || store.RegularCount() != 0 {
				t.Fatalf("bracket %+v not linked to regular %s", b, regular.ID)
			}
			open, _ := x.GetOpenOrders(ctx, "BTCUSDT")
			if len(open) != 2 {
				t.Fatalf("open orders = %+v, want the two exit legs", open)
			}
			for _, o := range open {
				if !o.ReduceOnly || o.Side != tt.side.Opposite() {
					t.Fatalf("exit leg %+v is not a reduce-only %s", o, tt.side.Opposite())
				}
				switch o.ExchangeOrderID {
				case b.TakeProfitID:
					if o.Type != common.OrderTypeLimit || o.Price != tt.wantTP {
						t.Fatalf("take-profit %+v, want LIMIT at %v", o, tt.wantTP)
					}
				case b.StopLossID:
					if o.Type != common.OrderTypeStopMarket || o.StopPrice != tt.wantSL {
						t.Fatalf("stop-loss %+v, want STOP_MARKET at %v", o, tt.wantSL)
					}
				default:
					t.Fatalf("unexpected open order %+v", o)
				}
			}
			waitFor(t, "position update", func() bool { return store.Position().Amount != 0 })

			x.SetBook(tt.exitBook[0], tt.exitBook[1])

			waitFor(t, "bracket retirement", func() bool { return len(store.Brackets()) == 0 })
			waitFor(t, "sibling cancel", func() bool {
				open, _ := x.GetOpenOrders(ctx, "BTCUSDT")
				return len(open) == 0
			})
			waitFor(t, "flat position", func() bool { return store.Position().Amount == 0 })
			if got := x.Stats().Fills; got != 2 {
				t.Fatalf("fills = %d, want 2", got)
			}
			if len(store.Orphans()) != 0 || coord.Active() {
				t.Fatalf("orphans %+v, shutdown %v", store.Orphans(), coord.Active())
			}
		})
	}
}
