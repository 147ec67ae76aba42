package paper

import (
	"context"
	"testing"
	"time"

	"github.com/grandb369/tradebot/pkg/exchanges/common"
	stream "github.com/grandb369/tradebot/pkg/market/binance"
)

func newTestExchange(t *testing.T) (*Exchange, <-chan stream.UserMessage) {
	t.Helper()
	x := New(Config{Symbol: "BTCUSDT"}, nil)
	ch, stop, err := x.SubscribeUserData(context.Background(), "lk")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(stop)
	x.SetBook(99, 101)
	return x, ch
}

func nextOrderUpdate(t *testing.T, ch <-chan stream.UserMessage) *stream.OrderTradeUpdate {
	t.Helper()
	for {
		select {
		case msg := <-ch:
			if msg.Event != nil && msg.Event.Order != nil {
				return msg.Event.Order
			}
		case <-time.After(time.Second):
			t.Fatalf("no order update")
			return nil
		}
	}
}

func TestPostOnlyCrossingExpires(t *testing.T) {
	x, ch := newTestExchange(t)
	res, err := x.SubmitOrder(context.Background(), common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeLimit, Qty: 1, Price: 102, TimeInForce: common.TIFGTX})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if u := nextOrderUpdate(t, ch); u.OrderID != res.ExchangeOrderID || u.Status != "EXPIRED" {
		t.Fatalf("update = %+v", u)
	}
	if open, _ := x.GetOpenOrders(context.Background(), "BTCUSDT"); len(open) != 0 {
		t.Fatalf("expired order rests: %+v", open)
	}
}

func TestRestingLimitFillsOnBookMove(t *testing.T) {
	x, ch := newTestExchange(t)
	res, _ := x.SubmitOrder(context.Background(), common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeLimit, Qty: 2, Price: 98, TimeInForce: common.TIFGTX})
	x.SetBook(97, 98)

	u := nextOrderUpdate(t, ch)
	if u.OrderID != res.ExchangeOrderID || u.Status != "FILLED" || u.LastPrice != 98 || u.CumQty != 2 {
		t.Fatalf("update = %+v", u)
	}
	pos, _ := x.GetPositions(context.Background(), "BTCUSDT")
	if pos[0].Amount != 2 || pos[0].EntryPrice != 98 {
		t.Fatalf("position = %+v", pos[0])
	}
}

func TestStopAndReduceOnly(t *testing.T) {
	x, ch := newTestExchange(t)
	ctx := context.Background()
	x.SubmitOrder(ctx, common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 1})
	nextOrderUpdate(t, ch)

	sl, _ := x.SubmitOrder(ctx, common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideSell, Type: common.OrderTypeStopMarket, Qty: 1, StopPrice: 90, ReduceOnly: true})
	tp, _ := x.SubmitOrder(ctx, common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideSell, Type: common.OrderTypeLimit, Qty: 1, Price: 110, TimeInForce: common.TIFGTC, ReduceOnly: true})

	x.SetBook(89, 90)
	if u := nextOrderUpdate(t, ch); u.OrderID != sl.ExchangeOrderID || u.Status != "FILLED" {
		t.Fatalf("stop update = %+v", u)
	}
	x.SetBook(110, 111)
	if u := nextOrderUpdate(t, ch); u.OrderID != tp.ExchangeOrderID || u.Status != "EXPIRED" {
		t.Fatalf("reduce-only on flat position should expire, got %+v", u)
	}
	if st := x.Stats(); st.Fills != 2 || st.RealizedPnL >= 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestCancelUnknownIsOrderNotFound(t *testing.T) {
	x, _ := newTestExchange(t)
	if err := x.CancelOrder(context.Background(), "BTCUSDT", "nope"); !common.IsOrderNotFound(err) {
		t.Fatalf("expected order-not-found, got %v", err)
	}
}
