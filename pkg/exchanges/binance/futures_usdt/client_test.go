package futures_usdt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/grandb369/tradebot/pkg/exchanges/common"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "key", APISecret: "secret", BaseURL: srv.URL}, nil)
}

func TestSubmitOrderSignsAndMapsFields(t *testing.T) {
	var got url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/order" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-MBX-APIKEY") != "key" {
			t.Errorf("missing api key header")
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		got = r.PostForm
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":123,"clientOrderId":"abc","status":"NEW"}`))
	})

	res, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       common.SideSell,
		Type:       common.OrderTypeStopMarket,
		Qty:        0.5,
		StopPrice:  90,
		ReduceOnly: true,
		ClientID:   "abc",
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if res.ExchangeOrderID != "123" || res.Status != common.StatusNew || res.ClientID != "abc" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got.Get("stopPrice") != "90" || got.Get("reduceOnly") != "true" || got.Get("price") != "" {
		t.Fatalf("unexpected params %v", got)
	}

	sig := got.Get("signature")
	got.Del("signature")
	if want := sign(got.Encode(), "secret"); sig != want {
		t.Fatalf("signature mismatch: got %s want %s", sig, want)
	}
}

func TestCancelUnknownOrderIsOrderNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Query().Get("orderId") != "77" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.String())
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2011,"msg":"Unknown order sent."}`))
	})

	err := c.CancelOrder(context.Background(), "BTCUSDT", "77")
	if !common.IsOrderNotFound(err) {
		t.Fatalf("expected order-not-found, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != -2011 || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected APIError -2011, got %#v", err)
	}
}

func TestOtherRejectionIsNotOrderNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(`busy`))
	})
	err := c.CancelOrder(context.Background(), "BTCUSDT", "1")
	if err == nil || common.IsOrderNotFound(err) {
		t.Fatalf("expected plain error, got %v", err)
	}
	if !strings.Contains(err.Error(), "busy") {
		t.Fatalf("raw body missing from %v", err)
	}
}

func TestGetPositionsFiltersOneWay(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","positionSide":"BOTH","positionAmt":"-0.010","entryPrice":"100.5","unRealizedProfit":"1.25"},
			{"symbol":"BTCUSDT","positionSide":"LONG","positionAmt":"3","entryPrice":"1","unRealizedProfit":"0"}
		]`))
	})
	pos, err := c.GetPositions(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(pos) != 1 || pos[0].Amount != -0.01 || pos[0].UnrealizedPnL != 1.25 {
		t.Fatalf("unexpected positions %+v", pos)
	}
}

func TestGetOpenOrdersMapsCommon(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"BTCUSDT","orderId":9,"clientOrderId":"c9","side":"BUY","type":"LIMIT","price":"99.5","stopPrice":"0","origQty":"0.01","reduceOnly":false}]`))
	})
	orders, err := c.GetOpenOrders(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetOpenOrders: %v", err)
	}
	if len(orders) != 1 || orders[0].ExchangeOrderID != "9" || orders[0].Side != common.SideBuy || orders[0].Price != 99.5 {
		t.Fatalf("unexpected orders %+v", orders)
	}
}

func TestGetSymbolFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","filters":[
			{"filterType":"PRICE_FILTER","tickSize":"0.10"},
			{"filterType":"LOT_SIZE","stepSize":"0.001"}]}]}`))
	})
	f, err := c.GetSymbolFilters(context.Background(), "btcusdt")
	if err != nil {
		t.Fatalf("GetSymbolFilters: %v", err)
	}
	if f.TickSize != "0.10" || f.StepSize != "0.001" {
		t.Fatalf("unexpected filters %+v", f)
	}
	if _, err := c.GetSymbolFilters(context.Background(), "ETHUSDT"); err == nil {
		t.Fatalf("expected error for unlisted symbol")
	}
}

func TestListenKeyLifecycle(t *testing.T) {
	var keptAlive string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.Write([]byte(`{"listenKey":"lk-1"}`))
		case http.MethodPut:
			keptAlive = r.URL.Query().Get("listenKey")
			w.Write([]byte(`{}`))
		}
	})
	key, err := c.CreateListenKey(context.Background())
	if err != nil || key != "lk-1" {
		t.Fatalf("CreateListenKey = %q, %v", key, err)
	}
	if err := c.KeepAliveListenKey(context.Background(), key); err != nil {
		t.Fatalf("KeepAliveListenKey: %v", err)
	}
	if keptAlive != "lk-1" {
		t.Fatalf("keepalive sent %q", keptAlive)
	}
}

func TestMissingCredentials(t *testing.T) {
	c := NewClient(Config{}, nil)
	if _, err := c.SubmitOrder(context.Background(), common.OrderRequest{}); !errors.Is(err, errNoCredentials) {
		t.Fatalf("expected credentials error, got %v", err)
	}
}
