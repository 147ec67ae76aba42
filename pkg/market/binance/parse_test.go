package market

import "testing"

func TestDecodeTickerCombined(t *testing.T) {
	msg := []byte(`{"stream":"btcusdt@bookTicker","data":{"e":"bookTicker","u":1,"E":1700000000001,"T":1700000000000,"s":"BTCUSDT","b":"100.10","B":"7.5","a":"100.20","A":"3.2"}}`)
	got, err := decodeTickerMessage(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Ticker == nil {
		t.Fatalf("expected ticker, got %+v", got)
	}
	if got.Ticker.BidPrice != 100.10 || got.Ticker.AskPrice != 100.20 {
		t.Fatalf("bid/ask = %v/%v, quantities leaked into prices?", got.Ticker.BidPrice, got.Ticker.AskPrice)
	}
	if got.Ticker.Symbol != "BTCUSDT" || got.Ticker.Time != 1700000000000 {
		t.Fatalf("unexpected ticker %+v", got.Ticker)
	}
}

func TestDecodeTickerErrorEvents(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		code int
		text string
	}{
		{"e error", `{"e":"error","m":"Invalid request"}`, 0, "Invalid request"},
		{"error object", `{"error":{"code":2,"msg":"Invalid request: unknown variant"},"id":1}`, 2, "Invalid request: unknown variant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeTickerMessage([]byte(tt.msg))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Err == nil || got.Err.Code != tt.code || got.Err.Msg != tt.text {
				t.Fatalf("unexpected %+v", got.Err)
			}
		})
	}
}

func TestDecodeTickerSkipsAcks(t *testing.T) {
	if _, err := decodeTickerMessage([]byte(`{"result":null,"id":1}`)); err != errNoPayload {
		t.Fatalf("expected errNoPayload, got %v", err)
	}
}

func TestDecodeOrderTradeUpdate(t *testing.T) {
	msg := []byte(`{"e":"ORDER_TRADE_UPDATE","E":1568879465651,"T":1568879465650,"o":{
		"s":"BTCUSDT","c":"cli-1","S":"BUY","o":"LIMIT","f":"GTC","q":"0.001","p":"100","ap":"100.5",
		"sp":"0","x":"TRADE","X":"FILLED","i":8886774,"l":"0.001","z":"0.001","L":"100.5","T":1568879465650,
		"t":1,"m":true,"R":false,"AP":"0","ps":"BOTH"}}`)
	got, err := decodeUserMessage(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	o := got.Event.Order
	if got.Event.Type != EventOrderTradeUpdate || o == nil {
		t.Fatalf("unexpected event %+v", got.Event)
	}
	if o.OrderID != "8886774" || o.ClientOrderID != "cli-1" || o.Side != "BUY" || o.Status != "FILLED" {
		t.Fatalf("unexpected order %+v", o)
	}
	if o.LastPrice != 100.5 || o.LastQty != 0.001 || o.AvgPrice != 100.5 {
		t.Fatalf("unexpected fill numbers %+v", o)
	}
}

func TestDecodeAccountUpdate(t *testing.T) {
	msg := []byte(`{"e":"ACCOUNT_UPDATE","E":1564745798939,"T":1564745798938,"a":{"m":"ORDER",
		"B":[{"a":"USDT","wb":"122624.12345678","cw":"100.12345678","bc":"50.12345678"}],
		"P":[{"s":"BTCUSDT","pa":"-0.002","ep":"100","cr":"200","up":"-1.5","mt":"isolated","iw":"0","ps":"BOTH"},
		     {"s":"BTCUSDT","pa":"1","ep":"1","cr":"0","up":"0","mt":"isolated","iw":"0","ps":"LONG"}]}}`)
	got, err := decodeUserMessage(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	acc := got.Event.Account
	if acc == nil || len(acc.Positions) != 2 {
		t.Fatalf("unexpected account %+v", acc)
	}
	p := acc.Positions[0]
	if p.Amount != -0.002 || p.UnrealizedPnL != -1.5 || p.PositionSide != "BOTH" {
		t.Fatalf("unexpected position %+v", p)
	}
}

func TestDecodeUserListenKeyExpired(t *testing.T) {
	got, err := decodeUserMessage([]byte(`{"e":"listenKeyExpired","E":1576653824250,"listenKey":"x"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Event.Type != EventListenKeyExpired {
		t.Fatalf("type = %q", got.Event.Type)
	}
}
