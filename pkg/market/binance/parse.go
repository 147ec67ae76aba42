package market

import (
	"encoding/json"
	"errors"
	"strconv"
)

var errNoPayload = errors.New("message carries no recognised payload")

// Field sets below name both cases of keys like b/B because encoding/json
// falls back to case-insensitive matching.

// unwrapCombined strips the {"stream":..., "data":...} envelope of combined
// streams; raw stream payloads pass through.
func unwrapCombined(msg []byte) []byte {
	var env struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &env); err == nil && env.Stream != "" && len(env.Data) > 0 {
		return env.Data
	}
	return msg
}

// parseStreamError recognises {"e":"error","m":...} and {"error":{"code":..,"msg":..}}.
func parseStreamError(msg []byte) (*StreamError, bool) {
	var raw struct {
		Event     string          `json:"e"`
		EventTime any             `json:"E"`
		Msg       string          `json:"m"`
		Error     json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, false
	}
	if raw.Event == "error" {
		return &StreamError{Msg: raw.Msg}, true
	}
	if len(raw.Error) > 0 && string(raw.Error) != "null" {
		var inner struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if err := json.Unmarshal(raw.Error, &inner); err != nil {
			return &StreamError{Msg: string(raw.Error)}, true
		}
		return &StreamError{Code: inner.Code, Msg: inner.Msg}, true
	}
	return nil, false
}

func decodeTickerMessage(msg []byte) (TickerMessage, error) {
	msg = unwrapCombined(msg)
	if se, ok := parseStreamError(msg); ok {
		return TickerMessage{Err: se}, nil
	}
	var raw struct {
		Symbol    string `json:"s"`
		Bid       any    `json:"b"`
		BidQty    any    `json:"B"`
		Ask       any    `json:"a"`
		AskQty    any    `json:"A"`
		Time      any    `json:"T"`
		EventTime any    `json:"E"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return TickerMessage{}, err
	}
	if raw.Symbol == "" {
		// subscription acks such as {"result":null,"id":1}
		return TickerMessage{}, errNoPayload
	}
	return TickerMessage{Ticker: &BookTicker{
		Symbol:   raw.Symbol,
		BidPrice: toFloat(raw.Bid),
		AskPrice: toFloat(raw.Ask),
		Time:     toInt64(raw.Time),
	}}, nil
}

func decodeUserMessage(msg []byte) (UserMessage, error) {
	msg = unwrapCombined(msg)
	if se, ok := parseStreamError(msg); ok {
		return UserMessage{Err: se}, nil
	}

	var head struct {
		Event string `json:"e"`
		Time  int64  `json:"E"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		return UserMessage{}, err
	}
	if head.Event == "" {
		return UserMessage{}, errNoPayload
	}
	ev := &UserEvent{Type: head.Event, Time: head.Time}

	switch head.Event {
	case EventOrderTradeUpdate:
		var wrap struct {
			Data struct {
				Symbol        string `json:"s"`
				ClientOrderID string `json:"c"`
				Side          string `json:"S"`
				OrderType     string `json:"o"`
				ExecutionType string `json:"x"`
				Status        string `json:"X"`
				OrderID       int64  `json:"i"`
				AvgPrice      string `json:"ap"`
				Activation    string `json:"AP"`
				LastQty       string `json:"l"`
				LastPrice     string `json:"L"`
				CumQty        string `json:"z"`
				ReduceOnly    bool   `json:"R"`
			} `json:"o"`
		}
		if err := json.Unmarshal(msg, &wrap); err != nil {
			return UserMessage{}, err
		}
		d := wrap.Data
		ev.Order = &OrderTradeUpdate{
			Symbol:        d.Symbol,
			OrderID:       strconv.FormatInt(d.OrderID, 10),
			ClientOrderID: d.ClientOrderID,
			Side:          d.Side,
			OrderType:     d.OrderType,
			ExecutionType: d.ExecutionType,
			Status:        d.Status,
			LastQty:       toFloat(d.LastQty),
			LastPrice:     toFloat(d.LastPrice),
			AvgPrice:      toFloat(d.AvgPrice),
			CumQty:        toFloat(d.CumQty),
			ReduceOnly:    d.ReduceOnly,
		}
	case EventAccountUpdate:
		var wrap struct {
			Data struct {
				Reason    string `json:"m"`
				Positions []struct {
					Symbol       string `json:"s"`
					Amount       string `json:"pa"`
					EntryPrice   string `json:"ep"`
					Unrealized   string `json:"up"`
					PositionSide string `json:"ps"`
				} `json:"P"`
			} `json:"a"`
		}
		if err := json.Unmarshal(msg, &wrap); err != nil {
			return UserMessage{}, err
		}
		acc := &AccountUpdate{Reason: wrap.Data.Reason}
		for _, p := range wrap.Data.Positions {
			acc.Positions = append(acc.Positions, PositionUpdate{
				Symbol:        p.Symbol,
				Amount:        toFloat(p.Amount),
				EntryPrice:    toFloat(p.EntryPrice),
				UnrealizedPnL: toFloat(p.Unrealized),
				PositionSide:  p.PositionSide,
			})
		}
		ev.Account = acc
	}
	return UserMessage{Event: ev}, nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	case float64:
		return t
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case json.Number:
		i, _ := t.Int64()
		return i
	default:
		return 0
	}
}
