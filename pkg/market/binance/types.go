package market

import "fmt"

// BookTicker holds best bid/ask.
type BookTicker struct {
	Symbol   string
	BidPrice float64
	AskPrice float64
	Time     int64
}

// StreamError is an error event pushed by the exchange over the socket.
type StreamError struct {
	Code int
	Msg  string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error event: code=%d msg=%s", e.Code, e.Msg)
}

// TickerMessage is one item on a book-ticker subscription. Exactly one
// field is set. ReadErr is always the last message before the channel closes.
type TickerMessage struct {
	Ticker  *BookTicker
	Err     *StreamError
	ReadErr error
}

// UserMessage is one item on a user-data subscription. Exactly one field is
// set. ReadErr is always the last message before the channel closes.
type UserMessage struct {
	Event   *UserEvent
	Err     *StreamError
	ReadErr error
}

// User-data event types.
const (
	EventOrderTradeUpdate = "ORDER_TRADE_UPDATE"
	EventAccountUpdate    = "ACCOUNT_UPDATE"
	EventListenKeyExpired = "listenKeyExpired"
)

// UserEvent is a decoded user-data stream event.
type UserEvent struct {
	Type    string
	Time    int64
	Order   *OrderTradeUpdate
	Account *AccountUpdate
}

// OrderTradeUpdate is the "o" payload of ORDER_TRADE_UPDATE.
type OrderTradeUpdate struct {
	Symbol        string
	OrderID       string
	ClientOrderID string
	Side          string
	OrderType     string
	ExecutionType string // x
	Status        string // X
	LastQty       float64
	LastPrice     float64
	AvgPrice      float64
	CumQty        float64
	ReduceOnly    bool
}

// AccountUpdate is the "a" payload of ACCOUNT_UPDATE.
type AccountUpdate struct {
	Reason    string
	Positions []PositionUpdate
}

// PositionUpdate is one entry of ACCOUNT_UPDATE a.P.
type PositionUpdate struct {
	Symbol        string
	Amount        float64
	EntryPrice    float64
	UnrealizedPnL float64
	PositionSide  string
}
