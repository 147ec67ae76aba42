package common

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes the futures order types the bot submits.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
	TIFGTX TimeInForce = "GTX" // Post Only / Maker Only
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// OrderRequest captures an order intent to be sent to an exchange.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         float64
	Price       float64 // required for LIMIT
	StopPrice   float64 // required for STOP_MARKET/TAKE_PROFIT_MARKET
	TimeInForce TimeInForce
	ClientID    string // optional client order id
	ReduceOnly  bool
	WorkingType string // MARK_PRICE or CONTRACT_PRICE
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	ExchangeOrderID string
	Status          OrderStatus
	ClientID        string
}

// OpenOrder is a resting order as reported by the exchange.
type OpenOrder struct {
	ExchangeOrderID string
	ClientID        string
	Symbol          string
	Side            Side
	Type            OrderType
	Price           float64
	StopPrice       float64
	Qty             float64
	ReduceOnly      bool
}

// Position is the one-way position for a symbol.
type Position struct {
	Symbol        string
	Amount        float64 // signed: positive long, negative short
	EntryPrice    float64
	UnrealizedPnL float64
	UpdatedAt     time.Time
}

// SymbolFilters carries the price and quantity increments of a symbol.
type SymbolFilters struct {
	Symbol   string
	TickSize string
	StepSize string
}
