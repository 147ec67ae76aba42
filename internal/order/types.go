package order

import (
	"time"

	"github.com/grandb369/tradebot/internal/state"
	"github.com/grandb369/tradebot/pkg/exchanges/common"
)

// Order is an order the engine placed.
type Order struct {
	ID        string // exchange-assigned
	ClientID  string
	Symbol    string
	Side      common.Side
	Type      common.OrderType
	Qty       float64
	Price     float64
	StopPrice float64
	Role      state.Role
	LinkedID  string // regular id for exit legs; empty for regular orders
	CreatedAt time.Time
}

// request converts o into a submit request. Exit legs are always
// reduce-only.
func (o Order) request(tif common.TimeInForce) common.OrderRequest {
	return common.OrderRequest{
		Symbol:      o.Symbol,
		Side:        o.Side,
		Type:        o.Type,
		Qty:         o.Qty,
		Price:       o.Price,
		StopPrice:   o.StopPrice,
		TimeInForce: tif,
		ClientID:    o.ClientID,
		ReduceOnly:  o.Role != state.RoleRegular,
	}
}

// Fill is a completed order execution reported by the user-data stream.
type Fill struct {
	OrderID  string
	ClientID string
	Symbol   string
	Side     common.Side
	Qty      float64
	Price    float64
	Time     time.Time
}
