package common

import (
	"context"
	"errors"
)

// ErrOrderNotFound reports that the venue has no live order with the given ID,
// because it already filled, was canceled, or never existed.
var ErrOrderNotFound = errors.New("order not found on exchange")

// IsOrderNotFound reports whether err means the order is already gone.
func IsOrderNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}

// Gateway abstracts order entry on a trading venue.
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
}

// Session manages the user-data stream listen key.
type Session interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
}
