package futures_usdt

import (
	"fmt"

	"github.com/grandb369/tradebot/pkg/exchanges/common"
)

// APIError is a non-2xx response from the futures REST API.
type APIError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance usdt futures %s %s status %d: code=%d msg=%s", e.Method, e.Endpoint, e.StatusCode, e.Code, e.Msg)
}

// Is maps "unknown order" rejections onto common.ErrOrderNotFound.
func (e *APIError) Is(target error) bool {
	if target != common.ErrOrderNotFound {
		return false
	}
	// -2011 CANCEL_REJECTED (unknown order sent), -2013 NO_SUCH_ORDER
	return e.Code == -2011 || e.Code == -2013
}

type orderResp struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
}

type openOrder struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	StopPrice     string `json:"stopPrice"`
	OrigQty       string `json:"origQty"`
	ExecQty       string `json:"executedQty"`
	Status        string `json:"status"`
	PositionSide  string `json:"positionSide"`
	ReduceOnly    bool   `json:"reduceOnly"`
}

type positionRisk struct {
	Symbol           string `json:"symbol"`
	PositionSide     string `json:"positionSide"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	UpdateTime       int64  `json:"updateTime"`
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
			StepSize   string `json:"stepSize"`
		} `json:"filters"`
	} `json:"symbols"`
}
