package order

import (
	"github.com/shopspring/decimal"

	"github.com/grandb369/tradebot/pkg/exchanges/common"
)

// BracketPrices returns the exit side and the take-profit and stop-loss
// prices for a fill, offset from price by tpPct and slPct and rounded
// half-up to precision decimals.
func BracketPrices(fillSide common.Side, price, tpPct, slPct float64, precision int32) (exitSide common.Side, takeProfit, stopLoss float64) {
	p := decimal.NewFromFloat(price)
	one := decimal.NewFromInt(1)
	tp := decimal.NewFromFloat(tpPct)
	sl := decimal.NewFromFloat(slPct)

	var tpPrice, slPrice decimal.Decimal
	if fillSide == common.SideBuy {
		tpPrice = p.Mul(one.Add(tp))
		slPrice = p.Mul(one.Sub(sl))
	} else {
		tpPrice = p.Mul(one.Sub(tp))
		slPrice = p.Mul(one.Add(sl))
	}
	takeProfit, _ = tpPrice.Round(precision).Float64()
	stopLoss, _ = slPrice.Round(precision).Float64()
	return fillSide.Opposite(), takeProfit, stopLoss
}

// RoundPrice rounds half-up to precision decimals.
func RoundPrice(v float64, precision int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(precision).Float64()
	return f
}

// RoundQty truncates to precision decimals so a quantity never exceeds v.
func RoundQty(v float64, precision int32) float64 {
	f, _ := decimal.NewFromFloat(v).Truncate(precision).Float64()
	return f
}
