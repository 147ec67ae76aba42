package quoting

import (
	"github.com/grandb369/tradebot/internal/market"
	"github.com/grandb369/tradebot/pkg/exchanges/common"
)

// Quote is one round of regular orders. A zero price skips that side.
type Quote struct {
	BidPrice float64
	AskPrice float64
	Qty      float64
}

// Strategy prices a quote from the current book and position. It returns
// false when it has nothing to quote.
type Strategy interface {
	Name() string
	Quote(snap market.Snapshot, pos common.Position) (Quote, bool)
}

// SpreadStrategy quotes a fixed fraction outside the best bid and ask and
// stops adding to a position once it reaches MaxPosition.
type SpreadStrategy struct {
	SpreadPct   float64
	Qty         float64 // zero uses the snapshot's quote amount
	MaxPosition float64 // zero disables the cap
}

func (s *SpreadStrategy) Name() string { return "spread" }

func (s *SpreadStrategy) Quote(snap market.Snapshot, pos common.Position) (Quote, bool) {
	if !snap.Ready() {
		return Quote{}, false
	}
	qty := s.Qty
	if qty <= 0 {
		qty = snap.QuoteAmount
	}
	if qty <= 0 {
		return Quote{}, false
	}

	q := Quote{
		BidPrice: snap.Bid * (1 - s.SpreadPct),
		AskPrice: snap.Ask * (1 + s.SpreadPct),
		Qty:      qty,
	}
	if s.MaxPosition > 0 {
		if pos.Amount >= s.MaxPosition {
			q.BidPrice = 0
		}
		if pos.Amount <= -s.MaxPosition {
			q.AskPrice = 0
		}
	}
	if q.BidPrice == 0 && q.AskPrice == 0 {
		return Quote{}, false
	}
	return q, true
}
