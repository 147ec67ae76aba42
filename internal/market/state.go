// Package market tracks the top of book for the traded symbol.
package market

import (
	"math"
	"sync/atomic"
	"time"
)

// Snapshot is a copy of the market state. Fields are read independently,
// so a snapshot taken mid-update may mix old and new values.
type Snapshot struct {
	Bid            float64   `json:"bid"`
	Ask            float64   `json:"ask"`
	PricePrecision int32     `json:"price_precision"`
	QtyPrecision   int32     `json:"qty_precision"`
	QuoteAmount    float64   `json:"quote_amount"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Ready reports whether both sides of the book have been seen.
func (s Snapshot) Ready() bool {
	return s.Bid > 0 && s.Ask > 0
}

// Mid returns the midpoint of bid and ask.
func (s Snapshot) Mid() float64 {
	return (s.Bid + s.Ask) / 2
}

// State holds last-write-wins market fields.
type State struct {
	bid            atomic.Uint64
	ask            atomic.Uint64
	pricePrecision atomic.Int32
	qtyPrecision   atomic.Int32
	quoteAmount    atomic.Uint64
	updatedAt      atomic.Int64
}

// NewState returns a state with the given precisions and quote amount.
func NewState(pricePrecision, qtyPrecision int32, quoteAmount float64) *State {
	s := &State{}
	s.pricePrecision.Store(pricePrecision)
	s.qtyPrecision.Store(qtyPrecision)
	s.quoteAmount.Store(math.Float64bits(quoteAmount))
	return s
}

// SetBidAsk stores the best bid and ask.
func (s *State) SetBidAsk(bid, ask float64) {
	s.bid.Store(math.Float64bits(bid))
	s.ask.Store(math.Float64bits(ask))
	s.updatedAt.Store(time.Now().UnixNano())
}

func (s *State) SetQuoteAmount(v float64) {
	s.quoteAmount.Store(math.Float64bits(v))
}

func (s *State) PricePrecision() int32 {
	return s.pricePrecision.Load()
}

func (s *State) QtyPrecision() int32 {
	return s.qtyPrecision.Load()
}

// Snapshot copies every field.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Bid:            math.Float64frombits(s.bid.Load()),
		Ask:            math.Float64frombits(s.ask.Load()),
		PricePrecision: s.pricePrecision.Load(),
		QtyPrecision:   s.qtyPrecision.Load(),
		QuoteAmount:    math.Float64frombits(s.quoteAmount.Load()),
	}
	if ns := s.updatedAt.Load(); ns != 0 {
		snap.UpdatedAt = time.Unix(0, ns)
	}
	return snap
}
