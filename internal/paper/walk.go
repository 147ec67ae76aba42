package paper

import (
	"context"
	"math/rand"
	"time"
)

// Walk drives a paper exchange's book with a random walk for local runs.
type Walk struct {
	Exchange   *Exchange
	StartPrice float64
	Step       float64 // max move per tick
	SpreadPct  float64 // ask minus bid, as a fraction of mid
	Interval   time.Duration
}

// Run moves the book every Interval until ctx is done.
func (w *Walk) Run(ctx context.Context) {
	price := w.StartPrice
	if price == 0 {
		price = 100.0
	}
	step := w.Step
	if step == 0 {
		step = 0.5
	}
	spread := w.SpreadPct
	if spread == 0 {
		spread = 0.0002
	}
	interval := w.Interval
	if interval == 0 {
		interval = time.Second
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	half := price * spread / 2
	w.Exchange.SetBook(price-half, price+half)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			price += (rng.Float64()*2 - 1) * step
			if price <= step {
				price = step * 2
			}
			half = price * spread / 2
			w.Exchange.SetBook(price-half, price+half)
		}
	}
}
