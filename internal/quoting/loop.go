// Package quoting places the regular orders of the market maker on a fixed
// poll tick and cleans up on shutdown.
package quoting

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/grandb369/tradebot/internal/market"
	"github.com/grandb369/tradebot/internal/monitor"
	"github.com/grandb369/tradebot/internal/order"
	"github.com/grandb369/tradebot/internal/shutdown"
	"github.com/grandb369/tradebot/pkg/config"
	"github.com/grandb369/tradebot/pkg/exchanges/common"
	"github.com/grandb369/tradebot/pkg/logging"
)

// Engine is the part of the order engine the loop drives.
type Engine interface {
	PlaceRegular(ctx context.Context, side common.Side, qty, price float64) (order.Order, error)
	CancelAllUnfilledRegular(ctx context.Context) error
	CloseOutstanding(ctx context.Context) error
	Flatten(ctx context.Context) error
}

// MarketView reads the market snapshot.
type MarketView interface {
	Snapshot() market.Snapshot
}

// OrderView reads tracked order counts and the position.
type OrderView interface {
	RegularCount() int
	Position() common.Position
}

// Loop re-quotes on a poll tick according to Policy.
type Loop struct {
	Engine   Engine
	Market   MarketView
	Orders   OrderView
	Strategy Strategy
	Shutdown *shutdown.Coordinator
	Metrics  *monitor.Metrics
	Logger   *zap.SugaredLogger

	PollInterval      time.Duration
	RequoteInterval   time.Duration
	Policy            string // config.RequoteInterval, RequoteBelowCap or RequoteEither
	MaxRegular        int
	FlattenOnShutdown bool
	ShutdownTimeout   time.Duration

	now func() time.Time
}

// Run quotes until the shutdown flag is raised, then cancels open orders and
// optionally flattens. A cancelled ctx raises the flag.
func (l *Loop) Run(ctx context.Context) error {
	logger := logging.OrNop(l.Logger)
	now := l.now
	if now == nil {
		now = time.Now
	}
	poll := l.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var lastQuote time.Time
	logger.Infow("quoting_started", "strategy", l.Strategy.Name(), "policy", l.policy(), "poll", poll)
	for {
		if l.Shutdown.Active() {
			return l.cleanup()
		}
		t := now()
		if l.shouldRequote(t, lastQuote) && l.requote(ctx) {
			lastQuote = t
		}
		select {
		case <-ctx.Done():
			l.Shutdown.Trigger("context_canceled")
		case <-l.Shutdown.Done():
		case <-ticker.C:
		}
	}
}

func (l *Loop) policy() string {
	if l.Policy == "" {
		return config.RequoteInterval
	}
	return l.Policy
}

func (l *Loop) shouldRequote(now, last time.Time) bool {
	elapsed := last.IsZero() || now.Sub(last) >= l.RequoteInterval
	belowCap := l.Orders.RegularCount() < l.MaxRegular
	switch l.policy() {
	case config.RequoteBelowCap:
		return belowCap
	case config.RequoteEither:
		return elapsed || belowCap
	default:
		return elapsed
	}
}

// requote replaces the regular orders. It reports whether a quote round was
// attempted.
func (l *Loop) requote(ctx context.Context) bool {
	logger := logging.OrNop(l.Logger)
	snap := l.Market.Snapshot()
	if !snap.Ready() {
		logger.Debugw("quote_skipped_no_book")
		return false
	}
	l.Metrics.IncQuoteCycles()

	if err := l.Engine.CancelAllUnfilledRegular(ctx); err != nil {
		logger.Warnw("requote_cancel_failed", "error", err)
	}
	q, ok := l.Strategy.Quote(snap, l.Orders.Position())
	if !ok {
		return true
	}
	if q.BidPrice > 0 {
		l.place(ctx, common.SideBuy, q.Qty, q.BidPrice)
	}
	if q.AskPrice > 0 {
		l.place(ctx, common.SideSell, q.Qty, q.AskPrice)
	}
	return true
}

func (l *Loop) place(ctx context.Context, side common.Side, qty, price float64) {
	if _, err := l.Engine.PlaceRegular(ctx, side, qty, price); err != nil {
		logging.OrNop(l.Logger).Warnw("quote_place_failed", "side", side, "qty", qty, "price", price, "error", err)
	}
}

// cleanup runs on a fresh context so it still works after the root context
// is cancelled.
func (l *Loop) cleanup() error {
	logger := logging.OrNop(l.Logger)
	timeout := l.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	reason, _ := l.Shutdown.Reason()
	logger.Infow("quoting_cleanup", "reason", reason, "flatten", l.FlattenOnShutdown)

	var errs []error
	if err := l.Engine.CancelAllUnfilledRegular(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := l.Engine.CloseOutstanding(ctx); err != nil {
		errs = append(errs, err)
	}
	if l.FlattenOnShutdown {
		if err := l.Engine.Flatten(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		logger.Errorw("quoting_cleanup_incomplete", "error", err)
	}
	return err
}
