package reconciliation

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/grandb369/tradebot/internal/events"
	"github.com/grandb369/tradebot/internal/shutdown"
	"github.com/grandb369/tradebot/pkg/exchanges/common"
	"github.com/grandb369/tradebot/pkg/logging"
)

// positionEpsilon is the smallest amount difference treated as drift.
const positionEpsilon = 1e-9

// Exchange lists what the venue currently holds for the symbol.
type Exchange interface {
	GetOpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error)
	GetPositions(ctx context.Context, symbol string) ([]common.Position, error)
}

// Engine retries orphan cancels and drops stale regular orders.
type Engine interface {
	Reconcile(ctx context.Context, openIDs []string) error
}

// PositionStore holds the locally tracked position.
type PositionStore interface {
	Position() common.Position
	SetPosition(p common.Position)
}

// Report summarizes one reconciliation pass.
type Report struct {
	Timestamp      time.Time
	OpenOrders     int
	LocalAmount    float64
	ExchangeAmount float64
	Synced         bool
}

// Service periodically brings local order and position state in line with
// the exchange.
type Service struct {
	Symbol   string
	Exchange Exchange
	Engine   Engine
	Store    PositionStore
	Shutdown *shutdown.Coordinator
	Bus      *events.Bus
	Interval time.Duration
	Logger   *zap.SugaredLogger
}

// Run reconciles every Interval until ctx is done or the shutdown flag is
// raised.
func (s *Service) Run(ctx context.Context) {
	logger := logging.OrNop(s.Logger)
	interval := s.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Infow("reconciliation_started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Shutdown.Done():
			return
		case <-ticker.C:
			report, err := s.Reconcile(ctx)
			if err != nil {
				logger.Warnw("reconciliation_failed", "error", err)
				continue
			}
			if report.Synced {
				logger.Warnw("position_synced",
					"local", report.LocalAmount,
					"exchange", report.ExchangeAmount,
					"open_orders", report.OpenOrders)
			} else {
				logger.Debugw("reconciliation_ok", "open_orders", report.OpenOrders)
			}
		}
	}
}

// Reconcile runs a single pass. Order reconciliation runs even when the
// position query fails.
func (s *Service) Reconcile(ctx context.Context) (Report, error) {
	report := Report{Timestamp: time.Now()}
	if s.Shutdown.Active() {
		return report, nil
	}

	open, err := s.Exchange.GetOpenOrders(ctx, s.Symbol)
	if err != nil {
		return report, fmt.Errorf("list open orders: %w", err)
	}
	ids := make([]string, 0, len(open))
	for _, o := range open {
		ids = append(ids, o.ExchangeOrderID)
	}
	report.OpenOrders = len(ids)
	engineErr := s.Engine.Reconcile(ctx, ids)

	positions, err := s.Exchange.GetPositions(ctx, s.Symbol)
	if err != nil {
		return report, fmt.Errorf("list positions: %w", err)
	}
	remote := common.Position{Symbol: s.Symbol}
	for _, p := range positions {
		if p.Symbol == s.Symbol {
			remote = p
			break
		}
	}
	local := s.Store.Position()
	report.LocalAmount = local.Amount
	report.ExchangeAmount = remote.Amount
	if math.Abs(local.Amount-remote.Amount) > positionEpsilon {
		s.Store.SetPosition(remote)
		report.Synced = true
		s.Bus.PublishOrder(events.OrderEvent{
			Type:   events.EventPositionUpdate,
			Symbol: s.Symbol,
			Qty:    remote.Amount,
			Price:  remote.EntryPrice,
			Detail: "reconciliation",
		})
	}
	return report, engineErr
}
