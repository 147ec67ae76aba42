package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/grandb369/tradebot/internal/events"
	"github.com/grandb369/tradebot/internal/monitor"
	"github.com/grandb369/tradebot/internal/session"
	"github.com/grandb369/tradebot/internal/shutdown"
	"github.com/grandb369/tradebot/internal/state"
	"github.com/grandb369/tradebot/pkg/exchanges/common"
	"github.com/grandb369/tradebot/pkg/logging"
	stream "github.com/grandb369/tradebot/pkg/market/binance"
)

var (
	errListenKeyExpired = errors.New("listen key expired")
	errUserStreamClosed = errors.New("user data stream closed")
)

// Session creates and renews user-data listen keys.
type Session interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
}

// UserSource opens user-data subscriptions.
type UserSource interface {
	SubscribeUserData(ctx context.Context, listenKey string) (<-chan stream.UserMessage, func(), error)
}

// FillHandler receives order outcomes from the user-data stream.
type FillHandler interface {
	OnFill(ctx context.Context, f Fill) error
	OnOrderClosed(orderID, clientID string)
}

// UserDataConsumer owns the listen key and turns user-data events into
// engine calls and position snapshots.
type UserDataConsumer struct {
	Symbol     string
	Session    Session
	Source     UserSource
	Handler    FillHandler
	Store      *state.ParamStore
	Token      *session.Token
	Shutdown   *shutdown.Coordinator
	KeepAlive  *session.KeepAlive
	Bus        *events.Bus
	Metrics    *monitor.Metrics
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.SugaredLogger
}

// Run creates a listen key, subscribes and consumes until shutdown. An
// expired key or a dropped connection leads to a fresh key and subscription;
// an error event or more than MaxRetries consecutive failures raises the
// shutdown flag.
func (c *UserDataConsumer) Run(ctx context.Context) error {
	logger := logging.OrNop(c.Logger)
	if c.KeepAlive != nil {
		go c.KeepAlive.Run(ctx, c.Shutdown.Done())
	}

	budget := session.RetryBudget{Max: c.MaxRetries}
	for !c.Shutdown.Active() && ctx.Err() == nil {
		err := c.subscribeOnce(ctx, &budget)
		var se *stream.StreamError
		if errors.As(err, &se) {
			return err
		}
		if err == nil || c.Shutdown.Active() || ctx.Err() != nil {
			return nil
		}

		c.Metrics.IncStreamErrors()
		if budget.Fail() {
			c.Shutdown.Trigger("user_data_retries_exhausted")
			return fmt.Errorf("user data: %d consecutive failures: %w", budget.Failures(), err)
		}
		if errors.Is(err, errListenKeyExpired) {
			logger.Warnw("listen_key_expired", "attempt", budget.Failures())
			continue
		}
		logger.Warnw("user_stream_retry", "attempt", budget.Failures(), "error", err)
		if !session.Sleep(ctx, c.Shutdown.Done(), c.RetryDelay) {
			return nil
		}
	}
	return nil
}

func (c *UserDataConsumer) subscribeOnce(ctx context.Context, budget *session.RetryBudget) error {
	key, err := c.Session.CreateListenKey(ctx)
	if err != nil {
		return fmt.Errorf("create listen key: %w", err)
	}
	c.Token.Set(key)
	ch, stop, err := c.Source.SubscribeUserData(ctx, key)
	if err != nil {
		return err
	}
	defer stop()
	logging.OrNop(c.Logger).Infow("user_stream_subscribed", "symbol", c.Symbol)
	return c.consume(ctx, ch, budget)
}

func (c *UserDataConsumer) consume(ctx context.Context, ch <-chan stream.UserMessage, budget *session.RetryBudget) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Shutdown.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errUserStreamClosed
			}
			switch {
			case msg.Err != nil:
				c.Metrics.IncStreamErrors()
				c.Shutdown.Trigger("user_data_error: " + msg.Err.Error())
				return msg.Err
			case msg.ReadErr != nil:
				return msg.ReadErr
			case msg.Event != nil:
				budget.Reset()
				if err := c.handle(ctx, msg.Event); err != nil {
					return err
				}
			}
		}
	}
}

func (c *UserDataConsumer) handle(ctx context.Context, ev *stream.UserEvent) error {
	switch ev.Type {
	case stream.EventListenKeyExpired:
		return errListenKeyExpired
	case stream.EventOrderTradeUpdate:
		if ev.Order != nil && strings.EqualFold(ev.Order.Symbol, c.Symbol) {
			c.handleOrder(ctx, ev.Order, ev.Time)
		}
	case stream.EventAccountUpdate:
		if ev.Account != nil {
			c.handleAccount(ev.Account)
		}
	}
	return nil
}

func (c *UserDataConsumer) handleOrder(ctx context.Context, o *stream.OrderTradeUpdate, eventTime int64) {
	switch o.Status {
	case string(common.StatusFilled):
		f := Fill{
			OrderID:  o.OrderID,
			ClientID: o.ClientOrderID,
			Symbol:   c.Symbol,
			Side:     common.Side(o.Side),
			Qty:      o.CumQty,
			Price:    o.LastPrice,
			Time:     time.UnixMilli(eventTime),
		}
		if f.Qty == 0 {
			f.Qty = o.LastQty
		}
		if f.Price == 0 {
			f.Price = o.AvgPrice
		}
		if err := c.Handler.OnFill(ctx, f); err != nil && !errors.Is(err, ErrUnknownFill) {
			logging.OrNop(c.Logger).Errorw("fill_dispatch_failed", "order_id", f.OrderID, "error", err)
		}
	case "CANCELED", "EXPIRED", "EXPIRED_IN_MATCH", "REJECTED":
		c.Handler.OnOrderClosed(o.OrderID, o.ClientOrderID)
	}
}

func (c *UserDataConsumer) handleAccount(a *stream.AccountUpdate) {
	for _, p := range a.Positions {
		if !strings.EqualFold(p.Symbol, c.Symbol) {
			continue
		}
		if p.PositionSide != "" && p.PositionSide != "BOTH" {
			continue
		}
		c.Store.SetPosition(common.Position{
			Symbol:        c.Symbol,
			Amount:        p.Amount,
			EntryPrice:    p.EntryPrice,
			UnrealizedPnL: p.UnrealizedPnL,
		})
		c.Bus.PublishOrder(events.OrderEvent{Type: events.EventPositionUpdate, Symbol: c.Symbol, Qty: p.Amount, Price: p.EntryPrice, Detail: a.Reason})
	}
}
