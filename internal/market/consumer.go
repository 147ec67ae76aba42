package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/grandb369/tradebot/internal/monitor"
	"github.com/grandb369/tradebot/internal/session"
	"github.com/grandb369/tradebot/internal/shutdown"
	"github.com/grandb369/tradebot/pkg/logging"
	stream "github.com/grandb369/tradebot/pkg/market/binance"
)

var errStreamClosed = errors.New("book ticker stream closed")

// TickerSource opens book-ticker subscriptions.
type TickerSource interface {
	SubscribeBookTicker(ctx context.Context, symbol string) (<-chan stream.TickerMessage, func(), error)
}

// Consumer feeds book-ticker updates into State until shutdown.
type Consumer struct {
	Symbol     string
	Source     TickerSource
	State      *State
	Shutdown   *shutdown.Coordinator
	KeepAlive  *session.KeepAlive
	Metrics    *monitor.Metrics
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.SugaredLogger
}

// Run subscribes and consumes until the shutdown flag is raised or ctx ends.
// An error event from the exchange raises the flag; transport failures are
// retried until MaxRetries consecutive failures, which also raise it.
func (c *Consumer) Run(ctx context.Context) error {
	logger := logging.OrNop(c.Logger)
	if c.KeepAlive != nil {
		go c.KeepAlive.Run(ctx, c.Shutdown.Done())
	}

	budget := session.RetryBudget{Max: c.MaxRetries}
	for !c.Shutdown.Active() && ctx.Err() == nil {
		ch, stop, err := c.Source.SubscribeBookTicker(ctx, c.Symbol)
		if err == nil {
			logger.Infow("market_stream_subscribed", "symbol", c.Symbol)
			err = c.consume(ctx, ch, &budget)
			stop()
		}
		var se *stream.StreamError
		if errors.As(err, &se) {
			return err
		}
		if err == nil || c.Shutdown.Active() || ctx.Err() != nil {
			return nil
		}

		c.Metrics.IncStreamErrors()
		if budget.Fail() {
			c.Shutdown.Trigger("market_data_retries_exhausted")
			return fmt.Errorf("market data: %d consecutive failures: %w", budget.Failures(), err)
		}
		logger.Warnw("market_stream_retry", "symbol", c.Symbol, "attempt", budget.Failures(), "error", err)
		if !session.Sleep(ctx, c.Shutdown.Done(), c.RetryDelay) {
			return nil
		}
	}
	return nil
}

// consume drains one subscription. It returns nil on shutdown.
func (c *Consumer) consume(ctx context.Context, ch <-chan stream.TickerMessage, budget *session.RetryBudget) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Shutdown.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errStreamClosed
			}
			switch {
			case msg.Err != nil:
				c.Metrics.IncStreamErrors()
				c.Shutdown.Trigger("market_data_error: " + msg.Err.Error())
				return msg.Err
			case msg.ReadErr != nil:
				return msg.ReadErr
			case msg.Ticker != nil:
				if !strings.EqualFold(msg.Ticker.Symbol, c.Symbol) {
					continue
				}
				c.State.SetBidAsk(msg.Ticker.BidPrice, msg.Ticker.AskPrice)
				c.Metrics.IncTicks()
				budget.Reset()
			}
		}
	}
}
