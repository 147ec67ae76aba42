package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grandb369/tradebot/internal/events"
	"github.com/grandb369/tradebot/internal/monitor"
	"github.com/grandb369/tradebot/internal/state"
	"github.com/grandb369/tradebot/pkg/exchanges/common"
	"github.com/grandb369/tradebot/pkg/logging"
)

var (
	ErrEngineClosed = errors.New("order engine closed")
	ErrUnknownFill  = errors.New("fill matches no tracked order")
)

// Exchange is the order-entry surface the engine drives.
type Exchange interface {
	SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	GetOpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error)
}

// Precision supplies the symbol's rounding precision at call time.
type Precision interface {
	PricePrecision() int32
	QtyPrecision() int32
}

// Config holds the engine's trading parameters.
type Config struct {
	Symbol        string
	TakeProfitPct float64
	StopLossPct   float64
	TimeInForce   common.TimeInForce // for regular orders
	StaleGrace    time.Duration      // how long a stale regular waits before it is dropped
}

// Engine owns the order lifecycle: regular placement and cancel, bracket
// placement on fill, sibling retirement on exit fill, and close-out.
type Engine struct {
	cfg   Config
	ex    Exchange
	store *state.ParamStore
	prec  Precision

	Bus     *events.Bus
	Metrics *monitor.Metrics

	logger      *zap.SugaredLogger
	closed      atomic.Bool
	newClientID func() string
}

// NewEngine wires an engine over ex and store.
func NewEngine(cfg Config, ex Exchange, store *state.ParamStore, prec Precision, logger *zap.SugaredLogger) *Engine {
	if cfg.TimeInForce == "" {
		cfg.TimeInForce = common.TIFGTX
	}
	return &Engine{
		cfg:         cfg,
		ex:          ex,
		store:       store,
		prec:        prec,
		logger:      logging.OrNop(logger),
		newClientID: uuid.NewString,
	}
}

// Symbol returns the traded symbol.
func (e *Engine) Symbol() string { return e.cfg.Symbol }

// Closed reports whether CloseOutstanding has run.
func (e *Engine) Closed() bool { return e.closed.Load() }

// PlaceRegular submits a post-only limit order and tracks it as a regular
// order. The slot is reserved before the submit so a fill that arrives ahead
// of the acknowledgement still finds it.
func (e *Engine) PlaceRegular(ctx context.Context, side common.Side, qty, price float64) (Order, error) {
	if e.closed.Load() {
		return Order{}, ErrEngineClosed
	}
	qty = RoundQty(qty, e.prec.QtyPrecision())
	price = RoundPrice(price, e.prec.PricePrecision())
	if qty <= 0 || price <= 0 {
		return Order{}, fmt.Errorf("invalid regular order qty=%v price=%v", qty, price)
	}

	clientID := e.newClientID()
	if err := e.store.ReservePending(clientID); err != nil {
		return Order{}, err
	}
	o := Order{
		ClientID:  clientID,
		Symbol:    e.cfg.Symbol,
		Side:      side,
		Type:      common.OrderTypeLimit,
		Qty:       qty,
		Price:     price,
		Role:      state.RoleRegular,
		CreatedAt: time.Now(),
	}
	res, err := e.submit(ctx, o.request(e.cfg.TimeInForce))
	if err != nil {
		e.store.ReleasePending(clientID)
		e.logger.Errorw("regular_place_failed", "side", side, "qty", qty, "price", price, "error", err)
		return Order{}, fmt.Errorf("place regular %s: %w", side, err)
	}
	o.ID = res.ExchangeOrderID
	if !e.store.ConfirmRegular(clientID, o.ID) {
		e.logger.Infow("regular_filled_before_ack", "order_id", o.ID, "client_id", clientID)
	}
	e.Metrics.IncRegularPlaced()
	e.publish(events.OrderEvent{Type: events.EventRegularPlaced, OrderID: o.ID, Role: string(o.Role), Side: string(side), Qty: qty, Price: price})
	e.logger.Infow("regular_placed", "order_id", o.ID, "side", side, "qty", qty, "price", price)
	return o, nil
}

// CancelRegular cancels one regular order. The order stays tracked when the
// cancel fails; an "unknown order" answer marks it stale for reconciliation.
func (e *Engine) CancelRegular(ctx context.Context, orderID string) error {
	err := e.cancel(ctx, orderID)
	if err == nil {
		e.store.RemoveRegular(orderID)
		e.publish(events.OrderEvent{Type: events.EventRegularCanceled, OrderID: orderID, Role: string(state.RoleRegular)})
		return nil
	}
	if common.IsOrderNotFound(err) {
		e.store.MarkStale(orderID)
		e.logger.Warnw("regular_cancel_unknown_order", "order_id", orderID)
	} else {
		e.logger.Errorw("regular_cancel_failed", "order_id", orderID, "error", err)
	}
	return fmt.Errorf("cancel regular %s: %w", orderID, err)
}

// CancelAllUnfilledRegular cancels every tracked regular order.
func (e *Engine) CancelAllUnfilledRegular(ctx context.Context) error {
	var errs []error
	for _, id := range e.store.RegularIDs() {
		if err := e.CancelRegular(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnFill dispatches a completed execution. A regular fill gets a bracket;
// anything else is treated as an exit fill.
func (e *Engine) OnFill(ctx context.Context, f Fill) error {
	e.Metrics.IncFills()
	if e.store.TakeRegular(f.OrderID, f.ClientID) {
		e.logger.Infow("regular_filled", "order_id", f.OrderID, "side", f.Side, "qty", f.Qty, "price", f.Price)
		_, err := e.PlaceBracketAfterFill(ctx, f)
		return err
	}
	if e.store.RemoveOrphan(f.OrderID) {
		e.logger.Warnw("orphan_filled", "order_id", f.OrderID, "side", f.Side, "qty", f.Qty, "price", f.Price)
		return nil
	}
	return e.OnExitFilled(ctx, f.OrderID)
}

// PlaceBracketAfterFill places the take-profit and stop-loss for a regular
// fill and links them. If the stop-loss cannot be placed the live
// take-profit is cancelled, or left as an orphan when that cancel fails.
func (e *Engine) PlaceBracketAfterFill(ctx context.Context, f Fill) (state.Bracket, error) {
	if e.closed.Load() {
		e.bracketFailed(f, ErrEngineClosed)
		return state.Bracket{}, ErrEngineClosed
	}
	if f.Qty <= 0 || f.Price <= 0 {
		err := fmt.Errorf("invalid fill qty=%v price=%v", f.Qty, f.Price)
		e.bracketFailed(f, err)
		return state.Bracket{}, err
	}

	tpLeg, slLeg := e.exitLegs(f)

	tp, err := e.submit(ctx, tpLeg.request(common.TIFGTC))
	if err != nil {
		err = fmt.Errorf("place take-profit for %s: %w", f.OrderID, err)
		e.bracketFailed(f, err)
		return state.Bracket{}, err
	}
	tpLeg.ID = tp.ExchangeOrderID
	if e.closed.Load() {
		return state.Bracket{}, e.closedDuringBracket(ctx, f, tpLeg)
	}

	sl, err := e.submit(ctx, slLeg.request(""))
	if err != nil {
		err = fmt.Errorf("place stop-loss for %s: %w", f.OrderID, err)
		if cerr := e.abandon(ctx, tpLeg.ID, state.RoleTakeProfit); cerr != nil {
			err = errors.Join(err, cerr)
		}
		e.bracketFailed(f, err)
		return state.Bracket{}, err
	}
	slLeg.ID = sl.ExchangeOrderID
	if e.closed.Load() {
		return state.Bracket{}, e.closedDuringBracket(ctx, f, tpLeg, slLeg)
	}

	b := state.Bracket{RegularID: f.OrderID, TakeProfitID: tpLeg.ID, StopLossID: slLeg.ID}
	if err := e.store.LinkBracket(b); err != nil {
		err = fmt.Errorf("link bracket for %s: %w", f.OrderID, err)
		err = errors.Join(err,
			e.abandon(ctx, b.TakeProfitID, state.RoleTakeProfit),
			e.abandon(ctx, b.StopLossID, state.RoleStopLoss))
		e.bracketFailed(f, err)
		return state.Bracket{}, err
	}
	// Close-out may have cleared the store between the check above and the link.
	if e.closed.Load() {
		e.store.ResolveExit(b.TakeProfitID)
		return state.Bracket{}, e.closedDuringBracket(ctx, f, tpLeg, slLeg)
	}

	e.Metrics.IncBracketsPlaced()
	e.publish(events.OrderEvent{Type: events.EventBracketPlaced, OrderID: tpLeg.ID, LinkedID: tpLeg.LinkedID, Role: string(tpLeg.Role), Side: string(tpLeg.Side), Qty: tpLeg.Qty, Price: tpLeg.Price})
	e.publish(events.OrderEvent{Type: events.EventBracketPlaced, OrderID: slLeg.ID, LinkedID: slLeg.LinkedID, Role: string(slLeg.Role), Side: string(slLeg.Side), Qty: slLeg.Qty, Price: slLeg.StopPrice})
	e.logger.Infow("bracket_placed",
		"regular_id", b.RegularID,
		"take_profit_id", b.TakeProfitID, "take_profit", tpLeg.Price,
		"stop_loss_id", b.StopLossID, "stop_loss", slLeg.StopPrice,
		"qty", f.Qty)
	return b, nil
}

// exitLegs builds the reduce-only take-profit and stop-loss for a fill.
func (e *Engine) exitLegs(f Fill) (tp, sl Order) {
	exitSide, tpPrice, slPrice := BracketPrices(f.Side, f.Price, e.cfg.TakeProfitPct, e.cfg.StopLossPct, e.prec.PricePrecision())
	now := time.Now()
	tp = Order{
		ClientID:  e.newClientID(),
		Symbol:    e.cfg.Symbol,
		Side:      exitSide,
		Type:      common.OrderTypeLimit,
		Qty:       f.Qty,
		Price:     tpPrice,
		Role:      state.RoleTakeProfit,
		LinkedID:  f.OrderID,
		CreatedAt: now,
	}
	sl = Order{
		ClientID:  e.newClientID(),
		Symbol:    e.cfg.Symbol,
		Side:      exitSide,
		Type:      common.OrderTypeStopMarket,
		Qty:       f.Qty,
		StopPrice: slPrice,
		Role:      state.RoleStopLoss,
		LinkedID:  f.OrderID,
		CreatedAt: now,
	}
	return tp, sl
}

// closedDuringBracket withdraws legs placed after close-out began, so no
// exit order outlives the cleanup.
func (e *Engine) closedDuringBracket(ctx context.Context, f Fill, legs ...Order) error {
	err := ErrEngineClosed
	for _, leg := range legs {
		if cerr := e.abandon(ctx, leg.ID, leg.Role); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	e.bracketFailed(f, err)
	return err
}

// OnExitFilled retires the bracket of a filled exit leg and cancels its
// sibling. The bracket is unlinked before the cancel goes out, so a repeated
// call reports an unknown fill and sends nothing.
func (e *Engine) OnExitFilled(ctx context.Context, orderID string) error {
	b, role, ok := e.store.ResolveExit(orderID)
	if !ok {
		e.Metrics.IncUnknownFills()
		e.publish(events.OrderEvent{Type: events.EventUnknownFill, OrderID: orderID})
		e.logger.Warnw("unknown_fill", "order_id", orderID)
		return fmt.Errorf("%w: %s", ErrUnknownFill, orderID)
	}
	e.Metrics.IncExitFills()
	sibling, siblingRole := b.Sibling(role)
	e.publish(events.OrderEvent{Type: events.EventExitFilled, OrderID: orderID, LinkedID: b.RegularID, Role: string(role)})

	err := e.cancel(ctx, sibling)
	switch {
	case err == nil:
		e.logger.Infow("exit_filled", "order_id", orderID, "role", role, "sibling_canceled", sibling)
		return nil
	case common.IsOrderNotFound(err):
		e.logger.Infow("exit_filled_sibling_gone", "order_id", orderID, "role", role, "sibling", sibling)
		return nil
	default:
		e.store.AddOrphan(sibling, siblingRole)
		e.logger.Errorw("sibling_cancel_failed", "order_id", orderID, "sibling", sibling, "error", err)
		return fmt.Errorf("cancel %s sibling %s: %w", siblingRole, sibling, err)
	}
}

// OnOrderClosed drops a tracked order the exchange canceled or expired on
// its own, such as a post-only order that would have crossed.
func (e *Engine) OnOrderClosed(orderID, clientID string) {
	if e.store.TakeRegular(orderID, clientID) {
		e.publish(events.OrderEvent{Type: events.EventRegularCanceled, OrderID: orderID, Role: string(state.RoleRegular), Detail: "closed by exchange"})
		e.logger.Infow("regular_closed_by_exchange", "order_id", orderID)
		return
	}
	if e.store.RemoveOrphan(orderID) {
		e.logger.Infow("orphan_closed_by_exchange", "order_id", orderID)
	}
}

// CloseOutstanding refuses further placements, cancels every open order the
// exchange lists for the symbol, then clears local tracking. If the listing
// fails the locally tracked ids are cancelled instead.
func (e *Engine) CloseOutstanding(ctx context.Context) error {
	e.closed.Store(true)

	var errs []error
	var ids []string
	open, err := e.ex.GetOpenOrders(ctx, e.cfg.Symbol)
	if err != nil {
		errs = append(errs, fmt.Errorf("list open orders: %w", err))
		ids = e.trackedIDs()
	} else {
		for _, o := range open {
			ids = append(ids, o.ExchangeOrderID)
		}
	}

	for _, id := range ids {
		if err := e.cancel(ctx, id); err != nil && !common.IsOrderNotFound(err) {
			errs = append(errs, fmt.Errorf("cancel %s: %w", id, err))
		}
	}
	e.store.Clear()
	e.logger.Infow("close_outstanding", "canceled", len(ids), "errors", len(errs))
	return errors.Join(errs...)
}

func (e *Engine) trackedIDs() []string {
	snap := e.store.Snapshot()
	ids := append([]string(nil), snap.Regular...)
	for _, b := range snap.Brackets {
		ids = append(ids, b.TakeProfitID, b.StopLossID)
	}
	for _, o := range snap.Orphans {
		ids = append(ids, o.ID)
	}
	return ids
}

// Flatten closes the position snapshot with a reduce-only market order.
func (e *Engine) Flatten(ctx context.Context) error {
	pos := e.store.Position()
	qty := RoundQty(math.Abs(pos.Amount), e.prec.QtyPrecision())
	if qty == 0 {
		return nil
	}
	side := common.SideSell
	if pos.Amount < 0 {
		side = common.SideBuy
	}
	res, err := e.submit(ctx, common.OrderRequest{
		Symbol:     e.cfg.Symbol,
		Side:       side,
		Type:       common.OrderTypeMarket,
		Qty:        qty,
		ClientID:   e.newClientID(),
		ReduceOnly: true,
	})
	if err != nil {
		e.logger.Errorw("flatten_failed", "side", side, "qty", qty, "error", err)
		return fmt.Errorf("flatten %v: %w", pos.Amount, err)
	}
	e.logger.Infow("flattened", "order_id", res.ExchangeOrderID, "side", side, "qty", qty)
	return nil
}

// Reconcile retries cancels of orphaned legs and drops stale regular orders
// that the exchange no longer lists. openIDs is the exchange's current list.
func (e *Engine) Reconcile(ctx context.Context, openIDs []string) error {
	live := make(map[string]struct{}, len(openIDs))
	for _, id := range openIDs {
		live[id] = struct{}{}
	}

	var errs []error
	for _, o := range e.store.Orphans() {
		err := e.cancel(ctx, o.ID)
		if err != nil && !common.IsOrderNotFound(err) {
			errs = append(errs, fmt.Errorf("cancel orphan %s: %w", o.ID, err))
			continue
		}
		e.store.RemoveOrphan(o.ID)
		e.Metrics.IncOrphansCanceled()
		e.publish(events.OrderEvent{Type: events.EventOrphanCanceled, OrderID: o.ID, Role: string(o.Role)})
		e.logger.Infow("orphan_canceled", "order_id", o.ID, "role", o.Role, "age", time.Since(o.Since).Truncate(time.Second))
	}

	for _, id := range e.store.StaleRegular(e.cfg.StaleGrace) {
		if _, ok := live[id]; ok {
			continue
		}
		if e.store.RemoveRegular(id) {
			e.logger.Infow("stale_regular_dropped", "order_id", id)
		}
	}
	return errors.Join(errs...)
}

// abandon records id as an orphan and tries to cancel it right away.
func (e *Engine) abandon(ctx context.Context, id string, role state.Role) error {
	e.store.AddOrphan(id, role)
	err := e.cancel(ctx, id)
	if err == nil || common.IsOrderNotFound(err) {
		e.store.RemoveOrphan(id)
		return nil
	}
	e.logger.Errorw("orphan_cancel_failed", "order_id", id, "role", role, "error", err)
	return fmt.Errorf("cancel orphan %s %s: %w", role, id, err)
}

func (e *Engine) bracketFailed(f Fill, err error) {
	e.Metrics.IncBracketFailures()
	e.publish(events.OrderEvent{Type: events.EventBracketFailed, OrderID: f.OrderID, Side: string(f.Side), Qty: f.Qty, Price: f.Price, Detail: err.Error()})
	e.logger.Errorw("bracket_failed", "regular_id", f.OrderID, "error", err)
}

func (e *Engine) submit(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	start := time.Now()
	res, err := e.ex.SubmitOrder(ctx, req)
	e.Metrics.ObserveOrder(time.Since(start))
	if err == nil && res.ExchangeOrderID == "" {
		err = errors.New("exchange returned no order id")
	}
	return res, err
}

func (e *Engine) cancel(ctx context.Context, id string) error {
	start := time.Now()
	err := e.ex.CancelOrder(ctx, e.cfg.Symbol, id)
	e.Metrics.ObserveCancel(time.Since(start))
	switch {
	case err == nil:
		e.Metrics.IncCancels()
	case !common.IsOrderNotFound(err):
		e.Metrics.IncCancelFailures()
	}
	return err
}

func (e *Engine) publish(ev events.OrderEvent) {
	ev.Symbol = e.cfg.Symbol
	e.Bus.PublishOrder(ev)
}
