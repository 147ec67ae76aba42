// Package paper is an in-memory USDT-M futures venue for dry runs. It
// implements the order gateway, the listen-key session and both stream
// subscriptions, matching resting orders against its own book ticker.
package paper

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grandb369/tradebot/pkg/exchanges/common"
	"github.com/grandb369/tradebot/pkg/logging"
	stream "github.com/grandb369/tradebot/pkg/market/binance"
)

// Config tunes the simulation.
type Config struct {
	Symbol      string
	TickSize    string
	StepSize    string
	FeeRate     float64 // decimal, e.g. 0.0004 = 4 bps
	SlippageBps float64 // applied to market and stop fills
	LatencyMin  time.Duration
	LatencyMax  time.Duration
}

type restingOrder struct {
	common.OpenOrder
	tif common.TimeInForce
}

// Stats summarises simulated trading.
type Stats struct {
	Fills       int     `json:"fills"`
	RealizedPnL float64 `json:"realized_pnl"`
	Fees        float64 `json:"fees"`
}

// Exchange is a single-symbol simulated venue.
type Exchange struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu       sync.Mutex
	next     int64
	orders   map[string]*restingOrder
	bid, ask float64
	position common.Position
	stats    Stats
	rng      *rand.Rand

	tickerSubs map[int]chan stream.TickerMessage
	userSubs   map[int]chan stream.UserMessage
	subID      int
}

// New returns an empty venue with no book yet.
func New(cfg Config, logger *zap.SugaredLogger) *Exchange {
	if cfg.TickSize == "" {
		cfg.TickSize = "0.01"
	}
	if cfg.StepSize == "" {
		cfg.StepSize = "0.001"
	}
	return &Exchange{
		cfg:        cfg,
		logger:     logging.OrNop(logger),
		next:       1000,
		orders:     make(map[string]*restingOrder),
		position:   common.Position{Symbol: cfg.Symbol},
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		tickerSubs: make(map[int]chan stream.TickerMessage),
		userSubs:   make(map[int]chan stream.UserMessage),
	}
}

// SubmitOrder accepts an order. Marketable orders fill at once, post-only
// orders that would cross expire, and the rest rest on the book.
func (x *Exchange) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := x.latency(ctx); err != nil {
		return common.OrderResult{}, err
	}
	if !strings.EqualFold(req.Symbol, x.cfg.Symbol) {
		return common.OrderResult{}, fmt.Errorf("paper: unknown symbol %s", req.Symbol)
	}
	if req.Qty <= 0 {
		return common.OrderResult{}, fmt.Errorf("paper: invalid quantity %v", req.Qty)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	x.next++
	o := &restingOrder{
		OpenOrder: common.OpenOrder{
			ExchangeOrderID: strconv.FormatInt(x.next, 10),
			ClientID:        req.ClientID,
			Symbol:          x.cfg.Symbol,
			Side:            req.Side,
			Type:            req.Type,
			Price:           req.Price,
			StopPrice:       req.StopPrice,
			Qty:             req.Qty,
			ReduceOnly:      req.ReduceOnly,
		},
		tif: req.TimeInForce,
	}
	res := common.OrderResult{ExchangeOrderID: o.ExchangeOrderID, ClientID: o.ClientID, Status: common.StatusNew}

	switch req.Type {
	case common.OrderTypeMarket:
		if x.bid <= 0 || x.ask <= 0 {
			return common.OrderResult{}, fmt.Errorf("paper: no book for market order")
		}
		x.fillLocked(o, x.marketPrice(o.Side))
		res.Status = common.StatusFilled
		return res, nil
	case common.OrderTypeLimit:
		if req.Price <= 0 {
			return common.OrderResult{}, fmt.Errorf("paper: limit order without price")
		}
		if x.crossesLocked(o) {
			if o.tif == common.TIFGTX {
				x.emitOrderLocked(o, "EXPIRED", 0, 0)
				return res, nil
			}
			x.fillLocked(o, o.Price)
			res.Status = common.StatusFilled
			return res, nil
		}
	case common.OrderTypeStopMarket, common.OrderTypeTakeProfitMarket:
		if req.StopPrice <= 0 {
			return common.OrderResult{}, fmt.Errorf("paper: %s without stop price", req.Type)
		}
	default:
		return common.OrderResult{}, fmt.Errorf("paper: unsupported order type %s", req.Type)
	}
	x.orders[o.ExchangeOrderID] = o
	return res, nil
}

// CancelOrder removes a resting order.
func (x *Exchange) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	if err := x.latency(ctx); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	o, ok := x.orders[exchangeOrderID]
	if !ok {
		return fmt.Errorf("paper: cancel %s: %w", exchangeOrderID, common.ErrOrderNotFound)
	}
	delete(x.orders, exchangeOrderID)
	x.emitOrderLocked(o, "CANCELED", 0, 0)
	return nil
}

// GetOpenOrders lists resting orders ordered by id.
func (x *Exchange) GetOpenOrders(_ context.Context, _ string) ([]common.OpenOrder, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]common.OpenOrder, 0, len(x.orders))
	for _, o := range x.orders {
		out = append(out, o.OpenOrder)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExchangeOrderID < out[j].ExchangeOrderID })
	return out, nil
}

// GetPositions returns the one-way position.
func (x *Exchange) GetPositions(_ context.Context, _ string) ([]common.Position, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	p := x.position
	p.UnrealizedPnL = x.unrealizedLocked()
	return []common.Position{p}, nil
}

// GetSymbolFilters returns the configured increments.
func (x *Exchange) GetSymbolFilters(_ context.Context, symbol string) (common.SymbolFilters, error) {
	return common.SymbolFilters{Symbol: strings.ToUpper(symbol), TickSize: x.cfg.TickSize, StepSize: x.cfg.StepSize}, nil
}

func (x *Exchange) CreateListenKey(context.Context) (string, error) {
	return uuid.NewString(), nil
}

func (x *Exchange) KeepAliveListenKey(context.Context, string) error {
	return nil
}

// Stats returns fill count, realized PnL and fees so far.
func (x *Exchange) Stats() Stats {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.stats
}

// SubscribeBookTicker streams book updates set through SetBook.
func (x *Exchange) SubscribeBookTicker(ctx context.Context, _ string) (<-chan stream.TickerMessage, func(), error) {
	x.mu.Lock()
	x.subID++
	id := x.subID
	ch := make(chan stream.TickerMessage, 256)
	x.tickerSubs[id] = ch
	x.mu.Unlock()
	return ch, x.stopper(ctx, func() {
		if c, ok := x.tickerSubs[id]; ok {
			delete(x.tickerSubs, id)
			close(c)
		}
	}), nil
}

// SubscribeUserData streams synthetic order and account updates.
func (x *Exchange) SubscribeUserData(ctx context.Context, _ string) (<-chan stream.UserMessage, func(), error) {
	x.mu.Lock()
	x.subID++
	id := x.subID
	ch := make(chan stream.UserMessage, 256)
	x.userSubs[id] = ch
	x.mu.Unlock()
	return ch, x.stopper(ctx, func() {
		if c, ok := x.userSubs[id]; ok {
			delete(x.userSubs, id)
			close(c)
		}
	}), nil
}

func (x *Exchange) stopper(ctx context.Context, remove func()) func() {
	var once sync.Once
	done := make(chan struct{})
	stop := func() {
		once.Do(func() {
			close(done)
			x.mu.Lock()
			remove()
			x.mu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return stop
}

// SetBook moves the top of book, publishes it and matches resting orders.
func (x *Exchange) SetBook(bid, ask float64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.bid, x.ask = bid, ask
	tick := stream.TickerMessage{Ticker: &stream.BookTicker{Symbol: x.cfg.Symbol, BidPrice: bid, AskPrice: ask, Time: time.Now().UnixMilli()}}
	for _, ch := range x.tickerSubs {
		select {
		case ch <- tick:
		default:
		}
	}

	ids := make([]string, 0, len(x.orders))
	for id := range x.orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		o, ok := x.orders[id]
		if !ok {
			continue
		}
		if price, hit := x.triggerLocked(o); hit {
			delete(x.orders, id)
			x.fillLocked(o, price)
		}
	}
}

func (x *Exchange) crossesLocked(o *restingOrder) bool {
	if o.Side == common.SideBuy {
		return x.ask > 0 && o.Price >= x.ask
	}
	return x.bid > 0 && o.Price <= x.bid
}

// triggerLocked reports whether o executes at the current book and at what price.
func (x *Exchange) triggerLocked(o *restingOrder) (float64, bool) {
	if x.bid <= 0 || x.ask <= 0 {
		return 0, false
	}
	buy := o.Side == common.SideBuy
	switch o.Type {
	case common.OrderTypeLimit:
		if x.crossesLocked(o) {
			return o.Price, true
		}
	case common.OrderTypeStopMarket:
		if (buy && x.ask >= o.StopPrice) || (!buy && x.bid <= o.StopPrice) {
			return x.marketPrice(o.Side), true
		}
	case common.OrderTypeTakeProfitMarket:
		if (buy && x.ask <= o.StopPrice) || (!buy && x.bid >= o.StopPrice) {
			return x.marketPrice(o.Side), true
		}
	}
	return 0, false
}

func (x *Exchange) marketPrice(side common.Side) float64 {
	slip := x.cfg.SlippageBps / 10000.0 * x.rng.Float64()
	if side == common.SideBuy {
		return x.ask * (1 + slip)
	}
	return x.bid * (1 - slip)
}

// fillLocked executes o in full, or expires a reduce-only order that no
// longer reduces the position.
func (x *Exchange) fillLocked(o *restingOrder, price float64) {
	qty := o.Qty
	if o.ReduceOnly {
		reducing := (o.Side == common.SideSell && x.position.Amount > 0) || (o.Side == common.SideBuy && x.position.Amount < 0)
		if !reducing {
			x.emitOrderLocked(o, "EXPIRED", 0, 0)
			return
		}
		qty = math.Min(qty, math.Abs(x.position.Amount))
	}

	signed := qty
	if o.Side == common.SideSell {
		signed = -qty
	}
	x.applyFillLocked(signed, price)
	x.stats.Fills++
	x.stats.Fees += qty * price * x.cfg.FeeRate

	x.emitOrderLocked(o, "FILLED", qty, price)
	x.emitAccountLocked()
	x.logger.Infow("paper_fill", "order_id", o.ExchangeOrderID, "side", o.Side, "type", o.Type, "qty", qty, "price", price, "position", x.position.Amount)
}

func (x *Exchange) applyFillLocked(signed, price float64) {
	pos := &x.position
	switch {
	case pos.Amount == 0 || (pos.Amount > 0) == (signed > 0):
		total := math.Abs(pos.Amount)*pos.EntryPrice + math.Abs(signed)*price
		pos.Amount += signed
		pos.EntryPrice = total / math.Abs(pos.Amount)
	default:
		closed := math.Min(math.Abs(signed), math.Abs(pos.Amount))
		if pos.Amount > 0 {
			x.stats.RealizedPnL += (price - pos.EntryPrice) * closed
		} else {
			x.stats.RealizedPnL += (pos.EntryPrice - price) * closed
		}
		pos.Amount += signed
		switch {
		case math.Abs(pos.Amount) < 1e-12:
			pos.Amount = 0
			pos.EntryPrice = 0
		case (pos.Amount > 0) == (signed > 0):
			pos.EntryPrice = price
		}
	}
	pos.UpdatedAt = time.Now()
}

func (x *Exchange) unrealizedLocked() float64 {
	if x.position.Amount == 0 || x.bid <= 0 || x.ask <= 0 {
		return 0
	}
	mid := (x.bid + x.ask) / 2
	return (mid - x.position.EntryPrice) * x.position.Amount
}

func (x *Exchange) emitOrderLocked(o *restingOrder, status string, qty, price float64) {
	exec := status
	if status == "FILLED" {
		exec = "TRADE"
	}
	msg := stream.UserMessage{Event: &stream.UserEvent{
		Type: stream.EventOrderTradeUpdate,
		Time: time.Now().UnixMilli(),
		Order: &stream.OrderTradeUpdate{
			Symbol:        o.Symbol,
			OrderID:       o.ExchangeOrderID,
			ClientOrderID: o.ClientID,
			Side:          string(o.Side),
			OrderType:     string(o.Type),
			ExecutionType: exec,
			Status:        status,
			LastQty:       qty,
			LastPrice:     price,
			AvgPrice:      price,
			CumQty:        qty,
			ReduceOnly:    o.ReduceOnly,
		},
	}}
	x.sendUserLocked(msg)
}

func (x *Exchange) emitAccountLocked() {
	x.sendUserLocked(stream.UserMessage{Event: &stream.UserEvent{
		Type: stream.EventAccountUpdate,
		Time: time.Now().UnixMilli(),
		Account: &stream.AccountUpdate{
			Reason: "ORDER",
			Positions: []stream.PositionUpdate{{
				Symbol:        x.cfg.Symbol,
				Amount:        x.position.Amount,
				EntryPrice:    x.position.EntryPrice,
				UnrealizedPnL: x.unrealizedLocked(),
				PositionSide:  "BOTH",
			}},
		},
	}})
}

func (x *Exchange) sendUserLocked(msg stream.UserMessage) {
	for _, ch := range x.userSubs {
		select {
		case ch <- msg:
		default:
			x.logger.Warnw("paper_user_event_dropped", "type", msg.Event.Type)
		}
	}
}

func (x *Exchange) latency(ctx context.Context) error {
	lo, hi := x.cfg.LatencyMin, x.cfg.LatencyMax
	if hi <= 0 {
		return ctx.Err()
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	x.mu.Lock()
	d := lo + time.Duration(x.rng.Int63n(int64(hi-lo)+1))
	x.mu.Unlock()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
