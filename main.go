package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/grandb369/tradebot/internal/api"
	"github.com/grandb369/tradebot/internal/events"
	"github.com/grandb369/tradebot/internal/journal"
	"github.com/grandb369/tradebot/internal/market"
	"github.com/grandb369/tradebot/internal/monitor"
	"github.com/grandb369/tradebot/internal/order"
	"github.com/grandb369/tradebot/internal/paper"
	"github.com/grandb369/tradebot/internal/quoting"
	"github.com/grandb369/tradebot/internal/reconciliation"
	"github.com/grandb369/tradebot/internal/session"
	"github.com/grandb369/tradebot/internal/shutdown"
	"github.com/grandb369/tradebot/internal/state"
	"github.com/grandb369/tradebot/pkg/config"
	"github.com/grandb369/tradebot/pkg/db"
	exfutusdt "github.com/grandb369/tradebot/pkg/exchanges/binance/futures_usdt"
	exchange "github.com/grandb369/tradebot/pkg/exchanges/common"
	"github.com/grandb369/tradebot/pkg/logging"
	marketbinance "github.com/grandb369/tradebot/pkg/market/binance"
)

var buildVersion = "dev"

// venue is everything the bot needs from a trading venue, live or simulated.
type venue interface {
	exchange.Gateway
	exchange.Session
	GetPositions(ctx context.Context, symbol string) ([]exchange.Position, error)
	GetSymbolFilters(ctx context.Context, symbol string) (exchange.SymbolFilters, error)
	market.TickerSource
	order.UserSource
}

// liveVenue pairs the REST client with the websocket client.
type liveVenue struct {
	*exfutusdt.Client
	*marketbinance.StreamClient
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck
	logger := zl.Sugar()

	if err := run(cfg, logger); err != nil {
		logger.Errorw("exited_with_error", "error", err)
		_ = zl.Sync()
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.LogFile != "" {
		return logging.NewLoggerWithFile(cfg.LogLevel, cfg.LogFile)
	}
	return logging.NewLogger(cfg.LogLevel)
}

func run(cfg *config.Config, logger *zap.SugaredLogger) error {
	logger.Infow("starting",
		"version", buildVersion,
		"symbol", cfg.Symbol,
		"dry_run", cfg.DryRun,
		"testnet", cfg.BinanceTestnet)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord := shutdown.NewCoordinator(logger)
	bus := events.NewBus()
	metrics := monitor.NewMetrics()

	// Tasks below run on taskCtx, which outlives the signal so cleanup can
	// finish; the signal only raises the shutdown flag.
	taskCtx, cancelTasks := context.WithCancel(context.Background())
	defer cancelTasks()
	go func() {
		select {
		case <-ctx.Done():
			coord.Trigger("signal")
		case <-coord.Done():
		}
	}()

	var wg sync.WaitGroup
	ven, walk := newVenue(cfg, logger)
	if walk != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			walk.Run(taskCtx)
		}()
	}
	if c, ok := ven.(liveVenue); ok {
		c.StartTimeSync(taskCtx)
	}

	filters, err := ven.GetSymbolFilters(ctx, cfg.Symbol)
	if err != nil {
		return fmt.Errorf("load symbol filters: %w", err)
	}
	pricePrec, err := market.PrecisionFromStep(filters.TickSize)
	if err != nil {
		return fmt.Errorf("tick size: %w", err)
	}
	qtyPrec, err := market.PrecisionFromStep(filters.StepSize)
	if err != nil {
		return fmt.Errorf("step size: %w", err)
	}
	logger.Infow("symbol_filters", "tick", filters.TickSize, "step", filters.StepSize,
		"price_precision", pricePrec, "qty_precision", qtyPrec)

	store := state.NewParamStore(cfg.MaxRegularOrders)
	mkt := market.NewState(pricePrec, qtyPrec, cfg.QuoteAmount)

	var database *db.Database
	var recorder *journal.Recorder
	if cfg.JournalPath != "" {
		database, err = db.New(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer database.Close()
		if err := db.ApplyMigrations(database); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
		recorder = journal.NewRecorder(database, 100, time.Second, logger)
		recorder.Start(bus)
	}

	mon := &monitor.Monitor{Bus: bus, Sink: monitor.LogSink{Logger: logger}, Logger: logger}
	monWG := mon.Start(taskCtx)

	engine := order.NewEngine(order.Config{
		Symbol:        cfg.Symbol,
		TakeProfitPct: cfg.TakeProfitPct,
		StopLossPct:   cfg.StopLossPct,
		TimeInForce:   exchange.TimeInForce(cfg.QuoteTimeInForce),
		StaleGrace:    cfg.ReconcileGrace,
	}, ven, store, mkt, logger)
	engine.Bus = bus
	engine.Metrics = metrics

	strat, err := buildStrategy(cfg)
	if err != nil {
		return err
	}

	// Both streams renew the same listen key.
	token := &session.Token{}
	keepAlive := func(name string) *session.KeepAlive {
		return &session.KeepAlive{
			Name:     name,
			Interval: cfg.KeepAliveInterval,
			Renewer:  ven,
			Token:    token,
			Logger:   logger,
			OnError:  func(error) { metrics.IncKeepAliveFailures() },
		}
	}

	marketConsumer := &market.Consumer{
		Symbol:     cfg.Symbol,
		Source:     ven,
		State:      mkt,
		Shutdown:   coord,
		KeepAlive:  keepAlive("market"),
		Metrics:    metrics,
		MaxRetries: cfg.StreamMaxRetries,
		RetryDelay: cfg.StreamRetryDelay,
		Logger:     logger,
	}
	userConsumer := &order.UserDataConsumer{
		Symbol:     cfg.Symbol,
		Session:    ven,
		Source:     ven,
		Handler:    engine,
		Store:      store,
		Token:      token,
		Shutdown:   coord,
		KeepAlive:  keepAlive("user"),
		Bus:        bus,
		Metrics:    metrics,
		MaxRetries: cfg.StreamMaxRetries,
		RetryDelay: cfg.StreamRetryDelay,
		Logger:     logger,
	}
	loop := &quoting.Loop{
		Engine:            engine,
		Market:            mkt,
		Orders:            store,
		Strategy:          strat,
		Shutdown:          coord,
		Metrics:           metrics,
		Logger:            logger,
		PollInterval:      cfg.QuotePollInterval,
		RequoteInterval:   cfg.RequoteInterval,
		Policy:            cfg.RequotePolicy,
		MaxRegular:        cfg.MaxRegularOrders,
		FlattenOnShutdown: cfg.FlattenOnShutdown,
		ShutdownTimeout:   cfg.ShutdownTimeout,
	}
	recon := &reconciliation.Service{
		Symbol:   cfg.Symbol,
		Exchange: ven,
		Engine:   engine,
		Store:    store,
		Shutdown: coord,
		Bus:      bus,
		Interval: cfg.ReconcileInterval,
		Logger:   logger,
	}

	var errMu sync.Mutex
	var errs []error
	spawn := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				logger.Errorw("task_failed", "task", name, "error", err)
				errMu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				errMu.Unlock()
			}
		}()
	}

	spawn("market_data", func() error { return marketConsumer.Run(taskCtx) })
	spawn("user_data", func() error { return userConsumer.Run(taskCtx) })
	spawn("reconciliation", func() error {
		recon.Run(taskCtx)
		return nil
	})

	var server *api.Server
	apiCtx, stopAPI := context.WithCancel(taskCtx)
	defer stopAPI()
	if cfg.APIAddr != "" {
		server = api.NewServer(api.Options{
			Bus:      bus,
			DB:       database,
			State:    store,
			Market:   mkt,
			Metrics:  metrics,
			Shutdown: coord,
			Meta: api.SystemMeta{
				Symbol:  cfg.Symbol,
				DryRun:  cfg.DryRun,
				Testnet: cfg.BinanceTestnet,
				Version: buildVersion,
			},
			Logger: logger,
		})
		spawn("api", func() error { return server.Run(apiCtx, cfg.APIAddr) })
	}

	// The quoting loop owns cleanup; it returns once open orders are closed
	// out after the shutdown flag is raised.
	loopErr := loop.Run(taskCtx)

	reason, at := coord.Reason()
	bus.PublishOrder(events.OrderEvent{Type: events.EventShutdown, Symbol: cfg.Symbol, Detail: reason, Timestamp: at})

	stopAPI()
	cancelTasks()
	wg.Wait()
	monWG.Wait()

	if recorder != nil {
		if err := recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
		m := recorder.GetMetrics()
		logger.Infow("journal_closed", "writes", m.TotalWrites, "batches", m.TotalBatches, "errors", m.TotalErrors)
	}
	if p, ok := ven.(*paper.Exchange); ok {
		st := p.Stats()
		logger.Infow("paper_stats", "fills", st.Fills, "realized_pnl", st.RealizedPnL, "fees", st.Fees)
	}
	logger.Infow("stopped", "reason", reason, "metrics", metrics.Snapshot())

	if loopErr != nil {
		errs = append(errs, fmt.Errorf("quoting: %w", loopErr))
	}
	return errors.Join(errs...)
}

func newVenue(cfg *config.Config, logger *zap.SugaredLogger) (venue, *paper.Walk) {
	if cfg.DryRun {
		x := paper.New(paper.Config{
			Symbol:      cfg.Symbol,
			TickSize:    "0.1",
			StepSize:    "0.001",
			FeeRate:     0.0004,
			SlippageBps: 1,
			LatencyMin:  5 * time.Millisecond,
			LatencyMax:  25 * time.Millisecond,
		}, logger)
		walk := &paper.Walk{
			Exchange:   x,
			StartPrice: 60000,
			Step:       5,
			SpreadPct:  0.0001,
			Interval:   250 * time.Millisecond,
		}
		logger.Infow("paper_trading_enabled")
		return x, walk
	}
	client := exfutusdt.NewClient(exfutusdt.Config{
		APIKey:     cfg.BinanceAPIKey,
		APISecret:  cfg.BinanceAPISecret,
		Testnet:    cfg.BinanceTestnet,
		RecvWindow: cfg.RecvWindow,
	}, logger)
	return liveVenue{Client: client, StreamClient: marketbinance.NewStreamClient(cfg.BinanceTestnet, logger)}, nil
}

func buildStrategy(cfg *config.Config) (quoting.Strategy, error) {
	defaults := quoting.SpreadStrategy{
		SpreadPct:   cfg.QuoteSpreadPct,
		Qty:         cfg.QuoteAmount,
		MaxPosition: cfg.MaxPosition,
	}
	var configs []quoting.StrategyConfig
	if cfg.StrategyFile != "" {
		loaded, err := quoting.LoadConfig(cfg.StrategyFile)
		if err != nil {
			return nil, fmt.Errorf("load strategy file: %w", err)
		}
		configs = loaded
	}
	strat, err := quoting.Build(configs, cfg.Symbol, defaults)
	if err != nil {
		return nil, fmt.Errorf("build strategy: %w", err)
	}
	return strat, nil
}
