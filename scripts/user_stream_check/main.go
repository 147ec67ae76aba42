package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/grandb369/tradebot/internal/session"
	"github.com/grandb369/tradebot/pkg/config"
	exfutusdt "github.com/grandb369/tradebot/pkg/exchanges/binance/futures_usdt"
	"github.com/grandb369/tradebot/pkg/logging"
	marketbinance "github.com/grandb369/tradebot/pkg/market/binance"
)

// This script watches the USDT-M user-data and bookTicker streams for the
// configured symbol and logs every decoded event. It never places orders.
//
// Usage:
//   go run ./scripts/user_stream_check
//
// Place or cancel a test order on Binance to see ORDER_TRADE_UPDATE events.

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config error: %v", err)
	}
	if cfg.DryRun {
		log.Fatalf("DRY_RUN=true; this check needs real API keys")
	}
	zl, err := logging.NewLogger("debug")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck
	logger := zl.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	client := exfutusdt.NewClient(exfutusdt.Config{
		APIKey:     cfg.BinanceAPIKey,
		APISecret:  cfg.BinanceAPISecret,
		Testnet:    cfg.BinanceTestnet,
		RecvWindow: cfg.RecvWindow,
	}, logger)
	streams := marketbinance.NewStreamClient(cfg.BinanceTestnet, logger)

	key, err := client.CreateListenKey(ctx)
	if err != nil {
		logger.Fatalw("create_listen_key_failed", "error", err)
	}
	token := &session.Token{}
	token.Set(key)
	keepAlive := &session.KeepAlive{
		Name:     "check",
		Interval: cfg.KeepAliveInterval,
		Renewer:  client,
		Token:    token,
		Logger:   logger,
	}
	go keepAlive.Run(ctx, ctx.Done())

	userCh, stopUser, err := streams.SubscribeUserData(ctx, key)
	if err != nil {
		logger.Fatalw("user_stream_failed", "error", err)
	}
	defer stopUser()
	tickCh, stopTick, err := streams.SubscribeBookTicker(ctx, cfg.Symbol)
	if err != nil {
		logger.Fatalw("ticker_stream_failed", "error", err)
	}
	defer stopTick()

	logger.Infow("streams_started", "symbol", cfg.Symbol, "testnet", cfg.BinanceTestnet)

	// Book ticks arrive many times a second; log one every 5s.
	var lastTick time.Time
	for {
		select {
		case <-ctx.Done():
			logger.Infow("user_stream_check_finished", "reason", ctx.Err())
			return
		case msg, ok := <-userCh:
			if !ok {
				logger.Warnw("user_stream_closed")
				return
			}
			switch {
			case msg.ReadErr != nil:
				logger.Warnw("user_stream_read_error", "error", msg.ReadErr)
			case msg.Err != nil:
				logger.Errorw("user_stream_error_event", "error", msg.Err)
			default:
				logger.Infow("user_event", "event", msg.Event)
			}
		case msg, ok := <-tickCh:
			if !ok {
				logger.Warnw("ticker_stream_closed")
				return
			}
			if msg.ReadErr != nil {
				logger.Warnw("ticker_stream_read_error", "error", msg.ReadErr)
				continue
			}
			if msg.Err != nil {
				logger.Errorw("ticker_stream_error_event", "error", msg.Err)
				continue
			}
			if time.Since(lastTick) >= 5*time.Second {
				lastTick = time.Now()
				logger.Infow("book_ticker", "ticker", msg.Ticker)
			}
		}
	}
}
