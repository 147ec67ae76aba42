package market

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamClient dials Binance USDT-M futures websockets.
type StreamClient struct {
	StreamURL string // base, e.g. wss://fstream.binance.com
	dialer    *websocket.Dialer
	logger    *zap.SugaredLogger
}

// NewStreamClient builds a websocket client; testnet toggles the host.
func NewStreamClient(testnet bool, logger *zap.SugaredLogger) *StreamClient {
	host := "fstream.binance.com"
	if testnet {
		host = "stream.binancefuture.com"
	}
	return NewStreamClientWithURL((&url.URL{Scheme: "wss", Host: host}).String(), logger)
}

// NewStreamClientWithURL points the client at an arbitrary base URL.
func NewStreamClientWithURL(base string, logger *zap.SugaredLogger) *StreamClient {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &StreamClient{
		StreamURL: strings.TrimRight(base, "/"),
		dialer:    websocket.DefaultDialer,
		logger:    logger,
	}
}

// SubscribeBookTicker subscribes to best bid/ask updates on the combined
// stream endpoint. The channel closes after the stop function is called or
// the connection fails; a failure is reported as a final ReadErr message.
func (c *StreamClient) SubscribeBookTicker(ctx context.Context, symbol string) (<-chan TickerMessage, func(), error) {
	u := fmt.Sprintf("%s/stream?streams=%s@bookTicker", c.StreamURL, strings.ToLower(symbol))
	return subscribe(ctx, c, u, "bookTicker", decodeTickerMessage, func(err error) TickerMessage {
		return TickerMessage{ReadErr: err}
	})
}

// SubscribeUserData subscribes to the user-data stream for listenKey.
func (c *StreamClient) SubscribeUserData(ctx context.Context, listenKey string) (<-chan UserMessage, func(), error) {
	u := fmt.Sprintf("%s/ws/%s", c.StreamURL, listenKey)
	return subscribe(ctx, c, u, "userData", decodeUserMessage, func(err error) UserMessage {
		return UserMessage{ReadErr: err}
	})
}

func subscribe[T any](ctx context.Context, c *StreamClient, u, name string, decode func([]byte) (T, error), readErr func(error) T) (<-chan T, func(), error) {
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial binance ws %s: %w", name, err)
	}

	out := make(chan T, 100)
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			// Ignore errors; connection may already be closed.
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}

	// The reader is the only writer to out, so it alone closes it.
	go func() {
		defer close(out)
		defer stop()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-done:
					return
				default:
				}
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, net.ErrClosed) {
					c.logger.Infow("ws_closed_by_peer", "stream", name)
				}
				c.logger.Warnw("ws_read_error", "stream", name, "error", err)
				select {
				case out <- readErr(err):
				case <-done:
				}
				return
			}

			parsed, err := decode(msg)
			if err != nil {
				if !errors.Is(err, errNoPayload) {
					c.logger.Warnw("ws_parse_error", "stream", name, "error", err)
				}
				continue
			}
			select {
			case out <- parsed:
			case <-done:
				return
			}
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	return out, stop, nil
}
