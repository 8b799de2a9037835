package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/shopspring/decimal"
)

const (
	reconnectBase = 2 * time.Second
	reconnectMax  = 60 * time.Second

	// streamMaxAge bounds how long a cached tick may serve RefPerTok
	// after the stream goes quiet.
	streamMaxAge = 5 * time.Minute
)

// ExchangeRateStream consumes an exchange's ticker stream for a wrapped
// token pair (e.g. a staked-token/underlying market) and caches the latest
// traded rate. RefPerTok serves the cache so engine refreshes stay
// synchronous and bounded.
type ExchangeRateStream struct {
	name   string
	wsURL  string
	logger *slog.Logger

	mu       sync.RWMutex
	lastRate decimal.Decimal
	lastAt   time.Time
}

func NewExchangeRateStream(name, wsURL string, logger *slog.Logger) *ExchangeRateStream {
	return &ExchangeRateStream{name: name, wsURL: wsURL, logger: logger}
}

func (s *ExchangeRateStream) Name() string { return s.name }

// RefPerTok returns the most recent streamed rate.
func (s *ExchangeRateStream) RefPerTok(context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastAt.IsZero() {
		return decimal.Decimal{}, fmt.Errorf("stream %s: no tick received yet", s.name)
	}
	if age := time.Since(s.lastAt); age > streamMaxAge {
		return decimal.Decimal{}, fmt.Errorf("stream %s: last tick %s old", s.name, age.Round(time.Second))
	}
	return s.lastRate, nil
}

// Run maintains the websocket subscription with exponential backoff.
// Blocks until ctx is cancelled.
func (s *ExchangeRateStream) Run(ctx context.Context) {
	s.logger.Info("rate stream starting", "stream", s.name, "url", s.wsURL)

	backoff := reconnectBase
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("rate stream disconnected, reconnecting...", "stream", s.name, "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = time.Duration(math.Min(float64(backoff*2), float64(reconnectMax)))
	}
}

type tickerMessage struct {
	Price string `json:"p"`
	Time  int64  `json:"T"`
}

func (s *ExchangeRateStream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}
	defer conn.CloseNow() //nolint:errcheck

	s.logger.Info("rate stream connected", "stream", s.name)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("ws read: %w", err)
		}
		s.handleMessage(data)
	}
}

func (s *ExchangeRateStream) handleMessage(data []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Debug("skip malformed tick", "stream", s.name, "error", err)
		return
	}
	rate, err := decimal.NewFromString(msg.Price)
	if err != nil || !rate.IsPositive() {
		return
	}

	s.mu.Lock()
	s.lastRate = rate
	if msg.Time > 0 {
		s.lastAt = time.UnixMilli(msg.Time)
	} else {
		s.lastAt = time.Now()
	}
	s.mu.Unlock()
}
