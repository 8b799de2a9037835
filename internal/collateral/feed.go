package collateral

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Reading is a single oracle observation: a price plus the timestamp the
// upstream aggregator last updated it. Staleness is always judged against
// UpdatedAt, not against when we happened to fetch it.
type Reading struct {
	Price     decimal.Decimal
	UpdatedAt time.Time
}

// OracleFeed supplies a unit-conversion price. Which conversion a feed
// reports depends on the pricing mode it is wired into (see Config).
type OracleFeed interface {
	// Name returns a short identifier used in logs and error messages.
	Name() string

	// Read fetches the current price and its last-update timestamp.
	Read(ctx context.Context) (Reading, error)
}

// ExchangeRateSource supplies the raw reference-units-per-token exchange
// rate of the wrapped asset. Sources may be stale or manipulated; the
// appreciation tracker defends against both.
type ExchangeRateSource interface {
	Name() string
	RefPerTok(ctx context.Context) (decimal.Decimal, error)
}

// RewardClaimer forwards any claimable reward balance to the holder and
// reports the amount claimed. Claims never influence soundness.
type RewardClaimer interface {
	Claim(ctx context.Context) (decimal.Decimal, error)
}

// readFeed wraps OracleFeed.Read so a panicking collaborator degrades to an
// ordinary error instead of taking down a refresh sweep over many assets.
func readFeed(ctx context.Context, f OracleFeed) (r Reading, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("feed %s panicked: %v", f.Name(), p)
		}
	}()
	return f.Read(ctx)
}

func readRate(ctx context.Context, s ExchangeRateSource) (d decimal.Decimal, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("rate source %s panicked: %v", s.Name(), p)
		}
	}()
	return s.RefPerTok(ctx)
}
