package collateral

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Collateral wraps one deposit-able asset: it prices it, tracks its
// appreciation with revenue hiding, and judges whether its peg is still
// trustworthy. All mutation happens inside Refresh; every other method is
// a pure read of cached state.
type Collateral struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	tracker   appreciationTracker
	status    Status
	iffySince time.Time

	primary     Reading
	secondary   Reading
	rawRate     decimal.Decimal
	lastRefresh time.Time
	createdAt   time.Time
}

// Transition records a soundness change produced by a refresh.
type Transition struct {
	Symbol string
	From   Status
	To     Status
	At     time.Time
	Reason string
}

// Snapshot is a read-only view of the asset's current state.
type Snapshot struct {
	Symbol         string          `json:"symbol"`
	Target         string          `json:"target"`
	Mode           string          `json:"mode"`
	Status         Status          `json:"status"`
	IffySince      *time.Time      `json:"iffy_since,omitempty"`
	RefPerTok      decimal.Decimal `json:"ref_per_tok"`
	RawRate        decimal.Decimal `json:"raw_rate"`
	MaxTradeVolume decimal.Decimal `json:"max_trade_volume"`
	LastRefresh    time.Time       `json:"last_refresh"`
}

// New validates the config and returns a SOUND collateral instance.
func New(cfg Config, logger *slog.Logger) (*Collateral, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collateral{
		cfg:     cfg,
		logger:  logger.With("collateral", cfg.Symbol),
		now:     time.Now,
		tracker: newAppreciationTracker(cfg.RevenueHiding),
		status:  StatusSound,
	}
	c.createdAt = c.now()
	return c, nil
}

// Refresh re-reads the collaborators, advances the appreciation tracker and
// drives the soundness state machine. It returns a non-nil Transition when
// the status changed. Refreshing twice in the same instant is idempotent.
func (c *Collateral) Refresh(ctx context.Context) *Transition {
	now := c.now()

	raw, rateErr := readRate(ctx, c.cfg.RateSource)
	primary, primaryErr := readFeed(ctx, c.cfg.PrimaryFeed)
	var secondary Reading
	var secondaryErr error
	if c.cfg.Mode == ModeNonFiat {
		secondary, secondaryErr = readFeed(ctx, c.cfg.SecondaryFeed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastRefresh = now

	// Failed reads keep the previous reading; staleness keeps accruing
	// against its UpdatedAt, so a dead feed cannot pin a fresh-looking
	// price forever.
	if primaryErr != nil {
		c.logger.Warn("primary feed read failed", "feed", c.cfg.PrimaryFeed.Name(), "error", primaryErr)
	} else {
		c.primary = primary
	}
	if c.cfg.Mode == ModeNonFiat {
		if secondaryErr != nil {
			c.logger.Warn("secondary feed read failed", "feed", c.cfg.SecondaryFeed.Name(), "error", secondaryErr)
		} else {
			c.secondary = secondary
		}
	}

	brokenPromise := false
	switch {
	case rateErr != nil:
		c.logger.Warn("exchange rate read failed", "source", c.cfg.RateSource.Name(), "error", rateErr)
	case raw.IsNegative():
		c.logger.Error("exchange rate source returned negative rate", "source", c.cfg.RateSource.Name(), "rate", raw)
	default:
		// The exposed rate is a promise about backing. A raw rate below
		// it means the underlying lost more than the hidden margin.
		brokenPromise = c.tracker.peak.IsPositive() && raw.Cmp(c.tracker.exposed()) < 0
		c.rawRate = raw
		c.tracker.update(raw)
	}

	prev := c.status
	reason := c.advance(now, brokenPromise)
	if c.status == prev {
		return nil
	}
	c.logger.Info("status transition", "from", prev.String(), "to", c.status.String(), "reason", reason)
	return &Transition{Symbol: c.cfg.Symbol, From: prev, To: c.status, At: now, Reason: reason}
}

// advance applies the transition rules. Caller holds the write lock.
func (c *Collateral) advance(now time.Time, brokenPromise bool) string {
	if c.status == StatusDefaulted {
		return ""
	}

	// Unknowable price for too long is itself a default condition.
	if c.staleness(now) > c.cfg.PriceTimeout {
		c.status = StatusDefaulted
		c.iffySince = time.Time{}
		return "price unknown past timeout"
	}

	// A grace period that ran out is judged at observation time: even a
	// condition that cleared meanwhile defaults if we only see it now.
	if c.status == StatusIffy && now.Sub(c.iffySince) >= c.cfg.DelayUntilDefault {
		c.status = StatusDefaulted
		c.iffySince = time.Time{}
		return "grace period elapsed"
	}

	price, err := c.priceLocked(now)
	if err != nil {
		// Stale beyond a feed timeout but within the price timeout: the
		// peg cannot be judged, hold the current status.
		return ""
	}

	deviation := price.Peg.Sub(one).Abs()
	faulted := deviation.Cmp(c.cfg.DefaultThreshold) > 0 || brokenPromise

	switch {
	case faulted && c.status == StatusSound:
		c.status = StatusIffy
		c.iffySince = now
		if brokenPromise {
			return "backing shortfall"
		}
		return fmt.Sprintf("peg deviation %s", deviation.Round(6))
	case !faulted && c.status == StatusIffy:
		c.status = StatusSound
		c.iffySince = time.Time{}
		return "condition cleared"
	}
	return ""
}

// TryPrice returns the current bounded price estimate from cached state.
// It never re-reads feeds and never mutates.
func (c *Collateral) TryPrice() (Price, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.priceLocked(c.now())
}

// PriceRange returns (low, high) or ErrUnpriceable; it never fabricates a
// zero price.
func (c *Collateral) PriceRange() (low, high decimal.Decimal, err error) {
	p, err := c.TryPrice()
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	return p.Low, p.High, nil
}

// Status reports current soundness. Once DEFAULT it stays DEFAULT.
func (c *Collateral) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// RefPerTok returns the exposed (revenue-hidden) exchange rate. It is
// monotonically non-decreasing for a fixed hiding fraction.
func (c *Collateral) RefPerTok() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tracker.exposed()
}

// ClaimRewards forwards any claimable reward balance to the holder and
// returns the amount claimed. It has no effect on soundness or pricing.
func (c *Collateral) ClaimRewards(ctx context.Context) (decimal.Decimal, error) {
	if c.cfg.Rewards == nil {
		return decimal.Decimal{}, nil
	}
	amount, err := c.cfg.Rewards.Claim(ctx)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("claim rewards: %w", err)
	}
	return amount, nil
}

// Symbol returns the asset identifier.
func (c *Collateral) Symbol() string { return c.cfg.Symbol }

// Staleness returns the age of the oldest feed reading backing the price.
func (c *Collateral) Staleness() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.staleness(c.now())
}

// Snapshot returns a read-only view for the API and persistence layers.
func (c *Collateral) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{
		Symbol:         c.cfg.Symbol,
		Target:         c.cfg.TargetName,
		Mode:           c.cfg.Mode.String(),
		Status:         c.status,
		RefPerTok:      c.tracker.exposed(),
		RawRate:        c.rawRate,
		MaxTradeVolume: c.cfg.MaxTradeVolume,
		LastRefresh:    c.lastRefresh,
	}
	if !c.iffySince.IsZero() {
		t := c.iffySince
		s.IffySince = &t
	}
	return s
}

// State exposes the durable part of the instance for the state cache.
func (c *Collateral) State() (peak decimal.Decimal, status Status, iffySince time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tracker.peak, c.status, c.iffySince
}

// RestoreState replays persisted state after a restart. It only ever
// raises the peak and worsens the status; a restart must not un-default
// an asset or re-expose hidden appreciation.
func (c *Collateral) RestoreState(peak decimal.Decimal, status Status, iffySince time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracker.restore(peak)
	if status > c.status {
		c.status = status
		if status == StatusIffy {
			c.iffySince = iffySince
		} else {
			c.iffySince = time.Time{}
		}
	}
}
