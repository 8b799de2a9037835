package collateral

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidConfig is returned by New when a Config fails validation.
// Construction failures are fatal: an invalid asset must never be registered.
var ErrInvalidConfig = errors.New("invalid collateral config")

// Mode selects how oracle feeds are combined into a price. It is fixed at
// construction; only the feeds relevant to the mode are read.
type Mode int

const (
	// ModeFiat prices a fiat-pegged asset. PrimaryFeed reports
	// unit-of-account per reference asset and doubles as the peg read
	// (target per reference, expected ~1 while sound).
	ModeFiat Mode = iota

	// ModeSelfReferential prices an asset whose target is its own
	// reference asset. PrimaryFeed reports unit-of-account per target;
	// the peg is structurally 1.
	ModeSelfReferential

	// ModeNonFiat chains two feeds: PrimaryFeed reports target per
	// reference (the peg), SecondaryFeed reports unit-of-account per
	// target.
	ModeNonFiat
)

func (m Mode) String() string {
	switch m {
	case ModeFiat:
		return "fiat"
	case ModeSelfReferential:
		return "self-referential"
	case ModeNonFiat:
		return "non-fiat"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps the wire form of a pricing mode back to its Mode value.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "fiat":
		return ModeFiat, nil
	case "self-referential":
		return ModeSelfReferential, nil
	case "non-fiat":
		return ModeNonFiat, nil
	default:
		return 0, fmt.Errorf("unknown pricing mode %q", s)
	}
}

// Config holds the immutable parameters of one collateral asset. All fields
// are fixed at construction and shared read-only afterwards.
type Config struct {
	Symbol     string
	TargetName string
	Mode       Mode

	PrimaryFeed    OracleFeed
	PrimaryTimeout time.Duration

	// SecondaryFeed is required for ModeNonFiat and ignored otherwise.
	SecondaryFeed    OracleFeed
	SecondaryTimeout time.Duration

	RateSource ExchangeRateSource
	Rewards    RewardClaimer // optional

	// OracleError is the relative uncertainty of a single feed reading,
	// e.g. 0.005 for ±0.5%.
	OracleError decimal.Decimal

	// MaxTradeVolume caps the unit-of-account volume a single disposal
	// trade may assume; carried for downstream auction sizing.
	MaxTradeVolume decimal.Decimal

	// DefaultThreshold is the maximum tolerated peg deviation fraction.
	DefaultThreshold decimal.Decimal

	// DelayUntilDefault is the grace window an asset may spend IFFY
	// before being forced to DEFAULT.
	DelayUntilDefault time.Duration

	// PriceTimeout is the absolute staleness bound: once every price
	// input is older than this, the price is treated as permanently
	// unknown and the asset defaults.
	PriceTimeout time.Duration

	// RevenueHiding is the fraction h of observed appreciation withheld
	// as a manipulation/loss buffer, 0 <= h < 1.
	RevenueHiding decimal.Decimal
}

func (c Config) validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, c.Symbol, fmt.Sprintf(format, args...))
	}

	if c.Symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidConfig)
	}
	if c.TargetName == "" {
		return fail("target name required")
	}
	if c.PrimaryFeed == nil {
		return fail("primary feed required")
	}
	if c.PrimaryTimeout <= 0 {
		return fail("primary feed timeout must be positive, got %s", c.PrimaryTimeout)
	}
	if c.Mode == ModeNonFiat {
		if c.SecondaryFeed == nil {
			return fail("secondary feed required for non-fiat mode")
		}
		if c.SecondaryTimeout <= 0 {
			return fail("secondary feed timeout must be positive, got %s", c.SecondaryTimeout)
		}
	}
	if c.RateSource == nil {
		return fail("exchange rate source required")
	}
	if c.OracleError.IsNegative() || c.OracleError.Cmp(one) >= 0 {
		return fail("oracle error must be in [0,1), got %s", c.OracleError)
	}
	if !c.MaxTradeVolume.IsPositive() {
		return fail("max trade volume must be positive, got %s", c.MaxTradeVolume)
	}
	if !c.DefaultThreshold.IsPositive() || c.DefaultThreshold.Cmp(one) >= 0 {
		return fail("default threshold must be in (0,1), got %s", c.DefaultThreshold)
	}
	if c.DelayUntilDefault <= 0 {
		return fail("delay until default must be positive, got %s", c.DelayUntilDefault)
	}
	if c.PriceTimeout <= 0 {
		return fail("price timeout must be positive, got %s", c.PriceTimeout)
	}
	if c.RevenueHiding.IsNegative() || c.RevenueHiding.Cmp(one) >= 0 {
		return fail("revenue hiding must be in [0,1), got %s", c.RevenueHiding)
	}
	return nil
}
