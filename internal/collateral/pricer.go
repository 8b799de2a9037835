package collateral

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnpriceable signals that no defensible price exists right now. Callers
// must treat it as "price currently unknown", never as a zero price.
var ErrUnpriceable = errors.New("price unavailable")

// priceScale is the decimal precision price arithmetic is carried at.
const priceScale = 18

// Price is a bounded price estimate in the unit of account. Low <= High by
// construction; Peg is the observed target-per-reference ratio.
type Price struct {
	Low  decimal.Decimal
	High decimal.Decimal
	Peg  decimal.Decimal
}

// priceLocked combines the cached feed readings with the exposed exchange
// rate. Caller holds at least a read lock.
func (c *Collateral) priceLocked(now time.Time) (Price, error) {
	if c.tracker.peak.IsZero() {
		return Price{}, fmt.Errorf("%w: no exchange rate observed yet", ErrUnpriceable)
	}
	if c.primary.UpdatedAt.IsZero() {
		return Price{}, fmt.Errorf("%w: no reading from feed %s yet", ErrUnpriceable, c.cfg.PrimaryFeed.Name())
	}
	if c.cfg.Mode == ModeNonFiat && c.secondary.UpdatedAt.IsZero() {
		return Price{}, fmt.Errorf("%w: no reading from feed %s yet", ErrUnpriceable, c.cfg.SecondaryFeed.Name())
	}
	if age := now.Sub(c.effectiveUpdate(c.primary)); age > c.cfg.PrimaryTimeout {
		return Price{}, fmt.Errorf("%w: feed %s stale for %s", ErrUnpriceable, c.cfg.PrimaryFeed.Name(), age.Round(time.Second))
	}
	if c.cfg.Mode == ModeNonFiat {
		if age := now.Sub(c.effectiveUpdate(c.secondary)); age > c.cfg.SecondaryTimeout {
			return Price{}, fmt.Errorf("%w: feed %s stale for %s", ErrUnpriceable, c.cfg.SecondaryFeed.Name(), age.Round(time.Second))
		}
	}

	exposed := c.tracker.exposed()
	var mid, peg decimal.Decimal
	switch c.cfg.Mode {
	case ModeFiat:
		// One feed: reference -> unit of account. While sound the same
		// number is the target-per-reference peg read.
		mid = c.primary.Price.Mul(exposed)
		peg = c.primary.Price
	case ModeSelfReferential:
		// Target == reference, so the peg holds structurally.
		mid = c.primary.Price.Mul(exposed)
		peg = one
	case ModeNonFiat:
		// Chained conversion: errors compose multiplicatively.
		peg = c.primary.Price
		mid = c.primary.Price.Mul(c.secondary.Price).Mul(exposed)
	default:
		return Price{}, fmt.Errorf("%w: unknown pricing mode %v", ErrUnpriceable, c.cfg.Mode)
	}

	spread := mid.Mul(c.cfg.OracleError).RoundUp(priceScale)
	return Price{Low: mid.Sub(spread), High: mid.Add(spread), Peg: peg}, nil
}

// effectiveUpdate maps a never-populated reading onto the construction time
// so staleness accrues from birth rather than from the unix epoch.
func (c *Collateral) effectiveUpdate(r Reading) time.Time {
	if r.UpdatedAt.IsZero() {
		return c.createdAt
	}
	return r.UpdatedAt
}

// staleness is the age of the oldest price input. Once it exceeds the
// configured price timeout the price is permanently unknown.
func (c *Collateral) staleness(now time.Time) time.Duration {
	s := now.Sub(c.effectiveUpdate(c.primary))
	if c.cfg.Mode == ModeNonFiat {
		if s2 := now.Sub(c.effectiveUpdate(c.secondary)); s2 > s {
			s = s2
		}
	}
	return s
}
