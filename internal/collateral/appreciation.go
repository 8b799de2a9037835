package collateral

import "github.com/shopspring/decimal"

var one = decimal.New(1, 0)

// appreciationTracker keeps the monotonic high-water mark of the true
// exchange rate and derives the exposed (revenue-hidden) rate reported to
// the rest of the system. The exposed rate never decreases and never
// exceeds the true peak, so a flash-inflated rate cannot be minted against
// and a later reversion cannot silently shrink reported backing.
type appreciationTracker struct {
	peak decimal.Decimal
	keep decimal.Decimal // 1 - h
}

func newAppreciationTracker(hiding decimal.Decimal) appreciationTracker {
	return appreciationTracker{keep: one.Sub(hiding)}
}

// update folds in the current raw rate and returns the exposed rate.
// A raw rate below the peak leaves the peak untouched; drops large enough
// to matter surface through the default monitor, not here.
func (t *appreciationTracker) update(raw decimal.Decimal) decimal.Decimal {
	if raw.Cmp(t.peak) > 0 {
		t.peak = raw
	}
	return t.exposed()
}

func (t *appreciationTracker) exposed() decimal.Decimal {
	return t.peak.Mul(t.keep)
}

// restore raises the peak to a previously persisted value. It never lowers
// it: a restart must not re-expose appreciation that was already promised.
func (t *appreciationTracker) restore(peak decimal.Decimal) {
	if peak.Cmp(t.peak) > 0 {
		t.peak = peak
	}
}
