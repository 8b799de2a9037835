package collateral

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeFeed struct {
	name    string
	price   decimal.Decimal
	updated time.Time
	err     error
}

func (f *fakeFeed) Name() string { return f.name }
func (f *fakeFeed) Read(context.Context) (Reading, error) {
	if f.err != nil {
		return Reading{}, f.err
	}
	return Reading{Price: f.price, UpdatedAt: f.updated}, nil
}

type fakeRate struct {
	rate decimal.Decimal
	err  error
}

func (f *fakeRate) Name() string { return "fake-rate" }
func (f *fakeRate) RefPerTok(context.Context) (decimal.Decimal, error) {
	return f.rate, f.err
}

type fakeClaimer struct {
	amount decimal.Decimal
	err    error
	calls  int
}

func (f *fakeClaimer) Claim(context.Context) (decimal.Decimal, error) {
	f.calls++
	return f.amount, f.err
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

// testCollateral builds a fiat-mode instance with a controllable clock,
// feed and rate source. Scenario defaults match the documented config:
// oracleError 0.5%, threshold 1%, delay 86400s.
func testCollateral(t *testing.T, mutate func(*Config)) (*Collateral, *fakeClock, *fakeFeed, *fakeRate) {
	t.Helper()

	clk := &fakeClock{t: t0}
	feed := &fakeFeed{name: "usdc-usd", price: dec("1.00"), updated: t0}
	rate := &fakeRate{rate: dec("1.00")}

	cfg := Config{
		Symbol:            "wcUSDC",
		TargetName:        "USD",
		Mode:              ModeFiat,
		PrimaryFeed:       feed,
		PrimaryTimeout:    time.Hour,
		RateSource:        rate,
		OracleError:       dec("0.005"),
		MaxTradeVolume:    dec("1000000"),
		DefaultThreshold:  dec("0.01"),
		DelayUntilDefault: 86400 * time.Second,
		PriceTimeout:      72 * time.Hour,
		RevenueHiding:     dec("0.001"),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.now = clk.Now
	c.createdAt = clk.Now()
	return c, clk, feed, rate
}

func refresh(t *testing.T, c *Collateral) *Transition {
	t.Helper()
	return c.Refresh(context.Background())
}

func TestRefPerTokMonotonicWithHiding(t *testing.T) {
	c, clk, feed, rate := testCollateral(t, func(cfg *Config) {
		cfg.RevenueHiding = dec("0.1")
	})

	steps := []struct {
		raw     string
		exposed string
	}{
		{"1.00", "0.9"},
		{"1.05", "0.945"},
		{"1.03", "0.945"}, // dip must not lower the exposed rate
	}
	for i, step := range steps {
		rate.rate = dec(step.raw)
		feed.updated = clk.Now()
		refresh(t, c)
		if got := c.RefPerTok(); !got.Equal(dec(step.exposed)) {
			t.Errorf("step %d: RefPerTok() = %s, want %s", i, got, step.exposed)
		}
		clk.Advance(time.Minute)
	}
}

func TestExposedNeverExceedsPeak(t *testing.T) {
	c, clk, feed, rate := testCollateral(t, func(cfg *Config) {
		cfg.RevenueHiding = dec("0.02")
	})

	for _, raw := range []string{"1.0", "1.2", "0.9", "1.5", "1.4"} {
		rate.rate = dec(raw)
		feed.updated = clk.Now()
		refresh(t, c)
		peak, _, _ := c.State()
		if c.RefPerTok().Cmp(peak) > 0 {
			t.Fatalf("exposed %s exceeds peak %s", c.RefPerTok(), peak)
		}
		clk.Advance(time.Minute)
	}
}

func TestPriceBounds(t *testing.T) {
	c, _, feed, rate := testCollateral(t, nil)
	feed.price = dec("1.001")
	rate.rate = dec("1.07")
	refresh(t, c)

	p, err := c.TryPrice()
	if err != nil {
		t.Fatalf("TryPrice: %v", err)
	}
	mid := feed.price.Mul(c.RefPerTok())
	if p.Low.Cmp(mid) > 0 || mid.Cmp(p.High) > 0 {
		t.Errorf("want low <= mid <= high, got %s <= %s <= %s", p.Low, mid, p.High)
	}
	if !p.Peg.Equal(feed.price) {
		t.Errorf("Peg = %s, want %s", p.Peg, feed.price)
	}
}

func TestSpreadScalesWithOracleError(t *testing.T) {
	spread := func(oracleError string) decimal.Decimal {
		c, _, _, _ := testCollateral(t, func(cfg *Config) {
			cfg.OracleError = dec(oracleError)
		})
		refresh(t, c)
		p, err := c.TryPrice()
		if err != nil {
			t.Fatalf("TryPrice: %v", err)
		}
		return p.High.Sub(p.Low)
	}

	narrow := spread("0.005")
	wide := spread("0.01")
	if !wide.Equal(narrow.Mul(dec("2"))) {
		t.Errorf("doubling oracle error: spread %s, want %s", wide, narrow.Mul(dec("2")))
	}
}

func TestPricingModes(t *testing.T) {
	exposed := dec("1.00") // hiding 0 below, raw 1.00

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMid string
		wantPeg string
	}{
		{
			name: "fiat",
			mutate: func(cfg *Config) {
				cfg.PrimaryFeed = &fakeFeed{name: "ref-uoa", price: dec("0.999"), updated: t0}
			},
			wantMid: "0.999",
			wantPeg: "0.999",
		},
		{
			name: "self-referential",
			mutate: func(cfg *Config) {
				cfg.Mode = ModeSelfReferential
				cfg.PrimaryFeed = &fakeFeed{name: "eth-usd", price: dec("2000"), updated: t0}
			},
			wantMid: "2000",
			wantPeg: "1",
		},
		{
			name: "non-fiat chained",
			mutate: func(cfg *Config) {
				cfg.Mode = ModeNonFiat
				cfg.PrimaryFeed = &fakeFeed{name: "tgt-ref", price: dec("0.98"), updated: t0}
				cfg.SecondaryFeed = &fakeFeed{name: "uoa-tgt", price: dec("30000"), updated: t0}
				cfg.SecondaryTimeout = time.Hour
			},
			wantMid: "29400", // 0.98 * 30000 * 1.00
			wantPeg: "0.98",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _, _ := testCollateral(t, func(cfg *Config) {
				cfg.RevenueHiding = decimal.Zero
				tt.mutate(cfg)
			})
			refresh(t, c)

			p, err := c.TryPrice()
			if err != nil {
				t.Fatalf("TryPrice: %v", err)
			}
			mid := p.Low.Add(p.High).Div(dec("2"))
			if !mid.Equal(dec(tt.wantMid).Mul(exposed)) {
				t.Errorf("mid = %s, want %s", mid, tt.wantMid)
			}
			if !p.Peg.Equal(dec(tt.wantPeg)) {
				t.Errorf("peg = %s, want %s", p.Peg, tt.wantPeg)
			}
		})
	}
}

func TestStaleFeedUnpriceableButSound(t *testing.T) {
	c, clk, _, _ := testCollateral(t, func(cfg *Config) {
		cfg.Mode = ModeNonFiat
		cfg.SecondaryFeed = &fakeFeed{name: "uoa-tgt", price: dec("30000"), updated: t0}
		cfg.SecondaryTimeout = time.Hour
	})
	secondary := c.cfg.SecondaryFeed.(*fakeFeed)

	refresh(t, c)
	if _, err := c.TryPrice(); err != nil {
		t.Fatalf("fresh feeds should price: %v", err)
	}

	// Primary goes quiet for 2h (past its 1h timeout); secondary stays fresh.
	clk.Advance(2 * time.Hour)
	secondary.updated = clk.Now()
	refresh(t, c)

	if _, err := c.TryPrice(); !errors.Is(err, ErrUnpriceable) {
		t.Fatalf("TryPrice err = %v, want ErrUnpriceable", err)
	}
	if got := c.Status(); got != StatusSound {
		t.Errorf("Status = %v, want SOUND while within price timeout", got)
	}
}

func TestPriceTimeoutForcesDefault(t *testing.T) {
	c, clk, _, _ := testCollateral(t, nil)
	refresh(t, c)

	clk.Advance(73 * time.Hour) // past the 72h price timeout
	tr := refresh(t, c)

	if got := c.Status(); got != StatusDefaulted {
		t.Fatalf("Status = %v, want DEFAULT after price timeout", got)
	}
	if tr == nil || tr.To != StatusDefaulted {
		t.Errorf("expected a transition to DEFAULT, got %+v", tr)
	}
}

func TestHysteresisRecoversBeforeDeadline(t *testing.T) {
	c, clk, feed, _ := testCollateral(t, nil)

	feed.price = dec("1.02") // 2% deviation > 1% threshold
	tr := refresh(t, c)
	if tr == nil || tr.To != StatusIffy {
		t.Fatalf("expected SOUND->IFFY, got %+v", tr)
	}
	_, _, iffySince := c.State()
	if !iffySince.Equal(t0) {
		t.Errorf("iffySince = %v, want %v", iffySince, t0)
	}

	clk.Advance(500 * time.Second)
	feed.price = dec("1.005") // back under threshold
	feed.updated = clk.Now()
	tr = refresh(t, c)
	if tr == nil || tr.To != StatusSound {
		t.Fatalf("expected IFFY->SOUND, got %+v", tr)
	}
	if _, _, since := c.State(); !since.IsZero() {
		t.Errorf("iffySince not cleared: %v", since)
	}
}

func TestHysteresisDefaultsAtDeadline(t *testing.T) {
	c, clk, feed, _ := testCollateral(t, nil)

	feed.price = dec("1.02")
	refresh(t, c)

	clk.Advance(86400 * time.Second)
	feed.updated = clk.Now() // deviation persists, feed itself fresh
	tr := refresh(t, c)
	if tr == nil || tr.To != StatusDefaulted {
		t.Fatalf("expected IFFY->DEFAULT at deadline, got %+v", tr)
	}
}

func TestRecoveryAtDeadlineStillDefaults(t *testing.T) {
	c, clk, feed, _ := testCollateral(t, nil)

	feed.price = dec("1.02")
	refresh(t, c)

	// The peg recovers, but the engine only observes it once the grace
	// window has fully elapsed.
	clk.Advance(86400 * time.Second)
	feed.price = dec("1.00")
	feed.updated = clk.Now()
	refresh(t, c)

	if got := c.Status(); got != StatusDefaulted {
		t.Errorf("Status = %v, want DEFAULT when recovery observed at deadline", got)
	}
}

func TestDefaultIsTerminal(t *testing.T) {
	c, clk, feed, rate := testCollateral(t, nil)

	feed.price = dec("1.02")
	refresh(t, c)
	clk.Advance(86400 * time.Second)
	feed.updated = clk.Now()
	refresh(t, c)
	if c.Status() != StatusDefaulted {
		t.Fatalf("setup: expected DEFAULT")
	}

	// Fully recovered feeds for a week of refreshes.
	feed.price = dec("1.00")
	rate.rate = dec("1.10")
	for i := 0; i < 7; i++ {
		clk.Advance(24 * time.Hour)
		feed.updated = clk.Now()
		if tr := refresh(t, c); tr != nil {
			t.Fatalf("refresh %d produced transition out of DEFAULT: %+v", i, tr)
		}
		if c.Status() != StatusDefaulted {
			t.Fatalf("refresh %d: status left DEFAULT", i)
		}
	}
}

func TestBrokenPromiseTriggersIffy(t *testing.T) {
	c, clk, feed, rate := testCollateral(t, func(cfg *Config) {
		cfg.RevenueHiding = dec("0.01")
	})

	rate.rate = dec("1.00")
	refresh(t, c)
	if c.Status() != StatusSound {
		t.Fatalf("setup: expected SOUND")
	}

	// Exposed rate promised 0.99; a raw rate below that is a backing
	// shortfall even though the peg reads clean.
	clk.Advance(time.Minute)
	rate.rate = dec("0.95")
	feed.updated = clk.Now()
	tr := refresh(t, c)
	if tr == nil || tr.To != StatusIffy {
		t.Fatalf("expected SOUND->IFFY on backing shortfall, got %+v", tr)
	}
	if tr.Reason != "backing shortfall" {
		t.Errorf("Reason = %q, want backing shortfall", tr.Reason)
	}
}

func TestSmallDipWithinHiddenMarginStaysSound(t *testing.T) {
	c, clk, feed, rate := testCollateral(t, func(cfg *Config) {
		cfg.RevenueHiding = dec("0.05")
	})

	rate.rate = dec("1.00")
	refresh(t, c)

	clk.Advance(time.Minute)
	rate.rate = dec("0.97") // above the exposed 0.95
	feed.updated = clk.Now()
	if tr := refresh(t, c); tr != nil {
		t.Fatalf("dip inside hidden margin transitioned: %+v", tr)
	}
	if c.Status() != StatusSound {
		t.Errorf("Status = %v, want SOUND", c.Status())
	}
}

func TestRefreshIdempotentSameInstant(t *testing.T) {
	c, _, feed, _ := testCollateral(t, nil)

	feed.price = dec("1.02")
	tr := refresh(t, c)
	if tr == nil || tr.To != StatusIffy {
		t.Fatalf("setup: expected IFFY, got %+v", tr)
	}
	_, _, since1 := c.State()

	// Same instant, same feed data: no further transition, no state drift.
	if tr := refresh(t, c); tr != nil {
		t.Fatalf("second refresh at same instant transitioned: %+v", tr)
	}
	_, _, since2 := c.State()
	if !since1.Equal(since2) {
		t.Errorf("iffySince moved from %v to %v", since1, since2)
	}
}

func TestReadsDoNotMutate(t *testing.T) {
	c, _, feed, _ := testCollateral(t, nil)
	feed.price = dec("1.02")
	refresh(t, c)

	peak1, status1, since1 := c.State()
	for i := 0; i < 3; i++ {
		_, _ = c.TryPrice()
		_ = c.Status()
		_ = c.RefPerTok()
		_ = c.Snapshot()
	}
	peak2, status2, since2 := c.State()

	if !peak1.Equal(peak2) || status1 != status2 || !since1.Equal(since2) {
		t.Errorf("read-only queries mutated state: (%s,%v,%v) -> (%s,%v,%v)",
			peak1, status1, since1, peak2, status2, since2)
	}
}

func TestRateReadFailureKeepsExposedRate(t *testing.T) {
	c, clk, feed, rate := testCollateral(t, nil)

	rate.rate = dec("1.05")
	refresh(t, c)
	before := c.RefPerTok()

	clk.Advance(time.Minute)
	rate.err = errors.New("rpc timeout")
	feed.updated = clk.Now()
	refresh(t, c)

	if got := c.RefPerTok(); !got.Equal(before) {
		t.Errorf("RefPerTok changed on rate read failure: %s -> %s", before, got)
	}
	if _, err := c.TryPrice(); err != nil {
		t.Errorf("cached rate should still price: %v", err)
	}
}

func TestUnpriceableBeforeFirstRateObservation(t *testing.T) {
	c, _, _, rate := testCollateral(t, nil)
	rate.err = errors.New("rpc down")
	refresh(t, c)

	if _, err := c.TryPrice(); !errors.Is(err, ErrUnpriceable) {
		t.Errorf("TryPrice err = %v, want ErrUnpriceable before any rate observation", err)
	}
}

func TestFeedPanicIsContained(t *testing.T) {
	c, _, _, _ := testCollateral(t, func(cfg *Config) {
		cfg.PrimaryFeed = panickyFeed{}
	})

	// Must not propagate the panic to the caller iterating many assets.
	refresh(t, c)
	if _, err := c.TryPrice(); !errors.Is(err, ErrUnpriceable) {
		t.Errorf("TryPrice err = %v, want ErrUnpriceable", err)
	}
}

type panickyFeed struct{}

func (panickyFeed) Name() string                          { return "boom" }
func (panickyFeed) Read(context.Context) (Reading, error) { panic("feed reverted") }

func TestClaimRewards(t *testing.T) {
	claimer := &fakeClaimer{amount: dec("12.5")}
	c, _, feed, _ := testCollateral(t, func(cfg *Config) {
		cfg.Rewards = claimer
	})
	feed.price = dec("1.00")
	refresh(t, c)
	statusBefore := c.Status()
	rateBefore := c.RefPerTok()

	got, err := c.ClaimRewards(context.Background())
	if err != nil {
		t.Fatalf("ClaimRewards: %v", err)
	}
	if !got.Equal(dec("12.5")) {
		t.Errorf("claimed = %s, want 12.5", got)
	}
	if claimer.calls != 1 {
		t.Errorf("claimer calls = %d, want 1", claimer.calls)
	}
	if c.Status() != statusBefore || !c.RefPerTok().Equal(rateBefore) {
		t.Error("ClaimRewards affected soundness or exposed rate")
	}
}

func TestClaimRewardsWithoutClaimer(t *testing.T) {
	c, _, _, _ := testCollateral(t, nil)
	got, err := c.ClaimRewards(context.Background())
	if err != nil {
		t.Fatalf("ClaimRewards: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("claimed = %s, want 0", got)
	}
}

func TestRestoreStateOnlyWorsens(t *testing.T) {
	c, _, _, _ := testCollateral(t, nil)
	refresh(t, c)

	c.RestoreState(dec("1.5"), StatusIffy, t0.Add(-time.Hour))
	peak, status, since := c.State()
	if !peak.Equal(dec("1.5")) {
		t.Errorf("peak = %s, want restored 1.5", peak)
	}
	if status != StatusIffy || !since.Equal(t0.Add(-time.Hour)) {
		t.Errorf("status = %v since %v, want IFFY since restore time", status, since)
	}

	// A lower peak or better status must be ignored.
	c.RestoreState(dec("1.0"), StatusSound, time.Time{})
	peak, status, _ = c.State()
	if !peak.Equal(dec("1.5")) || status != StatusIffy {
		t.Errorf("restore lowered state: peak=%s status=%v", peak, status)
	}
}

func TestNewValidation(t *testing.T) {
	base := func() Config {
		return Config{
			Symbol:            "wstKRW",
			TargetName:        "KRW",
			Mode:              ModeFiat,
			PrimaryFeed:       &fakeFeed{name: "f"},
			PrimaryTimeout:    time.Hour,
			RateSource:        &fakeRate{rate: dec("1")},
			OracleError:       dec("0.005"),
			MaxTradeVolume:    dec("1000"),
			DefaultThreshold:  dec("0.01"),
			DelayUntilDefault: time.Hour,
			PriceTimeout:      time.Hour,
			RevenueHiding:     dec("0.001"),
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing symbol", func(c *Config) { c.Symbol = "" }},
		{"missing target", func(c *Config) { c.TargetName = "" }},
		{"nil primary feed", func(c *Config) { c.PrimaryFeed = nil }},
		{"zero primary timeout", func(c *Config) { c.PrimaryTimeout = 0 }},
		{"negative primary timeout", func(c *Config) { c.PrimaryTimeout = -time.Second }},
		{"non-fiat without secondary", func(c *Config) { c.Mode = ModeNonFiat }},
		{"non-fiat zero secondary timeout", func(c *Config) {
			c.Mode = ModeNonFiat
			c.SecondaryFeed = &fakeFeed{name: "g"}
		}},
		{"nil rate source", func(c *Config) { c.RateSource = nil }},
		{"oracle error negative", func(c *Config) { c.OracleError = dec("-0.1") }},
		{"oracle error >= 1", func(c *Config) { c.OracleError = dec("1") }},
		{"zero max trade volume", func(c *Config) { c.MaxTradeVolume = decimal.Zero }},
		{"zero threshold", func(c *Config) { c.DefaultThreshold = decimal.Zero }},
		{"threshold >= 1", func(c *Config) { c.DefaultThreshold = dec("1") }},
		{"zero delay", func(c *Config) { c.DelayUntilDefault = 0 }},
		{"zero price timeout", func(c *Config) { c.PriceTimeout = 0 }},
		{"hiding negative", func(c *Config) { c.RevenueHiding = dec("-0.01") }},
		{"hiding >= 1", func(c *Config) { c.RevenueHiding = dec("1") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			if _, err := New(cfg, nil); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New err = %v, want ErrInvalidConfig", err)
			}
		})
	}

	if _, err := New(base(), nil); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestStatusStringRoundTrip(t *testing.T) {
	for _, s := range []Status{StatusSound, StatusIffy, StatusDefaulted} {
		got, err := ParseStatus(s.String())
		if err != nil {
			t.Fatalf("ParseStatus(%q): %v", s.String(), err)
		}
		if got != s {
			t.Errorf("round trip %v -> %v", s, got)
		}
	}
	if _, err := ParseStatus("bogus"); err == nil {
		t.Error("ParseStatus(bogus) should fail")
	}
}
