package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/web3-frozen/collateral-monitor/internal/basket"
	"github.com/web3-frozen/collateral-monitor/internal/collateral"
	"github.com/web3-frozen/collateral-monitor/internal/metrics"
	"github.com/web3-frozen/collateral-monitor/internal/statecache"
	"github.com/web3-frozen/collateral-monitor/internal/store"
)

const (
	defaultRefreshInterval = 1 * time.Minute
	sampleRetention        = 30 * 24 * time.Hour
)

// AlertFunc sends a message to a Telegram chat.
type AlertFunc func(chatID int64, message string) error

// Store is the slice of the persistence layer the engine uses.
type Store interface {
	InsertTransition(ctx context.Context, t *store.StatusTransition) error
	InsertRateSample(ctx context.Context, r *store.RateSample) error
	InsertNotification(ctx context.Context, chatID int64, symbol, eventName, message string) error
	GetSubscriberChatIDs(ctx context.Context, eventName string) ([]int64, error)
	CleanupOldRateSamples(ctx context.Context, maxAge time.Duration) (int64, error)
	ListEvents(ctx context.Context) ([]store.Event, error)
	CountSubscriptions(ctx context.Context, eventName string) (int, error)
	CountLinkedUsers(ctx context.Context) (int, error)
}

// StateCache persists durable collateral state and alert dedup keys.
type StateCache interface {
	SaveState(ctx context.Context, symbol string, st statecache.State) error
	LoadState(ctx context.Context, symbol string) (statecache.State, bool, error)
	AlreadySent(ctx context.Context, key string) bool
	Record(ctx context.Context, key string, ttl time.Duration)
	Clear(ctx context.Context, key string)
}

// Engine drives the refresh cycle over every registered collateral asset,
// persists what each refresh observed and fans out status-change alerts.
type Engine struct {
	registry *basket.Registry
	store    Store
	cache    StateCache
	logger   *slog.Logger
	alertFn  AlertFunc
	interval time.Duration
}

func NewEngine(reg *basket.Registry, st Store, cache StateCache, logger *slog.Logger, alertFn AlertFunc, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	return &Engine{
		registry: reg,
		store:    st,
		cache:    cache,
		logger:   logger,
		alertFn:  alertFn,
		interval: interval,
	}
}

// RestoreStates replays persisted peaks and statuses into the engines.
// Called once at startup, before the first refresh.
func (e *Engine) RestoreStates(ctx context.Context) {
	for _, c := range e.registry.List() {
		st, ok, err := e.cache.LoadState(ctx, c.Symbol())
		if err != nil {
			e.logger.Error("load state failed", "symbol", c.Symbol(), "error", err)
			continue
		}
		if !ok {
			continue
		}
		c.RestoreState(st.Peak, st.Status, st.IffySince)
		e.logger.Info("state restored",
			"symbol", c.Symbol(),
			"peak", st.Peak.String(),
			"status", st.Status.String(),
		)
	}
}

// Run starts the refresh loop and the daily report scheduler.
func (e *Engine) Run(ctx context.Context) {
	// Initial refresh
	e.refreshAll(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	// Daily report at 8am HKT (UTC+8 = 00:00 UTC)
	reportTimer := e.nextReportTimer()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refreshAll(ctx)
		case <-reportTimer.C:
			e.sendDailyReports(ctx)
			e.cleanupSamples(ctx)
			e.updateBusinessMetrics(ctx)
			reportTimer = e.nextReportTimer()
		}
	}
}

func (e *Engine) refreshAll(ctx context.Context) {
	for _, c := range e.registry.List() {
		e.refreshOne(ctx, c)
	}
	e.updatePortfolioMetrics()
}

func (e *Engine) refreshOne(ctx context.Context, c *collateral.Collateral) {
	start := time.Now()
	tr := c.Refresh(ctx)
	metrics.RefreshDuration.WithLabelValues(c.Symbol()).Observe(time.Since(start).Seconds())

	snap := c.Snapshot()
	price, priceErr := c.TryPrice()

	outcome := "priced"
	if priceErr != nil {
		outcome = "unpriceable"
	}
	metrics.RefreshTotal.WithLabelValues(snap.Symbol, outcome).Inc()
	metrics.CollateralStatus.WithLabelValues(snap.Symbol).Set(float64(snap.Status))
	metrics.RefPerTok.WithLabelValues(snap.Symbol).Set(snap.RefPerTok.InexactFloat64())
	metrics.FeedStalenessSeconds.WithLabelValues(snap.Symbol).Set(c.Staleness().Seconds())
	if priceErr == nil {
		metrics.PriceLow.WithLabelValues(snap.Symbol).Set(price.Low.InexactFloat64())
		metrics.PriceHigh.WithLabelValues(snap.Symbol).Set(price.High.InexactFloat64())
	}

	peak, status, iffySince := c.State()
	if err := e.cache.SaveState(ctx, snap.Symbol, statecache.State{
		Peak:      peak,
		Status:    status,
		IffySince: iffySince,
	}); err != nil {
		e.logger.Error("save state failed", "symbol", snap.Symbol, "error", err)
	}

	sample := &store.RateSample{
		Symbol:      snap.Symbol,
		RawRate:     snap.RawRate.String(),
		ExposedRate: snap.RefPerTok.String(),
		SampledAt:   snap.LastRefresh,
	}
	if priceErr == nil {
		sample.PriceLow = price.Low.String()
		sample.PriceHigh = price.High.String()
		sample.PegPrice = price.Peg.String()
	}
	if err := e.store.InsertRateSample(ctx, sample); err != nil {
		e.logger.Error("insert rate sample failed", "symbol", snap.Symbol, "error", err)
	}

	if tr != nil {
		e.handleTransition(ctx, c, tr)
	}
}

func (e *Engine) handleTransition(ctx context.Context, c *collateral.Collateral, tr *collateral.Transition) {
	metrics.StatusTransitionsTotal.WithLabelValues(tr.Symbol, tr.To.String()).Inc()

	if err := e.store.InsertTransition(ctx, &store.StatusTransition{
		Symbol:     tr.Symbol,
		FromStatus: tr.From.String(),
		ToStatus:   tr.To.String(),
		Reason:     tr.Reason,
		OccurredAt: tr.At,
	}); err != nil {
		e.logger.Error("insert transition failed", "symbol", tr.Symbol, "error", err)
	}

	// A relapse into the state we just left should alert again.
	e.cache.Clear(ctx, alertKey(tr.Symbol, tr.From))

	key := alertKey(tr.Symbol, tr.To)
	if e.cache.AlreadySent(ctx, key) {
		metrics.AlertsDeduplicatedTotal.WithLabelValues(tr.Symbol, "status_change").Inc()
		return
	}

	eventName := tr.Symbol + "_status_change"
	chatIDs, err := e.store.GetSubscriberChatIDs(ctx, eventName)
	if err != nil {
		e.logger.Error("get subscribers failed", "event", eventName, "error", err)
		return
	}

	e.broadcast(ctx, tr.Symbol, eventName, chatIDs, transitionMessage(c, tr))
	e.cache.Record(ctx, key, 0)
}

func (e *Engine) sendDailyReports(ctx context.Context) {
	chatIDs, err := e.store.GetSubscriberChatIDs(ctx, "portfolio_daily_report")
	if err != nil {
		e.logger.Error("get subscribers failed", "event", "portfolio_daily_report", "error", err)
	} else if len(chatIDs) > 0 {
		e.broadcast(ctx, "portfolio", "portfolio_daily_report", chatIDs, portfolioReport(e.registry.Portfolio()))
	}

	for _, c := range e.registry.List() {
		eventName := c.Symbol() + "_daily_report"
		chatIDs, err := e.store.GetSubscriberChatIDs(ctx, eventName)
		if err != nil {
			e.logger.Error("get subscribers failed", "event", eventName, "error", err)
			continue
		}
		if len(chatIDs) == 0 {
			continue
		}
		e.broadcast(ctx, c.Symbol(), eventName, chatIDs, assetReport(c))
	}
}

func (e *Engine) broadcast(ctx context.Context, symbol, eventName string, chatIDs []int64, msg string) {
	for _, chatID := range chatIDs {
		if err := e.alertFn(chatID, msg); err != nil {
			e.logger.Error("send alert failed", "chat_id", chatID, "error", err)
			metrics.AlertsFailedTotal.WithLabelValues(symbol, eventName).Inc()
			continue
		}
		metrics.AlertsSentTotal.WithLabelValues(symbol, eventName).Inc()
		if err := e.store.InsertNotification(ctx, chatID, symbol, eventName, msg); err != nil {
			e.logger.Error("log notification failed", "chat_id", chatID, "error", err)
		}
	}
}

func (e *Engine) updatePortfolioMetrics() {
	p := e.registry.Portfolio()
	metrics.PortfolioBackingLow.Set(p.TotalLow.InexactFloat64())
	metrics.PortfolioRatio.Set(p.Ratio.InexactFloat64())
}

func (e *Engine) updateBusinessMetrics(ctx context.Context) {
	if users, err := e.store.CountLinkedUsers(ctx); err == nil {
		metrics.TelegramLinkedUsers.Set(float64(users))
	}
	events, err := e.store.ListEvents(ctx)
	if err != nil {
		return
	}
	for _, ev := range events {
		if count, err := e.store.CountSubscriptions(ctx, ev.Name); err == nil {
			metrics.SubscriptionsActive.WithLabelValues(ev.Name).Set(float64(count))
		}
	}
}

func (e *Engine) cleanupSamples(ctx context.Context) {
	deleted, err := e.store.CleanupOldRateSamples(ctx, sampleRetention)
	if err != nil {
		e.logger.Error("rate sample cleanup failed", "error", err)
		return
	}
	e.logger.Info("rate samples cleaned up", "deleted", deleted)
}

func (e *Engine) nextReportTimer() *time.Timer {
	hkt := time.FixedZone("HKT", 8*60*60)
	now := time.Now().In(hkt)
	next := time.Date(now.Year(), now.Month(), now.Day(), 8, 0, 0, 0, hkt)
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	duration := time.Until(next)
	e.logger.Info("next daily report", "at", next.Format(time.RFC3339), "in", duration.Round(time.Minute))
	return time.NewTimer(duration)
}

func alertKey(symbol string, status collateral.Status) string {
	return "alert:" + symbol + ":" + status.String()
}

func statusEmoji(s collateral.Status) string {
	switch s {
	case collateral.StatusDefaulted:
		return "🚨"
	case collateral.StatusIffy:
		return "⚠️"
	default:
		return "✅"
	}
}

func transitionMessage(c *collateral.Collateral, tr *collateral.Transition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s → %s\n\n", statusEmoji(tr.To), tr.Symbol, tr.From, tr.To)
	fmt.Fprintf(&b, "Reason: %s\n", tr.Reason)
	fmt.Fprintf(&b, "Exposed rate: %s\n", c.RefPerTok())
	if low, high, err := c.PriceRange(); err == nil {
		fmt.Fprintf(&b, "Price: [%s, %s]", low, high)
	} else {
		b.WriteString("Price: unavailable")
	}
	return b.String()
}

func portfolioReport(p basket.Portfolio) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Portfolio Daily Report</b> — %s\n\n", p.GeneratedAt.Format("2006-01-02"))
	fmt.Fprintf(&b, "Backing (low):  $%s\n", addCommas(p.TotalLow.StringFixed(2)))
	fmt.Fprintf(&b, "Backing (high): $%s\n", addCommas(p.TotalHigh.StringFixed(2)))
	if p.Liabilities.IsPositive() {
		fmt.Fprintf(&b, "Liabilities:    $%s\n", addCommas(p.Liabilities.StringFixed(2)))
		fmt.Fprintf(&b, "Collateralization: %s%%\n", p.Ratio.Shift(2).StringFixed(1))
	}
	if len(p.Assets) > 0 {
		b.WriteString("\nAssets:\n")
		for _, a := range p.Assets {
			fmt.Fprintf(&b, "• %s %s  rate=%s  share=%s%%\n",
				a.Symbol, a.Status, a.RefPerTok, a.Share.Shift(2).StringFixed(1))
		}
	}
	if len(p.Excluded) > 0 {
		b.WriteString("\nExcluded:\n")
		for _, x := range p.Excluded {
			fmt.Fprintf(&b, "• %s (%s)\n", x.Symbol, x.Reason)
		}
	}
	return b.String()
}

func assetReport(c *collateral.Collateral) string {
	snap := c.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s Daily Report</b>\n\n", statusEmoji(snap.Status), snap.Symbol)
	fmt.Fprintf(&b, "Status: %s\n", snap.Status)
	fmt.Fprintf(&b, "Raw rate: %s\n", snap.RawRate)
	fmt.Fprintf(&b, "Exposed rate: %s\n", snap.RefPerTok)
	if low, high, err := c.PriceRange(); err == nil {
		fmt.Fprintf(&b, "Price: [%s, %s]\n", low, high)
	} else {
		b.WriteString("Price: unavailable\n")
	}
	fmt.Fprintf(&b, "Last refresh: %s", snap.LastRefresh.Format(time.RFC3339))
	return b.String()
}

func addCommas(s string) string {
	parts := strings.SplitN(s, ".", 2)
	intPart := parts[0]
	n := len(intPart)
	if n <= 3 {
		if len(parts) == 2 {
			return intPart + "." + parts[1]
		}
		return intPart
	}
	var result []byte
	for i, c := range intPart {
		if i > 0 && (n-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	if len(parts) == 2 {
		return string(result) + "." + parts[1]
	}
	return string(result)
}
