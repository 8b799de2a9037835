package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ── HTTP request metrics (RED method) ──────────────────────────────────

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collateral_monitor",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "collateral_monitor",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collateral_monitor",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})
)

// ── Refresh cycle metrics ──────────────────────────────────────────────

var (
	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collateral_monitor",
		Subsystem: "refresh",
		Name:      "total",
		Help:      "Total number of refresh attempts per asset.",
	}, []string{"symbol", "status"})

	RefreshDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "collateral_monitor",
		Subsystem: "refresh",
		Name:      "duration_seconds",
		Help:      "Duration of one asset refresh in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"symbol"})

	FeedStalenessSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "collateral_monitor",
		Subsystem: "refresh",
		Name:      "feed_staleness_seconds",
		Help:      "Age of the oldest oracle reading per asset in seconds.",
	}, []string{"symbol"})
)

// ── Collateral state metrics ───────────────────────────────────────────

var (
	// CollateralStatus exposes the soundness enum as a gauge:
	// 0 = SOUND, 1 = IFFY, 2 = DEFAULT.
	CollateralStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "collateral_monitor",
		Subsystem: "collateral",
		Name:      "status",
		Help:      "Current soundness status per asset (0=SOUND, 1=IFFY, 2=DEFAULT).",
	}, []string{"symbol"})

	RefPerTok = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "collateral_monitor",
		Subsystem: "collateral",
		Name:      "ref_per_tok",
		Help:      "Exposed reference units per collateral token.",
	}, []string{"symbol"})

	PriceLow = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "collateral_monitor",
		Subsystem: "collateral",
		Name:      "price_low",
		Help:      "Lower bound of the asset price in units of account.",
	}, []string{"symbol"})

	PriceHigh = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "collateral_monitor",
		Subsystem: "collateral",
		Name:      "price_high",
		Help:      "Upper bound of the asset price in units of account.",
	}, []string{"symbol"})

	StatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collateral_monitor",
		Subsystem: "collateral",
		Name:      "status_transitions_total",
		Help:      "Total status transitions per asset and destination status.",
	}, []string{"symbol", "to"})

	PortfolioBackingLow = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collateral_monitor",
		Subsystem: "portfolio",
		Name:      "backing_low",
		Help:      "Total portfolio backing valued at the low price bound.",
	})

	PortfolioRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collateral_monitor",
		Subsystem: "portfolio",
		Name:      "collateralization_ratio",
		Help:      "Backing at the low bound divided by liabilities.",
	})
)

// ── Alert delivery metrics ─────────────────────────────────────────────

var (
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collateral_monitor",
		Subsystem: "alerts",
		Name:      "sent_total",
		Help:      "Total alerts successfully delivered.",
	}, []string{"symbol", "type"})

	AlertsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collateral_monitor",
		Subsystem: "alerts",
		Name:      "failed_total",
		Help:      "Total alert delivery failures.",
	}, []string{"symbol", "type"})

	AlertsDeduplicatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collateral_monitor",
		Subsystem: "alerts",
		Name:      "deduplicated_total",
		Help:      "Total alerts suppressed by deduplication.",
	}, []string{"symbol", "type"})
)

// ── Business metrics ───────────────────────────────────────────────────

var (
	SubscriptionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "collateral_monitor",
		Subsystem: "business",
		Name:      "subscriptions_active",
		Help:      "Number of active subscriptions per event.",
	}, []string{"event_name"})

	TelegramLinkedUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collateral_monitor",
		Subsystem: "business",
		Name:      "telegram_linked_users",
		Help:      "Total number of linked Telegram users.",
	})

	RewardsClaimedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collateral_monitor",
		Subsystem: "business",
		Name:      "rewards_claimed_total",
		Help:      "Total reward claim operations per asset.",
	}, []string{"symbol", "status"})
)
