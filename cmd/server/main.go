package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/web3-frozen/collateral-monitor/internal/basket"
	"github.com/web3-frozen/collateral-monitor/internal/collateral"
	"github.com/web3-frozen/collateral-monitor/internal/collateral/feeds"
	"github.com/web3-frozen/collateral-monitor/internal/config"
	"github.com/web3-frozen/collateral-monitor/internal/handler"
	"github.com/web3-frozen/collateral-monitor/internal/middleware"
	"github.com/web3-frozen/collateral-monitor/internal/monitor"
	"github.com/web3-frozen/collateral-monitor/internal/statecache"
	"github.com/web3-frozen/collateral-monitor/internal/store"
	"github.com/web3-frozen/collateral-monitor/internal/telegram"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	if cfg.TelegramToken == "" {
		logger.Error("TELEGRAM_BOT_TOKEN is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected and migrated")

	// Redis state cache (retry up to 30s for ExternalSecret to sync)
	var cache *statecache.Cache
	for i := 0; i < 6; i++ {
		cache, err = statecache.New(cfg.RedisURL, cfg.RedisPassword)
		if err == nil {
			break
		}
		logger.Warn("redis not ready, retrying...", "attempt", i+1, "error", err)
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		logger.Error("failed to connect to redis after retries", "error", err)
		os.Exit(1)
	}
	defer cache.Close()
	logger.Info("redis connected for state cache")

	// Collateral basket
	defs, err := config.LoadCollaterals(cfg.CollateralFile)
	if err != nil {
		logger.Error("failed to load collateral definitions", "file", cfg.CollateralFile, "error", err)
		os.Exit(1)
	}

	registry := basket.NewRegistry()
	runners, err := buildBasket(ctx, defs, registry, db, logger)
	if err != nil {
		logger.Error("failed to build collateral basket", "error", err)
		os.Exit(1)
	}
	logger.Info("collateral basket built", "assets", len(defs.Assets))

	// Telegram bot
	bot := telegram.NewBot(cfg.TelegramToken, db, registry, logger)

	// Monitoring engine
	engine := monitor.NewEngine(registry, db, cache, logger, bot.SendMessage, cfg.RefreshInterval)
	engine.RestoreStates(ctx)

	// Start background goroutines
	go bot.Run(ctx)
	for _, run := range runners {
		go run(ctx)
	}
	go engine.Run(ctx)

	// HTTP routes
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.FrontendOrigin))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handler.Health())
	r.Get("/readyz", handler.Ready(db))

	r.Route("/api", func(r chi.Router) {
		r.Get("/collateral", handler.ListCollateral(registry))
		r.Get("/collateral/{symbol}", handler.GetCollateral(registry))
		r.Get("/collateral/{symbol}/price", handler.GetCollateralPrice(registry))
		r.Post("/collateral/{symbol}/claim", handler.ClaimRewards(registry, db))
		r.Get("/portfolio", handler.GetPortfolio(registry))
		r.Get("/transitions", handler.ListTransitions(db))
		r.Get("/events", handler.ListEvents(db))
		r.Post("/link", handler.LinkTelegram(db))
		r.Get("/link/status", handler.LinkStatus(db))
		r.Post("/unlink", handler.UnlinkTelegram(db))
		r.Get("/subscriptions", handler.ListSubscriptions(db))
		r.Post("/subscriptions", handler.Subscribe(db))
		r.Delete("/subscriptions/{id}", handler.Unsubscribe(db))
		r.Get("/notifications", handler.ListNotifications(db))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gracefully")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

// buildBasket constructs every collateral asset from its definition,
// registers it and ensures its subscribable events exist. It returns the
// background runners of streaming rate sources.
func buildBasket(ctx context.Context, defs *config.CollateralsFile, registry *basket.Registry, db *store.Store, logger *slog.Logger) ([]func(context.Context), error) {
	var runners []func(context.Context)

	for _, spec := range defs.Assets {
		c, assetRunners, err := buildAsset(spec, logger)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", spec.Symbol, err)
		}
		if err := registry.Register(c); err != nil {
			return nil, err
		}
		if err := db.EnsureCollateralEvents(ctx, spec.Symbol); err != nil {
			return nil, fmt.Errorf("%s: ensure events: %w", spec.Symbol, err)
		}
		runners = append(runners, assetRunners...)

		if spec.Balance != "" {
			balance, err := decimal.NewFromString(spec.Balance)
			if err != nil {
				return nil, fmt.Errorf("%s: balance: %w", spec.Symbol, err)
			}
			registry.SetBalance(spec.Symbol, balance)
		}
	}

	if defs.Liabilities != "" {
		liabilities, err := decimal.NewFromString(defs.Liabilities)
		if err != nil {
			return nil, fmt.Errorf("liabilities: %w", err)
		}
		registry.SetLiabilities(liabilities)
	}
	return runners, nil
}

func buildAsset(spec config.AssetSpec, logger *slog.Logger) (*collateral.Collateral, []func(context.Context), error) {
	mode, err := collateral.ParseMode(spec.Mode)
	if err != nil {
		return nil, nil, err
	}

	primary, err := buildFeed(spec.PrimaryFeed)
	if err != nil {
		return nil, nil, fmt.Errorf("primary feed: %w", err)
	}

	cc := collateral.Config{
		Symbol:            spec.Symbol,
		TargetName:        spec.Target,
		Mode:              mode,
		PrimaryFeed:       primary,
		PrimaryTimeout:    time.Duration(spec.PrimaryFeed.TimeoutS) * time.Second,
		DelayUntilDefault: time.Duration(spec.DelayUntilDefaultS) * time.Second,
		PriceTimeout:      time.Duration(spec.PriceTimeoutS) * time.Second,
	}

	if spec.SecondaryFeed != nil {
		secondary, err := buildFeed(*spec.SecondaryFeed)
		if err != nil {
			return nil, nil, fmt.Errorf("secondary feed: %w", err)
		}
		cc.SecondaryFeed = secondary
		cc.SecondaryTimeout = time.Duration(spec.SecondaryFeed.TimeoutS) * time.Second
	}

	var runners []func(context.Context)
	cc.RateSource, runners, err = buildRateSource(spec.RateSource, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("rate source: %w", err)
	}

	if spec.Rewards != nil && spec.Rewards.ClaimURL != "" {
		cc.Rewards = feeds.NewPoolRate(spec.Rewards.Name, "", spec.Rewards.ClaimURL)
	} else if claimer, ok := cc.RateSource.(collateral.RewardClaimer); ok && spec.RateSource.ClaimURL != "" {
		// A pool rate source with a claim endpoint doubles as the claimer.
		cc.Rewards = claimer
	}

	for _, field := range []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"oracle_error", spec.OracleError, &cc.OracleError},
		{"max_trade_volume", spec.MaxTradeVolume, &cc.MaxTradeVolume},
		{"default_threshold", spec.DefaultThreshold, &cc.DefaultThreshold},
		{"revenue_hiding", spec.RevenueHiding, &cc.RevenueHiding},
	} {
		d, err := decimal.NewFromString(field.value)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", field.name, err)
		}
		*field.dst = d
	}

	c, err := collateral.New(cc, logger)
	if err != nil {
		return nil, nil, err
	}
	return c, runners, nil
}

func buildFeed(spec config.FeedSpec) (collateral.OracleFeed, error) {
	switch spec.Type {
	case "chainlink":
		return feeds.NewChainlink(spec.Name, spec.URL), nil
	case "static":
		price, err := decimal.NewFromString(spec.Value)
		if err != nil {
			return nil, fmt.Errorf("static value: %w", err)
		}
		return feeds.NewStatic(spec.Name, price), nil
	default:
		return nil, fmt.Errorf("unknown feed type %q", spec.Type)
	}
}

func buildRateSource(spec config.RateSourceSpec, logger *slog.Logger) (collateral.ExchangeRateSource, []func(context.Context), error) {
	switch spec.Type {
	case "pool":
		return feeds.NewPoolRate(spec.Name, spec.RateURL, spec.ClaimURL), nil, nil
	case "stream":
		s := feeds.NewExchangeRateStream(spec.Name, spec.WSURL, logger)
		return s, []func(context.Context){s.Run}, nil
	case "dashboard":
		return feeds.NewDashboardRate(spec.Name, spec.PageURL, spec.Selector), nil, nil
	case "static":
		value, err := decimal.NewFromString(spec.Value)
		if err != nil {
			return nil, nil, fmt.Errorf("static value: %w", err)
		}
		return feeds.NewStatic(spec.Name, value), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown rate source type %q", spec.Type)
	}
}
