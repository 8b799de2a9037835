package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/web3-frozen/collateral-monitor/internal/basket"
	"github.com/web3-frozen/collateral-monitor/internal/collateral"
	"github.com/web3-frozen/collateral-monitor/internal/metrics"
	"github.com/web3-frozen/collateral-monitor/internal/store"
)

// collateralView is a Snapshot plus the current price bounds. The bounds
// are null when the asset is unpriceable; a missing price is never zero.
type collateralView struct {
	collateral.Snapshot
	PriceLow  *decimal.Decimal `json:"price_low"`
	PriceHigh *decimal.Decimal `json:"price_high"`
}

func viewOf(c *collateral.Collateral) collateralView {
	v := collateralView{Snapshot: c.Snapshot()}
	if low, high, err := c.PriceRange(); err == nil {
		v.PriceLow, v.PriceHigh = &low, &high
	}
	return v
}

// ListCollateral returns a snapshot of every registered asset.
func ListCollateral(reg *basket.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assets := reg.List()
		views := make([]collateralView, 0, len(assets))
		for _, c := range assets {
			views = append(views, viewOf(c))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(views)
	}
}

// GetCollateral returns the snapshot of one asset by symbol.
func GetCollateral(reg *basket.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := reg.Get(chi.URLParam(r, "symbol"))
		if !ok {
			http.Error(w, `{"error":"unknown collateral"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(viewOf(c))
	}
}

// GetCollateralPrice returns the bounded price estimate of one asset.
// An unpriceable asset answers 503: the caller must not mistake a missing
// price for a zero price.
func GetCollateralPrice(reg *basket.Registry) http.HandlerFunc {
	type response struct {
		Symbol string          `json:"symbol"`
		Low    decimal.Decimal `json:"low"`
		High   decimal.Decimal `json:"high"`
		Peg    decimal.Decimal `json:"peg"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		symbol := chi.URLParam(r, "symbol")
		c, ok := reg.Get(symbol)
		if !ok {
			http.Error(w, `{"error":"unknown collateral"}`, http.StatusNotFound)
			return
		}
		p, err := c.TryPrice()
		if err != nil {
			http.Error(w, `{"error":"price unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response{Symbol: symbol, Low: p.Low, High: p.High, Peg: p.Peg})
	}
}

// ClaimRewards forwards a claim to the asset's reward source and records
// the claimed amount.
func ClaimRewards(reg *basket.Registry, s *store.Store) http.HandlerFunc {
	type response struct {
		Symbol  string          `json:"symbol"`
		Claimed decimal.Decimal `json:"claimed"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		symbol := chi.URLParam(r, "symbol")
		c, ok := reg.Get(symbol)
		if !ok {
			http.Error(w, `{"error":"unknown collateral"}`, http.StatusNotFound)
			return
		}

		amount, err := c.ClaimRewards(r.Context())
		if err != nil {
			metrics.RewardsClaimedTotal.WithLabelValues(symbol, "error").Inc()
			http.Error(w, `{"error":"claim failed"}`, http.StatusBadGateway)
			return
		}
		metrics.RewardsClaimedTotal.WithLabelValues(symbol, "ok").Inc()

		if s != nil && amount.IsPositive() {
			// The claim already happened; losing the audit row is not a
			// reason to fail the request.
			_ = s.InsertRewardClaim(r.Context(), symbol, amount.String(), time.Now())
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response{Symbol: symbol, Claimed: amount})
	}
}
