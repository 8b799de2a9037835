package handler

import (
	"encoding/json"
	"net/http"

	"github.com/web3-frozen/collateral-monitor/internal/basket"
)

// GetPortfolio returns the aggregated portfolio view.
func GetPortfolio(reg *basket.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reg.Portfolio())
	}
}
