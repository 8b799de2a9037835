package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/web3-frozen/collateral-monitor/internal/store"
)

// ListTransitions returns recorded status transitions, newest first.
// Optional query params: symbol, limit (default 50, max 200).
func ListTransitions(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")

		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			l, err := strconv.Atoi(v)
			if err != nil || l <= 0 || l > 200 {
				http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
				return
			}
			limit = l
		}

		transitions, err := s.ListTransitions(r.Context(), symbol, limit)
		if err != nil {
			http.Error(w, `{"error":"failed to list transitions"}`, http.StatusInternalServerError)
			return
		}
		if transitions == nil {
			transitions = []store.StatusTransition{}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(transitions)
	}
}
