package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestListTransitionsInvalidLimit(t *testing.T) {
	// Invalid limits are rejected before the store is touched.
	handler := ListTransitions(nil)

	for _, limit := range []string{"abc", "0", "-5", "201"} {
		req := httptest.NewRequest(http.MethodGet, "/api/transitions?limit="+limit, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want %d", limit, rec.Code, http.StatusBadRequest)
		}
	}
}
