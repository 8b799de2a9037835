package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPoolRefPerTok(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		_, _ = w.Write([]byte(`{"pricePerShare":"1.0345"}`))
	}))
	defer srv.Close()

	p := &PoolRateSource{name: "vault", client: srv.Client(), rateURL: srv.URL}
	rate, err := p.RefPerTok(context.Background())
	if err != nil {
		t.Fatalf("RefPerTok: %v", err)
	}
	if rate.String() != "1.0345" {
		t.Errorf("rate = %s, want 1.0345", rate)
	}
}

func TestPoolRefPerTokBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pricePerShare":"???"}`))
	}))
	defer srv.Close()

	p := &PoolRateSource{name: "vault", client: srv.Client(), rateURL: srv.URL}
	if _, err := p.RefPerTok(context.Background()); err == nil {
		t.Error("expected parse error, got nil")
	}
}

func TestPoolClaim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		_, _ = w.Write([]byte(`{"claimed":"2.75"}`))
	}))
	defer srv.Close()

	p := &PoolRateSource{name: "vault", client: srv.Client(), claimURL: srv.URL}
	amount, err := p.Claim(context.Background())
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if amount.String() != "2.75" {
		t.Errorf("claimed = %s, want 2.75", amount)
	}
}

func TestPoolClaimNothingAccrued(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := &PoolRateSource{name: "vault", client: srv.Client(), claimURL: srv.URL}
	amount, err := p.Claim(context.Background())
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !amount.IsZero() {
		t.Errorf("claimed = %s, want 0", amount)
	}
}
