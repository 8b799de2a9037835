package feeds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// PoolRateSource reads a vault's price-per-share from its indexer endpoint
// and forwards reward claims against the vault's claim endpoint. The claim
// path is the reward pass-through: it never touches pricing or soundness.
type PoolRateSource struct {
	name     string
	client   *http.Client
	rateURL  string
	claimURL string
}

func NewPoolRate(name, rateURL, claimURL string) *PoolRateSource {
	return &PoolRateSource{
		name:     name,
		client:   &http.Client{Timeout: 15 * time.Second},
		rateURL:  rateURL,
		claimURL: claimURL,
	}
}

func (p *PoolRateSource) Name() string { return p.name }

type poolRateResponse struct {
	PricePerShare string `json:"pricePerShare"`
}

// RefPerTok returns the current reference-units-per-share exchange rate.
func (p *PoolRateSource) RefPerTok(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.rateURL, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("pool %s: %w", p.name, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("pool %s: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("pool %s: status %d", p.name, resp.StatusCode)
	}

	var pr poolRateResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return decimal.Decimal{}, fmt.Errorf("pool %s: decode: %w", p.name, err)
	}

	rate, err := decimal.NewFromString(pr.PricePerShare)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("pool %s: parse rate: %w", p.name, err)
	}
	return rate, nil
}

type poolClaimResponse struct {
	Claimed string `json:"claimed"`
}

// Claim forwards the accrued reward balance to the holder and returns the
// amount claimed, which may be zero.
func (p *PoolRateSource) Claim(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.claimURL, bytes.NewReader([]byte(`{}`)))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("pool %s claim: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("pool %s claim: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("pool %s claim: status %d", p.name, resp.StatusCode)
	}

	var cr poolClaimResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return decimal.Decimal{}, fmt.Errorf("pool %s claim: decode: %w", p.name, err)
	}
	if cr.Claimed == "" {
		return decimal.Zero, nil
	}

	amount, err := decimal.NewFromString(cr.Claimed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("pool %s claim: parse amount: %w", p.name, err)
	}
	return amount, nil
}
