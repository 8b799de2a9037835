package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/web3-frozen/collateral-monitor/internal/collateral"
)

// ChainlinkFeed reads a chainlink-style aggregator mirrored over HTTP JSON:
// a fixed-point answer, its decimals, and the round's update timestamp.
type ChainlinkFeed struct {
	name    string
	client  *http.Client
	baseURL string
}

func NewChainlink(name, url string) *ChainlinkFeed {
	return &ChainlinkFeed{
		name:    name,
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: url,
	}
}

func (f *ChainlinkFeed) Name() string { return f.name }

type chainlinkResponse struct {
	Answer    string `json:"answer"`
	Decimals  int32  `json:"decimals"`
	UpdatedAt int64  `json:"updatedAt"`
}

func (f *ChainlinkFeed) Read(ctx context.Context) (collateral.Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL, nil)
	if err != nil {
		return collateral.Reading{}, fmt.Errorf("feed %s: %w", f.name, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return collateral.Reading{}, fmt.Errorf("feed %s: %w", f.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return collateral.Reading{}, fmt.Errorf("feed %s: status %d", f.name, resp.StatusCode)
	}

	var cl chainlinkResponse
	if err := json.NewDecoder(resp.Body).Decode(&cl); err != nil {
		return collateral.Reading{}, fmt.Errorf("feed %s: decode: %w", f.name, err)
	}

	// Aggregators report zero/negative sentinels when a round is broken.
	if cl.UpdatedAt <= 0 {
		return collateral.Reading{}, fmt.Errorf("feed %s: invalid updatedAt %d", f.name, cl.UpdatedAt)
	}
	answer, err := decimal.NewFromString(cl.Answer)
	if err != nil {
		return collateral.Reading{}, fmt.Errorf("feed %s: parse answer: %w", f.name, err)
	}
	if !answer.IsPositive() {
		return collateral.Reading{}, fmt.Errorf("feed %s: non-positive answer %s", f.name, answer)
	}

	return collateral.Reading{
		Price:     answer.Shift(-cl.Decimals),
		UpdatedAt: time.Unix(cl.UpdatedAt, 0),
	}, nil
}
