package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// FeedSpec describes one oracle feed in the collateral definitions file.
type FeedSpec struct {
	// Type is "chainlink" or "static".
	Type string `json:"type"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	// Value is the constant price for static feeds.
	Value string `json:"value,omitempty"`
	// TimeoutS is the per-feed staleness bound in seconds.
	TimeoutS int64 `json:"timeout_s"`
}

// RateSourceSpec describes where an asset's raw exchange rate comes from.
type RateSourceSpec struct {
	// Type is "pool", "stream", "dashboard" or "static".
	Type     string `json:"type"`
	Name     string `json:"name"`
	RateURL  string `json:"rate_url,omitempty"`
	ClaimURL string `json:"claim_url,omitempty"`
	WSURL    string `json:"ws_url,omitempty"`
	PageURL  string `json:"page_url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`
}

// AssetSpec is one collateral asset definition. Decimal-valued fields are
// strings so the file round-trips exactly.
type AssetSpec struct {
	Symbol             string          `json:"symbol"`
	Target             string          `json:"target"`
	Mode               string          `json:"mode"`
	Balance            string          `json:"balance"`
	OracleError        string          `json:"oracle_error"`
	MaxTradeVolume     string          `json:"max_trade_volume"`
	DefaultThreshold   string          `json:"default_threshold"`
	DelayUntilDefaultS int64           `json:"delay_until_default_s"`
	PriceTimeoutS      int64           `json:"price_timeout_s"`
	RevenueHiding      string          `json:"revenue_hiding"`
	PrimaryFeed        FeedSpec        `json:"primary_feed"`
	SecondaryFeed      *FeedSpec       `json:"secondary_feed,omitempty"`
	RateSource         RateSourceSpec  `json:"rate_source"`
	Rewards            *RateSourceSpec `json:"rewards,omitempty"`
}

// CollateralsFile is the root of the collateral definitions document.
type CollateralsFile struct {
	Liabilities string      `json:"liabilities"`
	Assets      []AssetSpec `json:"assets"`
}

// LoadCollaterals reads and structurally validates the definitions file.
// Value-range validation happens later, when the engine configs are built.
func LoadCollaterals(path string) (*CollateralsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read collateral file: %w", err)
	}

	var f CollateralsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse collateral file: %w", err)
	}

	if len(f.Assets) == 0 {
		return nil, fmt.Errorf("collateral file %s defines no assets", path)
	}

	seen := make(map[string]bool)
	for i, a := range f.Assets {
		if a.Symbol == "" {
			return nil, fmt.Errorf("asset %d: symbol required", i)
		}
		if seen[a.Symbol] {
			return nil, fmt.Errorf("duplicate asset symbol %s", a.Symbol)
		}
		seen[a.Symbol] = true

		if err := validateFeed(a.PrimaryFeed); err != nil {
			return nil, fmt.Errorf("%s: primary feed: %w", a.Symbol, err)
		}
		if a.Mode == "non-fiat" {
			if a.SecondaryFeed == nil {
				return nil, fmt.Errorf("%s: non-fiat mode needs a secondary feed", a.Symbol)
			}
			if err := validateFeed(*a.SecondaryFeed); err != nil {
				return nil, fmt.Errorf("%s: secondary feed: %w", a.Symbol, err)
			}
		}
		if err := validateRateSource(a.RateSource); err != nil {
			return nil, fmt.Errorf("%s: rate source: %w", a.Symbol, err)
		}
	}
	return &f, nil
}

func validateFeed(f FeedSpec) error {
	switch f.Type {
	case "chainlink":
		if f.URL == "" {
			return fmt.Errorf("chainlink feed needs a url")
		}
	case "static":
		if f.Value == "" {
			return fmt.Errorf("static feed needs a value")
		}
	default:
		return fmt.Errorf("unknown feed type %q", f.Type)
	}
	if f.Name == "" {
		return fmt.Errorf("feed name required")
	}
	return nil
}

func validateRateSource(r RateSourceSpec) error {
	switch r.Type {
	case "pool":
		if r.RateURL == "" {
			return fmt.Errorf("pool source needs a rate_url")
		}
	case "stream":
		if r.WSURL == "" {
			return fmt.Errorf("stream source needs a ws_url")
		}
	case "dashboard":
		if r.PageURL == "" || r.Selector == "" {
			return fmt.Errorf("dashboard source needs page_url and selector")
		}
	case "static":
		if r.Value == "" {
			return fmt.Errorf("static source needs a value")
		}
	default:
		return fmt.Errorf("unknown rate source type %q", r.Type)
	}
	return nil
}
