package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validCollaterals = `{
  "liabilities": "1000000",
  "assets": [
    {
      "symbol": "wcUSDC",
      "target": "USD",
      "mode": "fiat",
      "balance": "500000",
      "oracle_error": "0.0025",
      "max_trade_volume": "1000000",
      "default_threshold": "0.01",
      "delay_until_default_s": 86400,
      "price_timeout_s": 259200,
      "revenue_hiding": "0.0001",
      "primary_feed": {"type": "chainlink", "name": "usdc-usd", "url": "https://oracle.example.com/usdc-usd", "timeout_s": 86400},
      "rate_source": {"type": "pool", "name": "cusdc-pool", "rate_url": "https://pool.example.com/rate"}
    },
    {
      "symbol": "wcWBTC",
      "target": "BTC",
      "mode": "non-fiat",
      "balance": "10",
      "oracle_error": "0.005",
      "max_trade_volume": "1000000",
      "default_threshold": "0.02",
      "delay_until_default_s": 86400,
      "price_timeout_s": 259200,
      "revenue_hiding": "0.0001",
      "primary_feed": {"type": "chainlink", "name": "wbtc-btc", "url": "https://oracle.example.com/wbtc-btc", "timeout_s": 86400},
      "secondary_feed": {"type": "chainlink", "name": "btc-usd", "url": "https://oracle.example.com/btc-usd", "timeout_s": 3600},
      "rate_source": {"type": "static", "name": "unity", "value": "1"}
    }
  ]
}`

func writeCollaterals(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collaterals.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadCollaterals(t *testing.T) {
	f, err := LoadCollaterals(writeCollaterals(t, validCollaterals))
	if err != nil {
		t.Fatalf("LoadCollaterals: %v", err)
	}

	if f.Liabilities != "1000000" {
		t.Errorf("Liabilities = %q, want 1000000", f.Liabilities)
	}
	if len(f.Assets) != 2 {
		t.Fatalf("len(Assets) = %d, want 2", len(f.Assets))
	}
	if f.Assets[0].Symbol != "wcUSDC" || f.Assets[0].PrimaryFeed.Type != "chainlink" {
		t.Errorf("first asset = %+v", f.Assets[0])
	}
	if f.Assets[1].SecondaryFeed == nil || f.Assets[1].SecondaryFeed.Name != "btc-usd" {
		t.Errorf("second asset secondary feed = %+v", f.Assets[1].SecondaryFeed)
	}
}

func TestLoadCollateralsRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "invalid json",
			content: `{not json`,
			wantErr: "parse",
		},
		{
			name:    "no assets",
			content: `{"liabilities": "1", "assets": []}`,
			wantErr: "no assets",
		},
		{
			name: "missing symbol",
			content: `{"assets": [{"target": "USD", "mode": "fiat",
				"primary_feed": {"type": "static", "name": "one", "value": "1", "timeout_s": 60},
				"rate_source": {"type": "static", "name": "one", "value": "1"}}]}`,
			wantErr: "symbol required",
		},
		{
			name: "duplicate symbol",
			content: `{"assets": [
				{"symbol": "wcUSDC", "target": "USD", "mode": "fiat",
				 "primary_feed": {"type": "static", "name": "one", "value": "1", "timeout_s": 60},
				 "rate_source": {"type": "static", "name": "one", "value": "1"}},
				{"symbol": "wcUSDC", "target": "USD", "mode": "fiat",
				 "primary_feed": {"type": "static", "name": "one", "value": "1", "timeout_s": 60},
				 "rate_source": {"type": "static", "name": "one", "value": "1"}}]}`,
			wantErr: "duplicate",
		},
		{
			name: "unknown feed type",
			content: `{"assets": [{"symbol": "wcUSDC", "target": "USD", "mode": "fiat",
				"primary_feed": {"type": "carrier-pigeon", "name": "one", "timeout_s": 60},
				"rate_source": {"type": "static", "name": "one", "value": "1"}}]}`,
			wantErr: "unknown feed type",
		},
		{
			name: "non-fiat without secondary feed",
			content: `{"assets": [{"symbol": "wcWBTC", "target": "BTC", "mode": "non-fiat",
				"primary_feed": {"type": "static", "name": "one", "value": "1", "timeout_s": 60},
				"rate_source": {"type": "static", "name": "one", "value": "1"}}]}`,
			wantErr: "secondary feed",
		},
		{
			name: "dashboard source without selector",
			content: `{"assets": [{"symbol": "wcUSDC", "target": "USD", "mode": "fiat",
				"primary_feed": {"type": "static", "name": "one", "value": "1", "timeout_s": 60},
				"rate_source": {"type": "dashboard", "name": "dash", "page_url": "https://example.com"}}]}`,
			wantErr: "selector",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCollaterals(writeCollaterals(t, tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadCollateralsMissingFile(t *testing.T) {
	if _, err := LoadCollaterals(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
