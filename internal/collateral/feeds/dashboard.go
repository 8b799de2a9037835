package feeds

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/shopspring/decimal"
)

// DashboardRateSource scrapes an exchange rate off a protocol's web
// dashboard via headless Chrome. Last resort for protocols that publish
// their share rate only in a rendered app, with no API or subgraph.
type DashboardRateSource struct {
	name     string
	pageURL  string
	selector string // CSS selector of the element holding the rate
}

func NewDashboardRate(name, pageURL, selector string) *DashboardRateSource {
	return &DashboardRateSource{name: name, pageURL: pageURL, selector: selector}
}

func (d *DashboardRateSource) Name() string { return d.name }

// RefPerTok renders the dashboard and extracts the rate. The whole scrape
// is bounded by a 45s deadline so a wedged page cannot stall a refresh
// sweep indefinitely.
func (d *DashboardRateSource) RefPerTok(ctx context.Context) (decimal.Decimal, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-crash-reporter", true),
		chromedp.Flag("crash-dumps-dir", "/tmp"),
		chromedp.UserDataDir("/tmp/chromedp-profile"),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	chromeCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	chromeCtx, cancel = context.WithTimeout(chromeCtx, 45*time.Second)
	defer cancel()

	var raw string
	if err := chromedp.Run(chromeCtx,
		chromedp.Navigate(d.pageURL),
		chromedp.WaitVisible(d.selector, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
		chromedp.Text(d.selector, &raw, chromedp.ByQuery),
	); err != nil {
		return decimal.Decimal{}, fmt.Errorf("dashboard %s: scrape: %w", d.name, err)
	}

	rate, err := parseScrapedRate(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("dashboard %s: %w", d.name, err)
	}
	return rate, nil
}

// parseScrapedRate normalizes rendered text like "1 wstETH = 1.1842 ETH"
// or "1,184.20" down to the trailing numeric value.
func parseScrapedRate(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if i := strings.LastIndexByte(s, '='); i >= 0 {
		s = s[i+1:]
	}
	s = strings.ReplaceAll(s, ",", "")

	var num strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			num.WriteRune(r)
		} else if num.Len() > 0 {
			break
		}
	}
	if num.Len() == 0 {
		return decimal.Decimal{}, fmt.Errorf("no numeric rate in %q", raw)
	}

	rate, err := decimal.NewFromString(num.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse rate %q: %w", num.String(), err)
	}
	if !rate.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("non-positive rate in %q", raw)
	}
	return rate, nil
}
