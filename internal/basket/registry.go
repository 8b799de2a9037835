// Package basket is the read-only aggregation facade over the registered
// collateral assets. It builds portfolio-level views by querying each
// asset's engine and must tolerate any single asset being unpriceable or
// defaulted without halting the traversal.
package basket

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/web3-frozen/collateral-monitor/internal/collateral"
)

type Registry struct {
	mu          sync.RWMutex
	items       map[string]*collateral.Collateral
	order       []string
	balances    map[string]decimal.Decimal
	liabilities decimal.Decimal
}

func NewRegistry() *Registry {
	return &Registry{
		items:    make(map[string]*collateral.Collateral),
		balances: make(map[string]decimal.Decimal),
	}
}

// Register adds a collateral instance. Symbols are unique; re-registering
// is a wiring bug and rejected.
func (r *Registry) Register(c *collateral.Collateral) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sym := c.Symbol()
	if _, ok := r.items[sym]; ok {
		return fmt.Errorf("collateral %s already registered", sym)
	}
	r.items[sym] = c
	r.order = append(r.order, sym)
	return nil
}

func (r *Registry) Get(symbol string) (*collateral.Collateral, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[symbol]
	return c, ok
}

// List returns all registered instances in registration order.
func (r *Registry) List() []*collateral.Collateral {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*collateral.Collateral, 0, len(r.order))
	for _, sym := range r.order {
		out = append(out, r.items[sym])
	}
	return out
}

// SetBalance records the protocol's holdings of one asset, in tokens.
func (r *Registry) SetBalance(symbol string, balance decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[symbol] = balance
}

// SetLiabilities records the total stablecoin supply backed by the basket.
func (r *Registry) SetLiabilities(total decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.liabilities = total
}

// Asset is one priced line of the portfolio view.
type Asset struct {
	Symbol    string            `json:"symbol"`
	Status    collateral.Status `json:"status"`
	RefPerTok decimal.Decimal   `json:"ref_per_tok"`
	Balance   decimal.Decimal   `json:"balance"`
	PriceLow  decimal.Decimal   `json:"price_low"`
	PriceHigh decimal.Decimal   `json:"price_high"`
	Value     decimal.Decimal   `json:"value"`
	Share     decimal.Decimal   `json:"share"`
}

// Excluded names an asset left out of the totals and why.
type Excluded struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

type Portfolio struct {
	TotalLow    decimal.Decimal `json:"total_backing_low"`
	TotalHigh   decimal.Decimal `json:"total_backing_high"`
	Liabilities decimal.Decimal `json:"liabilities"`
	// Ratio is total_backing_low / liabilities, zero when liabilities
	// are unknown.
	Ratio       decimal.Decimal `json:"collateralization_ratio"`
	Assets      []Asset         `json:"assets"`
	Excluded    []Excluded      `json:"excluded"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Portfolio walks every registered asset and aggregates backing value.
// Defaulted and unpriceable assets are zero-weighted and listed under
// Excluded; they never abort the traversal.
func (r *Registry) Portfolio() Portfolio {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p := Portfolio{
		Liabilities: r.liabilities,
		Assets:      []Asset{},
		Excluded:    []Excluded{},
		GeneratedAt: time.Now(),
	}

	for _, sym := range r.order {
		c := r.items[sym]

		if status := c.Status(); status == collateral.StatusDefaulted {
			p.Excluded = append(p.Excluded, Excluded{Symbol: sym, Reason: "defaulted"})
			continue
		}
		low, high, err := c.PriceRange()
		if err != nil {
			p.Excluded = append(p.Excluded, Excluded{Symbol: sym, Reason: "unpriceable"})
			continue
		}

		balance := r.balances[sym]
		a := Asset{
			Symbol:    sym,
			Status:    c.Status(),
			RefPerTok: c.RefPerTok(),
			Balance:   balance,
			PriceLow:  low,
			PriceHigh: high,
			// Backing is valued at the low bound: the basket never
			// promises more than the defensible minimum.
			Value: balance.Mul(low),
		}
		p.TotalLow = p.TotalLow.Add(balance.Mul(low))
		p.TotalHigh = p.TotalHigh.Add(balance.Mul(high))
		p.Assets = append(p.Assets, a)
	}

	if p.TotalLow.IsPositive() {
		for i := range p.Assets {
			p.Assets[i].Share = p.Assets[i].Value.Div(p.TotalLow)
		}
	}
	if r.liabilities.IsPositive() {
		p.Ratio = p.TotalLow.Div(r.liabilities)
	}
	return p
}
