package feeds

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/web3-frozen/collateral-monitor/internal/collateral"
)

// StaticFeed reports a constant price that is always fresh. It backs
// structural conversions, e.g. the target-per-reference read of an asset
// whose target is its own reference.
type StaticFeed struct {
	name  string
	price decimal.Decimal
}

func NewStatic(name string, price decimal.Decimal) *StaticFeed {
	return &StaticFeed{name: name, price: price}
}

func (f *StaticFeed) Name() string { return f.name }

func (f *StaticFeed) Read(context.Context) (collateral.Reading, error) {
	return collateral.Reading{Price: f.price, UpdatedAt: time.Now()}, nil
}

// RefPerTok lets a StaticFeed double as a constant exchange rate source,
// e.g. for wrappers that never appreciate.
func (f *StaticFeed) RefPerTok(context.Context) (decimal.Decimal, error) {
	return f.price, nil
}
