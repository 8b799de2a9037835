// Package statecache persists the durable slice of each collateral engine
// (appreciation peak, soundness, iffy timestamp) in Redis, so a process
// restart cannot un-default an asset or re-expose hidden appreciation.
// It also tracks alert dedup keys.
package statecache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/web3-frozen/collateral-monitor/internal/collateral"
)

type Cache struct {
	rdb *redis.Client
}

// New connects to Redis and verifies the connection.
func New(redisURL, password string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Cache{rdb: rdb}, nil
}

func (c *Cache) Close() error { return c.rdb.Close() }

// State is the durable part of one collateral instance.
type State struct {
	Peak      decimal.Decimal
	Status    collateral.Status
	IffySince time.Time
}

func stateKey(symbol string) string { return "collateral:state:" + symbol }

// SaveState writes the asset's durable state. Called after every refresh
// that changed anything worth surviving a restart.
func (c *Cache) SaveState(ctx context.Context, symbol string, st State) error {
	iffy := int64(0)
	if !st.IffySince.IsZero() {
		iffy = st.IffySince.Unix()
	}
	return c.rdb.HSet(ctx, stateKey(symbol), map[string]any{
		"peak":       st.Peak.String(),
		"status":     st.Status.String(),
		"iffy_since": iffy,
	}).Err()
}

// LoadState reads persisted state. The second return is false when nothing
// was stored for the symbol; Redis errors also report not-found so a cold
// cache only costs a fresh start, never a crash.
func (c *Cache) LoadState(ctx context.Context, symbol string) (State, bool, error) {
	fields, err := c.rdb.HGetAll(ctx, stateKey(symbol)).Result()
	if err != nil {
		return State{}, false, err
	}
	if len(fields) == 0 {
		return State{}, false, nil
	}

	var st State
	st.Peak, err = decimal.NewFromString(fields["peak"])
	if err != nil {
		return State{}, false, fmt.Errorf("corrupt peak for %s: %w", symbol, err)
	}
	st.Status, err = collateral.ParseStatus(fields["status"])
	if err != nil {
		return State{}, false, fmt.Errorf("corrupt status for %s: %w", symbol, err)
	}
	if unix, err := strconv.ParseInt(fields["iffy_since"], 10, 64); err == nil && unix > 0 {
		st.IffySince = time.Unix(unix, 0)
	}
	return st, true, nil
}

// AlreadySent reports whether an alert key was recorded. It fails open: a
// duplicate alert is cheaper than a missed default notification.
func (c *Cache) AlreadySent(ctx context.Context, key string) bool {
	exists, err := c.rdb.Exists(ctx, key).Result()
	return err == nil && exists > 0
}

// Record marks an alert key as sent.
func (c *Cache) Record(ctx context.Context, key string, ttl time.Duration) {
	c.rdb.Set(ctx, key, "1", ttl)
}

// Clear removes an alert key so the alert can fire again after the
// condition resets.
func (c *Cache) Clear(ctx context.Context, key string) {
	c.rdb.Del(ctx, key) //nolint:errcheck
}
