package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-food-orders/internal/orders"
	"github.com/redis/go-redis/v9"
)

const maxWatchRetries = 5

// StatusCache keeps the latest orders.StatusSnapshot per order. Writes are
// versioned by UpdatedAt, so an older snapshot never replaces a newer one even
// when projector workers finish out of order.
type StatusCache struct {
	RDB *redis.Client
}

func (c *StatusCache) Get(ctx context.Context, orderID int64) (*orders.StatusSnapshot, bool, error) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var s orders.StatusSnapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, false, fmt.Errorf("decode status cache: %w", err)
	}
	return &s, true, nil
}

// Put stores snap unless the cache already holds a newer one. It reports
// whether snap was written.
func (c *StatusCache) Put(ctx context.Context, snap orders.StatusSnapshot) (bool, error) {
	key := fmt.Sprintf(KeyOrderStatus, snap.OrderID)
	val, err := json.Marshal(snap)
	if err != nil {
		return false, err
	}

	var stored bool
	txf := func(tx *redis.Tx) error {
		stored = false
		cur, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var old orders.StatusSnapshot
			if json.Unmarshal(cur, &old) == nil && old.UpdatedAt.After(snap.UpdatedAt) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, val, TTLStatusCache)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err = c.RDB.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return stored, err
		}
	}
	return false, err
}
