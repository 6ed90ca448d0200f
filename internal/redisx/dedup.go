package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers processed ids for TTLDedup. It is a fast path only: the
// authoritative idempotency check lives in Postgres. A nil *Deduper reports
// nothing as seen.
type Deduper struct {
	RDB   *redis.Client
	Scope string
}

func (d *Deduper) key(id string) string { return fmt.Sprintf(KeyDedup, d.Scope, id) }

func (d *Deduper) Seen(ctx context.Context, id string) (bool, error) {
	if d == nil || d.RDB == nil {
		return false, nil
	}
	return Exists(ctx, d.RDB, d.key(id))
}

func (d *Deduper) Mark(ctx context.Context, id string) error {
	if d == nil || d.RDB == nil {
		return nil
	}
	return d.RDB.Set(ctx, d.key(id), "1", TTLDedup).Err()
}
