package redisx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionStore maps an anonymous cart session to its current order. Every read
// pushes the expiry forward.
type SessionStore struct {
	RDB *redis.Client
	TTL time.Duration
}

func (s *SessionStore) ttl() time.Duration {
	if s.TTL <= 0 {
		return TTLSession
	}
	return s.TTL
}

// OrderFor returns the order bound to sessionID. ok is false when the
// session is unknown or expired.
func (s *SessionStore) OrderFor(ctx context.Context, sessionID string) (orderID int64, ok bool, err error) {
	v, err := s.RDB.GetEx(ctx, fmt.Sprintf(KeySession, sessionID), s.ttl()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("session %s: bad order id %q", sessionID, v)
	}
	return id, true, nil
}

// Swap binds sessionID to orderID only while the session is still bound to
// old (0 means unbound). Two first-item requests racing on one session both
// call Swap with the same old value; exactly one of them wins.
func (s *SessionStore) Swap(ctx context.Context, sessionID string, old, orderID int64) (bool, error) {
	key := fmt.Sprintf(KeySession, sessionID)
	var swapped bool
	txf := func(tx *redis.Tx) error {
		swapped = false
		var cur int64
		v, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if cur, err = strconv.ParseInt(v, 10, 64); err != nil {
				return fmt.Errorf("session %s: bad order id %q", sessionID, v)
			}
		}
		if cur != old {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, strconv.FormatInt(orderID, 10), s.ttl())
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}

	var err error
	for i := 0; i < maxWatchRetries; i++ {
		err = s.RDB.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return swapped, err
		}
	}
	return false, err
}

func (s *SessionStore) Clear(ctx context.Context, sessionID string) error {
	return s.RDB.Del(ctx, fmt.Sprintf(KeySession, sessionID)).Err()
}
