// Package projection keeps the Redis status cache in step with the
// order.lifecycle topic.
package projection

import (
	"context"
	"errors"

	kafkax "github.com/ariefcatur/go-food-orders/internal/kafka"
	"github.com/ariefcatur/go-food-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Dedup is satisfied by *redisx.Deduper.
type Dedup interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

// Cache is satisfied by *redisx.StatusCache.
type Cache interface {
	Put(ctx context.Context, snap orders.StatusSnapshot) (bool, error)
}

type Service struct {
	Dedup  Dedup
	Cache  Cache
	Logger *zap.Logger
}

// HandleLifecycle: dipasang sebagai handler consumer. Error hanya untuk
// kegagalan sementara (Redis), karena consumer mengulang pesan yang sama.
func (s *Service) HandleLifecycle(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope + payload
	env, err := kafkax.Decode[orders.Envelope](m.Value)
	if err != nil {
		// pesan rusak tidak akan pernah berhasil, commit saja
		s.log().Warn("drop undecodable event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	snap, err := kafkax.Decode[orders.StatusSnapshot](env.Payload)
	if err == nil && snap.OrderID <= 0 {
		err = errors.New("snapshot without order_id")
	}
	if err != nil {
		s.log().Warn("drop event with bad payload",
			zap.String("event_id", env.EventID), zap.String("event_type", env.EventType), zap.Error(err))
		return nil
	}

	// 2) dedup via Redis (pakai event_id); tanpa id cukup andalkan versioned write
	if env.EventID != "" {
		seen, err := s.Dedup.Seen(ctx, env.EventID)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}
	}

	// 3) versioned write, snapshot lama tidak menimpa yang baru
	stored, err := s.Cache.Put(ctx, snap)
	if err != nil {
		return err
	}
	s.log().Debug("status projected",
		zap.String("event_type", env.EventType), zap.Int64("order_id", snap.OrderID),
		zap.String("status", string(snap.Status)), zap.Bool("stored", stored))

	// 4) tandai setelah sukses supaya redelivery setelah gagal tetap diproses
	if env.EventID == "" {
		return nil
	}
	return s.Dedup.Mark(ctx, env.EventID)
}

func (s *Service) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
