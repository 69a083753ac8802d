package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const deliveryTTL = 24 * time.Hour

// DedupeService remembers webhook delivery ids so repeated deliveries can be
// skipped. Best effort only: without redis (or on redis errors) every
// delivery is processed, which the merge-resolution path tolerates.
type DedupeService struct {
	rdb *redis.Client
}

func NewDedupeService(redisClient *redis.Client) *DedupeService {
	return &DedupeService{
		rdb: redisClient,
	}
}

// Seen records the delivery id and reports whether it was already recorded.
func (s *DedupeService) Seen(ctx context.Context, deliveryID string) bool {
	if s.rdb == nil || deliveryID == "" {
		return false
	}

	set, err := s.rdb.SetNX(ctx, "webhook:delivery:"+deliveryID, 1, deliveryTTL).Result()
	if err != nil {
		slog.Warn("webhook dedupe unavailable",
			slog.String("error", err.Error()),
			slog.String("module", "dedupe"),
		)
		return false
	}
	return !set
}

// Forget drops a recorded delivery id so a redelivery is processed again.
// Called when handling failed after the id was recorded.
func (s *DedupeService) Forget(ctx context.Context, deliveryID string) {
	if s.rdb == nil || deliveryID == "" {
		return
	}

	if err := s.rdb.Del(ctx, "webhook:delivery:"+deliveryID).Err(); err != nil {
		slog.Warn("could not drop webhook delivery id",
			slog.String("error", err.Error()),
			slog.String("module", "dedupe"),
		)
	}
}
