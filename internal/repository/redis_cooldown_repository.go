package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Compile-time check to ensure implementation satisfies the interface.
var _ CooldownRepository = (*redisCooldownRepository)(nil)

type redisCooldownRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisCooldownRepository создает репозиторий кулдауна поверх Redis.
func NewRedisCooldownRepository(client *redis.Client, logger *zap.Logger) CooldownRepository {
	return &redisCooldownRepository{
		client: client,
		logger: logger.Named("RedisCooldownRepo"),
	}
}

// Touch ставит отметку о звонке через SETNX с TTL: первый звонок за окно
// проходит, повторные — нет. Анонимные звонки (пустой номер) не
// ограничиваются.
func (r *redisCooldownRepository) Touch(ctx context.Context, number string, ttl time.Duration) (bool, error) {
	if number == "" {
		return true, nil
	}

	key := fmt.Sprintf("caller_cooldown:%s", number)
	ok, err := r.client.SetNX(ctx, key, time.Now().Unix(), ttl).Result()
	if err != nil {
		r.logger.Error("Failed to touch caller cooldown", zap.Error(err))
		return false, fmt.Errorf("failed to touch caller cooldown: %w", err)
	}

	if !ok {
		r.logger.Debug("Caller is cooling down")
	}
	return ok, nil
}
