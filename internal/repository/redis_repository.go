package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	indexKey        = "reservations:ids"
	maxWatchRetries = 5
)

// RedisRepository keeps one JSON record per reservation plus a set of known ids
type RedisRepository struct {
	client *redis.Client
	keyTTL time.Duration
	cb     *gobreaker.CircuitBreaker[any]
	log    *zap.Logger
}

// NewRedisRepository creates the repository. Records expire from Redis keyTTL
// after their last write; zero keeps them until deleted.
func NewRedisRepository(client *redis.Client, keyTTL time.Duration, log *zap.Logger) *RedisRepository {
	if log == nil {
		log = zap.NewNop()
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "reservation-snapshots",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRecordNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &RedisRepository{
		client: client,
		keyTTL: keyTTL,
		cb:     cb,
		log:    log,
	}
}

func (r *RedisRepository) Save(ctx context.Context, rec domain.Reservation) (bool, error) {
	written, err := r.cb.Execute(func() (any, error) {
		return r.save(ctx, rec)
	})
	if err != nil {
		return false, r.wrap(err)
	}
	return written.(bool), nil
}

func (r *RedisRepository) save(ctx context.Context, rec domain.Reservation) (bool, error) {
	key := recordKey(rec.ID)
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal reservation failed: %w", err)
	}

	written := false
	txf := func(tx *redis.Tx) error {
		written = false
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var stored domain.Reservation
			if errUnmarshal := json.Unmarshal(data, &stored); errUnmarshal == nil && !rec.Supersedes(stored) {
				return nil
			}
		case !errors.Is(err, redis.Nil):
			return fmt.Errorf("redis get failed: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.keyTTL)
			pipe.SAdd(ctx, indexKey, rec.ID)
			return nil
		})
		if err != nil {
			return err
		}
		written = true
		return nil
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err = r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return false, fmt.Errorf("redis save failed: %w", err)
	}
	return written, nil
}

func (r *RedisRepository) Get(ctx context.Context, id string) (domain.Reservation, error) {
	rec, err := r.cb.Execute(func() (any, error) {
		data, err := r.client.Get(ctx, recordKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("redis get failed: %w", err)
		}

		var stored domain.Reservation
		if err := json.Unmarshal(data, &stored); err != nil {
			return nil, fmt.Errorf("unmarshal reservation failed: %w", err)
		}
		return stored, nil
	})
	if err != nil {
		return domain.Reservation{}, r.wrap(err)
	}
	return rec.(domain.Reservation), nil
}

// LoadAll returns every stored record. Index entries whose record has expired are removed.
func (r *RedisRepository) LoadAll(ctx context.Context) ([]domain.Reservation, error) {
	list, err := r.cb.Execute(func() (any, error) {
		return r.loadAll(ctx)
	})
	if err != nil {
		return nil, r.wrap(err)
	}
	return list.([]domain.Reservation), nil
}

func (r *RedisRepository) loadAll(ctx context.Context) ([]domain.Reservation, error) {
	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Reservation{}, nil
	}

	cmds := make([]*redis.StringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.Get(ctx, recordKey(id))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	result := make([]domain.Reservation, 0, len(ids))
	var dangling []any
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			dangling = append(dangling, ids[i])
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis get failed: %w", err)
		}

		var rec domain.Reservation
		if err := json.Unmarshal(data, &rec); err != nil {
			r.log.Warn("Skipping unreadable reservation record", zap.String("reservation_id", ids[i]), zap.Error(err))
			continue
		}
		result = append(result, rec)
	}

	if len(dangling) > 0 {
		if err := r.client.SRem(ctx, indexKey, dangling...).Err(); err != nil {
			r.log.Warn("Failed to trim reservation index", zap.Error(err))
		}
	}

	return result, nil
}

func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	_, err := r.cb.Execute(func() (any, error) {
		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, recordKey(id))
			pipe.SRem(ctx, indexKey, id)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("redis delete failed: %w", err)
		}
		return nil, nil
	})
	return r.wrap(err)
}

func (r *RedisRepository) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func recordKey(id string) string {
	return fmt.Sprintf("reservation:%s", id)
}
