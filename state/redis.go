package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each entity under prefix:instrument:entity, so bots
// trading different instruments can share one server.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	instrument string
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int, prefix, instrument string) (*RedisStore, error) {
	if instrument == "" {
		return nil, errors.New("redis store: empty instrument")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return &RedisStore{client: client, prefix: prefix, instrument: instrument}, nil
}

func (r *RedisStore) key(entity string) string {
	return r.prefix + ":" + r.instrument + ":" + entity
}

func (r *RedisStore) Load(ctx context.Context) (Snapshot, error) {
	keys := make([]string, len(entities))
	for i, name := range entities {
		keys[i] = r.key(name)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("redis load: %w", err)
	}

	records := map[string][]byte{}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		records[entities[i]] = []byte(s)
	}
	if len(records) == 0 {
		return Snapshot{}, ErrNoState
	}
	return decode(records)
}

// Save writes every entity in one MULTI/EXEC transaction.
func (r *RedisStore) Save(ctx context.Context, s Snapshot) error {
	records, err := encode(s)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, name := range entities {
			pipe.Set(ctx, r.key(name), records[name], 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	return nil
}

func (r *RedisStore) Reset(ctx context.Context) error {
	keys := make([]string, len(entities))
	for i, name := range entities {
		keys[i] = r.key(name)
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis reset: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
