package featurestore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/theblitlabs/misuse-detection/internal/core/dataset"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

var ErrFeaturesNotFound = errors.New("features not found")

// OnlineStore keeps the latest feature values of each entity for low latency
// lookups.
type OnlineStore interface {
	Put(ctx context.Context, key string, values map[string]float64, ttl time.Duration) error
	Get(ctx context.Context, key string) (map[string]float64, error)
}

// RedisStore keeps one hash per entity row.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, key string, values map[string]float64, ttl time.Duration) error {
	fields := make(map[string]interface{}, len(values))
	for k, v := range values {
		fields[k] = v
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

func (s *RedisStore) Get(ctx context.Context, key string) (map[string]float64, error) {
	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: %w", key, ErrFeaturesNotFound)
	}
	values := make(map[string]float64, len(raw))
	for k, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s of %s: %w", k, key, err)
		}
		values[k] = f
	}
	return values, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Materialize pushes every row of t to the online store under
// Definition.Key(join key) with the view TTL. It returns the number of rows
// written.
func Materialize(ctx context.Context, store OnlineStore, t *dataset.Table, def Definition) (int, error) {
	if err := def.Validate(t); err != nil {
		return 0, err
	}
	if !def.Online {
		return 0, errorutil.Wrapf(errorutil.ErrInvalidConfig, "feature view %q is not online", def.View)
	}

	cols := make([]*dataset.Column, len(def.Fields))
	for j, f := range def.Fields {
		cols[j], _ = t.Column(f.Name)
	}

	ids := def.entityIDs(t)
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		values := make(map[string]float64, len(cols))
		for j, c := range cols {
			values[def.Fields[j].Name] = c.Floats[i]
		}
		if err := store.Put(ctx, def.Key(id), values, def.TTL); err != nil {
			return i, fmt.Errorf("materialize %s: %w", def.Key(id), err)
		}
	}
	return len(ids), nil
}

// OnlineFeatures returns the feature vector of one entity in field order.
func OnlineFeatures(ctx context.Context, store OnlineStore, def Definition, id string) ([]float64, error) {
	values, err := store.Get(ctx, def.Key(id))
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(def.Fields))
	for j, f := range def.Fields {
		v, ok := values[f.Name]
		if !ok {
			return nil, errorutil.Wrapf(errorutil.ErrShapeMismatch, "entity %s has no value for %s", id, f.Name)
		}
		out[j] = v
	}
	return out, nil
}
