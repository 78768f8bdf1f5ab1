package manifest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/config"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/log"
)

// RedisStore implements Store over a redis (or redis-cluster fronted by a
// single logical endpoint) instance. JSON-document operations use the
// RedisJSON module commands.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the manifest store endpoint configured in cfg,
// retrying with backoff up to cfg.StoreConnectRetries attempts.
func NewRedisStore(ctx context.Context, cfg config.Config) (*RedisStore, error) {
	logger := log.WithComponent("manifest-store")
	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr(),
	})

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewConstantBackOff(cfg.StoreConnectInterval),
		uint64(cfg.StoreConnectRetries)), ctx)
	connect := func() error {
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr()).Msg("Manifest store not reachable, retrying")
			return err
		}
		return nil
	}
	if err := backoff.Retry(connect, policy); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: connect %s: %v", ErrStore, cfg.RedisAddr(), err)
	}
	logger.Info().Str("addr", cfg.RedisAddr()).Msg("Connected to manifest store")
	return &RedisStore{client: client}, nil
}

func wrap(err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStore, err)
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	return v, err == nil, wrap(err)
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return wrap(s.client.Set(ctx, key, value, 0).Err())
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	return ok, wrap(err)
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	n, err := s.client.Del(ctx, keys...).Result()
	return n, wrap(err)
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, wrap(err)
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	return ok, wrap(err)
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	return d, wrap(err)
}

func (s *RedisStore) HSet(ctx context.Context, key, field, value string) error {
	return wrap(s.client.HSet(ctx, key, field, value).Err())
}

func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	return v, err == nil, wrap(err)
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, key).Result()
	return m, wrap(err)
}

func (s *RedisStore) HExists(ctx context.Context, key, field string) (bool, error) {
	ok, err := s.client.HExists(ctx, key, field).Result()
	return ok, wrap(err)
}

func (s *RedisStore) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	n, err := s.client.HDel(ctx, key, fields...).Result()
	return n, wrap(err)
}

func (s *RedisStore) HLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.HLen(ctx, key).Result()
	return n, wrap(err)
}

func (s *RedisStore) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	n, err := s.client.HIncrBy(ctx, key, field, delta).Result()
	return n, wrap(err)
}

func (s *RedisStore) HMGet(ctx context.Context, key string, fields ...string) ([]*string, error) {
	vals, err := s.client.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, wrap(err)
	}
	out := make([]*string, len(vals))
	for i, v := range vals {
		if str, ok := v.(string); ok {
			val := str
			out[i] = &val
		}
	}
	return out, nil
}

func membersToAny(members []string) []interface{} {
	out := make([]interface{}, len(members))
	for i, m := range members {
		out[i] = m
	}
	return out
}

func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	n, err := s.client.SAdd(ctx, key, membersToAny(members)...).Result()
	return n, wrap(err)
}

func (s *RedisStore) SRem(ctx context.Context, key string, members ...string) (int64, error) {
	n, err := s.client.SRem(ctx, key, membersToAny(members)...).Result()
	return n, wrap(err)
}

func (s *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, key, member).Result()
	return ok, wrap(err)
}

func (s *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.SCard(ctx, key).Result()
	return n, wrap(err)
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	return members, wrap(err)
}

func (s *RedisStore) SPop(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.SPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	return v, err == nil, wrap(err)
}

func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return wrap(s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

func (s *RedisStore) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	n, err := s.client.ZRem(ctx, key, membersToAny(members)...).Result()
	return n, wrap(err)
}

func (s *RedisStore) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	score, err := s.client.ZScore(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	return score, err == nil, wrap(err)
}

func (s *RedisStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	members, err := s.client.ZRange(ctx, key, start, stop).Result()
	return members, wrap(err)
}

func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	return n, wrap(err)
}

func (s *RedisStore) JSONSet(ctx context.Context, key, path, rawJSON string, nx bool) (bool, error) {
	args := []interface{}{"JSON.SET", key, path, rawJSON}
	if nx {
		args = append(args, "NX")
	}
	res, err := s.client.Do(ctx, args...).Result()
	if errors.Is(err, redis.Nil) {
		// NX refused: path already present.
		return false, nil
	}
	if err != nil {
		return false, wrap(err)
	}
	return res != nil, nil
}

func (s *RedisStore) JSONGet(ctx context.Context, key, path string) (string, bool, error) {
	res, err := s.client.Do(ctx, "JSON.GET", key, path).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap(err)
	}
	raw, ok := res.(string)
	if !ok {
		return "", false, fmt.Errorf("%w: unexpected JSON.GET reply type %T", ErrStore, res)
	}
	return raw, true, nil
}

func (s *RedisStore) JSONDel(ctx context.Context, key, path string) error {
	err := s.client.Do(ctx, "JSON.DEL", key, path).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return wrap(err)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return wrap(s.client.Ping(ctx).Err())
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
