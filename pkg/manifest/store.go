package manifest

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStore wraps manifest-store I/O failures after retries are
	// exhausted. Background loops swallow it and sleep; callers on the
	// request path bubble it up.
	ErrStore = errors.New("manifest: store error")

	// ErrWrongType is returned when an operation addresses a key holding a
	// different kind of value.
	ErrWrongType = errors.New("manifest: operation against wrong value type")
)

// Store is the contract the runtime assumes of its shared state service: a
// single logical key-value endpoint with hash, set, sorted-set, string,
// TTL, and JSON-document semantics.
//
// Atomicity requirements: SetNX is atomic test-and-set (connection leases
// depend on it); SPop removes and returns one member atomically (bound
// claims depend on it). Everything else is per-identity-keyed single-writer
// state.
type Store interface {
	// Strings.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Hashes.
	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HExists(ctx context.Context, key, field string) (bool, error)
	HDel(ctx context.Context, key string, fields ...string) (int64, error)
	HLen(ctx context.Context, key string) (int64, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	HMGet(ctx context.Context, key string, fields ...string) ([]*string, error)

	// Sets.
	SAdd(ctx context.Context, key string, members ...string) (int64, error)
	SRem(ctx context.Context, key string, members ...string) (int64, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	SPop(ctx context.Context, key string) (string, bool, error)

	// Sorted sets.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, members ...string) (int64, error)
	ZScore(ctx context.Context, key, member string) (float64, bool, error)
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZCard(ctx context.Context, key string) (int64, error)

	// JSON documents. Values are raw JSON text; path is a dotted path
	// rooted at "." ("." addresses the whole document). With nx the set
	// only applies when the path is absent.
	JSONSet(ctx context.Context, key, path, rawJSON string, nx bool) (bool, error)
	JSONGet(ctx context.Context, key, path string) (string, bool, error)
	JSONDel(ctx context.Context, key, path string) error

	Ping(ctx context.Context) error
	Close() error
}
