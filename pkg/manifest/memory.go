package manifest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

type valueKind uint8

const (
	kindString valueKind = iota
	kindHash
	kindSet
	kindZSet
	kindJSON
)

type memEntry struct {
	kind     valueKind
	str      string
	hash     map[string]string
	set      map[string]struct{}
	zset     map[string]float64
	doc      any
	expireAt time.Time // zero = no expiry
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// MemoryStore is a complete in-process Store. It backs tests and
// single-process runs; the whole multi-shard test harness shares one
// instance the way a cluster shares one redis endpoint.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*memEntry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*memEntry)}
}

// lookup returns the live entry for key, reaping it if its TTL has lapsed.
// Callers hold s.mu.
func (s *MemoryStore) lookup(key string) *memEntry {
	e, ok := s.data[key]
	if !ok {
		return nil
	}
	if e.expired(time.Now()) {
		delete(s.data, key)
		return nil
	}
	return e
}

func (s *MemoryStore) entryOfKind(key string, kind valueKind) (*memEntry, error) {
	e := s.lookup(key)
	if e == nil {
		e = &memEntry{kind: kind}
		switch kind {
		case kindHash:
			e.hash = make(map[string]string)
		case kindSet:
			e.set = make(map[string]struct{})
		case kindZSet:
			e.zset = make(map[string]float64)
		}
		s.data[key] = e
		return e, nil
	}
	if e.kind != kind {
		return nil, fmt.Errorf("%w: key %q", ErrWrongType, key)
	}
	return e, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return "", false, nil
	}
	if e.kind != kindString {
		return "", false, fmt.Errorf("%w: key %q", ErrWrongType, key)
	}
	return e.str, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = &memEntry{kind: kindString, str: value}
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookup(key) != nil {
		return false, nil
	}
	e := &memEntry{kind: kindString, str: value}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	}
	s.data[key] = e
	return true, nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, key := range keys {
		if s.lookup(key) != nil {
			delete(s.data, key)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(key) != nil, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return false, nil
	}
	e.expireAt = time.Now().Add(ttl)
	return true, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return -2 * time.Second, nil
	}
	if e.expireAt.IsZero() {
		return -1 * time.Second, nil
	}
	return time.Until(e.expireAt), nil
}

func (s *MemoryStore) HSet(_ context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.entryOfKind(key, kindHash)
	if err != nil {
		return err
	}
	e.hash[field] = value
	return nil
}

func (s *MemoryStore) HGet(_ context.Context, key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return "", false, nil
	}
	if e.kind != kindHash {
		return "", false, fmt.Errorf("%w: key %q", ErrWrongType, key)
	}
	v, ok := e.hash[field]
	return v, ok, nil
}

func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	e := s.lookup(key)
	if e == nil {
		return out, nil
	}
	if e.kind != kindHash {
		return nil, fmt.Errorf("%w: key %q", ErrWrongType, key)
	}
	for f, v := range e.hash {
		out[f] = v
	}
	return out, nil
}

func (s *MemoryStore) HExists(_ context.Context, key, field string) (bool, error) {
	_, ok, err := s.HGet(context.Background(), key, field)
	return ok, err
}

func (s *MemoryStore) HDel(_ context.Context, key string, fields ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil || e.kind != kindHash {
		return 0, nil
	}
	var n int64
	for _, f := range fields {
		if _, ok := e.hash[f]; ok {
			delete(e.hash, f)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) HLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return 0, nil
	}
	if e.kind != kindHash {
		return 0, fmt.Errorf("%w: key %q", ErrWrongType, key)
	}
	return int64(len(e.hash)), nil
}

func (s *MemoryStore) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.entryOfKind(key, kindHash)
	if err != nil {
		return 0, err
	}
	var cur int64
	if raw, ok := e.hash[field]; ok {
		if _, err := fmt.Sscanf(raw, "%d", &cur); err != nil {
			return 0, fmt.Errorf("%w: field %q is not an integer", ErrWrongType, field)
		}
	}
	cur += delta
	e.hash[field] = fmt.Sprintf("%d", cur)
	return cur, nil
}

func (s *MemoryStore) HMGet(_ context.Context, key string, fields ...string) ([]*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*string, len(fields))
	e := s.lookup(key)
	if e == nil {
		return out, nil
	}
	if e.kind != kindHash {
		return nil, fmt.Errorf("%w: key %q", ErrWrongType, key)
	}
	for i, f := range fields {
		if v, ok := e.hash[f]; ok {
			val := v
			out[i] = &val
		}
	}
	return out, nil
}

func (s *MemoryStore) SAdd(_ context.Context, key string, members ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.entryOfKind(key, kindSet)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, m := range members {
		if _, ok := e.set[m]; !ok {
			e.set[m] = struct{}{}
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) SRem(_ context.Context, key string, members ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil || e.kind != kindSet {
		return 0, nil
	}
	var n int64
	for _, m := range members {
		if _, ok := e.set[m]; ok {
			delete(e.set, m)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) SIsMember(_ context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return false, nil
	}
	if e.kind != kindSet {
		return false, fmt.Errorf("%w: key %q", ErrWrongType, key)
	}
	_, ok := e.set[member]
	return ok, nil
}

func (s *MemoryStore) SCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return 0, nil
	}
	if e.kind != kindSet {
		return 0, fmt.Errorf("%w: key %q", ErrWrongType, key)
	}
	return int64(len(e.set)), nil
}

func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return nil, nil
	}
	if e.kind != kindSet {
		return nil, fmt.Errorf("%w: key %q", ErrWrongType, key)
	}
	out := make([]string, 0, len(e.set))
	for m := range e.set {
		out = append(out, m)
	}
	return out, nil
}

// SPop removes and returns one member. Pop-exactly-once under concurrency
// is the property bound claiming relies on; the single store mutex provides
// it here the way a redis SPOP does on the server.
func (s *MemoryStore) SPop(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return "", false, nil
	}
	if e.kind != kindSet {
		return "", false, fmt.Errorf("%w: key %q", ErrWrongType, key)
	}
	for m := range e.set {
		delete(e.set, m)
		return m, true, nil
	}
	return "", false, nil
}

func (s *MemoryStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.entryOfKind(key, kindZSet)
	if err != nil {
		return err
	}
	e.zset[member] = score
	return nil
}

func (s *MemoryStore) ZRem(_ context.Context, key string, members ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil || e.kind != kindZSet {
		return 0, nil
	}
	var n int64
	for _, m := range members {
		if _, ok := e.zset[m]; ok {
			delete(e.zset, m)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ZScore(_ context.Context, key, member string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return 0, false, nil
	}
	if e.kind != kindZSet {
		return 0, false, fmt.Errorf("%w: key %q", ErrWrongType, key)
	}
	score, ok := e.zset[member]
	return score, ok, nil
}

func (s *MemoryStore) ZRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return nil, nil
	}
	if e.kind != kindZSet {
		return nil, fmt.Errorf("%w: key %q", ErrWrongType, key)
	}
	type pair struct {
		member string
		score  float64
	}
	pairs := make([]pair, 0, len(e.zset))
	for m, sc := range e.zset {
		pairs = append(pairs, pair{m, sc})
	}
	// Sort by score, ties by member, matching redis ZRANGE order.
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0; j-- {
			a, b := pairs[j-1], pairs[j]
			if b.score < a.score || (b.score == a.score && b.member < a.member) {
				pairs[j-1], pairs[j] = b, a
			} else {
				break
			}
		}
	}
	n := int64(len(pairs))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil, nil
	}
	out := make([]string, 0, stop-start+1)
	for _, p := range pairs[start : stop+1] {
		out = append(out, p.member)
	}
	return out, nil
}

func (s *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return 0, nil
	}
	if e.kind != kindZSet {
		return 0, fmt.Errorf("%w: key %q", ErrWrongType, key)
	}
	return int64(len(e.zset)), nil
}

// splitJSONPath parses a dotted document path. "." addresses the root.
func splitJSONPath(path string) ([]string, error) {
	if path == "" || path == "." {
		return nil, nil
	}
	trimmed := strings.TrimPrefix(path, ".")
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("manifest: malformed json path %q", path)
		}
	}
	return parts, nil
}

func (s *MemoryStore) JSONSet(_ context.Context, key, path, rawJSON string, nx bool) (bool, error) {
	parts, err := splitJSONPath(path)
	if err != nil {
		return false, err
	}
	var value any
	if err := json.Unmarshal([]byte(rawJSON), &value); err != nil {
		return false, fmt.Errorf("manifest: invalid json value: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		e = &memEntry{kind: kindJSON}
		s.data[key] = e
	} else if e.kind != kindJSON {
		return false, fmt.Errorf("%w: key %q", ErrWrongType, key)
	}

	if len(parts) == 0 {
		if nx && e.doc != nil {
			return false, nil
		}
		e.doc = value
		return true, nil
	}

	node, ok := e.doc.(map[string]any)
	if !ok {
		return false, fmt.Errorf("manifest: json root of %q is not an object", key)
	}
	for _, p := range parts[:len(parts)-1] {
		child, ok := node[p].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[p] = child
		}
		node = child
	}
	leaf := parts[len(parts)-1]
	if nx {
		if _, exists := node[leaf]; exists {
			return false, nil
		}
	}
	node[leaf] = value
	return true, nil
}

func (s *MemoryStore) JSONGet(_ context.Context, key, path string) (string, bool, error) {
	parts, err := splitJSONPath(path)
	if err != nil {
		return "", false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return "", false, nil
	}
	if e.kind != kindJSON {
		return "", false, fmt.Errorf("%w: key %q", ErrWrongType, key)
	}
	node := e.doc
	for _, p := range parts {
		obj, ok := node.(map[string]any)
		if !ok {
			return "", false, nil
		}
		node, ok = obj[p]
		if !ok {
			return "", false, nil
		}
	}
	raw, err := json.Marshal(node)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return string(raw), true, nil
}

func (s *MemoryStore) JSONDel(_ context.Context, key, path string) error {
	parts, err := splitJSONPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil || e.kind != kindJSON {
		return nil
	}
	if len(parts) == 0 {
		delete(s.data, key)
		return nil
	}
	node, ok := e.doc.(map[string]any)
	if !ok {
		return nil
	}
	for _, p := range parts[:len(parts)-1] {
		node, ok = node[p].(map[string]any)
		if !ok {
			return nil
		}
	}
	delete(node, parts[len(parts)-1])
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
