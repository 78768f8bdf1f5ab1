package manifest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringOps(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", "v"))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	exists, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	n, err := s.Del(ctx, "k", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSetNXAndTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ok, err := s.SetNX(ctx, "lease", "owner-a", 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "lease", "owner-b", 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "second SetNX must be refused while the key lives")

	v, found, err := s.Get(ctx, "lease")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "owner-a", v)

	// After expiry the key is gone and SetNX succeeds again.
	time.Sleep(80 * time.Millisecond)
	_, found, err = s.Get(ctx, "lease")
	require.NoError(t, err)
	assert.False(t, found)

	ok, err = s.SetNX(ctx, "lease", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetNXMutualExclusionConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const contenders = 16
	var wg sync.WaitGroup
	wins := make(chan int, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := s.SetNX(ctx, "lock", "owner", time.Minute)
			assert.NoError(t, err)
			if ok {
				wins <- n
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one contender acquires")
}

func TestHashOps(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.HSet(ctx, "h", "f1", "v1"))
	require.NoError(t, s.HSet(ctx, "h", "f2", "v2"))

	v, ok, err := s.HGet(ctx, "h", "f1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", v)

	all, err := s.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"f1": "v1", "f2": "v2"}, all)

	n, err := s.HLen(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	vals, err := s.HMGet(ctx, "h", "f1", "nope", "f2")
	require.NoError(t, err)
	require.Len(t, vals, 3)
	assert.Equal(t, "v1", *vals[0])
	assert.Nil(t, vals[1])
	assert.Equal(t, "v2", *vals[2])

	count, err := s.HIncrBy(ctx, "h", "counter", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	count, err = s.HIncrBy(ctx, "h", "counter", -1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	deleted, err := s.HDel(ctx, "h", "f1", "nope")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestSetOps(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	added, err := s.SAdd(ctx, "s", "a", "b", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), added)

	isMember, err := s.SIsMember(ctx, "s", "a")
	require.NoError(t, err)
	assert.True(t, isMember)

	card, err := s.SCard(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(2), card)

	members, err := s.SMembers(ctx, "s")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, members)

	removed, err := s.SRem(ctx, "s", "a", "zzz")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestSPopPopsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const members = 8
	for i := 0; i < members; i++ {
		_, err := s.SAdd(ctx, "pending", string(rune('a'+i)))
		require.NoError(t, err)
	}

	// Twice as many poppers as members: every member is popped exactly
	// once and the excess poppers see an empty set.
	var mu sync.Mutex
	var wg sync.WaitGroup
	seen := make(map[string]int)
	for i := 0; i < members*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, ok, err := s.SPop(ctx, "pending")
			assert.NoError(t, err)
			if !ok {
				return
			}
			mu.Lock()
			seen[v]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, members)
	for member, count := range seen {
		assert.Equal(t, 1, count, "member %q popped %d times", member, count)
	}
	card, err := s.SCard(ctx, "pending")
	require.NoError(t, err)
	assert.Zero(t, card)
}

func TestZSetOps(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.ZAdd(ctx, "z", 3, "c"))
	require.NoError(t, s.ZAdd(ctx, "z", 1, "a"))
	require.NoError(t, s.ZAdd(ctx, "z", 2, "b"))

	members, err := s.ZRange(ctx, "z", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, members)

	score, ok, err := s.ZScore(ctx, "z", "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2.0, score)

	card, err := s.ZCard(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, int64(3), card)

	removed, err := s.ZRem(ctx, "z", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestJSONDocument(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	created, err := s.JSONSet(ctx, "doc", ".", `{"EntityTransfers": {}, "ClientTransfers": {}}`, true)
	require.NoError(t, err)
	assert.True(t, created)

	// NX against the existing root is refused.
	created, err = s.JSONSet(ctx, "doc", ".", `{}`, true)
	require.NoError(t, err)
	assert.False(t, created)

	_, err = s.JSONSet(ctx, "doc", ".EntityTransfers.abc", `{"stage": "prepare"}`, false)
	require.NoError(t, err)

	raw, ok, err := s.JSONGet(ctx, "doc", ".EntityTransfers.abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"stage": "prepare"}`, raw)

	// Overwrite of the subdocument.
	_, err = s.JSONSet(ctx, "doc", ".EntityTransfers.abc", `{"stage": "commit"}`, false)
	require.NoError(t, err)
	raw, _, err = s.JSONGet(ctx, "doc", ".EntityTransfers.abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"stage": "commit"}`, raw)

	require.NoError(t, s.JSONDel(ctx, "doc", ".EntityTransfers.abc"))
	_, ok, err = s.JSONGet(ctx, "doc", ".EntityTransfers.abc")
	require.NoError(t, err)
	assert.False(t, ok)

	// Root is still intact.
	raw, ok, err = s.JSONGet(ctx, "doc", ".")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"EntityTransfers": {}, "ClientTransfers": {}}`, raw)
}

func TestWrongTypeErrors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "k", "v"))
	_, err := s.SAdd(ctx, "k", "member")
	require.ErrorIs(t, err, ErrWrongType)
	err = s.HSet(ctx, "k", "f", "v")
	require.ErrorIs(t, err, ErrWrongType)
}
