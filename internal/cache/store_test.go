package cache

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = string(value.([]byte))
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func TestRedisStore_RoundTrip(t *testing.T) {
	fake := newFakeRedis()
	store := newRedisStore(fake, time.Hour, 64)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "order:0x01")
	require.NoError(t, err)
	assert.False(t, ok)

	small := []byte(`{"uid":"0x01"}`)
	require.NoError(t, store.Set(ctx, "order:0x01", small, 0))
	assert.Equal(t, time.Hour, fake.ttls["ebbo:cache:order:0x01"])

	got, ok, err := store.Get(ctx, "order:0x01")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, small, got)

	hits, misses, errs := store.Stats()
	assert.EqualValues(t, 1, hits)
	assert.EqualValues(t, 1, misses)
	assert.Zero(t, errs)
}

func TestRedisStore_CompressesLargeValues(t *testing.T) {
	fake := newFakeRedis()
	store := newRedisStore(fake, time.Hour, 64)
	ctx := context.Background()

	large := bytes.Repeat([]byte(`{"orders":[]}`), 100)
	require.NoError(t, store.Set(ctx, "instance:1", large, time.Minute))

	raw := fake.data["ebbo:cache:instance:1"]
	assert.Equal(t, markerGzip, raw[0])
	assert.Less(t, len(raw), len(large))
	assert.Equal(t, time.Minute, fake.ttls["ebbo:cache:instance:1"])

	got, ok, err := store.Get(ctx, "instance:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, large, got)
}

func TestRedisStore_Errors(t *testing.T) {
	fake := newFakeRedis()
	store := newRedisStore(fake, time.Hour, 0)
	ctx := context.Background()

	fake.data["ebbo:cache:bad"] = "\x07garbage"
	_, _, err := store.Get(ctx, "bad")
	assert.Error(t, err)

	fake.err = errors.New("connection refused")
	_, ok, err := store.Get(ctx, "any")
	assert.False(t, ok)
	assert.ErrorContains(t, err, "connection refused")
	assert.Error(t, store.Set(ctx, "any", []byte("x"), 0))

	_, _, errs := store.Stats()
	assert.EqualValues(t, 3, errs)
}
