package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/compliance-engine/internal/domain/consent"
)

func newTestCache(t *testing.T) (*ConsentCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewConsentCache(client, 5*time.Minute), mr
}

func TestConsentCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_, found, err := cache.GetValidity(ctx, "patient-1", consent.TypeDataProcessing)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.SetValidity(ctx, "patient-1", consent.TypeDataProcessing, true, nil))

	valid, found, err := cache.GetValidity(ctx, "patient-1", consent.TypeDataProcessing)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, valid)

	// A different type is a separate key.
	_, found, err = cache.GetValidity(ctx, "patient-1", consent.TypeMarketing)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestConsentCacheInvalidate(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetValidity(ctx, "patient-1", consent.TypeResearch, false, nil))
	require.NoError(t, cache.Invalidate(ctx, "patient-1", consent.TypeResearch))

	_, found, err := cache.GetValidity(ctx, "patient-1", consent.TypeResearch)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestConsentCacheTTLExpiry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetValidity(ctx, "patient-1", consent.TypeDataSharing, true, nil))

	mr.FastForward(6 * time.Minute)

	_, found, err := cache.GetValidity(ctx, "patient-1", consent.TypeDataSharing)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestConsentCacheCapsTTLAtRecordExpiry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	// The record expires well inside the cache TTL; the entry must not
	// answer valid=true past that point.
	expiry := time.Now().Add(30 * time.Second)
	require.NoError(t, cache.SetValidity(ctx, "patient-1", consent.TypeDataProcessing, true, &expiry))

	valid, found, err := cache.GetValidity(ctx, "patient-1", consent.TypeDataProcessing)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, valid)

	mr.FastForward(time.Minute)

	_, found, err = cache.GetValidity(ctx, "patient-1", consent.TypeDataProcessing)
	require.NoError(t, err)
	assert.False(t, found, "a cached grant must not outlive the record's expiration")
}

func TestConsentCacheSkipsAlreadyExpiredRecords(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	expiry := time.Now().Add(-time.Minute)
	require.NoError(t, cache.SetValidity(ctx, "patient-1", consent.TypeMarketing, false, &expiry))

	_, found, err := cache.GetValidity(ctx, "patient-1", consent.TypeMarketing)
	require.NoError(t, err)
	assert.False(t, found)
}
