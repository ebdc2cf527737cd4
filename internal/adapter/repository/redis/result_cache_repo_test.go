package redis

import (
	"context"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/config"
	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

func setupRepo(t *testing.T) (*miniredis.Miniredis, *ResultCacheRepository) {
	t.Helper()

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	conn, err := NewConnection(context.Background(), &config.RedisConfig{
		Host: mr.Host(),
		Port: port,
	}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return mr, NewResultCacheRepository(conn, "test:")
}

func entryFor(key string, ttl time.Duration) *entity.CacheEntry {
	score := 80.0
	return &entity.CacheEntry{
		Key: key,
		Value: &entity.AggregatedResult{
			Query:   entity.NormalizedQuery{Kind: entity.QueryKindIP, Value: "1.2.3.4"},
			Verdict: entity.VerdictMalicious,
			Score:   &score,
			Providers: map[string]entity.ProviderResult{
				"A": {Provider: "A", IsMalicious: true, Score: 80, Latency: 120 * time.Millisecond},
			},
			Reasons:   []string{"A"},
			Failures:  []entity.ProviderFailure{},
			CheckedAt: time.Now().UTC().Truncate(time.Second),
		},
		ExpiresAt: time.Now().Add(ttl).UTC().Truncate(time.Millisecond),
	}
}

func TestResultCacheRepository_SetGet(t *testing.T) {
	mr, repo := setupRepo(t)
	ctx := context.Background()

	in := entryFor("ip:1.2.3.4", time.Minute)
	require.NoError(t, repo.Set(ctx, in))
	assert.True(t, mr.Exists("test:result:ip:1.2.3.4"))
	assert.InDelta(t, time.Minute.Seconds(), mr.TTL("test:result:ip:1.2.3.4").Seconds(), 1)

	out, err := repo.Get(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, in.Key, out.Key)
	assert.True(t, in.ExpiresAt.Equal(out.ExpiresAt))
	assert.Equal(t, entity.QueryKindIP, out.Value.Query.Kind)
	assert.Equal(t, entity.VerdictMalicious, out.Value.Verdict)
	assert.Equal(t, 80.0, *out.Value.Score)
	assert.Equal(t, 120*time.Millisecond, out.Value.Providers["A"].Latency)
	assert.Equal(t, []string{"A"}, out.Value.Reasons)
}

func TestResultCacheRepository_Missing(t *testing.T) {
	_, repo := setupRepo(t)

	out, err := repo.Get(context.Background(), "ip:9.9.9.9")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestResultCacheRepository_Expiry(t *testing.T) {
	mr, repo := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, entryFor("ip:1.2.3.4", time.Minute)))
	mr.FastForward(2 * time.Minute)

	out, err := repo.Get(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestResultCacheRepository_SkipsExpiredEntries(t *testing.T) {
	mr, repo := setupRepo(t)

	require.NoError(t, repo.Set(context.Background(), entryFor("ip:1.2.3.4", -time.Second)))
	assert.False(t, mr.Exists("test:result:ip:1.2.3.4"))
}

func TestResultCacheRepository_DeleteAndClear(t *testing.T) {
	mr, repo := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("other:key", "keep"))
	for _, key := range []string{"ip:1.1.1.1", "ip:2.2.2.2", "domain:example.com"} {
		require.NoError(t, repo.Set(ctx, entryFor(key, time.Hour)))
	}

	require.NoError(t, repo.Delete(ctx, "ip:1.1.1.1"))
	assert.False(t, mr.Exists("test:result:ip:1.1.1.1"))

	require.NoError(t, repo.Clear(ctx))
	assert.Equal(t, []string{"other:key"}, mr.Keys())
}

func TestResultCacheRepository_CorruptValue(t *testing.T) {
	mr, repo := setupRepo(t)
	require.NoError(t, mr.Set("test:result:ip:1.2.3.4", "{broken"))

	_, err := repo.Get(context.Background(), "ip:1.2.3.4")
	assert.Error(t, err)
}

func TestNewConnection_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	mr.Close()

	_, err = NewConnection(context.Background(), &config.RedisConfig{Host: "127.0.0.1", Port: port}, slog.Default())
	assert.Error(t, err)
}
