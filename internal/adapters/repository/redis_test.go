package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botflow/internal/core/domain"
)

// setupTestRedis starts an in-process Redis and a client pointed at it
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// ============================================================================
// Lease
// ============================================================================

func TestRedisLeaseStore_AcquireBlockTakeover(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	ttl := 5 * time.Second

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewRedisLeaseStore(client, "")
	store.now = func() time.Time { return now }

	lease, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Nil(t, lease)

	ok, err := store.TryAcquire(ctx, "instance-a", ttl)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "instance-a", mr.HGet(DefaultLeaseKey, "leader"))

	// a fresh lease blocks everyone else
	now = now.Add(time.Second)
	ok, err = store.TryAcquire(ctx, "instance-b", ttl)
	require.NoError(t, err)
	assert.False(t, ok)

	lease, err = store.Read(ctx)
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "instance-a", lease.LeaderInstanceID)
	assert.True(t, lease.LastHeartbeatAt.Equal(now.Add(-time.Second)))

	// the holder may re-acquire its own lease
	ok, err = store.TryAcquire(ctx, "instance-a", ttl)
	require.NoError(t, err)
	assert.True(t, ok)

	// stale heartbeat: takeover
	now = now.Add(6 * time.Second)
	ok, err = store.TryAcquire(ctx, "instance-b", ttl)
	require.NoError(t, err)
	assert.True(t, ok)

	lease, err = store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "instance-b", lease.LeaderInstanceID)
	assert.True(t, lease.LastHeartbeatAt.Equal(now))
}

func TestRedisLeaseStore_RenewOnlyWhenHeld(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewRedisLeaseStore(client, "test:lease")
	store.now = func() time.Time { return now }

	ok, err := store.Renew(ctx, "instance-a", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.TryAcquire(ctx, "instance-a", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(3 * time.Second)
	ok, err = store.Renew(ctx, "instance-a", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1772359203000", mr.HGet("test:lease", "heartbeat"))
	assert.Equal(t, 5*time.Second, mr.TTL("test:lease"))

	ok, err = store.Renew(ctx, "instance-b", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLeaseStore_KeyExpiryFreesLease(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	store := NewRedisLeaseStore(client, "")

	ok, err := store.TryAcquire(ctx, "instance-a", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(6 * time.Second)

	lease, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Nil(t, lease)
}

func TestRedisLeaseStore_ConnectionError(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisLeaseStore(client, "")
	mr.Close()

	_, err := store.TryAcquire(context.Background(), "instance-a", time.Second)
	assert.Error(t, err)
	_, err = store.Read(context.Background())
	assert.Error(t, err)
}

// ============================================================================
// Dedup
// ============================================================================

func TestRedisDedupRepository(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	repo := NewRedisDedupRepository(client)
	repo.now = func() time.Time { return time.Unix(1700000000, 0) }

	dup, err := repo.IsDuplicate(ctx, "tg:bot1:42")
	require.NoError(t, err)
	assert.False(t, dup)

	require.NoError(t, repo.MarkProcessed(ctx, "tg:bot1:42", 24*time.Hour))

	dup, err = repo.IsDuplicate(ctx, "tg:bot1:42")
	require.NoError(t, err)
	assert.True(t, dup)

	value, err := mr.Get("dedup:update:tg:bot1:42")
	require.NoError(t, err)
	assert.Equal(t, "1700000000", value)
	assert.Equal(t, 24*time.Hour, mr.TTL("dedup:update:tg:bot1:42"))

	// second marker keeps the first timestamp
	repo.now = func() time.Time { return time.Unix(1800000000, 0) }
	require.NoError(t, repo.MarkProcessed(ctx, "tg:bot1:42", time.Hour))
	value, _ = mr.Get("dedup:update:tg:bot1:42")
	assert.Equal(t, "1700000000", value)

	// markers expire
	mr.FastForward(25 * time.Hour)
	dup, err = repo.IsDuplicate(ctx, "tg:bot1:42")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestRedisDedupRepository_ConnectionError(t *testing.T) {
	mr, client := setupTestRedis(t)
	repo := NewRedisDedupRepository(client)
	mr.Close()

	_, err := repo.IsDuplicate(context.Background(), "tg:bot1:1")
	assert.Error(t, err)
	assert.Error(t, repo.MarkProcessed(context.Background(), "tg:bot1:1", time.Minute))
}

// ============================================================================
// Sessions
// ============================================================================

func TestRedisSessionStore_RoundTrip(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	store := NewRedisSessionStore(client)

	missing, err := store.Get(ctx, "bot1", "4242")
	require.NoError(t, err)
	assert.Nil(t, missing)

	session := domain.NewSession("bot1", "4242")
	session.Locale = domain.LocaleUK
	session.ActiveScenarioID = "buy"
	session.CurrentNodeID = "b2"
	session.SetVar("brandRaw", "BMW")
	session.SetVar("budget", 30000)
	session.PushHistory("b0")
	session.PushHistory("b1")
	session.MessageCount = 3
	require.NoError(t, store.Put(ctx, session))

	assert.True(t, mr.Exists("session:bot1:4242"))
	assert.Equal(t, time.Duration(0), mr.TTL("session:bot1:4242"))

	loaded, err := store.Get(ctx, "bot1", "4242")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, domain.LocaleUK, loaded.Locale)
	assert.Equal(t, "buy", loaded.ActiveScenarioID)
	assert.Equal(t, "b2", loaded.CurrentNodeID)
	assert.Equal(t, []string{"b0", "b1"}, loaded.History)
	assert.Equal(t, "BMW", loaded.Var("brandRaw"))
	assert.Equal(t, float64(30000), loaded.Variables["budget"])
	assert.Equal(t, 3, loaded.MessageCount)

	require.NoError(t, store.Clear(ctx, "bot1", "4242"))
	loaded, err = store.Get(ctx, "bot1", "4242")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRedisSessionStore_DefaultsRepairedAndCorruptRejected(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	store := NewRedisSessionStore(client)

	require.NoError(t, mr.Set("session:bot1:1", `{"chatId":"1","botId":"bot1"}`))
	loaded, err := store.Get(ctx, "bot1", "1")
	require.NoError(t, err)
	assert.NotNil(t, loaded.Variables)
	assert.NotNil(t, loaded.History)

	require.NoError(t, mr.Set("session:bot1:2", `not json`))
	_, err = store.Get(ctx, "bot1", "2")
	assert.Error(t, err)
}
