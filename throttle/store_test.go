package throttle

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionguard/storage"
	"github.com/jmcleod/sessionguard/storage/memory"
)

func sealingKey() []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

// recordStoreTests runs the common suite against any RecordStore.
func recordStoreTests(t *testing.T, store RecordStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("LoadMissing", func(t *testing.T) {
		_, ok, err := store.Load(ctx, "missing@x.com")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		in := Record{Identifier: "a@x.com", FailureCount: 2, FirstFailureAt: now}
		require.NoError(t, store.Save(ctx, in, time.Minute))

		out, ok, err := store.Load(ctx, "a@x.com")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 2, out.FailureCount)
		assert.True(t, now.Equal(out.FirstFailureAt))
		assert.True(t, out.LockedUntil.IsZero())
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "a@x.com"))
		require.NoError(t, store.Delete(ctx, "a@x.com"))
		_, ok, err := store.Load(ctx, "a@x.com")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMemoryStore(t *testing.T) {
	recordStoreTests(t, NewMemoryStore())
}

func TestRepositoryStore(t *testing.T) {
	store, err := NewRepositoryStore(memory.NewRepository(), sealingKey())
	require.NoError(t, err)
	recordStoreTests(t, store)
}

func TestRepositoryStore_RejectsShortKey(t *testing.T) {
	_, err := NewRepositoryStore(memory.NewRepository(), []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestRepositoryStore_LockoutSurvivesRestart(t *testing.T) {
	repo := memory.NewRepository()
	clock := clockwork.NewFakeClock()
	ctx := context.Background()

	first, err := NewRepositoryStore(repo, sealingKey())
	require.NoError(t, err)
	th := New(WithStore(first), WithClock(clock))
	failN(t, th, "a@x.com", 5)

	second, err := NewRepositoryStore(repo, sealingKey())
	require.NoError(t, err)
	restarted := New(WithStore(second), WithClock(clock))
	assert.True(t, restarted.IsLockedOut(ctx, "a@x.com"))
}

func TestRepositoryStore_TamperedRecordUnlocks(t *testing.T) {
	repo := memory.NewRepository()
	clock := clockwork.NewFakeClock()
	ctx := context.Background()

	store, err := NewRepositoryStore(repo, sealingKey())
	require.NoError(t, err)
	th := New(WithStore(store), WithClock(clock))
	failN(t, th, "a@x.com", 5)

	id := recordID("a@x.com")
	env, err := repo.Get(ctx, lockoutBucket, lockoutRecordType, id)
	require.NoError(t, err)
	env.Ciphertext[0] ^= 0xFF
	require.NoError(t, repo.Put(ctx, lockoutBucket, lockoutRecordType, id, env))

	_, _, err = store.Load(ctx, "a@x.com")
	assert.ErrorIs(t, err, ErrCorruptRecord)
	assert.False(t, th.IsLockedOut(ctx, "a@x.com"))

	_, err = repo.Get(ctx, lockoutBucket, lockoutRecordType, id)
	assert.True(t, storage.IsNotFound(err), "corrupt record should be removed")
}

func TestRepositoryStore_UnparseableTimestampUnlocks(t *testing.T) {
	repo := memory.NewRepository()
	ctx := context.Background()
	store, err := NewRepositoryStore(repo, sealingKey())
	require.NoError(t, err)

	id := recordID("a@x.com")
	raw := []byte(`{"identifier":"a@x.com","failureCount":5,"firstFailureAt":"2026-03-01T12:00:00Z","lockedUntil":"31/02/2026"}`)
	env, err := storage.SealRecord(sealingKey(), raw, []byte(lockoutAADPrefix+id))
	require.NoError(t, err)
	require.NoError(t, repo.Put(ctx, lockoutBucket, lockoutRecordType, id, env))

	th := New(WithStore(store))
	assert.False(t, th.IsLockedOut(ctx, "a@x.com"))
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("SESSIONGUARD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SESSIONGUARD_TEST_REDIS_ADDR not set; skipping Redis tests")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	prefix := "sessionguard-test:" + time.Now().Format("150405.000000") + ":"
	store := NewRedisStore(client, prefix)
	recordStoreTests(t, store)

	t.Run("CorruptValue", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, client.Set(ctx, store.key("c@x.com"), "not json", time.Minute).Err())
		_, _, err := store.Load(ctx, "c@x.com")
		assert.ErrorIs(t, err, ErrCorruptRecord)
	})

	t.Run("ExpiredTTLDeletes", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, store.Save(ctx, Record{Identifier: "d@x.com", FirstFailureAt: time.Now()}, 0))
		_, ok, err := store.Load(ctx, "d@x.com")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
