package credential

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionguard/storage"
	"github.com/jmcleod/sessionguard/storage/memory"
)

func testCredential(now time.Time) Credential {
	return Credential{
		AccessToken:      "access-1",
		RefreshToken:     "refresh-1",
		AccessExpiresAt:  now.Add(time.Hour),
		RefreshExpiresAt: now.Add(24 * time.Hour),
	}
}

func testWrappingKey(b byte) []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = b
	}
	return k
}

// storeTests runs the common suite against any Store implementation. The
// store must be built on clock and start empty.
func storeTests(t *testing.T, store Store, clock *clockwork.FakeClock) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetEmpty", func(t *testing.T) {
		_, ok := store.Get(ctx)
		assert.False(t, ok)
	})

	t.Run("PutAndGet", func(t *testing.T) {
		c := testCredential(clock.Now())
		require.NoError(t, store.Put(ctx, c))

		got, ok := store.Get(ctx)
		require.True(t, ok)
		assert.Equal(t, c.AccessToken, got.AccessToken)
		assert.Equal(t, c.RefreshToken, got.RefreshToken)
		assert.True(t, c.AccessExpiresAt.Equal(got.AccessExpiresAt))
		assert.True(t, c.RefreshExpiresAt.Equal(got.RefreshExpiresAt))
	})

	t.Run("Overwrite", func(t *testing.T) {
		c := testCredential(clock.Now())
		c.AccessToken = "access-2"
		require.NoError(t, store.Put(ctx, c))

		got, ok := store.Get(ctx)
		require.True(t, ok)
		assert.Equal(t, "access-2", got.AccessToken)
	})

	t.Run("RejectsInvalid", func(t *testing.T) {
		err := store.Put(ctx, Credential{RefreshToken: "r"})
		assert.ErrorIs(t, err, ErrInvalidCredential)

		// The previous credential is untouched.
		_, ok := store.Get(ctx)
		assert.True(t, ok)
	})

	t.Run("ClearIsIdempotent", func(t *testing.T) {
		require.NoError(t, store.Clear(ctx))
		require.NoError(t, store.Clear(ctx))
		_, ok := store.Get(ctx)
		assert.False(t, ok)
	})

	t.Run("ExpiredAccessReadsAbsent", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, testCredential(clock.Now())))
		clock.Advance(time.Hour)
		_, ok := store.Get(ctx)
		assert.False(t, ok, "access expiry reached")
	})

	t.Run("ExpiredRefreshReadsAbsent", func(t *testing.T) {
		c := testCredential(clock.Now())
		c.RefreshExpiresAt = clock.Now().Add(time.Minute)
		require.NoError(t, store.Put(ctx, c))
		clock.Advance(2 * time.Minute)
		_, ok := store.Get(ctx)
		assert.False(t, ok, "refresh expiry reached")
	})
}

func TestEnclaveStore(t *testing.T) {
	clock := clockwork.NewFakeClock()
	storeTests(t, NewEnclaveStore(WithClock(clock)), clock)
}

func TestSealedStore(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store, err := NewSealedStore(context.Background(), memory.NewRepository(), testWrappingKey(1), WithClock(clock))
	require.NoError(t, err)
	defer store.Close()
	storeTests(t, store, clock)
}

func TestSealedStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	repo := memory.NewRepository()

	first, err := NewSealedStore(ctx, repo, testWrappingKey(1), WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, testCredential(clock.Now())))
	require.NoError(t, first.Close())

	second, err := NewSealedStore(ctx, repo, testWrappingKey(1), WithClock(clock))
	require.NoError(t, err)
	defer second.Close()

	got, ok := second.Get(ctx)
	require.True(t, ok, "credential should survive a reopen with the same wrapping key")
	assert.Equal(t, "access-1", got.AccessToken)
}

func TestSealedStore_WrongWrappingKeyReadsAbsent(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	repo := memory.NewRepository()

	first, err := NewSealedStore(ctx, repo, testWrappingKey(1), WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, testCredential(clock.Now())))

	second, err := NewSealedStore(ctx, repo, testWrappingKey(2), WithClock(clock))
	require.NoError(t, err)
	_, ok := second.Get(ctx)
	assert.False(t, ok, "a rotated wrapping key must not open old credentials")
}

func TestSealedStore_TamperedRecordIsPurged(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	repo := memory.NewRepository()

	store, err := NewSealedStore(ctx, repo, testWrappingKey(1), WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, testCredential(clock.Now())))

	env, err := repo.Get(ctx, credentialBucket, credentialRecordType, "current")
	require.NoError(t, err)
	env.Ciphertext[0] ^= 0xFF
	require.NoError(t, repo.Put(ctx, credentialBucket, credentialRecordType, "current", env))

	_, ok := store.Get(ctx)
	assert.False(t, ok)

	_, err = repo.Get(ctx, credentialBucket, credentialRecordType, "current")
	assert.True(t, storage.IsNotFound(err), "corrupt record should be deleted")
}

func TestSealedStore_SlotsAreIsolated(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	repo := memory.NewRepository()

	a, err := NewSealedStore(ctx, repo, testWrappingKey(1), WithClock(clock), WithSlot("alice"))
	require.NoError(t, err)
	b, err := NewSealedStore(ctx, repo, testWrappingKey(1), WithClock(clock), WithSlot("bob"))
	require.NoError(t, err)

	require.NoError(t, a.Put(ctx, testCredential(clock.Now())))
	_, ok := b.Get(ctx)
	assert.False(t, ok)

	// Swapping the record between slots fails AAD authentication.
	env, err := repo.Get(ctx, credentialBucket, credentialRecordType, "alice")
	require.NoError(t, err)
	require.NoError(t, repo.Put(ctx, credentialBucket, credentialRecordType, "bob", env))
	_, ok = b.Get(ctx)
	assert.False(t, ok)
}

func TestSealedStore_Closed(t *testing.T) {
	ctx := context.Background()
	store, err := NewSealedStore(ctx, memory.NewRepository(), testWrappingKey(1))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	err = store.Put(ctx, testCredential(time.Now()))
	assert.ErrorIs(t, err, ErrClosed)
	_, ok := store.Get(ctx)
	assert.False(t, ok)
}

func TestNewSealedStore_RejectsShortKey(t *testing.T) {
	_, err := NewSealedStore(context.Background(), memory.NewRepository(), []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestDeriveWrappingKey(t *testing.T) {
	a, err := DeriveWrappingKey([]byte("master"), "credential")
	require.NoError(t, err)
	assert.Len(t, a, 32)

	b, err := DeriveWrappingKey([]byte("master"), "throttle")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = DeriveWrappingKey(nil, "credential")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestCredential_FormattingRedactsTokens(t *testing.T) {
	c := testCredential(time.Now())
	s := fmt.Sprintf("%v %s", c, c)
	assert.NotContains(t, s, "access-1")
	assert.NotContains(t, s, "refresh-1")
}
