// Package storagetest holds the conformance suite shared by every
// storage.Repository backend.
package storagetest

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionguard/storage"
)

func sampleEnvelope(b byte) *storage.Envelope {
	return &storage.Envelope{
		Ver:        1,
		Scheme:     "aes256gcm",
		Nonce:      []byte("nonce1234567"),
		Ciphertext: []byte{b, b, b, b},
	}
}

// Run exercises repo against the Repository contract. The repository must be
// empty when Run is called.
func Run(t *testing.T, repo storage.Repository) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutAndGet", func(t *testing.T) {
		env := sampleEnvelope(1)
		require.NoError(t, repo.Put(ctx, "b1", "CREDENTIAL", "current", env))

		got, err := repo.Get(ctx, "b1", "CREDENTIAL", "current")
		require.NoError(t, err)
		assert.Equal(t, env.Ver, got.Ver)
		assert.Equal(t, env.Scheme, got.Scheme)
		assert.Equal(t, env.Nonce, got.Nonce)
		assert.Equal(t, env.Ciphertext, got.Ciphertext)

		// Returned envelopes must not alias stored state.
		got.Ciphertext[0] = 0xFF
		again, err := repo.Get(ctx, "b1", "CREDENTIAL", "current")
		require.NoError(t, err)
		assert.Equal(t, byte(1), again.Ciphertext[0])
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "b1", "CREDENTIAL", "ow", sampleEnvelope(1)))
		require.NoError(t, repo.Put(ctx, "b1", "CREDENTIAL", "ow", sampleEnvelope(2)))

		got, err := repo.Get(ctx, "b1", "CREDENTIAL", "ow")
		require.NoError(t, err)
		assert.Equal(t, []byte{2, 2, 2, 2}, got.Ciphertext)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.Get(ctx, "no-such-bucket", "CREDENTIAL", "current")
		assert.True(t, storage.IsNotFound(err), "missing bucket: %v", err)

		_, err = repo.Get(ctx, "b1", "CREDENTIAL", "no-such-id")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "missing record: %v", err)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "b1", "LOCKOUT", "del", sampleEnvelope(3)))
		require.NoError(t, repo.Delete(ctx, "b1", "LOCKOUT", "del"))

		_, err := repo.Get(ctx, "b1", "LOCKOUT", "del")
		assert.True(t, storage.IsNotFound(err))

		err = repo.Delete(ctx, "b1", "LOCKOUT", "del")
		assert.True(t, storage.IsNotFound(err), "second delete should report not found")
	})

	t.Run("ListScopedByType", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "b2", "LOCKOUT", "a", sampleEnvelope(4)))
		require.NoError(t, repo.Put(ctx, "b2", "LOCKOUT", "b", sampleEnvelope(5)))
		require.NoError(t, repo.Put(ctx, "b2", "KEY", "current", sampleEnvelope(6)))

		ids, err := repo.List(ctx, "b2", "LOCKOUT")
		require.NoError(t, err)
		sort.Strings(ids)
		assert.Equal(t, []string{"a", "b"}, ids)

		ids, err = repo.List(ctx, "empty-bucket", "LOCKOUT")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("BucketsIsolated", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "b3", "CREDENTIAL", "current", sampleEnvelope(7)))
		require.NoError(t, repo.Put(ctx, "b4", "CREDENTIAL", "current", sampleEnvelope(8)))

		got, err := repo.Get(ctx, "b3", "CREDENTIAL", "current")
		require.NoError(t, err)
		assert.Equal(t, byte(7), got.Ciphertext[0])
	})
}
