package storage

import (
	"bytes"
	"testing"

	"github.com/jmcleod/sessionguard/internal/util"
)

func TestEnvelope(t *testing.T) {
	key, _ := util.NewAESKey()
	plain := []byte(`{"accessToken":"a"}`)
	aad := []byte("credential:current")

	env, err := SealRecord(key, plain, aad)
	if err != nil {
		t.Fatalf("SealRecord failed: %v", err)
	}
	if env.Ver != 1 {
		t.Errorf("expected version 1, got %d", env.Ver)
	}
	if len(env.Nonce) != 12 {
		t.Errorf("expected 12-byte nonce, got %d", len(env.Nonce))
	}

	decrypted, err := OpenRecord(key, env, aad)
	if err != nil {
		t.Fatalf("OpenRecord failed: %v", err)
	}
	if !bytes.Equal(plain, decrypted) {
		t.Errorf("expected %s, got %s", plain, decrypted)
	}

	t.Run("WrongAAD", func(t *testing.T) {
		if _, err := OpenRecord(key, env, []byte("credential:other")); err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("WrongKey", func(t *testing.T) {
		wrongKey, _ := util.NewAESKey()
		if _, err := OpenRecord(wrongKey, env, aad); err == nil {
			t.Error("expected error with wrong key, got nil")
		}
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		bad := env.Clone()
		bad.Ver = 99
		if _, err := OpenRecord(key, bad, aad); err == nil {
			t.Error("expected error with unsupported version, got nil")
		}
	})

	t.Run("UnsupportedScheme", func(t *testing.T) {
		bad := env.Clone()
		bad.Scheme = "raw"
		if _, err := OpenRecord(key, bad, aad); err == nil {
			t.Error("expected error with unsupported scheme, got nil")
		}
	})

	t.Run("NilEnvelope", func(t *testing.T) {
		if _, err := OpenRecord(key, nil, aad); err == nil {
			t.Error("expected error for nil envelope, got nil")
		}
	})

	t.Run("CloneIsDeep", func(t *testing.T) {
		c := env.Clone()
		c.Ciphertext[0] ^= 0xFF
		if bytes.Equal(c.Ciphertext, env.Ciphertext) {
			t.Error("Clone should not share ciphertext backing array")
		}
	})
}
