package util

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func TestAES(t *testing.T) {
	key, _ := NewAESKey()
	plainText := []byte("hello world")
	aad := []byte("context")

	t.Run("EncryptDecryptWithAAD", func(t *testing.T) {
		cipherText, err := EncryptAESWithAAD(plainText, key, aad)
		if err != nil {
			t.Fatalf("EncryptAESWithAAD failed: %v", err)
		}

		decrypted, err := DecryptAESWithAAD(cipherText, key, aad)
		if err != nil {
			t.Fatalf("DecryptAESWithAAD failed: %v", err)
		}

		if !bytes.Equal(plainText, decrypted) {
			t.Errorf("expected %s, got %s", plainText, decrypted)
		}
	})

	t.Run("TamperAAD", func(t *testing.T) {
		cipherText, _ := EncryptAESWithAAD(plainText, key, aad)
		if _, err := DecryptAESWithAAD(cipherText, key, []byte("wrong context")); err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("TamperCipherText", func(t *testing.T) {
		cipherText, _ := EncryptAESWithAAD(plainText, key, aad)
		cipherText[len(cipherText)-1] ^= 0xFF
		if _, err := DecryptAESWithAAD(cipherText, key, aad); err == nil {
			t.Error("expected error with tampered ciphertext, got nil")
		}
	})

	t.Run("RejectBadKeySize", func(t *testing.T) {
		if _, err := EncryptAESWithAAD(plainText, []byte("too short"), aad); err == nil {
			t.Error("expected error with wrong key size, got nil")
		}
	})

	t.Run("RejectShortCipherText", func(t *testing.T) {
		if _, err := DecryptAESWithAAD([]byte("short"), key, aad); err == nil {
			t.Error("expected error with truncated ciphertext, got nil")
		}
	})
}

func TestHKDF(t *testing.T) {
	seed := []byte("master secret")

	a, err := HKDF(seed, nil, []byte("credential"))
	if err != nil {
		t.Fatalf("HKDF failed: %v", err)
	}
	if len(a) != HKDFKeyLength {
		t.Fatalf("expected %d bytes, got %d", HKDFKeyLength, len(a))
	}

	again, _ := HKDF(seed, nil, []byte("credential"))
	if !bytes.Equal(a, again) {
		t.Error("HKDF should be deterministic for identical inputs")
	}

	b, _ := HKDF(seed, nil, []byte("throttle"))
	if bytes.Equal(a, b) {
		t.Error("different info strings should yield different keys")
	}
}

func TestBytes(t *testing.T) {
	src := []byte{1, 2, 3}
	dst := CopyBytes(src)
	if !bytes.Equal(src, dst) {
		t.Fatalf("CopyBytes mismatch: %v vs %v", src, dst)
	}
	dst[0] = 9
	if src[0] != 1 {
		t.Error("CopyBytes should not alias the source")
	}

	WipeBytes(src)
	for i, b := range src {
		if b != 0 {
			t.Errorf("byte %d not wiped", i)
		}
	}
}

func TestNormalizeIdentifier(t *testing.T) {
	cases := map[string]string{
		"a@x.com":         "a@x.com",
		"  A@X.com ":      "a@x.com",
		"ａ@x.com":         "a@x.com", // full-width a
		"Ünïcode@Example": "ünïcode@example",
	}
	for in, want := range cases {
		if got := NormalizeIdentifier(in); got != want {
			t.Errorf("NormalizeIdentifier(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskIdentifier(t *testing.T) {
	if got := MaskIdentifier("alice@example.com"); got != "al***" {
		t.Errorf("got %q", got)
	}
	if got := MaskIdentifier("ab"); got != "***" {
		t.Errorf("short identifiers should be fully masked, got %q", got)
	}
}

func TestRandom(t *testing.T) {
	b, err := RandomBytes(16)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	if len(b) != 16 {
		t.Fatalf("expected 16 bytes, got %d", len(b))
	}

	tok, err := RandomToken(32)
	if err != nil {
		t.Fatalf("RandomToken failed: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		t.Fatalf("token is not base64url: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("expected 32 decoded bytes, got %d", len(raw))
	}

	other, _ := RandomToken(32)
	if tok == other {
		t.Error("two random tokens should differ")
	}
}

func TestDeriveArgon2idKey(t *testing.T) {
	params := Argon2idParams{Time: 1, MemoryKiB: 1024, Parallelism: 1, KeyLen: AESKeySize}
	salt := bytes.Repeat([]byte{1}, 16)

	a, err := DeriveArgon2idKey("correct horse", salt, params)
	if err != nil {
		t.Fatalf("DeriveArgon2idKey failed: %v", err)
	}
	if len(a) != AESKeySize {
		t.Fatalf("expected %d bytes, got %d", AESKeySize, len(a))
	}
	b, _ := DeriveArgon2idKey("battery staple", salt, params)
	if bytes.Equal(a, b) {
		t.Error("different passphrases should yield different keys")
	}
	if _, err := DeriveArgon2idKey("x", []byte("short"), params); err == nil {
		t.Error("expected error for a short salt")
	}
	params.KeyLen = 16
	if _, err := DeriveArgon2idKey("x", salt, params); err == nil {
		t.Error("expected error for a non-AES key length")
	}
}
