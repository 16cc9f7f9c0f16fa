package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/sessionguard/internal/util"
	"github.com/jmcleod/sessionguard/storage"
)

const (
	credentialBucket     = "__credentials"
	credentialRecordType = "CREDENTIAL"
	keyRecordType        = "RECORD_KEY"
	keyRecordID          = "current"
	credentialAADPrefix  = "credential:"
	keyWrappingAAD       = "sessionguard:credential_record_key:v1"
)

// SealedStore persists the credential in a storage.Repository, encrypted at
// rest with AES-256-GCM, so a session survives a process restart until its
// refresh token expires.
//
// The record key is itself sealed with an externally provided wrapping key
// before being stored, so a copy of the repository alone cannot recover
// tokens. Both keys are held in memguard enclaves while the store is open.
type SealedStore struct {
	repo storage.Repository
	opts options

	mu     sync.Mutex
	key    *memguard.Enclave
	closed bool
}

var _ Store = (*SealedStore)(nil)

// NewSealedStore opens (or initializes) the sealed credential record in repo.
// The wrappingKey must be 32 bytes and never be stored in the same repository.
func NewSealedStore(ctx context.Context, repo storage.Repository, wrappingKey []byte, opts ...Option) (*SealedStore, error) {
	if len(wrappingKey) != util.AESKeySize {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidKey, len(wrappingKey))
	}
	o := applyOptions(opts)
	key, err := loadOrCreateRecordKey(ctx, repo, wrappingKey, o)
	if err != nil {
		return nil, err
	}
	return &SealedStore{
		repo: repo,
		opts: o,
		key:  memguard.NewEnclave(key),
	}, nil
}

// Close drops the record key. The repository is owned by the caller.
func (s *SealedStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = nil
	s.closed = true
	return nil
}

func (s *SealedStore) aad() []byte {
	return []byte(credentialAADPrefix + s.opts.slot)
}

func (s *SealedStore) Put(ctx context.Context, c Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}
	defer util.WipeBytes(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	keyBuf, err := s.key.Open()
	if err != nil {
		return fmt.Errorf("opening record key: %w", err)
	}
	defer keyBuf.Destroy()

	env, err := storage.SealRecord(keyBuf.Bytes(), data, s.aad())
	if err != nil {
		return fmt.Errorf("sealing credential: %w", err)
	}
	if err := s.repo.Put(ctx, credentialBucket, credentialRecordType, s.opts.slot, env); err != nil {
		return fmt.Errorf("persisting credential: %w", err)
	}
	return nil
}

func (s *SealedStore) Get(ctx context.Context) (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Credential{}, false
	}

	env, err := s.repo.Get(ctx, credentialBucket, credentialRecordType, s.opts.slot)
	if err != nil {
		if !storage.IsNotFound(err) {
			s.opts.logger.Warn("credential read failed; treating as absent", "error", err)
		}
		return Credential{}, false
	}

	keyBuf, err := s.key.Open()
	if err != nil {
		s.opts.logger.Warn("record key unavailable; treating credential as absent", "error", err)
		return Credential{}, false
	}
	defer keyBuf.Destroy()

	data, err := storage.OpenRecord(keyBuf.Bytes(), env, s.aad())
	if err != nil {
		s.opts.logger.Warn("credential record failed authentication; discarding", "error", err)
		s.purgeLocked(ctx)
		return Credential{}, false
	}
	defer util.WipeBytes(data)

	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		s.opts.logger.Warn("credential record is corrupt; discarding", "error", err)
		s.purgeLocked(ctx)
		return Credential{}, false
	}
	if c.Expired(s.opts.clock.Now()) {
		s.purgeLocked(ctx)
		return Credential{}, false
	}
	return c, true
}

func (s *SealedStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.repo.Delete(ctx, credentialBucket, credentialRecordType, s.opts.slot)
	if err != nil && !storage.IsNotFound(err) {
		return fmt.Errorf("clearing credential: %w", err)
	}
	return nil
}

func (s *SealedStore) purgeLocked(ctx context.Context) {
	err := s.repo.Delete(ctx, credentialBucket, credentialRecordType, s.opts.slot)
	if err != nil && !storage.IsNotFound(err) {
		s.opts.logger.Warn("failed to purge credential record", "error", err)
	}
}

// loadOrCreateRecordKey loads the record key from storage, unsealing it with
// the wrapping key. If no key exists, or the wrapping key no longer opens it,
// a new random key is generated, sealed, and persisted. A changed wrapping
// key therefore makes previously stored credentials unreadable.
func loadOrCreateRecordKey(ctx context.Context, repo storage.Repository, wrappingKey []byte, o options) ([]byte, error) {
	aad := []byte(keyWrappingAAD)

	env, err := repo.Get(ctx, credentialBucket, keyRecordType, keyRecordID)
	switch {
	case err == nil:
		key, openErr := storage.OpenRecord(wrappingKey, env, aad)
		if openErr == nil && len(key) == util.AESKeySize {
			return key, nil
		}
		o.logger.Warn("stored record key could not be unsealed; generating a new one")
	case !storage.IsNotFound(err):
		return nil, fmt.Errorf("loading record key: %w", err)
	}

	key, err := util.NewAESKey()
	if err != nil {
		return nil, err
	}
	sealed, err := storage.SealRecord(wrappingKey, key, aad)
	if err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("sealing record key: %w", err)
	}
	if err := repo.Put(ctx, credentialBucket, keyRecordType, keyRecordID, sealed); err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("persisting record key: %w", err)
	}
	return key, nil
}

// DeriveWrappingKey derives a purpose-bound 32-byte wrapping key from a
// master secret. Each store gets its own purpose so a leaked key for one
// cannot open the other.
func DeriveWrappingKey(master []byte, purpose string) ([]byte, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("%w: empty master secret", ErrInvalidKey)
	}
	return util.HKDF(master, []byte("sessionguard"), []byte(purpose))
}
