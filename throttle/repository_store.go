package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/sessionguard/internal/util"
	"github.com/jmcleod/sessionguard/storage"
)

const (
	lockoutBucket     = "__lockouts"
	lockoutRecordType = "LOCKOUT"
	lockoutAADPrefix  = "lockout:"
)

// RepositoryStore persists records in a storage.Repository, sealed with
// AES-256-GCM. A record edited at rest fails authentication and is treated
// as corrupt, so tampering can only ever unlock, never lock, an identifier.
type RepositoryStore struct {
	repo storage.Repository
	key  *memguard.Enclave
}

var _ RecordStore = (*RepositoryStore)(nil)

// NewRepositoryStore returns a store sealing records with the 32-byte key.
func NewRepositoryStore(repo storage.Repository, sealingKey []byte) (*RepositoryStore, error) {
	if len(sealingKey) != util.AESKeySize {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidKey, len(sealingKey))
	}
	return &RepositoryStore{
		repo: repo,
		// NewEnclave wipes its input; keep the caller's slice intact.
		key: memguard.NewEnclave(util.CopyBytes(sealingKey)),
	}, nil
}

func (s *RepositoryStore) Load(ctx context.Context, identifier string) (Record, bool, error) {
	id := recordID(identifier)
	env, err := s.repo.Get(ctx, lockoutBucket, lockoutRecordType, id)
	if storage.IsNotFound(err) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("loading lockout record: %w", err)
	}

	keyBuf, err := s.key.Open()
	if err != nil {
		return Record{}, false, fmt.Errorf("opening sealing key: %w", err)
	}
	defer keyBuf.Destroy()

	data, err := storage.OpenRecord(keyBuf.Bytes(), env, []byte(lockoutAADPrefix+id))
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *RepositoryStore) Save(ctx context.Context, r Record, _ time.Duration) error {
	data, err := encodeRecord(r)
	if err != nil {
		return fmt.Errorf("encoding lockout record: %w", err)
	}
	keyBuf, err := s.key.Open()
	if err != nil {
		return fmt.Errorf("opening sealing key: %w", err)
	}
	defer keyBuf.Destroy()

	id := recordID(r.Identifier)
	env, err := storage.SealRecord(keyBuf.Bytes(), data, []byte(lockoutAADPrefix+id))
	if err != nil {
		return fmt.Errorf("sealing lockout record: %w", err)
	}
	return s.repo.Put(ctx, lockoutBucket, lockoutRecordType, id, env)
}

func (s *RepositoryStore) Delete(ctx context.Context, identifier string) error {
	err := s.repo.Delete(ctx, lockoutBucket, lockoutRecordType, recordID(identifier))
	if err != nil && !storage.IsNotFound(err) {
		return err
	}
	return nil
}
