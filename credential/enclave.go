package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

// EnclaveStore keeps the credential sealed in a memguard Enclave. The
// serialized tokens are only decrypted into a locked buffer for the duration
// of a Get and are never held in ordinary heap memory between calls.
type EnclaveStore struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
	opts    options
}

var _ Store = (*EnclaveStore)(nil)

// NewEnclaveStore returns an empty in-memory store.
func NewEnclaveStore(opts ...Option) *EnclaveStore {
	return &EnclaveStore{opts: applyOptions(opts)}
}

func (s *EnclaveStore) Put(_ context.Context, c Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}
	// NewEnclave wipes data once sealed.
	enclave := memguard.NewEnclave(data)

	s.mu.Lock()
	s.enclave = enclave
	s.mu.Unlock()
	return nil
}

func (s *EnclaveStore) Get(_ context.Context) (Credential, bool) {
	s.mu.RLock()
	enclave := s.enclave
	s.mu.RUnlock()
	if enclave == nil {
		return Credential{}, false
	}

	buf, err := enclave.Open()
	if err != nil {
		s.opts.logger.Warn("credential enclave could not be opened; treating as absent", "error", err)
		s.drop(enclave)
		return Credential{}, false
	}
	defer buf.Destroy()

	var c Credential
	if err := json.Unmarshal(buf.Bytes(), &c); err != nil {
		s.opts.logger.Warn("credential enclave held undecodable data; treating as absent", "error", err)
		s.drop(enclave)
		return Credential{}, false
	}
	if c.Expired(s.opts.clock.Now()) {
		s.drop(enclave)
		return Credential{}, false
	}
	return c, true
}

func (s *EnclaveStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.enclave = nil
	s.mu.Unlock()
	return nil
}

// drop clears the store only if it still holds the given enclave, so a
// concurrent Put is never undone by a stale reader.
func (s *EnclaveStore) drop(enclave *memguard.Enclave) {
	s.mu.Lock()
	if s.enclave == enclave {
		s.enclave = nil
	}
	s.mu.Unlock()
}
