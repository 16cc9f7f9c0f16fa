package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/jmcleod/sessionguard/credential"
	"github.com/jmcleod/sessionguard/internal/util"
	"github.com/jmcleod/sessionguard/storage"
	bboltstorage "github.com/jmcleod/sessionguard/storage/bbolt"
	"github.com/jmcleod/sessionguard/storage/postgres"
	"github.com/jmcleod/sessionguard/throttle"
)

const (
	saltFile        = "passphrase.salt"
	saltSize        = 16
	redisKeyPrefix  = "sessionguard:throttle:"
	databaseFile    = "session.db"
	passphraseEnv   = "SESSIONGUARD_PASSPHRASE"
	credentialUsage = "credential"
	throttleUsage   = "throttle"
)

var passphrase string

// persistence bundles the repository and the keys derived for each store.
type persistence struct {
	repo        storage.Repository
	credKey     []byte
	throttleKey []byte
	closers     []io.Closer
	logger      *slog.Logger
}

func openPersistence(ctx context.Context, logger *slog.Logger) (*persistence, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	master, err := masterSecret()
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(master)

	p := &persistence{logger: logger}
	if p.credKey, err = credential.DeriveWrappingKey(master, credentialUsage); err != nil {
		return nil, err
	}
	if p.throttleKey, err = credential.DeriveWrappingKey(master, throttleUsage); err != nil {
		return nil, err
	}

	if cfg.PostgresDSN != "" {
		repo, err := postgres.NewRepositoryFromDSN(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		p.repo = repo
		p.closers = append(p.closers, repo)
		logger.Debug("using postgres repository")
	} else {
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, databaseFile), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open session storage: %w", err)
		}
		p.repo = repo
		p.closers = append(p.closers, repo)
		logger.Debug("using bbolt repository", "path", filepath.Join(cfg.DataDir, databaseFile))
	}
	return p, nil
}

// credentialStore opens the sealed credential record.
func (p *persistence) credentialStore(ctx context.Context) (*credential.SealedStore, error) {
	store, err := credential.NewSealedStore(ctx, p.repo, p.credKey, credential.WithLogger(p.logger))
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, store)
	return store, nil
}

// throttleStore returns a redis store when SESSIONGUARD_REDIS_URL is set so
// lockouts are shared between hosts, and a sealed repository store otherwise.
func (p *persistence) throttleStore() (throttle.RecordStore, error) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client := redis.NewClient(opts)
		p.closers = append(p.closers, client)
		return throttle.NewRedisStore(client, redisKeyPrefix), nil
	}
	return throttle.NewRepositoryStore(p.repo, p.throttleKey)
}

func (p *persistence) Close() error {
	util.WipeBytes(p.credKey)
	util.WipeBytes(p.throttleKey)
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i].Close())
	}
	return errors.Join(errs...)
}

// masterSecret returns the configured wrapping key, or stretches the
// passphrase with a salt kept in the data directory.
func masterSecret() ([]byte, error) {
	key, err := cfg.WrappingKeyBytes()
	if err != nil {
		return nil, err
	}
	if key != nil {
		return key, nil
	}
	if passphrase == "" {
		passphrase = os.Getenv(passphraseEnv)
	}
	if passphrase == "" {
		return nil, errors.New("no key material: set SESSIONGUARD_WRAPPING_KEY, SESSIONGUARD_PASSPHRASE, or --passphrase")
	}
	salt, err := loadOrCreateSalt(filepath.Join(cfg.DataDir, saltFile))
	if err != nil {
		return nil, err
	}
	return util.DeriveArgon2idKey(passphrase, salt, util.DefaultArgon2idParams())
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil && len(salt) == saltSize {
		return salt, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading salt: %w", err)
	}
	if salt, err = util.RandomBytes(saltSize); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("writing salt: %w", err)
	}
	return salt, nil
}
