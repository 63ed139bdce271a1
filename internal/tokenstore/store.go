package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"signin/pkg/oauth"
)

// Backend names accepted by Open.
const (
	BackendMemory  = "memory"
	BackendFile    = "file"
	BackendKeyring = "keyring"
	BackendRedis   = "redis"
	BackendSQLite  = "sqlite"
)

// DefaultStorageDir is the default directory for persisted credentials,
// relative to the user's home directory.
const DefaultStorageDir = ".config/signin"

// DefaultKeyringService is the keyring service name used when none is configured.
const DefaultKeyringService = "signin"

// DefaultRedisKey is the key holding the credential record in Redis.
const DefaultRedisKey = "signin:credential"

// recordVersion is the schema version of the persisted record.
const recordVersion = 1

// ErrCorruptRecord is returned by Load when the persisted record cannot be decoded.
var ErrCorruptRecord = errors.New("stored credential record is corrupt")

// Store holds at most one active credential.
//
// Implementations must make Save atomic: a concurrent Load returns either
// the previous or the new credential, never a partial one.
type Store interface {
	// Save overwrites the active credential.
	Save(ctx context.Context, cred *oauth.Credential) error

	// Load returns the active credential, or nil when there is none.
	Load(ctx context.Context) (*oauth.Credential, error)

	// Clear removes the active credential. Clearing an empty store is not an error.
	Clear(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Config selects and configures a storage backend.
type Config struct {
	// Backend is one of memory, file, keyring, redis, sqlite. Defaults to file.
	Backend string `yaml:"backend,omitempty" env:"BACKEND"`

	// Path is the credential file (file) or database file (sqlite).
	// Defaults to ~/.config/signin/credential.json or credential.db.
	Path string `yaml:"path,omitempty" env:"PATH"`

	// Service and Account name the keyring entry.
	Service string `yaml:"service,omitempty" env:"SERVICE"`
	Account string `yaml:"account,omitempty" env:"ACCOUNT"`

	// RedisAddr, RedisPassword, RedisDB and RedisKey configure the redis backend.
	RedisAddr     string `yaml:"redis_addr,omitempty" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password,omitempty" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db,omitempty" env:"REDIS_DB"`
	RedisKey      string `yaml:"redis_key,omitempty" env:"REDIS_KEY"`

	// TTL bounds how long a redis record lives. Zero keeps it until cleared.
	TTL time.Duration `yaml:"ttl,omitempty" env:"TTL"`
}

// Open creates the store selected by cfg.Backend.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile, "":
		path, err := defaultPath(cfg.Path, "credential.json")
		if err != nil {
			return nil, err
		}
		return NewFileStore(path), nil
	case BackendKeyring:
		return NewKeyringStore(cfg.Service, cfg.Account), nil
	case BackendRedis:
		return OpenRedis(cfg)
	case BackendSQLite:
		path, err := defaultPath(cfg.Path, "credential.db")
		if err != nil {
			return nil, err
		}
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown token store backend %q", cfg.Backend)
	}
}

func defaultPath(path, fileName string) (string, error) {
	if path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, DefaultStorageDir, fileName), nil
}

type record struct {
	Version    int               `json:"version"`
	Credential *oauth.Credential `json:"credential"`
}

func encodeRecord(cred *oauth.Credential) ([]byte, error) {
	if cred == nil {
		return nil, errors.New("cannot store a nil credential")
	}
	data, err := json.Marshal(record{Version: recordVersion, Credential: cred})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credential: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*oauth.Credential, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptRecord, rec.Version)
	}
	if rec.Credential == nil || rec.Credential.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing access token", ErrCorruptRecord)
	}
	return rec.Credential, nil
}
