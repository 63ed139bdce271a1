package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"

	"signin/pkg/logging"
	"signin/pkg/oauth"
)

const defaultKeyringAccount = "default"

// KeyringStore keeps the credential record in the operating system keychain.
type KeyringStore struct {
	service string
	account string
}

// NewKeyringStore creates a store for the keyring entry service/account.
// Empty values fall back to DefaultKeyringService and "default".
func NewKeyringStore(service, account string) *KeyringStore {
	if service == "" {
		service = DefaultKeyringService
	}
	if account == "" {
		account = defaultKeyringAccount
	}
	return &KeyringStore{service: service, account: account}
}

func (s *KeyringStore) Save(ctx context.Context, cred *oauth.Credential) error {
	data, err := encodeRecord(cred)
	if err != nil {
		return err
	}
	if err := keyring.Set(s.service, s.account, string(data)); err != nil {
		return fmt.Errorf("failed to write keyring entry: %w", err)
	}
	logging.Audit("TokenStore", "credential_stored",
		slog.String("backend", BackendKeyring),
		slog.String("issuer", cred.Issuer))
	return nil
}

func (s *KeyringStore) Load(ctx context.Context) (*oauth.Credential, error) {
	secret, err := keyring.Get(s.service, s.account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read keyring entry: %w", err)
	}
	return decodeRecord([]byte(secret))
}

func (s *KeyringStore) Clear(ctx context.Context) error {
	if err := keyring.Delete(s.service, s.account); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete keyring entry: %w", err)
	}
	logging.Audit("TokenStore", "credential_cleared", slog.String("backend", BackendKeyring))
	return nil
}

func (s *KeyringStore) Close() error {
	return nil
}
