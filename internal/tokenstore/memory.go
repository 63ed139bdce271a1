package tokenstore

import (
	"context"
	"errors"
	"sync/atomic"

	"signin/pkg/oauth"
)

// MemoryStore keeps the credential in process memory only.
type MemoryStore struct {
	current atomic.Pointer[oauth.Credential]
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(ctx context.Context, cred *oauth.Credential) error {
	if cred == nil {
		return errors.New("cannot store a nil credential")
	}
	s.current.Store(cred.Clone())
	return nil
}

func (s *MemoryStore) Load(ctx context.Context) (*oauth.Credential, error) {
	return s.current.Load().Clone(), nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.current.Store(nil)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
