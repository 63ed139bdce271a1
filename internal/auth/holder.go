package auth

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"signin/internal/tokenstore"
	"signin/pkg/logging"
	"signin/pkg/oauth"
)

// holder owns the active credential. Readers use Current without locking;
// every mutation goes through mu and is persisted to the store.
type holder struct {
	mu      sync.Mutex
	current atomic.Pointer[oauth.Credential]
	store   tokenstore.Store
}

func newHolder(store tokenstore.Store) *holder {
	return &holder{store: store}
}

// Current returns the published credential. It must not be modified.
func (h *holder) Current() *oauth.Credential {
	return h.current.Load()
}

// publish replaces whatever is active with cred.
func (h *holder) publish(ctx context.Context, cred *oauth.Credential) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.setLocked(ctx, cred)
}

// replace publishes cred only while the credential with id is still active.
// It reports false when the credential was signed out or replaced meanwhile.
func (h *holder) replace(ctx context.Context, id string, cred *oauth.Credential) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur := h.current.Load()
	if cur == nil || cur.ID != id {
		return false, nil
	}
	return true, h.setLocked(ctx, cred)
}

// clear removes the active credential from memory and the store.
func (h *holder) clear(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.current.Store(nil)
	return h.store.Clear(ctx)
}

// clearIf clears only while the credential with id is still active.
func (h *holder) clearIf(ctx context.Context, id string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur := h.current.Load()
	if cur == nil || cur.ID != id {
		return false, nil
	}
	h.current.Store(nil)
	return true, h.store.Clear(ctx)
}

// reload adopts whatever the store holds and returns the previous and the
// new credential.
func (h *holder) reload(ctx context.Context) (prev, next *oauth.Credential, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev = h.current.Load()
	next, err = h.store.Load(ctx)
	if err != nil {
		return prev, prev, err
	}
	if next != nil && next.ID == "" {
		next.ID = uuid.NewString()
	}
	h.current.Store(next)
	return prev, next, nil
}

// setLocked publishes in memory first so the session stays usable when
// persistence fails; the store error is still returned.
func (h *holder) setLocked(ctx context.Context, cred *oauth.Credential) error {
	h.current.Store(cred)
	if err := h.store.Save(ctx, cred); err != nil {
		logging.Warn("Session", "Failed to persist credential: %v", err)
		return err
	}
	return nil
}

// stamp turns a token endpoint result into a publishable credential.
func stamp(cred *oauth.Credential, issuer string, clock Clock) *oauth.Credential {
	cred.ID = uuid.NewString()
	cred.CreatedAt = clock.Now()
	if issuer != "" {
		cred.Issuer = issuer
	}
	return cred
}
