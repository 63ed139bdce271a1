package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"signin/pkg/logging"
	"signin/pkg/oauth"
)

var errNoRefreshToken = errors.New("no refresh token available")

// RefreshState is the lifecycle state of the active credential.
type RefreshState int32

const (
	// StateSignedOut means no credential is active.
	StateSignedOut RefreshState = iota
	// StateValid means the credential is outside its refresh window.
	StateValid
	// StateNearExpiry means the next RefreshIfNeeded will refresh.
	StateNearExpiry
	// StateRefreshing means a refresh request is in flight.
	StateRefreshing
	// StateFailed means the last refresh was rejected and the user must sign in again.
	StateFailed
)

func (s RefreshState) String() string {
	switch s {
	case StateSignedOut:
		return "signed_out"
	case StateValid:
		return "valid"
	case StateNearExpiry:
		return "near_expiry"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RefreshCoordinator keeps the active credential fresh. Concurrent callers
// share a single in-flight refresh request.
type RefreshCoordinator struct {
	cfg       Config
	client    *oauth.Client
	clock     Clock
	holder    *holder
	endpoints func(ctx context.Context) (oauth.Endpoints, error)
	notifier  *notifier

	group      singleflight.Group
	refreshing atomic.Int32
	failed     atomic.Bool
}

func newRefreshCoordinator(cfg Config, client *oauth.Client, clock Clock, h *holder,
	endpoints func(ctx context.Context) (oauth.Endpoints, error), n *notifier) *RefreshCoordinator {
	return &RefreshCoordinator{
		cfg:       cfg,
		client:    client,
		clock:     clock,
		holder:    h,
		endpoints: endpoints,
		notifier:  n,
	}
}

// State reports the current lifecycle state.
func (r *RefreshCoordinator) State() RefreshState {
	if r.refreshing.Load() > 0 {
		return StateRefreshing
	}
	cur := r.holder.Current()
	if cur == nil {
		if r.failed.Load() {
			return StateFailed
		}
		return StateSignedOut
	}
	if cur.NeedsRefreshAt(r.clock.Now(), r.cfg.RefreshWindow) {
		return StateNearExpiry
	}
	return StateValid
}

// RefreshIfNeeded refreshes the active credential when it is within the
// refresh window. It is a no-op when no credential is active.
func (r *RefreshCoordinator) RefreshIfNeeded(ctx context.Context) error {
	cur := r.holder.Current()
	if cur == nil || !cur.NeedsRefreshAt(r.clock.Now(), r.cfg.RefreshWindow) {
		return nil
	}
	return r.await(ctx, cur)
}

// ForceRefresh refreshes the active credential regardless of its expiry.
// Without an active credential it returns oauth.ErrReauthRequired.
func (r *RefreshCoordinator) ForceRefresh(ctx context.Context) error {
	cur := r.holder.Current()
	if cur == nil {
		return oauth.ErrReauthRequired
	}
	return r.await(ctx, cur)
}

// await joins the refresh for cur, starting it if none is in flight. The
// shared request is bounded by the deadline of the caller that started it.
// Later callers may stop waiting when their ctx ends; the request carries on.
func (r *RefreshCoordinator) await(ctx context.Context, cur *oauth.Credential) error {
	ch := r.group.DoChan(cur.ID, func() (any, error) {
		flightCtx, cancel := flightContext(ctx)
		defer cancel()
		return nil, r.refresh(flightCtx, cur.ID)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flightContext detaches the shared request from the starting caller's
// cancellation but keeps its deadline.
func flightContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(detached, deadline)
	}
	return context.WithCancel(detached)
}

func (r *RefreshCoordinator) refresh(ctx context.Context, id string) error {
	cur := r.holder.Current()
	if cur == nil || cur.ID != id {
		// Signed out or already replaced by an earlier refresh.
		return nil
	}

	if cur.RefreshToken == "" {
		// The credential stays usable until it expires.
		if cur.IsExpiredAt(r.clock.Now(), r.cfg.ClockSkew) {
			return r.fail(ctx, cur, errNoRefreshToken)
		}
		return fmt.Errorf("%w: %v", oauth.ErrReauthRequired, errNoRefreshToken)
	}

	r.refreshing.Add(1)
	defer r.refreshing.Add(-1)

	endpoints, err := r.endpoints(ctx)
	if err != nil {
		return &oauth.ExchangeFailedError{Grant: "refresh_token", Reason: "endpoint resolution failed", Err: err}
	}

	logging.Debug("RefreshCoordinator", "Refreshing credential issued by %s", cur.Issuer)
	fresh, err := r.client.Refresh(ctx, endpoints, r.cfg.ClientID, cur.RefreshToken)
	if err != nil {
		if active := r.holder.Current(); active == nil || active.ID != cur.ID {
			// Signed out while the request was in flight, which may itself
			// have revoked the refresh token.
			return nil
		}
		if errors.Is(err, oauth.ErrInvalidGrant) {
			return r.fail(ctx, cur, err)
		}
		logging.Warn("RefreshCoordinator", "Refresh failed, keeping current credential: %v", err)
		return err
	}

	if fresh.RefreshToken == "" {
		fresh.RefreshToken = cur.RefreshToken
	}
	if fresh.IDToken == "" {
		fresh.IDToken = cur.IDToken
	}
	if len(fresh.Scopes) == 0 {
		fresh.Scopes = cur.Scopes
	}
	issuer := r.cfg.Issuer
	if issuer == "" {
		issuer = cur.Issuer
	}
	fresh = stamp(fresh, issuer, r.clock)

	replaced, err := r.holder.replace(ctx, cur.ID, fresh)
	if !replaced {
		logging.Debug("RefreshCoordinator", "Discarding refresh result for a credential that is no longer active")
		return nil
	}
	if err != nil {
		logging.Warn("RefreshCoordinator", "Refreshed credential could not be persisted: %v", err)
	}

	r.failed.Store(false)
	logging.Info("RefreshCoordinator", "Credential refreshed, expires at %s", fresh.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
	r.notifier.emit(Event{Type: EventRefreshed, Credential: fresh})
	return nil
}

// fail drops cur and reports that the user has to sign in again.
func (r *RefreshCoordinator) fail(ctx context.Context, cur *oauth.Credential, cause error) error {
	cleared, err := r.holder.clearIf(ctx, cur.ID)
	if err != nil {
		logging.Warn("RefreshCoordinator", "Failed to clear rejected credential: %v", err)
	}
	if cleared {
		r.failed.Store(true)
		logging.Audit("RefreshCoordinator", "refresh_rejected",
			slog.String("issuer", cur.Issuer),
			slog.String("reason", cause.Error()))
		r.notifier.emit(Event{Type: EventReauthRequired, Err: cause})
	}
	return fmt.Errorf("%w: %v", oauth.ErrReauthRequired, cause)
}

func (r *RefreshCoordinator) reset() {
	r.failed.Store(false)
}
