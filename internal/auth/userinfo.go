package auth

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"signin/pkg/logging"
	"signin/pkg/oauth"
)

// UserInfoCache serves the userinfo claims of the active credential,
// fetching them at most once per credential.
type UserInfoCache struct {
	cfg       Config
	client    *oauth.Client
	clock     Clock
	holder    *holder
	endpoints func(ctx context.Context) (oauth.Endpoints, error)

	mu     sync.Mutex
	credID string
	info   *oauth.UserInfo

	group singleflight.Group
}

func newUserInfoCache(cfg Config, client *oauth.Client, clock Clock, h *holder,
	endpoints func(ctx context.Context) (oauth.Endpoints, error)) *UserInfoCache {
	return &UserInfoCache{cfg: cfg, client: client, clock: clock, holder: h, endpoints: endpoints}
}

// UserInfo returns the claims for the active credential, or nil when the
// session is not authenticated or the fetch fails.
func (c *UserInfoCache) UserInfo(ctx context.Context) *oauth.UserInfo {
	cur := c.holder.Current()
	if cur == nil || cur.IsExpiredAt(c.clock.Now(), c.cfg.ClockSkew) {
		return nil
	}

	if info := c.cached(cur.ID); info != nil {
		return info
	}

	ch := c.group.DoChan(cur.ID, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), cur)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			logging.Debug("UserInfoCache", "User info unavailable: %v", res.Err)
			return nil
		}
		return res.Val.(*oauth.UserInfo)
	case <-ctx.Done():
		return nil
	}
}

func (c *UserInfoCache) cached(credID string) *oauth.UserInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credID != credID {
		return nil
	}
	return c.info
}

func (c *UserInfoCache) fetch(ctx context.Context, cred *oauth.Credential) (*oauth.UserInfo, error) {
	endpoints, err := c.endpoints(ctx)
	if err != nil {
		return nil, err
	}
	if endpoints.UserInfo == "" {
		return nil, errors.New("no userinfo endpoint configured or discovered")
	}

	info, err := c.client.FetchUserInfo(ctx, endpoints.UserInfo, cred.AccessToken)
	if err != nil {
		return nil, err
	}

	// Only cache for the credential that is still active.
	if cur := c.holder.Current(); cur != nil && cur.ID == cred.ID {
		c.mu.Lock()
		c.credID = cred.ID
		c.info = info
		c.mu.Unlock()
	}
	return info, nil
}

// Invalidate drops the cached claims.
func (c *UserInfoCache) Invalidate() {
	c.mu.Lock()
	c.credID = ""
	c.info = nil
	c.mu.Unlock()
}
