package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultMetadataCacheTTL is the default TTL for cached provider metadata.
	DefaultMetadataCacheTTL = 30 * time.Minute

	// maxResponseBytes caps the size of JSON bodies read from the server.
	maxResponseBytes = 1 << 20

	tracerName = "signin/pkg/oauth"
)

// metadataCacheEntry holds cached metadata with its timestamp.
type metadataCacheEntry struct {
	metadata  *Metadata
	fetchedAt time.Time
}

// Client performs the OAuth 2.0 / OIDC protocol requests: discovery,
// authorization URL construction, code exchange, refresh, userinfo,
// revocation and end-session.
//
// Client holds no credential state and is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time

	metadataMu    sync.RWMutex
	metadataCache map[string]*metadataCacheEntry
	metadataTTL   time.Duration

	// metadataGroup deduplicates concurrent discovery for the same issuer.
	metadataGroup singleflight.Group
}

// ClientOption configures the OAuth client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetadataCacheTTL sets the metadata cache TTL.
func WithMetadataCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.metadataTTL = ttl
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider used for
// request spans. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(c *Client) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// WithClock sets the time source used to compute credential expiry.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a new OAuth client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:    &http.Client{Timeout: DefaultHTTPTimeout},
		logger:        slog.Default(),
		tracer:        otel.Tracer(tracerName),
		now:           time.Now,
		metadataCache: make(map[string]*metadataCacheEntry),
		metadataTTL:   DefaultMetadataCacheTTL,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// DiscoverMetadata fetches provider metadata for the issuer.
// It tries OpenID Connect discovery (/.well-known/openid-configuration)
// first, then falls back to RFC 8414 (/.well-known/oauth-authorization-server).
//
// Results are cached with a TTL to reduce network requests.
func (c *Client) DiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	issuer = strings.TrimSuffix(issuer, "/")

	if m := c.cachedMetadata(issuer); m != nil {
		return m, nil
	}

	result, err, _ := c.metadataGroup.Do(issuer, func() (any, error) {
		if m := c.cachedMetadata(issuer); m != nil {
			return m, nil
		}
		return c.doDiscoverMetadata(ctx, issuer)
	})
	if err != nil {
		return nil, err
	}

	return result.(*Metadata), nil
}

func (c *Client) cachedMetadata(issuer string) *Metadata {
	c.metadataMu.RLock()
	defer c.metadataMu.RUnlock()
	if entry, ok := c.metadataCache[issuer]; ok && time.Since(entry.fetchedAt) < c.metadataTTL {
		return entry.metadata
	}
	return nil
}

func (c *Client) doDiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	ctx, span := c.tracer.Start(ctx, "oauth.discover", trace.WithAttributes(attribute.String("oauth.issuer", issuer)))
	defer span.End()

	metadata, err := c.fetchMetadata(ctx, issuer+"/.well-known/openid-configuration")
	if err == nil {
		c.cacheMetadata(issuer, metadata)
		return metadata, nil
	}

	c.logger.Debug("OIDC discovery failed, trying RFC 8414",
		"issuer", issuer,
		"error", err)

	metadata, err = c.fetchMetadata(ctx, issuer+"/.well-known/oauth-authorization-server")
	if err == nil {
		c.cacheMetadata(issuer, metadata)
		return metadata, nil
	}

	recordError(span, err)
	return nil, fmt.Errorf("failed to discover OAuth metadata for %s: %w", issuer, err)
}

func (c *Client) fetchMetadata(ctx context.Context, metadataURL string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata request failed with status %d", resp.StatusCode)
	}

	var metadata Metadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if metadata.AuthorizationEndpoint == "" || metadata.TokenEndpoint == "" {
		return nil, errors.New("metadata is missing authorization or token endpoint")
	}

	return &metadata, nil
}

func (c *Client) cacheMetadata(issuer string, metadata *Metadata) {
	c.metadataMu.Lock()
	c.metadataCache[issuer] = &metadataCacheEntry{
		metadata:  metadata,
		fetchedAt: time.Now(),
	}
	c.metadataMu.Unlock()

	c.logger.Debug("Cached OAuth metadata",
		"issuer", issuer,
		"authorization_endpoint", metadata.AuthorizationEndpoint,
		"token_endpoint", metadata.TokenEndpoint)
}

// ClearMetadataCache clears the metadata cache.
func (c *Client) ClearMetadataCache() {
	c.metadataMu.Lock()
	c.metadataCache = make(map[string]*metadataCacheEntry)
	c.metadataMu.Unlock()
}

// oauth2Config builds the x/oauth2 configuration for a public client.
// Client credentials always travel in the request body.
func oauth2Config(endpoints Endpoints, clientID, redirectURI string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   endpoints.Authorization,
			TokenURL:  endpoints.Token,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURI,
		Scopes:      scopes,
	}
}

// AuthorizationURL builds the authorization endpoint URL for the attempt
// described by pkce.
func (c *Client) AuthorizationURL(endpoints Endpoints, clientID string, scopes []string, pkce *PKCEContext) string {
	cfg := oauth2Config(endpoints, clientID, pkce.RedirectURI, scopes)
	return cfg.AuthCodeURL(pkce.State,
		oauth2.SetAuthURLParam("code_challenge", pkce.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.CodeChallengeMethod),
		oauth2.SetAuthURLParam("nonce", pkce.Nonce),
	)
}

// ExchangeCode exchanges an authorization code plus the attempt's code
// verifier for a credential.
//
// A code rejected with invalid_grant yields ErrInvalidGrant; every other
// failure is an *ExchangeFailedError.
func (c *Client) ExchangeCode(ctx context.Context, endpoints Endpoints, clientID, code string, pkce *PKCEContext) (*Credential, error) {
	ctx, span := c.tracer.Start(ctx, "oauth.token", trace.WithAttributes(attribute.String("oauth.grant_type", "authorization_code")))
	defer span.End()

	cfg := oauth2Config(endpoints, clientID, pkce.RedirectURI, nil)
	token, err := cfg.Exchange(c.withHTTPClient(ctx), code, oauth2.VerifierOption(pkce.CodeVerifier))
	if err != nil {
		err = c.classifyTokenError(ctx, "authorization_code", err)
		recordError(span, err)
		return nil, err
	}

	return c.credentialFromToken(token, endpoints), nil
}

// Refresh obtains a new credential with a refresh token. The access token is
// never sent to the token endpoint.
//
// When the response omits a refresh token the old one is kept.
func (c *Client) Refresh(ctx context.Context, endpoints Endpoints, clientID, refreshToken string) (*Credential, error) {
	ctx, span := c.tracer.Start(ctx, "oauth.token", trace.WithAttributes(attribute.String("oauth.grant_type", "refresh_token")))
	defer span.End()

	cfg := oauth2Config(endpoints, clientID, "", nil)
	token, err := cfg.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		err = c.classifyTokenError(ctx, "refresh_token", err)
		recordError(span, err)
		return nil, err
	}

	return c.credentialFromToken(token, endpoints), nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *Client) credentialFromToken(token *oauth2.Token, endpoints Endpoints) *Credential {
	cred := credentialFromToken(token, issuerFromEndpoints(endpoints))
	if token.ExpiresIn > 0 {
		cred.ExpiresAt = c.now().Add(time.Duration(token.ExpiresIn) * time.Second)
	}
	return cred
}

// issuerFromEndpoints derives a best-effort issuer from the token endpoint origin.
// Callers that know the configured issuer overwrite it.
func issuerFromEndpoints(endpoints Endpoints) string {
	u, err := url.Parse(endpoints.Token)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// classifyTokenError maps a token endpoint failure to the error taxonomy.
func (c *Client) classifyTokenError(ctx context.Context, grant string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &ExchangeFailedError{Grant: grant, Reason: "request cancelled", Err: ctxErr}
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		// Body is not logged: it may echo request parameters.
		c.logger.Debug("Token request rejected",
			"grant_type", grant,
			"status", status,
			"error_code", retrieveErr.ErrorCode)

		if retrieveErr.ErrorCode == "invalid_grant" {
			if retrieveErr.ErrorDescription != "" {
				return fmt.Errorf("%w: %s", ErrInvalidGrant, retrieveErr.ErrorDescription)
			}
			return ErrInvalidGrant
		}

		reason := fmt.Sprintf("status %d", status)
		if retrieveErr.ErrorCode != "" {
			reason = fmt.Sprintf("status %d: %s", status, retrieveErr.ErrorCode)
		}
		return &ExchangeFailedError{Grant: grant, Reason: reason, Err: err}
	}

	return &ExchangeFailedError{Grant: grant, Reason: "request failed", Err: err}
}

// FetchUserInfo retrieves the user's claims from the userinfo endpoint.
func (c *Client) FetchUserInfo(ctx context.Context, endpoint, accessToken string) (*UserInfo, error) {
	ctx, span := c.tracer.Start(ctx, "oauth.userinfo")
	defer span.End()

	info, err := c.fetchUserInfo(ctx, endpoint, accessToken)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return info, nil
}

func (c *Client) fetchUserInfo(ctx context.Context, endpoint, accessToken string) (*UserInfo, error) {
	if endpoint == "" {
		return nil, errors.New("no userinfo endpoint configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo request failed with status %d", resp.StatusCode)
	}

	claims := map[string]any{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse userinfo response: %w", err)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, errors.New("userinfo response has no sub claim")
	}

	return &UserInfo{Subject: sub, Claims: claims}, nil
}

// Revoke revokes a token at the RFC 7009 revocation endpoint.
// tokenTypeHint is "refresh_token" or "access_token".
func (c *Client) Revoke(ctx context.Context, endpoint, clientID, token, tokenTypeHint string) error {
	ctx, span := c.tracer.Start(ctx, "oauth.revoke", trace.WithAttributes(attribute.String("oauth.token_type_hint", tokenTypeHint)))
	defer span.End()

	data := url.Values{
		"token":           {token},
		"token_type_hint": {tokenTypeHint},
		"client_id":       {clientID},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		recordError(span, err)
		return fmt.Errorf("failed to create revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		recordError(span, err)
		return fmt.Errorf("revocation request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("revocation request failed with status %d", resp.StatusCode)
		recordError(span, err)
		return err
	}
	return nil
}

// EndSession calls the OIDC end-session endpoint. Redirect responses are
// accepted as success and not followed.
func (c *Client) EndSession(ctx context.Context, endpoint, clientID, idTokenHint, postLogoutRedirectURI string) error {
	ctx, span := c.tracer.Start(ctx, "oauth.end_session")
	defer span.End()

	u, err := url.Parse(endpoint)
	if err != nil {
		recordError(span, err)
		return fmt.Errorf("invalid end-session endpoint: %w", err)
	}
	query := u.Query()
	query.Set("client_id", clientID)
	if idTokenHint != "" {
		query.Set("id_token_hint", idTokenHint)
	}
	if postLogoutRedirectURI != "" {
		query.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	}
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		recordError(span, err)
		return fmt.Errorf("failed to create end-session request: %w", err)
	}

	noRedirect := *c.httpClient
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := noRedirect.Do(req)
	if err != nil {
		recordError(span, err)
		return fmt.Errorf("end-session request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("end-session request failed with status %d", resp.StatusCode)
		recordError(span, err)
		return err
	}
	return nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
