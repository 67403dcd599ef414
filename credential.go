package valet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Credential is the stored OAuth credential for one (user, integration)
// pair. The JSON field names match the persisted record shape consumed by
// the external store and the remote integration clients.
type Credential struct {
	AccessToken  string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	TokenURI     string    `json:"token_uri"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	Scopes       []string  `json:"scopes"`
	Expiry       time.Time `json:"expiry,omitzero"`
}

// expirySkew treats tokens about to expire as already expired, so a call
// issued now doesn't fail mid-flight with a just-lapsed token.
const expirySkew = 30 * time.Second

// Expired reports whether the access token is past (or within expirySkew of)
// its expiry. A zero Expiry means the server sent no expiry and the token is
// treated as live.
func (c Credential) Expired() bool {
	if c.Expiry.IsZero() {
		return false
	}
	return time.Now().After(c.Expiry.Add(-expirySkew))
}

// CredentialStore durably persists credentials keyed by (user, integration).
// The store itself is a collaborator; this core defines only the shape and
// access pattern. credstore/sqlite and credstore/postgres provide
// implementations. The core never deletes credentials (revocation is handled
// elsewhere).
type CredentialStore interface {
	// Put inserts or replaces the credential for (userID, integration).
	Put(ctx context.Context, userID string, integration Integration, cred Credential) error
	// Get returns the stored credential and whether one exists.
	Get(ctx context.Context, userID string, integration Integration) (Credential, bool, error)
	// Exists reports whether a credential is on file, without decoding it.
	Exists(ctx context.Context, userID string, integration Integration) (bool, error)
	Init(ctx context.Context) error
	Close() error
}

// Connector is the credential lifecycle for one integration: issue
// authorization URLs, validate callbacks against CSRF state, exchange codes,
// and hand out usable (refreshed-as-needed) credentials.
//
// Per (user, integration) the lifecycle is Disconnected → AuthorizationPending
// → Connected, re-entrant on re-authorization, with a silent
// Connected → Connected self-transition on token refresh.
type Connector interface {
	Integration() Integration
	// BeginAuthorization returns the authorization URL for the user to visit.
	// Any prior pending state for the user is overwritten and thereby
	// invalidated.
	BeginAuthorization(ctx context.Context, userID string) (string, error)
	// CompleteAuthorization validates the callback state, consumes it, and
	// exchanges the code for a credential. The credential is returned for
	// persistence by the caller. Fails with *ErrStateNotFound or
	// *ErrCsrfMismatch on flow-integrity violations.
	CompleteAuthorization(ctx context.Context, code, state, userID string) (Credential, error)
	// LoadCredential returns a usable credential, transparently refreshing
	// an expired access token and persisting the renewed credential. Fails
	// with *ErrNotConnected or *ErrCredentialExpired.
	LoadCredential(ctx context.Context, userID string) (Credential, error)
	// IsConnected reports whether a credential is on file, regardless of its
	// expiry state (expiry is only evaluated lazily at use time).
	IsConnected(ctx context.Context, userID string) bool
}

// OAuthConfig is the client registration for one integration.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	Scopes       []string
}

// oauthFlow is the seam between the connector's state machine and the actual
// OAuth wire exchanges, so tests exercise the lifecycle without a network.
type oauthFlow interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (Credential, error)
	Refresh(ctx context.Context, cred Credential) (Credential, error)
}

// OAuthConnector implements Connector over an OAuth 2.0 authorization-code
// flow. One instance serves one integration; instantiate it twice (email,
// calendar) rather than branching on integration names.
type OAuthConnector struct {
	integration Integration
	flow        oauthFlow
	store       CredentialStore
	logger      *slog.Logger
	tracer      Tracer

	mu      sync.Mutex
	pending map[string]string // userID → most recently issued state
}

// ConnectorOption configures an OAuthConnector.
type ConnectorOption func(*OAuthConnector)

// WithConnectorLogger sets the structured logger.
func WithConnectorLogger(l *slog.Logger) ConnectorOption {
	return func(c *OAuthConnector) { c.logger = l }
}

// WithConnectorTracer enables span emission for exchanges and refreshes.
func WithConnectorTracer(t Tracer) ConnectorOption {
	return func(c *OAuthConnector) { c.tracer = t }
}

// withFlow swaps the wire-exchange implementation. Test hook.
func withFlow(f oauthFlow) ConnectorOption {
	return func(c *OAuthConnector) { c.flow = f }
}

// NewConnector creates the credential lifecycle manager for one integration.
func NewConnector(integration Integration, cfg OAuthConfig, store CredentialStore, opts ...ConnectorOption) *OAuthConnector {
	c := &OAuthConnector{
		integration: integration,
		flow:        newOAuth2Flow(cfg),
		store:       store,
		logger:      nopLogger,
		pending:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *OAuthConnector) Integration() Integration { return c.integration }

// BeginAuthorization issues a fresh state token, records it as the user's
// single pending state (overwriting any prior one), and returns the
// authorization URL. Concurrent re-issues for the same user race
// last-writer-wins; only one browser-driven flow per user is realistically in
// flight at a time.
func (c *OAuthConnector) BeginAuthorization(_ context.Context, userID string) (string, error) {
	state := NewStateToken()

	c.mu.Lock()
	c.pending[userID] = state
	c.mu.Unlock()

	c.logger.Info("authorization started",
		"integration", c.integration.String(), "user", userID)
	return c.flow.AuthCodeURL(state), nil
}

// CompleteAuthorization validates and consumes the pending state, then
// exchanges the code for tokens. The pending state is deleted on both the
// success and the mismatch path: a stale state must never be replayable.
func (c *OAuthConnector) CompleteAuthorization(ctx context.Context, code, state, userID string) (Credential, error) {
	c.mu.Lock()
	stored, ok := c.pending[userID]
	if !ok {
		c.mu.Unlock()
		return Credential{}, &ErrStateNotFound{User: userID}
	}
	delete(c.pending, userID)
	c.mu.Unlock()

	if stored != state {
		c.logger.Warn("oauth state mismatch, discarding pending state",
			"integration", c.integration.String(), "user", userID)
		return Credential{}, &ErrCsrfMismatch{User: userID}
	}

	if c.tracer != nil {
		var span Span
		ctx, span = c.tracer.Start(ctx, "credential.exchange",
			StringAttr("integration", c.integration.String()),
			StringAttr("user", userID))
		defer span.End()
	}

	cred, err := c.flow.Exchange(ctx, code)
	if err != nil {
		return Credential{}, err
	}
	if cred.RefreshToken == "" {
		// Some re-authorizations legitimately omit the refresh token.
		c.logger.Warn("no refresh token in exchange response",
			"integration", c.integration.String(), "user", userID)
	} else {
		c.logger.Info("authorization completed",
			"integration", c.integration.String(), "user", userID)
	}
	return cred, nil
}

// LoadCredential fetches the stored credential, refreshing it when expired.
// A renewed credential is persisted before being returned, so the next load
// sees the fresh access token.
func (c *OAuthConnector) LoadCredential(ctx context.Context, userID string) (Credential, error) {
	cred, found, err := c.store.Get(ctx, userID, c.integration)
	if err != nil {
		return Credential{}, err
	}
	if !found {
		return Credential{}, &ErrNotConnected{User: userID, Integration: c.integration}
	}
	if !cred.Expired() {
		return cred, nil
	}
	if cred.RefreshToken == "" {
		return Credential{}, &ErrCredentialExpired{User: userID, Integration: c.integration}
	}

	if c.tracer != nil {
		var span Span
		ctx, span = c.tracer.Start(ctx, "credential.refresh",
			StringAttr("integration", c.integration.String()),
			StringAttr("user", userID))
		defer span.End()
	}

	renewed, err := c.flow.Refresh(ctx, cred)
	if err != nil {
		c.logger.Error("credential refresh failed",
			"integration", c.integration.String(), "user", userID, "error", err)
		return Credential{}, &ErrCredentialExpired{User: userID, Integration: c.integration, Cause: err}
	}
	if err := c.store.Put(ctx, userID, c.integration, renewed); err != nil {
		// The renewed token is still usable this turn; only durability suffered.
		c.logger.Error("persisting refreshed credential failed",
			"integration", c.integration.String(), "user", userID, "error", err)
	} else {
		c.logger.Info("credential refreshed",
			"integration", c.integration.String(), "user", userID)
	}
	return renewed, nil
}

// IsConnected reports whether a credential exists for the user. Store errors
// read as "not connected" and are logged.
func (c *OAuthConnector) IsConnected(ctx context.Context, userID string) bool {
	exists, err := c.store.Exists(ctx, userID, c.integration)
	if err != nil {
		c.logger.Warn("connection check failed",
			"integration", c.integration.String(), "user", userID, "error", err)
		return false
	}
	return exists
}

// --- oauth2-backed flow ---

// oauth2Flow implements oauthFlow over golang.org/x/oauth2.
type oauth2Flow struct {
	cfg *oauth2.Config
}

func newOAuth2Flow(c OAuthConfig) *oauth2Flow {
	return &oauth2Flow{cfg: &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       c.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.AuthURL,
			TokenURL: c.TokenURL,
		},
	}}
}

// AuthCodeURL builds the authorization-request URL. Offline access plus
// forced consent guarantees a refresh token even on re-authorization.
func (f *oauth2Flow) AuthCodeURL(state string) string {
	return f.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

func (f *oauth2Flow) Exchange(ctx context.Context, code string) (Credential, error) {
	tok, err := f.cfg.Exchange(ctx, code)
	if err != nil {
		return Credential{}, err
	}
	return f.toCredential(tok, ""), nil
}

func (f *oauth2Flow) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	src := f.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return Credential{}, err
	}
	// Refresh responses often omit the refresh token; carry the old one forward.
	return f.toCredential(tok, cred.RefreshToken), nil
}

func (f *oauth2Flow) toCredential(tok *oauth2.Token, fallbackRefresh string) Credential {
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	return Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		TokenURI:     f.cfg.Endpoint.TokenURL,
		ClientID:     f.cfg.ClientID,
		ClientSecret: f.cfg.ClientSecret,
		Scopes:       f.cfg.Scopes,
		Expiry:       tok.Expiry,
	}
}

// compile-time checks
var (
	_ Connector = (*OAuthConnector)(nil)
	_ oauthFlow = (*oauth2Flow)(nil)
)
