package valet

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// memStore is an in-memory CredentialStore for lifecycle tests.
type memStore struct {
	creds     map[string]Credential
	getErr    error
	putErr    error
	existsErr error
	puts      int
}

func newMemStore() *memStore {
	return &memStore{creds: make(map[string]Credential)}
}

func storeKey(userID string, integration Integration) string {
	return userID + "/" + integration.String()
}

func (s *memStore) Put(_ context.Context, userID string, integration Integration, cred Credential) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.puts++
	s.creds[storeKey(userID, integration)] = cred
	return nil
}

func (s *memStore) Get(_ context.Context, userID string, integration Integration) (Credential, bool, error) {
	if s.getErr != nil {
		return Credential{}, false, s.getErr
	}
	cred, ok := s.creds[storeKey(userID, integration)]
	return cred, ok, nil
}

func (s *memStore) Exists(_ context.Context, userID string, integration Integration) (bool, error) {
	if s.existsErr != nil {
		return false, s.existsErr
	}
	_, ok := s.creds[storeKey(userID, integration)]
	return ok, nil
}

func (s *memStore) Init(_ context.Context) error { return nil }
func (s *memStore) Close() error                 { return nil }

var _ CredentialStore = (*memStore)(nil)

// fakeFlow is an oauthFlow that never touches the network.
type fakeFlow struct {
	exchanged   Credential
	exchangeErr error
	refreshed   Credential
	refreshErr  error

	exchanges int
	refreshes int
}

func (f *fakeFlow) AuthCodeURL(state string) string {
	return "https://auth.example.com/authorize?state=" + state
}

func (f *fakeFlow) Exchange(_ context.Context, _ string) (Credential, error) {
	f.exchanges++
	if f.exchangeErr != nil {
		return Credential{}, f.exchangeErr
	}
	return f.exchanged, nil
}

func (f *fakeFlow) Refresh(_ context.Context, _ Credential) (Credential, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return Credential{}, f.refreshErr
	}
	return f.refreshed, nil
}

var _ oauthFlow = (*fakeFlow)(nil)

func newTestConnector(store CredentialStore, flow oauthFlow) *OAuthConnector {
	return NewConnector(IntegrationEmail, OAuthConfig{}, store, withFlow(flow))
}

func stateFromURL(t *testing.T, url string) string {
	t.Helper()
	i := strings.Index(url, "state=")
	if i < 0 {
		t.Fatalf("no state in url %q", url)
	}
	return url[i+len("state="):]
}

// --- Authorization flow ---

func TestCompleteAuthorization_HappyPath(t *testing.T) {
	flow := &fakeFlow{exchanged: Credential{AccessToken: "at", RefreshToken: "rt"}}
	store := newMemStore()
	c := newTestConnector(store, flow)

	url, err := c.BeginAuthorization(context.Background(), "u1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	state := stateFromURL(t, url)

	cred, err := c.CompleteAuthorization(context.Background(), "code", state, "u1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if cred.AccessToken != "at" || cred.RefreshToken != "rt" {
		t.Errorf("unexpected credential: %+v", cred)
	}
	if store.puts != 0 {
		t.Errorf("connector must not persist on exchange; caller does: %d puts", store.puts)
	}
}

func TestCompleteAuthorization_NoPendingState(t *testing.T) {
	c := newTestConnector(newMemStore(), &fakeFlow{})

	_, err := c.CompleteAuthorization(context.Background(), "code", "whatever", "u1")

	var notFound *ErrStateNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected *ErrStateNotFound, got %v", err)
	}
}

func TestCompleteAuthorization_MismatchDiscardsState(t *testing.T) {
	flow := &fakeFlow{exchanged: Credential{AccessToken: "at"}}
	c := newTestConnector(newMemStore(), flow)

	url, _ := c.BeginAuthorization(context.Background(), "u1")
	state := stateFromURL(t, url)

	_, err := c.CompleteAuthorization(context.Background(), "code", "forged-state", "u1")
	var mismatch *ErrCsrfMismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected *ErrCsrfMismatch, got %v", err)
	}
	if flow.exchanges != 0 {
		t.Errorf("code exchanged despite state mismatch")
	}

	// The correct state was consumed by the mismatch; a retry must also fail.
	_, err = c.CompleteAuthorization(context.Background(), "code", state, "u1")
	var notFound *ErrStateNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("stale state replayable after mismatch: %v", err)
	}
}

func TestBeginAuthorization_ReissueInvalidatesPriorState(t *testing.T) {
	flow := &fakeFlow{exchanged: Credential{AccessToken: "at"}}
	c := newTestConnector(newMemStore(), flow)

	first, _ := c.BeginAuthorization(context.Background(), "u1")
	second, _ := c.BeginAuthorization(context.Background(), "u1")
	firstState := stateFromURL(t, first)
	secondState := stateFromURL(t, second)

	if firstState == secondState {
		t.Fatal("reissue produced identical state")
	}

	// First state is dead: completing with it is a mismatch.
	if _, err := c.CompleteAuthorization(context.Background(), "code", firstState, "u1"); err == nil {
		t.Fatal("expected first state to be invalidated")
	}

	// That mismatch also consumed the second state; re-begin and use it fresh.
	third, _ := c.BeginAuthorization(context.Background(), "u1")
	if _, err := c.CompleteAuthorization(context.Background(), "code", stateFromURL(t, third), "u1"); err != nil {
		t.Fatalf("fresh flow failed: %v", err)
	}
}

// --- LoadCredential ---

func TestLoadCredential_NotConnected(t *testing.T) {
	c := newTestConnector(newMemStore(), &fakeFlow{})

	_, err := c.LoadCredential(context.Background(), "u1")

	var notConnected *ErrNotConnected
	if !errors.As(err, &notConnected) {
		t.Fatalf("expected *ErrNotConnected, got %v", err)
	}
}

func TestLoadCredential_LiveTokenReturnedAsIs(t *testing.T) {
	store := newMemStore()
	flow := &fakeFlow{}
	c := newTestConnector(store, flow)

	live := Credential{AccessToken: "live", Expiry: time.Now().Add(time.Hour)}
	store.creds[storeKey("u1", IntegrationEmail)] = live

	got, err := c.LoadCredential(context.Background(), "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.AccessToken != "live" {
		t.Errorf("unexpected credential: %+v", got)
	}
	if flow.refreshes != 0 {
		t.Errorf("refresh attempted for a live token")
	}
}

func TestLoadCredential_ZeroExpiryTreatedAsLive(t *testing.T) {
	store := newMemStore()
	flow := &fakeFlow{}
	c := newTestConnector(store, flow)

	store.creds[storeKey("u1", IntegrationEmail)] = Credential{AccessToken: "no-expiry"}

	if _, err := c.LoadCredential(context.Background(), "u1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if flow.refreshes != 0 {
		t.Errorf("refresh attempted for zero-expiry token")
	}
}

func TestLoadCredential_RefreshesAndPersists(t *testing.T) {
	store := newMemStore()
	renewed := Credential{AccessToken: "new", RefreshToken: "rt", Expiry: time.Now().Add(time.Hour)}
	flow := &fakeFlow{refreshed: renewed}
	c := newTestConnector(store, flow)

	store.creds[storeKey("u1", IntegrationEmail)] = Credential{
		AccessToken:  "old",
		RefreshToken: "rt",
		Expiry:       time.Now().Add(-time.Minute),
	}

	got, err := c.LoadCredential(context.Background(), "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.AccessToken != "new" {
		t.Errorf("expected renewed token, got %+v", got)
	}
	stored := store.creds[storeKey("u1", IntegrationEmail)]
	if stored.AccessToken != "new" {
		t.Errorf("renewed credential not persisted: %+v", stored)
	}
}

func TestLoadCredential_NoRefreshTokenMeansExpired(t *testing.T) {
	store := newMemStore()
	flow := &fakeFlow{}
	c := newTestConnector(store, flow)

	store.creds[storeKey("u1", IntegrationEmail)] = Credential{
		AccessToken: "old",
		Expiry:      time.Now().Add(-time.Minute),
	}

	_, err := c.LoadCredential(context.Background(), "u1")
	var expired *ErrCredentialExpired
	if !errors.As(err, &expired) {
		t.Fatalf("expected *ErrCredentialExpired, got %v", err)
	}
	if flow.refreshes != 0 {
		t.Errorf("network refresh attempted without a refresh token")
	}
}

func TestLoadCredential_RefreshFailureMeansExpired(t *testing.T) {
	store := newMemStore()
	cause := errors.New("invalid_grant")
	flow := &fakeFlow{refreshErr: cause}
	c := newTestConnector(store, flow)

	store.creds[storeKey("u1", IntegrationEmail)] = Credential{
		AccessToken:  "old",
		RefreshToken: "revoked",
		Expiry:       time.Now().Add(-time.Minute),
	}

	_, err := c.LoadCredential(context.Background(), "u1")
	var expired *ErrCredentialExpired
	if !errors.As(err, &expired) {
		t.Fatalf("expected *ErrCredentialExpired, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause to be wrapped, got %v", err)
	}
}

// --- IsConnected ---

func TestIsConnected(t *testing.T) {
	store := newMemStore()
	c := newTestConnector(store, &fakeFlow{})

	if c.IsConnected(context.Background(), "u1") {
		t.Error("expected not connected")
	}

	// Connection is about presence, not freshness: an expired credential on
	// file still reads as connected.
	store.creds[storeKey("u1", IntegrationEmail)] = Credential{
		AccessToken: "old",
		Expiry:      time.Now().Add(-time.Hour),
	}
	if !c.IsConnected(context.Background(), "u1") {
		t.Error("expected connected with expired credential on file")
	}
}

func TestIsConnected_StoreErrorReadsAsDisconnected(t *testing.T) {
	store := newMemStore()
	store.existsErr = errors.New("db down")
	c := newTestConnector(store, &fakeFlow{})

	if c.IsConnected(context.Background(), "u1") {
		t.Error("store failure must read as not connected")
	}
}

// --- Credential record ---

func TestCredential_JSONRoundTrip(t *testing.T) {
	expiry := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	orig := Credential{
		AccessToken:  "at",
		RefreshToken: "rt",
		TokenURI:     "https://oauth2.example.com/token",
		ClientID:     "cid",
		ClientSecret: "secret",
		Scopes:       []string{"mail.read", "mail.send"},
		Expiry:       expiry,
	}

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range []string{`"token"`, `"refresh_token"`, `"token_uri"`, `"client_id"`, `"client_secret"`, `"scopes"`, `"expiry"`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("serialized record missing %s: %s", field, data)
		}
	}

	var back Credential
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.AccessToken != orig.AccessToken || back.RefreshToken != orig.RefreshToken ||
		back.TokenURI != orig.TokenURI || back.ClientID != orig.ClientID ||
		back.ClientSecret != orig.ClientSecret || !back.Expiry.Equal(orig.Expiry) {
		t.Errorf("round trip mutated record:\n got %+v\nwant %+v", back, orig)
	}
	if len(back.Scopes) != 2 || back.Scopes[0] != "mail.read" {
		t.Errorf("scopes mutated: %v", back.Scopes)
	}
}

func TestCredential_ExpirySkew(t *testing.T) {
	soon := Credential{Expiry: time.Now().Add(10 * time.Second)}
	if !soon.Expired() {
		t.Error("token inside the skew window should read as expired")
	}
	later := Credential{Expiry: time.Now().Add(10 * time.Minute)}
	if later.Expired() {
		t.Error("token well before expiry should read as live")
	}
}
