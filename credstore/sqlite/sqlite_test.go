package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	valet "github.com/valet-ai/valet"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "creds.db"))
	t.Cleanup(func() { s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

func sampleCredential() valet.Credential {
	return valet.Credential{
		AccessToken:  "at",
		RefreshToken: "rt",
		TokenURI:     "https://oauth2.example.com/token",
		ClientID:     "cid",
		ClientSecret: "secret",
		Scopes:       []string{"mail.read"},
		Expiry:       time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orig := sampleCredential()

	if err := s.Put(ctx, "u1", valet.IntegrationEmail, orig); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, found, err := s.Get(ctx, "u1", valet.IntegrationEmail)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("credential not found after put")
	}
	if got.AccessToken != orig.AccessToken || got.RefreshToken != orig.RefreshToken ||
		got.TokenURI != orig.TokenURI || !got.Expiry.Equal(orig.Expiry) {
		t.Errorf("round trip mutated record:\n got %+v\nwant %+v", got, orig)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)

	_, found, err := s.Get(context.Background(), "nobody", valet.IntegrationEmail)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Error("expected not found")
	}
}

func TestPutOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := sampleCredential()
	if err := s.Put(ctx, "u1", valet.IntegrationEmail, first); err != nil {
		t.Fatalf("put: %v", err)
	}
	second := first
	second.AccessToken = "renewed"
	if err := s.Put(ctx, "u1", valet.IntegrationEmail, second); err != nil {
		t.Fatalf("put overwrite: %v", err)
	}

	got, _, err := s.Get(ctx, "u1", valet.IntegrationEmail)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AccessToken != "renewed" {
		t.Errorf("expected overwritten token, got %q", got.AccessToken)
	}
}

func TestIntegrationsAreIndependent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "u1", valet.IntegrationEmail, sampleCredential()); err != nil {
		t.Fatalf("put: %v", err)
	}

	exists, err := s.Exists(ctx, "u1", valet.IntegrationEmail)
	if err != nil || !exists {
		t.Errorf("email should exist: %v %v", exists, err)
	}
	exists, err = s.Exists(ctx, "u1", valet.IntegrationCalendar)
	if err != nil || exists {
		t.Errorf("calendar should not exist: %v %v", exists, err)
	}
}
