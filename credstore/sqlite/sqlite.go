// Package sqlite implements valet.CredentialStore using pure-Go SQLite.
// Zero CGO required. Suited to single-process deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	valet "github.com/valet-ai/valet"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements valet.CredentialStore backed by a local SQLite file.
// Credentials are stored as JSON text, one row per (user, integration).
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ valet.CredentialStore = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: credential store opened", "path", dbPath)
	return s
}

// Init creates the credentials table.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS credentials (
		user_id TEXT NOT NULL,
		integration TEXT NOT NULL,
		payload TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, integration)
	)`)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Put inserts or replaces the credential for (userID, integration).
func (s *Store) Put(ctx context.Context, userID string, integration valet.Integration, cred valet.Credential) error {
	payload, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO credentials (user_id, integration, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, integration) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		userID, integration.String(), string(payload), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	s.logger.Debug("sqlite: credential stored", "user", userID, "integration", integration.String())
	return nil
}

// Get returns the stored credential and whether one exists.
func (s *Store) Get(ctx context.Context, userID string, integration valet.Integration) (valet.Credential, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM credentials WHERE user_id = ? AND integration = ?`,
		userID, integration.String()).Scan(&payload)
	if err == sql.ErrNoRows {
		return valet.Credential{}, false, nil
	}
	if err != nil {
		return valet.Credential{}, false, fmt.Errorf("get credential: %w", err)
	}
	var cred valet.Credential
	if err := json.Unmarshal([]byte(payload), &cred); err != nil {
		return valet.Credential{}, false, fmt.Errorf("unmarshal credential: %w", err)
	}
	return cred, true, nil
}

// Exists reports whether a credential is on file, without decoding it.
func (s *Store) Exists(ctx context.Context, userID string, integration valet.Integration) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM credentials WHERE user_id = ? AND integration = ?`,
		userID, integration.String()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check credential: %w", err)
	}
	return true, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
