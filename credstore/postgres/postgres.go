// Package postgres implements valet.CredentialStore using PostgreSQL.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	valet "github.com/valet-ai/valet"
)

// Store implements valet.CredentialStore backed by PostgreSQL. Credentials
// are stored as JSONB, one row per (user, integration).
type Store struct {
	pool *pgxpool.Pool
}

var _ valet.CredentialStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the credentials table.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS credentials (
		user_id TEXT NOT NULL,
		integration TEXT NOT NULL,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	_, err = s.pool.Exec(ctx, `INSERT INTO credentials (user_id, integration, payload, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, integration) DO UPDATE SET
			payload = EXCLUDED.payload,
			updated_at = now()`,
		userID, integration.String(), payload)
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

// Get returns the stored credential and whether one exists.
func (s *Store) Get(ctx context.Context, userID string, integration valet.Integration) (valet.Credential, bool, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM credentials WHERE user_id = $1 AND integration = $2`,
		userID, integration.String()).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return valet.Credential{}, false, nil
	}
	if err != nil {
		return valet.Credential{}, false, fmt.Errorf("get credential: %w", err)
	}
	var cred valet.Credential
	if err := json.Unmarshal(payload, &cred); err != nil {
		return valet.Credential{}, false, fmt.Errorf("unmarshal credential: %w", err)
	}
	return cred, true, nil
}

// Exists reports whether a credential is on file, without decoding it.
func (s *Store) Exists(ctx context.Context, userID string, integration valet.Integration) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM credentials WHERE user_id = $1 AND integration = $2)`,
		userID, integration.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check credential: %w", err)
	}
	return exists, nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error { return nil }
