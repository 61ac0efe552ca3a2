package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"authservice/internal/crypto"
)

// RevocationStore is the denylist of tokens invalidated before expiry.
// Record is idempotent: revoking the same token twice leaves one entry.
type RevocationStore interface {
	Record(ctx context.Context, token string, userID int64, expiresAt time.Time) error
	IsRevoked(ctx context.Context, token string) (bool, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type sqlRevocationStore struct {
	db  *sqlx.DB
	log *zap.Logger
	now func() time.Time
}

// NewSQLRevocationStore keeps revocations in the revoked_tokens table, keyed
// by the token's SHA-256 digest.
func NewSQLRevocationStore(db *sqlx.DB, log *zap.Logger) RevocationStore {
	return &sqlRevocationStore{db: db, log: log, now: time.Now}
}

func (s *sqlRevocationStore) Record(ctx context.Context, token string, userID int64, expiresAt time.Time) error {
	query := s.db.Rebind(`INSERT INTO revoked_tokens (token_hash, user_id, expires_at, created_at)
		VALUES (?, ?, ?, ?) ON CONFLICT (token_hash) DO NOTHING`)

	_, err := s.db.ExecContext(ctx, query,
		crypto.TokenDigest(token), userID, dbTime(expiresAt), dbTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("failed to record revoked token: %w", err)
	}
	return nil
}

func (s *sqlRevocationStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	var n int
	query := s.db.Rebind(`SELECT COUNT(*) FROM revoked_tokens WHERE token_hash = ?`)
	if err := s.db.GetContext(ctx, &n, query, crypto.TokenDigest(token)); err != nil {
		return false, fmt.Errorf("failed to check revoked token: %w", err)
	}
	return n > 0, nil
}

func (s *sqlRevocationStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM revoked_tokens WHERE expires_at < ?`), dbTime(now))
	if err != nil {
		return 0, fmt.Errorf("failed to purge revoked tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to purge revoked tokens: %w", err)
	}
	return n, nil
}

// dbTime normalises timestamps so SQLite's text comparison orders them
// correctly. Token expiries have one-second resolution anyway.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
