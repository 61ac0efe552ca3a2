package models

import "time"

// RevokedToken is a blacklist entry for a token invalidated before its natural
// expiry. Only the SHA-256 digest of the token is persisted.
type RevokedToken struct {
	ID        int64     `db:"id" json:"id"`
	TokenHash string    `db:"token_hash" json:"-"`
	UserID    int64     `db:"user_id" json:"user_id"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Expired reports whether the entry can be dropped: a token past its expiry
// already fails signature verification on its own.
func (t *RevokedToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}
