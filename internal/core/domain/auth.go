package domain

import "time"

// APIKey grants access to the HTTP API. Only the SHA-256 hash of the token is kept.
type APIKey struct {
	Name       string
	TokenHash  string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
}

func (k APIKey) Revoked() bool {
	return k.RevokedAt != nil
}
