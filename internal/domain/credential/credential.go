// Package credential holds the per-user tracker OAuth credential state and
// the plaintext token bundle served to callers.
package credential

import (
	"fmt"
	"time"
)

// Credential is the durable per-user record. Token fields hold ciphertext
// only; plaintext is recoverable solely through the token codec.
type Credential struct {
	UserID                string
	AccountID             string
	DisplayName           string
	EncryptedAccessToken  string
	EncryptedRefreshToken string
	TokenExpiresAt        time.Time
	CloudID               string
	ConnectedAt           time.Time
}

// NewCredential validates the record invariant: a stored access token must
// carry an expiry.
func NewCredential(userID, accountID, displayName, encAccess, encRefresh string, expiresAt time.Time, cloudID string, connectedAt time.Time) (*Credential, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	if encAccess != "" && expiresAt.IsZero() {
		return nil, fmt.Errorf("access token requires an expiry")
	}
	return &Credential{
		UserID:                userID,
		AccountID:             accountID,
		DisplayName:           displayName,
		EncryptedAccessToken:  encAccess,
		EncryptedRefreshToken: encRefresh,
		TokenExpiresAt:        expiresAt,
		CloudID:               cloudID,
		ConnectedAt:           connectedAt,
	}, nil
}

// ExpiresWithin reports whether the stored token expires before now+window
// (or has already expired).
func (c *Credential) ExpiresWithin(now time.Time, window time.Duration) bool {
	return !c.TokenExpiresAt.After(now.Add(window))
}

// TokenBundle is the plaintext, ready-to-use snapshot returned to callers
// and stored in the cache tiers. It is derived state and never authoritative.
type TokenBundle struct {
	AccountID    string    `json:"account_id"`
	DisplayName  string    `json:"display_name"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	CloudID      string    `json:"cloud_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RemainingLifetime returns how long the bundle's token stays valid from now.
func (b *TokenBundle) RemainingLifetime(now time.Time) time.Duration {
	return b.ExpiresAt.Sub(now)
}
