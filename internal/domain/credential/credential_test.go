package credential

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCredential_Invariants(t *testing.T) {
	now := time.Now().UTC()

	t.Run("requires user id", func(t *testing.T) {
		_, err := NewCredential("", "acc", "name", "", "", time.Time{}, "cloud", now)
		assert.Error(t, err)
	})

	t.Run("access token requires expiry", func(t *testing.T) {
		_, err := NewCredential("U1", "acc", "name", "ciphertext", "", time.Time{}, "cloud", now)
		assert.Error(t, err)
	})

	t.Run("valid record", func(t *testing.T) {
		cred, err := NewCredential("U1", "acc", "name", "ciphertext", "refresh-ct", now.Add(time.Hour), "cloud", now)
		require.NoError(t, err)
		assert.Equal(t, "U1", cred.UserID)
		assert.Equal(t, now.Add(time.Hour), cred.TokenExpiresAt)
	})
}

func TestCredential_ExpiresWithin(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		window    time.Duration
		want      bool
	}{
		{"well in the future", now.Add(time.Hour), 3 * time.Minute, false},
		{"inside the window", now.Add(2 * time.Minute), 3 * time.Minute, true},
		{"exactly at the boundary", now.Add(3 * time.Minute), 3 * time.Minute, true},
		{"already expired", now.Add(-time.Minute), 3 * time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := &Credential{UserID: "U1", TokenExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, cred.ExpiresWithin(now, tt.window))
		})
	}
}

func TestTokenBundle_RemainingLifetime(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	bundle := &TokenBundle{ExpiresAt: now.Add(30 * time.Minute)}
	assert.Equal(t, 30*time.Minute, bundle.RemainingLifetime(now))
}
