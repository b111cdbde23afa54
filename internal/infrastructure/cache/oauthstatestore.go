package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"liaison/internal/shared/biztime"
)

const (
	oauthStatePrefix = "liaison:oauth:state:"
	oauthStateTTL    = 10 * time.Minute
)

// ErrStateNotFound is returned when a state is expired or already consumed.
var ErrStateNotFound = errors.New("oauth state not found or expired")

// stateInfo binds an OAuth state value to the chat user who initiated the
// connect flow.
type stateInfo struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// OAuthStateStore provides Redis-backed, one-time-use state storage for the
// tracker connect flow.
type OAuthStateStore struct {
	client *redis.Client
}

// NewOAuthStateStore creates a new OAuthStateStore instance.
func NewOAuthStateStore(client *redis.Client) *OAuthStateStore {
	return &OAuthStateStore{client: client}
}

// Set binds state to the chat user id for the duration of the flow.
func (s *OAuthStateStore) Set(ctx context.Context, state, userID string) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if userID == "" {
		return errors.New("user ID cannot be empty")
	}

	data, err := json.Marshal(stateInfo{UserID: userID, CreatedAt: biztime.NowUTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal state info: %w", err)
	}

	if err := s.client.Set(ctx, oauthStatePrefix+state, data, oauthStateTTL).Err(); err != nil {
		return fmt.Errorf("failed to store oauth state in redis: %w", err)
	}
	return nil
}

// VerifyAndGet consumes the state and returns the bound chat user id.
// GETDEL makes the state single-use, preventing replay of the callback.
func (s *OAuthStateStore) VerifyAndGet(ctx context.Context, state string) (string, error) {
	if state == "" {
		return "", ErrStateNotFound
	}

	data, err := s.client.GetDel(ctx, oauthStatePrefix+state).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrStateNotFound
		}
		return "", fmt.Errorf("failed to retrieve oauth state from redis: %w", err)
	}

	var info stateInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return "", fmt.Errorf("failed to unmarshal state info: %w", err)
	}
	return info.UserID, nil
}
