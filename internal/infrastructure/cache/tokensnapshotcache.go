package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"liaison/internal/domain/credential"
	"liaison/internal/shared/logger"
)

const (
	// credentialKeyPrefix namespaces token snapshots in Redis.
	credentialKeyPrefix = "liaison:credential:"

	// scanBatchSize bounds each SCAN iteration during bulk deletes.
	scanBatchSize = 100
)

// TokenSnapshotCache is the shared fast tier for token bundles. Entries
// carry a TTL equal to the remaining token lifetime, so a stale read is
// impossible by construction. It is a pure cache: absence and Redis errors
// both degrade to the durable store, never to the caller.
type TokenSnapshotCache struct {
	client *redis.Client
	logger logger.Interface
}

// NewTokenSnapshotCache creates a new TokenSnapshotCache instance.
func NewTokenSnapshotCache(client *redis.Client, log logger.Interface) *TokenSnapshotCache {
	return &TokenSnapshotCache{
		client: client,
		logger: log.Named("cache.token_snapshot"),
	}
}

// Set stores the bundle under the user's key with the given TTL. A
// non-positive TTL is refused: the entry would be expired on arrival.
func (c *TokenSnapshotCache) Set(ctx context.Context, userID string, bundle *credential.TokenBundle, ttl time.Duration) error {
	if userID == "" {
		return errors.New("user ID cannot be empty")
	}
	if ttl <= 0 {
		return fmt.Errorf("refusing non-positive ttl %s for user snapshot", ttl)
	}

	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal token bundle: %w", err)
	}

	if err := c.client.Set(ctx, c.buildKey(userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store token snapshot in redis: %w", err)
	}
	return nil
}

// Get returns the cached bundle, or (nil, nil) on a miss. Redis errors are
// logged and reported as a miss so the lookup falls through to the durable
// store.
func (c *TokenSnapshotCache) Get(ctx context.Context, userID string) (*credential.TokenBundle, error) {
	data, err := c.client.Get(ctx, c.buildKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		c.logger.Warnw("redis read failed, treating as cache miss",
			"user_id", userID, "error", err)
		return nil, nil
	}

	var bundle credential.TokenBundle
	if err := json.Unmarshal([]byte(data), &bundle); err != nil {
		c.logger.Warnw("corrupt token snapshot, treating as cache miss",
			"user_id", userID, "error", err)
		return nil, nil
	}
	return &bundle, nil
}

// Delete removes the user's snapshot.
func (c *TokenSnapshotCache) Delete(ctx context.Context, userID string) error {
	return c.client.Del(ctx, c.buildKey(userID)).Err()
}

// DeleteAll removes every snapshot in the credential namespace via SCAN,
// so the keyspace is never blocked by a KEYS call.
func (c *TokenSnapshotCache) DeleteAll(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, credentialKeyPrefix+"*", scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("failed to scan credential keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete credential keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (c *TokenSnapshotCache) buildKey(userID string) string {
	return credentialKeyPrefix + userID
}
