package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"liaison/internal/shared/logger"
)

const (
	projectsKey     = "liaison:tracker:projects"
	fieldsKeyPrefix = "liaison:tracker:fields:"
	schemaCacheTTL  = 24 * time.Hour
)

// SchemaCache serves the create-meta project list and per-issue-type field
// schemas from Redis, falling back to the tracker API on a miss. Schemas
// change rarely, so entries live for a day. Concurrent misses for the same
// key collapse into one API call.
type SchemaCache struct {
	client *Client
	redis  *redis.Client
	group  singleflight.Group
	logger logger.Interface
}

// NewSchemaCache creates a cache over the given tracker client.
func NewSchemaCache(client *Client, redisClient *redis.Client, log logger.Interface) *SchemaCache {
	return &SchemaCache{
		client: client,
		redis:  redisClient,
		logger: log.Named("tracker.schema_cache"),
	}
}

// Projects returns the cached project list, fetching it as the given user
// when the cache is cold. Redis read failures degrade to a fetch.
func (s *SchemaCache) Projects(ctx context.Context, userID string) ([]Project, error) {
	if data, err := s.redis.Get(ctx, projectsKey).Bytes(); err == nil {
		var projects []Project
		if err := json.Unmarshal(data, &projects); err == nil {
			return projects, nil
		}
		// Corrupt entry: refetch below and overwrite.
	} else if err != redis.Nil {
		s.logger.Warnw("schema cache read failed", "key", projectsKey, "error", err)
	}

	result, err, _ := s.group.Do(projectsKey, func() (interface{}, error) {
		projects, err := s.client.Projects(ctx, userID)
		if err != nil {
			return nil, err
		}
		s.store(ctx, projectsKey, projects)
		return projects, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]Project), nil
}

// IssueFields returns the cached field schema for a project and issue
// type, fetching it as the given user on a miss.
func (s *SchemaCache) IssueFields(ctx context.Context, userID, projectKey, issueTypeID string) (map[string]FieldMeta, error) {
	key := fieldsKeyPrefix + projectKey + ":" + issueTypeID

	if data, err := s.redis.Get(ctx, key).Bytes(); err == nil {
		var fields map[string]FieldMeta
		if err := json.Unmarshal(data, &fields); err == nil {
			return fields, nil
		}
	} else if err != redis.Nil {
		s.logger.Warnw("schema cache read failed", "key", key, "error", err)
	}

	result, err, _ := s.group.Do(key, func() (interface{}, error) {
		fields, err := s.client.IssueFields(ctx, userID, projectKey, issueTypeID)
		if err != nil {
			return nil, err
		}
		s.store(ctx, key, fields)
		return fields, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]FieldMeta), nil
}

// IssueTypeName resolves an issue type id to its display name using the
// cached project list.
func (s *SchemaCache) IssueTypeName(ctx context.Context, userID, projectKey, issueTypeID string) (string, error) {
	projects, err := s.Projects(ctx, userID)
	if err != nil {
		return "", err
	}
	for _, p := range projects {
		if p.Key != projectKey {
			continue
		}
		for _, it := range p.IssueTypes {
			if it.ID == issueTypeID {
				return it.Name, nil
			}
		}
	}
	return "", fmt.Errorf("unknown issue type %s in project %s", issueTypeID, projectKey)
}

// Invalidate drops the cached project list so the next lookup refetches.
func (s *SchemaCache) Invalidate(ctx context.Context) error {
	return s.redis.Del(ctx, projectsKey).Err()
}

func (s *SchemaCache) store(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Errorw("failed to encode schema cache entry", "key", key, "error", err)
		return
	}
	if err := s.redis.Set(ctx, key, data, schemaCacheTTL).Err(); err != nil {
		s.logger.Warnw("schema cache write failed", "key", key, "error", err)
	}
}
