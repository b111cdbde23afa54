package tracker

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liaison/internal/shared/logger"
)

func newSchemaCacheFixture(t *testing.T, apiCalls *atomic.Int64) (*SchemaCache, *miniredis.Miniredis) {
	t.Helper()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		switch r.URL.Path {
		case "/ex/jira/cloud-1/rest/api/3/issue/createmeta":
			_, _ = w.Write([]byte(`{"projects": [
				{"key": "OPS", "name": "Operations", "issuetypes": [
					{"id": "10004", "name": "Bug"},
					{"id": "10001", "name": "Task"}
				]}
			]}`))
		case "/ex/jira/cloud-1/rest/api/3/issue/createmeta/OPS/issuetypes/10004":
			_, _ = w.Write([]byte(`{"fields": [
				{"key": "summary", "name": "Summary", "required": true, "schema": {"type": "string"}}
			]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	client, _ := newTestClient(t, handler)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := logger.NewLoggerWithSlog(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewSchemaCache(client, rdb, log), mr
}

func TestSchemaCache_ProjectsFetchedOnceThenServedFromRedis(t *testing.T) {
	var apiCalls atomic.Int64
	cache, mr := newSchemaCacheFixture(t, &apiCalls)

	projects, err := cache.Projects(context.Background(), "U1")
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "OPS", projects[0].Key)
	assert.True(t, mr.Exists(projectsKey))

	again, err := cache.Projects(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, projects, again)
	assert.Equal(t, int64(1), apiCalls.Load())
}

func TestSchemaCache_IssueFields(t *testing.T) {
	var apiCalls atomic.Int64
	cache, _ := newSchemaCacheFixture(t, &apiCalls)

	fields, err := cache.IssueFields(context.Background(), "U1", "OPS", "10004")
	require.NoError(t, err)
	assert.True(t, fields["summary"].Required)

	_, err = cache.IssueFields(context.Background(), "U1", "OPS", "10004")
	require.NoError(t, err)
	assert.Equal(t, int64(1), apiCalls.Load())
}

func TestSchemaCache_IssueTypeName(t *testing.T) {
	var apiCalls atomic.Int64
	cache, _ := newSchemaCacheFixture(t, &apiCalls)

	name, err := cache.IssueTypeName(context.Background(), "U1", "OPS", "10004")
	require.NoError(t, err)
	assert.Equal(t, "Bug", name)

	_, err = cache.IssueTypeName(context.Background(), "U1", "OPS", "99999")
	assert.Error(t, err)
}

func TestSchemaCache_InvalidateForcesRefetch(t *testing.T) {
	var apiCalls atomic.Int64
	cache, _ := newSchemaCacheFixture(t, &apiCalls)

	_, err := cache.Projects(context.Background(), "U1")
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(context.Background()))

	_, err = cache.Projects(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), apiCalls.Load())
}
