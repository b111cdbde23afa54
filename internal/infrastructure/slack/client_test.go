package slack

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liaison/internal/shared/logger"
)

func newTestSlack(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient("xoxb-test",
		logger.NewLoggerWithSlog(slog.New(slog.NewTextHandler(io.Discard, nil))))
	client.apiBaseURL = server.URL
	return client
}

func TestPostMessage(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	client := newTestSlack(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))

	err := client.PostMessage(context.Background(), "C123", "hello there")
	require.NoError(t, err)
	assert.Equal(t, "Bearer xoxb-test", gotAuth)
	assert.Equal(t, "C123", gotBody["channel"])
	assert.Equal(t, "hello there", gotBody["text"])
}

func TestPostMessage_APIError(t *testing.T) {
	client := newTestSlack(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok": false, "error": "channel_not_found"}`))
	}))

	err := client.PostMessage(context.Background(), "C404", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestRespond(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	client := NewClient("xoxb-test",
		logger.NewLoggerWithSlog(slog.New(slog.NewTextHandler(io.Discard, nil))))

	err := client.Respond(context.Background(), server.URL, "done", true)
	require.NoError(t, err)
	assert.Equal(t, "ephemeral", gotBody["response_type"])
	assert.Equal(t, "done", gotBody["text"])
}

func TestRespond_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	client := NewClient("xoxb-test",
		logger.NewLoggerWithSlog(slog.New(slog.NewTextHandler(io.Discard, nil))))

	err := client.Respond(context.Background(), server.URL, "done", false)
	assert.Error(t, err)
}
