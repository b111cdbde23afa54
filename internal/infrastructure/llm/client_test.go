package llm

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

	"liaison/internal/infrastructure/tracker"
	"liaison/internal/shared/config"
	"liaison/internal/shared/logger"
)

func newTestLLM(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(&config.LLMConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
	}, logger.NewLoggerWithSlog(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func completionResponse(content string) string {
	data, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return string(data)
}

func TestSummarizeIssue_SendsIssueContext(t *testing.T) {
	var gotReq chatRequest
	var gotAuth string
	client := newTestLLM(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(completionResponse("`Login timeout - Session drops`\nshort summary")))
	}))

	summary, err := client.SummarizeIssue(context.Background(), &tracker.Issue{
		Key:         "OPS-7",
		Summary:     "Login timeout",
		Description: "Session drops after 30s",
		Comments:    "- Kim: Reproduced on staging",
	})
	require.NoError(t, err)

	assert.Contains(t, summary, "Login timeout")
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "test-model", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Contains(t, gotReq.Messages[1].Content, "Session drops after 30s")
	assert.Contains(t, gotReq.Messages[1].Content, "Reproduced on staging")
}

func TestTranslateQuery_ParsesPlan(t *testing.T) {
	client := newTestLLM(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionResponse(
			`{"jql": "issue = OPS-7", "explanation": "Looks up OPS-7"}`)))
	}))

	plan, err := client.TranslateQuery(context.Background(), "what's the status of ops-7?")
	require.NoError(t, err)
	assert.Equal(t, "issue = OPS-7", plan.JQL)
	assert.Equal(t, "Looks up OPS-7", plan.Explanation)
}

func TestTranslateQuery_RejectsNonJSON(t *testing.T) {
	client := newTestLLM(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionResponse("sorry, I can't help with that")))
	}))

	_, err := client.TranslateQuery(context.Background(), "hello")
	assert.Error(t, err)
}

func TestComplete_SurfacesAPIErrors(t *testing.T) {
	client := newTestLLM(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "rate limited"}}`))
	}))

	_, err := client.AnswerQuery(context.Background(), "q", "data")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestComplete_NoChoices(t *testing.T) {
	client := newTestLLM(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))

	_, err := client.AnswerQuery(context.Background(), "q", "data")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
