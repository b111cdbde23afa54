// Package llm is a minimal client for OpenAI-compatible chat completion
// APIs, carrying the prompt flows the bot uses: issue summaries, duplicate
// assessment and natural-language query answering.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"liaison/internal/infrastructure/tracker"
	"liaison/internal/shared/config"
	"liaison/internal/shared/logger"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	httpTimeout    = 60 * time.Second
)

// Client calls a chat-completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     logger.Interface
}

// NewClient builds a client from config, falling back to the OpenAI
// endpoint and the default model when unset.
func NewClient(cfg *config.LLMConfig, log logger.Interface) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      model,
		httpClient: &http.Client{Timeout: httpTimeout},
		logger:     log.Named("llm.client"),
	}
}

const summarizeSystemPrompt = `You are a chat-integrated issue tracker bot. Format your output consistently.

- Use Slack-compatible markdown only.
- The first line must always wrap title and description in backticks: ` + "`<title> - <description>`" + `
- Write 3-5 lines of summary.
- Then end with: ` + "`↳ _Suggested Resolution:_ <recommendation>`"

// SummarizeIssue produces a short summary with a suggested resolution for
// one issue, including its comment thread.
func (c *Client) SummarizeIssue(ctx context.Context, issue *tracker.Issue) (string, error) {
	description := issue.Description
	if description == "" {
		description = "No description available."
	}
	prompt := fmt.Sprintf("Issue:\n- Title: `%s`\n- Description: `%s`\n- Comments:\n%s",
		issue.Summary, description, issue.Comments)

	return c.complete(ctx, summarizeSystemPrompt, prompt, 0.5, 1000)
}

const duplicateSystemPrompt = `You review proposed tickets against similar past tickets.
Point out which past tickets look like duplicates of the current one and why,
or state clearly that none of them do. Use Slack-compatible markdown only and
keep it under 8 lines.`

// AssessDuplicates asks whether the proposed ticket repeats any of the
// similar past issues found via search.
func (c *Client) AssessDuplicates(ctx context.Context, title, description string, past []tracker.Issue) (string, error) {
	if description == "" {
		description = "No description provided."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "### Current Ticket\n- Title: %s\n- Description: %s\n\n### Related Past Tickets:\n", title, description)
	for _, issue := range past {
		fmt.Fprintf(&b, "---\nTicket: %s\nSummary: %s\nDescription: %s\nStatus: %s\nComments: %s\n",
			issue.Key, issue.Summary, issue.Description, issue.Status, issue.Comments)
	}
	return c.complete(ctx, duplicateSystemPrompt, b.String(), 0.5, 1000)
}

const queryToJQLSystemPrompt = `You translate natural language questions about an issue tracker into
precise JQL queries for Jira Cloud. If the question is not about the
tracker, return an empty jql. If the query references an issue key like
ABC-123, use issue = ABC-123.
Respond ONLY with a valid JSON object of the form:
{"jql": "your JQL string", "explanation": "what the query does"}
No markdown, no commentary, no code blocks.`

// QueryPlan is the structured translation of a user question.
type QueryPlan struct {
	JQL         string `json:"jql"`
	Explanation string `json:"explanation"`
}

// TranslateQuery turns a free-form question into a JQL query. An empty
// JQL in the result means the question was not tracker-related.
func (c *Client) TranslateQuery(ctx context.Context, userQuery string) (*QueryPlan, error) {
	raw, err := c.complete(ctx, queryToJQLSystemPrompt, fmt.Sprintf("User query:\n%q", userQuery), 0.4, 400)
	if err != nil {
		return nil, err
	}

	var plan QueryPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("parse query plan: %w", err)
	}
	return &plan, nil
}

const answerSystemPrompt = `You are a tracker assistant integrated into chat.
Answer the user's question using only the provided ticket data.
- Answer directly and specifically; no vague introductions.
- If the data cannot answer the question, say so and suggest a next step.
- Never return JSON, code blocks or raw technical output.
- Respond in markdown only.`

// AnswerQuery answers the user's question from the fetched ticket data.
// The response is markdown; callers convert it for their chat surface.
func (c *Client) AnswerQuery(ctx context.Context, userQuery, ticketData string) (string, error) {
	prompt := fmt.Sprintf("Ticket Data:\n%s\n---\n%s\nThe ticket data is from the user query.", ticketData, userQuery)
	return c.complete(ctx, answerSystemPrompt, prompt, 0.6, 1000)
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("completion api status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
