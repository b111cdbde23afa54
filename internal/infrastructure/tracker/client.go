package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"liaison/internal/domain/credential"
	"liaison/internal/shared/logger"
)

const (
	defaultAPIBaseURL = "https://api.atlassian.com"
	httpTimeout       = 30 * time.Second
	searchPageSize    = 5
)

// TokenSource supplies a ready-to-use token bundle for a chat user. The
// credential application service is the production implementation.
type TokenSource interface {
	GetValidToken(ctx context.Context, userID string) (*credential.TokenBundle, error)
}

// Client talks to the Jira Cloud REST API on behalf of individual users.
// Every call resolves the caller's token through the TokenSource, so the
// credential tiers and refresh logic stay in one place.
type Client struct {
	apiBaseURL string
	siteURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     logger.Interface
}

// NewClient creates a tracker client. siteURL is the tenant base for
// browse links (e.g. https://example.atlassian.net).
func NewClient(siteURL string, tokens TokenSource, log logger.Interface) *Client {
	return &Client{
		apiBaseURL: defaultAPIBaseURL,
		siteURL:    strings.TrimRight(siteURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: httpTimeout},
		logger:     log.Named("tracker.client"),
	}
}

// Issue is the flattened view of a tracker issue used across search and
// summary flows. Description and Comments are plain text extracted from
// the document bodies.
type Issue struct {
	Key         string
	Summary     string
	Status      string
	Type        string
	Priority    string
	Assignee    string
	Project     string
	Created     string
	Updated     string
	Description string
	Comments    string
}

// BrowseURL returns the human-facing link for an issue key.
func (c *Client) BrowseURL(issueKey string) string {
	return c.siteURL + "/browse/" + issueKey
}

// IssuePayload is the create-issue request body.
type IssuePayload struct {
	Fields map[string]any `json:"fields"`
}

// NewIssuePayload builds the minimal create payload: project, issue type,
// summary, and the description wrapped as a document.
func NewIssuePayload(projectKey, issueTypeID, summary, description string) *IssuePayload {
	fields := map[string]any{
		"project":   map[string]string{"key": projectKey},
		"issuetype": map[string]string{"id": issueTypeID},
		"summary":   summary,
	}
	if description != "" {
		fields["description"] = NewTextDocument(description)
	}
	return &IssuePayload{Fields: fields}
}

// CreateIssue creates an issue as the user and returns its browse URL.
func (c *Client) CreateIssue(ctx context.Context, userID string, payload *IssuePayload) (string, error) {
	var created struct {
		Key string `json:"key"`
	}
	if err := c.do(ctx, userID, http.MethodPost, "/rest/api/3/issue", nil, payload, &created); err != nil {
		return "", err
	}

	c.logger.Infow("issue created", "user_id", userID, "issue_key", created.Key)
	return c.BrowseURL(created.Key), nil
}

// AddComment appends a comment document to an issue.
func (c *Client) AddComment(ctx context.Context, userID, issueKey string, body *ADFDocument) error {
	path := "/rest/api/3/issue/" + url.PathEscape(issueKey) + "/comment"
	req := map[string]any{"body": body}
	return c.do(ctx, userID, http.MethodPost, path, nil, req, nil)
}

// SearchSimilar finds recent issues of the same type in the project whose
// summary resembles the given one. Used for duplicate detection before a
// new ticket is filed.
func (c *Client) SearchSimilar(ctx context.Context, userID, summary, projectKey, issueTypeName string) ([]Issue, error) {
	jql := fmt.Sprintf(
		`project = %s AND issuetype = %q AND summary ~ %q ORDER BY created DESC`,
		projectKey, issueTypeName, summary,
	)
	return c.Search(ctx, userID, jql, searchPageSize)
}

// AssignedIssues returns the user's open issues, most recently updated
// first.
func (c *Client) AssignedIssues(ctx context.Context, userID string) ([]Issue, error) {
	jql := "assignee = currentUser() AND statusCategory != Done ORDER BY updated DESC"
	return c.Search(ctx, userID, jql, searchPageSize)
}

// WatchingIssues returns open issues the user watches but is not assigned
// to.
func (c *Client) WatchingIssues(ctx context.Context, userID string) ([]Issue, error) {
	jql := "watcher = currentUser() AND (assignee is EMPTY OR assignee != currentUser()) AND statusCategory != Done ORDER BY updated DESC"
	return c.Search(ctx, userID, jql, searchPageSize)
}

// Search runs an arbitrary JQL query and flattens the result set.
func (c *Client) Search(ctx context.Context, userID, jql string, maxResults int) ([]Issue, error) {
	query := url.Values{}
	query.Set("jql", jql)
	query.Set("fields", "summary,status,description,comment,assignee,priority,issuetype,created,updated,project")
	query.Set("maxResults", strconv.Itoa(maxResults))

	var resp searchResponse
	if err := c.do(ctx, userID, http.MethodGet, "/rest/api/3/search", query, nil, &resp); err != nil {
		return nil, err
	}

	issues := make([]Issue, 0, len(resp.Issues))
	for _, raw := range resp.Issues {
		issues = append(issues, raw.flatten())
	}
	return issues, nil
}

// IssueByKey fetches a single issue with its comments.
func (c *Client) IssueByKey(ctx context.Context, userID, issueKey string) (*Issue, error) {
	path := "/rest/api/3/issue/" + url.PathEscape(issueKey)
	var raw rawIssue
	if err := c.do(ctx, userID, http.MethodGet, path, nil, nil, &raw); err != nil {
		return nil, err
	}
	issue := raw.flatten()
	return &issue, nil
}

// Project is a create-capable project with its issue types, as reported
// by the create-meta endpoint.
type Project struct {
	Key        string      `json:"key"`
	Name       string      `json:"name"`
	IssueTypes []IssueType `json:"issuetypes"`
}

// IssueType identifies one creatable issue type inside a project.
type IssueType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Projects lists the projects the user can create issues in.
func (c *Client) Projects(ctx context.Context, userID string) ([]Project, error) {
	var resp struct {
		Projects []Project `json:"projects"`
	}
	if err := c.do(ctx, userID, http.MethodGet, "/rest/api/3/issue/createmeta", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

// FieldMeta describes one field of a create screen.
type FieldMeta struct {
	Key           string         `json:"key"`
	Name          string         `json:"name"`
	Required      bool           `json:"required"`
	Schema        FieldSchema    `json:"schema"`
	AllowedValues []AllowedValue `json:"allowedValues,omitempty"`
}

// FieldSchema carries the field's value type.
type FieldSchema struct {
	Type string `json:"type"`
}

// AllowedValue is one selectable option of a constrained field.
type AllowedValue struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

// IssueFields fetches the create-screen field schema for a project and
// issue type, keyed by field key.
func (c *Client) IssueFields(ctx context.Context, userID, projectKey, issueTypeID string) (map[string]FieldMeta, error) {
	path := "/rest/api/3/issue/createmeta/" + url.PathEscape(projectKey) +
		"/issuetypes/" + url.PathEscape(issueTypeID)
	var resp struct {
		Fields []FieldMeta `json:"fields"`
	}
	if err := c.do(ctx, userID, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}

	fields := make(map[string]FieldMeta, len(resp.Fields))
	for _, f := range resp.Fields {
		if f.Key == "" {
			continue
		}
		fields[f.Key] = f
	}
	return fields, nil
}

// do resolves the caller's token, issues the request against the user's
// cloud, and decodes the response into out when non-nil.
func (c *Client) do(ctx context.Context, userID, method, path string, query url.Values, body, out any) error {
	bundle, err := c.tokens.GetValidToken(ctx, userID)
	if err != nil {
		return err
	}

	endpoint := c.apiBaseURL + "/ex/jira/" + bundle.CloudID + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bundle.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tracker request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("tracker api %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type searchResponse struct {
	Issues []rawIssue `json:"issues"`
}

type rawIssue struct {
	Key    string    `json:"key"`
	Fields rawFields `json:"fields"`
}

type rawFields struct {
	Summary     string        `json:"summary"`
	Status      *namedEntity  `json:"status"`
	IssueType   *namedEntity  `json:"issuetype"`
	Priority    *namedEntity  `json:"priority"`
	Project     *namedEntity  `json:"project"`
	Assignee    *rawUser      `json:"assignee"`
	Created     string        `json:"created"`
	Updated     string        `json:"updated"`
	Description *ADFDocument  `json:"description"`
	Comment     *rawCommentList `json:"comment"`
}

type namedEntity struct {
	Name string `json:"name"`
}

type rawUser struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
}

type rawCommentList struct {
	Comments []rawComment `json:"comments"`
}

type rawComment struct {
	Author *rawUser     `json:"author"`
	Body   *ADFDocument `json:"body"`
}

func (r rawIssue) flatten() Issue {
	issue := Issue{
		Key:         r.Key,
		Summary:     r.Fields.Summary,
		Created:     r.Fields.Created,
		Updated:     r.Fields.Updated,
		Description: ExtractText(r.Fields.Description),
	}
	if r.Fields.Status != nil {
		issue.Status = r.Fields.Status.Name
	}
	if r.Fields.IssueType != nil {
		issue.Type = r.Fields.IssueType.Name
	}
	if r.Fields.Priority != nil {
		issue.Priority = r.Fields.Priority.Name
	}
	if r.Fields.Project != nil {
		issue.Project = r.Fields.Project.Name
	}
	if r.Fields.Assignee != nil {
		issue.Assignee = r.Fields.Assignee.DisplayName
	}
	if r.Fields.Comment != nil {
		var lines []string
		for _, comment := range r.Fields.Comment.Comments {
			author := "Someone"
			if comment.Author != nil && comment.Author.DisplayName != "" {
				author = comment.Author.DisplayName
			}
			lines = append(lines, "- "+author+": "+ExtractText(comment.Body))
		}
		issue.Comments = strings.Join(lines, "\n")
	}
	return issue
}
