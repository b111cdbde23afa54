package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	credapp "liaison/internal/application/credential"
	"liaison/internal/infrastructure/auth"
	"liaison/internal/infrastructure/cache"
	"liaison/internal/infrastructure/llm"
	"liaison/internal/infrastructure/slack"
	"liaison/internal/infrastructure/tracker"
	apperrors "liaison/internal/shared/errors"
	"liaison/internal/shared/goroutine"
	"liaison/internal/shared/logger"
	"liaison/internal/shared/services/markdown"
)

// asyncTimeout bounds the background work behind a slash command. Slack
// expects the HTTP response within 3 seconds, so anything involving the
// tracker or the LLM is acknowledged first and delivered through the
// response URL.
const asyncTimeout = 60 * time.Second

// CommandHandler dispatches the bot's slash commands.
type CommandHandler struct {
	verifier *slack.Verifier
	chat     *slack.Client
	creds    *credapp.Service
	oauth    *auth.AtlassianOAuthClient
	states   *cache.OAuthStateStore
	issues   *tracker.Client
	schemas  *tracker.SchemaCache
	llm      *llm.Client
	mrkdwn   markdown.MrkdwnService
	admins   map[string]struct{}
	logger   logger.Interface
}

func NewCommandHandler(
	verifier *slack.Verifier,
	chat *slack.Client,
	creds *credapp.Service,
	oauth *auth.AtlassianOAuthClient,
	states *cache.OAuthStateStore,
	issues *tracker.Client,
	schemas *tracker.SchemaCache,
	llmClient *llm.Client,
	mrkdwn markdown.MrkdwnService,
	adminUserIDs []string,
	log logger.Interface,
) *CommandHandler {
	admins := make(map[string]struct{}, len(adminUserIDs))
	for _, id := range adminUserIDs {
		admins[id] = struct{}{}
	}
	return &CommandHandler{
		verifier: verifier,
		chat:     chat,
		creds:    creds,
		oauth:    oauth,
		states:   states,
		issues:   issues,
		schemas:  schemas,
		llm:      llmClient,
		mrkdwn:   mrkdwn,
		admins:   admins,
		logger:   log.Named("slack.commands"),
	}
}

// Handle verifies the request signature and dispatches by command name.
func (h *CommandHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	timestamp := c.GetHeader("X-Slack-Request-Timestamp")
	signature := c.GetHeader("X-Slack-Signature")
	if err := h.verifier.Verify(timestamp, body, signature); err != nil {
		h.logger.Warnw("rejected slash command", "error", err)
		c.Status(http.StatusUnauthorized)
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	command := form.Get("command")
	text := strings.TrimSpace(form.Get("text"))
	userID := form.Get("user_id")
	responseURL := form.Get("response_url")

	switch command {
	case "/connect":
		h.handleConnect(c, userID)
	case "/createticket":
		h.handleCreateTicket(c, userID, text, responseURL)
	case "/summarize":
		h.handleSummarize(c, userID, text, responseURL)
	case "/comment":
		h.handleComment(c, userID, text, responseURL)
	case "/mytickets":
		h.handleMyTickets(c, userID, text, responseURL)
	case "/ask":
		h.handleAsk(c, userID, text, responseURL)
	case "/resetjira":
		h.handleReset(c, userID)
	default:
		ephemeral(c, fmt.Sprintf("Unknown command %s.", command))
	}
}

func (h *CommandHandler) handleConnect(c *gin.Context, userID string) {
	state, err := auth.GenerateState()
	if err != nil {
		h.logger.Errorw("failed to generate state", "error", err)
		ephemeral(c, "Something went wrong starting the connection. Please try again.")
		return
	}
	if err := h.states.Set(c.Request.Context(), state, userID); err != nil {
		h.logger.Errorw("failed to store state", "user_id", userID, "error", err)
		ephemeral(c, "Something went wrong starting the connection. Please try again.")
		return
	}

	ephemeral(c, fmt.Sprintf(
		"Connect your tracker account: <%s|click here to authorize>. The link is valid for 10 minutes.",
		h.oauth.AuthURL(state)))
}

func (h *CommandHandler) handleCreateTicket(c *gin.Context, userID, text, responseURL string) {
	projectKey, summary, description, ok := parseCreateText(text)
	if !ok {
		ephemeral(c, "Usage: /createticket PROJECT summary text [| description]")
		return
	}

	ephemeral(c, fmt.Sprintf("Creating a ticket in *%s*, one moment…", projectKey))

	goroutine.SafeGo(h.logger, "create_ticket", func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
		defer cancel()
		h.createTicket(ctx, userID, projectKey, summary, description, responseURL)
	})
}

func (h *CommandHandler) createTicket(ctx context.Context, userID, projectKey, summary, description, responseURL string) {
	issueTypeID, issueTypeName, err := h.pickIssueType(ctx, userID, projectKey)
	if err != nil {
		h.deliverError(ctx, responseURL, userID, err)
		return
	}

	var duplicateNote string
	similar, err := h.issues.SearchSimilar(ctx, userID, summary, projectKey, issueTypeName)
	if err != nil {
		h.logger.Warnw("similar-issue search failed", "user_id", userID, "error", err)
	} else if len(similar) > 0 {
		assessment, err := h.llm.AssessDuplicates(ctx, summary, description, similar)
		if err != nil {
			h.logger.Warnw("duplicate assessment failed", "user_id", userID, "error", err)
		} else {
			duplicateNote = "\n\n*Possible duplicates:*\n" + assessment
		}
	}

	browseURL, err := h.issues.CreateIssue(ctx, userID,
		tracker.NewIssuePayload(projectKey, issueTypeID, summary, description))
	if err != nil {
		h.deliverError(ctx, responseURL, userID, err)
		return
	}

	h.deliver(ctx, responseURL,
		fmt.Sprintf("Ticket created: <%s|%s>%s", browseURL, summary, duplicateNote), false)
}

func (h *CommandHandler) handleSummarize(c *gin.Context, userID, text, responseURL string) {
	issueKey := strings.ToUpper(text)
	if issueKey == "" || !strings.Contains(issueKey, "-") {
		ephemeral(c, "Usage: /summarize ISSUE-KEY")
		return
	}

	ephemeral(c, fmt.Sprintf("Summarizing *%s*…", issueKey))

	goroutine.SafeGo(h.logger, "summarize_issue", func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
		defer cancel()

		issue, err := h.issues.IssueByKey(ctx, userID, issueKey)
		if err != nil {
			h.deliverError(ctx, responseURL, userID, err)
			return
		}
		summary, err := h.llm.SummarizeIssue(ctx, issue)
		if err != nil {
			h.deliverError(ctx, responseURL, userID, err)
			return
		}
		h.deliver(ctx, responseURL,
			fmt.Sprintf("Summary for <%s|%s>:\n%s", h.issues.BrowseURL(issueKey), issueKey, summary), true)
	})
}

func (h *CommandHandler) handleComment(c *gin.Context, userID, text, responseURL string) {
	issueKey, comment, ok := parseCommentText(text)
	if !ok {
		ephemeral(c, "Usage: /comment ISSUE-KEY your comment text")
		return
	}

	ephemeral(c, fmt.Sprintf("Adding your comment to *%s*…", issueKey))

	goroutine.SafeGo(h.logger, "add_comment", func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
		defer cancel()

		if err := h.issues.AddComment(ctx, userID, issueKey, tracker.NewCommentBody(comment, nil)); err != nil {
			h.deliverError(ctx, responseURL, userID, err)
			return
		}
		h.deliver(ctx, responseURL,
			fmt.Sprintf("Comment added to <%s|%s>.", h.issues.BrowseURL(issueKey), issueKey), true)
	})
}

func (h *CommandHandler) handleMyTickets(c *gin.Context, userID, text, responseURL string) {
	watching := strings.EqualFold(text, "watching")
	if text != "" && !watching {
		ephemeral(c, "Usage: /mytickets [watching]")
		return
	}

	ephemeral(c, "Fetching your tickets…")

	goroutine.SafeGo(h.logger, "list_tickets", func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
		defer cancel()

		var (
			list    []tracker.Issue
			heading string
			err     error
		)
		if watching {
			list, err = h.issues.WatchingIssues(ctx, userID)
			heading = "*Tickets you are watching:*"
		} else {
			list, err = h.issues.AssignedIssues(ctx, userID)
			heading = "*Tickets assigned to you:*"
		}
		if err != nil {
			h.deliverError(ctx, responseURL, userID, err)
			return
		}
		if len(list) == 0 {
			h.deliver(ctx, responseURL, "No open tickets found.", true)
			return
		}
		h.deliver(ctx, responseURL, heading+"\n"+h.formatIssueLinks(list), true)
	})
}

func (h *CommandHandler) handleAsk(c *gin.Context, userID, text, responseURL string) {
	if text == "" {
		ephemeral(c, "Usage: /ask your question about the tracker")
		return
	}

	ephemeral(c, "Looking that up…")

	goroutine.SafeGo(h.logger, "answer_query", func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
		defer cancel()
		h.answerQuery(ctx, userID, text, responseURL)
	})
}

func (h *CommandHandler) answerQuery(ctx context.Context, userID, question, responseURL string) {
	plan, err := h.llm.TranslateQuery(ctx, question)
	if err != nil {
		h.deliverError(ctx, responseURL, userID, err)
		return
	}
	if plan.JQL == "" {
		h.deliver(ctx, responseURL, "I can only answer questions about the issue tracker. Try rephrasing.", true)
		return
	}

	issues, err := h.issues.Search(ctx, userID, plan.JQL, 5)
	if err != nil {
		h.deliverError(ctx, responseURL, userID, err)
		return
	}
	if len(issues) == 0 {
		h.deliver(ctx, responseURL, plan.Explanation+"\n\nNo matching issues found.", true)
		return
	}

	answer, err := h.llm.AnswerQuery(ctx, question, formatIssues(issues))
	if err != nil {
		h.deliverError(ctx, responseURL, userID, err)
		return
	}

	rendered, err := h.mrkdwn.ToMrkdwn(answer)
	if err != nil {
		h.logger.Warnw("mrkdwn conversion failed", "error", err)
		rendered = answer
	}
	h.deliver(ctx, responseURL, rendered, true)
}

func (h *CommandHandler) handleReset(c *gin.Context, userID string) {
	if _, ok := h.admins[userID]; !ok {
		h.logger.Warnw("reset denied", "user_id", userID)
		ephemeral(c, "Only administrators may reset tracker connections.")
		return
	}

	if err := h.creds.ResetAll(c.Request.Context()); err != nil {
		h.logger.Errorw("reset failed", "user_id", userID, "error", err)
		ephemeral(c, "Reset failed. Check the server logs.")
		return
	}

	ephemeral(c, "All tracker connections were removed. Users will need to /connect again.")
}

// pickIssueType chooses the project's Task type when present, otherwise
// the first creatable type.
func (h *CommandHandler) pickIssueType(ctx context.Context, userID, projectKey string) (id, name string, err error) {
	projects, err := h.schemas.Projects(ctx, userID)
	if err != nil {
		return "", "", err
	}
	for _, p := range projects {
		if p.Key != projectKey {
			continue
		}
		if len(p.IssueTypes) == 0 {
			break
		}
		for _, it := range p.IssueTypes {
			if strings.EqualFold(it.Name, "Task") {
				return it.ID, it.Name, nil
			}
		}
		return p.IssueTypes[0].ID, p.IssueTypes[0].Name, nil
	}
	return "", "", fmt.Errorf("project %s not found or has no creatable issue types", projectKey)
}

// deliver posts a delayed reply through the response URL.
func (h *CommandHandler) deliver(ctx context.Context, responseURL, text string, ephemeralReply bool) {
	if err := h.chat.Respond(ctx, responseURL, text, ephemeralReply); err != nil {
		h.logger.Errorw("failed to deliver response", "error", err)
	}
}

// deliverError translates credential errors into user guidance.
func (h *CommandHandler) deliverError(ctx context.Context, responseURL, userID string, err error) {
	switch {
	case apperrors.IsNotConnected(err):
		h.deliver(ctx, responseURL, "Your tracker account is not connected yet. Run /connect first.", true)
	case apperrors.IsRefreshFailed(err):
		h.deliver(ctx, responseURL, "Could not reach the issue tracker right now. Please try again in a moment.", true)
	default:
		h.logger.Errorw("command failed", "user_id", userID, "error", err)
		h.deliver(ctx, responseURL, "Something went wrong. Please try again.", true)
	}
}

// parseCreateText splits "PROJECT summary text [| description]".
func parseCreateText(text string) (projectKey, summary, description string, ok bool) {
	parts := strings.SplitN(text, " ", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	projectKey = strings.ToUpper(parts[0])

	rest := parts[1]
	if idx := strings.Index(rest, "|"); idx >= 0 {
		summary = strings.TrimSpace(rest[:idx])
		description = strings.TrimSpace(rest[idx+1:])
	} else {
		summary = strings.TrimSpace(rest)
	}
	if summary == "" {
		return "", "", "", false
	}
	return projectKey, summary, description, true
}

// parseCommentText splits "ISSUE-KEY comment text".
func parseCommentText(text string) (issueKey, comment string, ok bool) {
	parts := strings.SplitN(text, " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	issueKey = strings.ToUpper(strings.TrimSpace(parts[0]))
	comment = strings.TrimSpace(parts[1])
	if !strings.Contains(issueKey, "-") || comment == "" {
		return "", "", false
	}
	return issueKey, comment, true
}

// formatIssueLinks renders a one-line-per-ticket list for chat.
func (h *CommandHandler) formatIssueLinks(list []tracker.Issue) string {
	var b strings.Builder
	for _, issue := range list {
		fmt.Fprintf(&b, "• <%s|%s> %s — %s\n",
			h.issues.BrowseURL(issue.Key), issue.Key, issue.Summary, issue.Status)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatIssues(issues []tracker.Issue) string {
	var b strings.Builder
	for _, issue := range issues {
		fmt.Fprintf(&b, "Ticket: %s\nSummary: %s\nProject: %s\nStatus: %s | Type: %s | Priority: %s\nAssignee: %s\n",
			issue.Key, issue.Summary, issue.Project, issue.Status, issue.Type, issue.Priority, issue.Assignee)
		if issue.Created != "" {
			fmt.Fprintf(&b, "Created: %.10s | Updated: %.10s\n", issue.Created, issue.Updated)
		}
		description := issue.Description
		if description == "" {
			description = "No description available."
		}
		fmt.Fprintf(&b, "Description: %s\n", description)
		if issue.Comments != "" {
			fmt.Fprintf(&b, "Comments:\n%s\n", issue.Comments)
		}
		b.WriteString("---\n")
	}
	return b.String()
}

// ephemeral writes the immediate in-channel acknowledgement Slack shows
// only to the invoking user.
func ephemeral(c *gin.Context, text string) {
	c.JSON(http.StatusOK, gin.H{
		"response_type": "ephemeral",
		"text":          text,
	})
}
