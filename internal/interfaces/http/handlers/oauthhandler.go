package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	credapp "liaison/internal/application/credential"
	"liaison/internal/infrastructure/auth"
	"liaison/internal/infrastructure/cache"
	"liaison/internal/shared/logger"
)

// OAuthHandler completes the tracker account connection: the callback leg
// of the 3LO consent flow started by the /connect command.
type OAuthHandler struct {
	oauth  *auth.AtlassianOAuthClient
	states *cache.OAuthStateStore
	creds  *credapp.Service
	logger logger.Interface
}

func NewOAuthHandler(
	oauth *auth.AtlassianOAuthClient,
	states *cache.OAuthStateStore,
	creds *credapp.Service,
	log logger.Interface,
) *OAuthHandler {
	return &OAuthHandler{
		oauth:  oauth,
		states: states,
		creds:  creds,
		logger: log.Named("oauth.handler"),
	}
}

// Callback handles the provider redirect. The state parameter is
// single-use and binds the authorization back to the chat user who
// initiated it.
func (h *OAuthHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()

	if errParam := c.Query("error"); errParam != "" {
		h.logger.Warnw("authorization declined", "error", errParam)
		h.renderResult(c, http.StatusBadRequest, "Authorization was declined. You can retry with /connect.")
		return
	}

	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		h.renderResult(c, http.StatusBadRequest, "Missing state or code parameter.")
		return
	}

	userID, err := h.states.VerifyAndGet(ctx, state)
	if err != nil {
		h.logger.Warnw("state verification failed", "error", err)
		h.renderResult(c, http.StatusBadRequest, "This authorization link has expired or was already used. Run /connect again.")
		return
	}

	token, err := h.oauth.ExchangeCode(ctx, code)
	if err != nil {
		h.logger.Errorw("code exchange failed", "user_id", userID, "error", err)
		h.renderResult(c, http.StatusBadGateway, "Could not complete the authorization. Please try again.")
		return
	}

	sites, err := h.oauth.AccessibleResources(ctx, token.AccessToken)
	if err != nil || len(sites) == 0 {
		h.logger.Errorw("no accessible sites", "user_id", userID, "error", err)
		h.renderResult(c, http.StatusBadGateway, "No tracker site is accessible with this account.")
		return
	}

	profile, err := h.oauth.Me(ctx, token.AccessToken)
	if err != nil {
		h.logger.Errorw("profile fetch failed", "user_id", userID, "error", err)
		h.renderResult(c, http.StatusBadGateway, "Could not read your tracker profile. Please try again.")
		return
	}

	expiresIn := int64(time.Until(token.ExpiresAt).Seconds())
	err = h.creds.SaveToken(ctx, credapp.SaveTokenParams{
		UserID:       userID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    expiresIn,
		CloudID:      sites[0].ID,
		AccountID:    profile.AccountID,
		DisplayName:  profile.DisplayName,
	})
	if err != nil {
		h.logger.Errorw("failed to save credential", "user_id", userID, "error", err)
		h.renderResult(c, http.StatusInternalServerError, "Could not store your connection. Please try again.")
		return
	}

	h.logger.Infow("tracker account connected",
		"user_id", userID, "site", sites[0].Name)
	h.renderResult(c, http.StatusOK,
		fmt.Sprintf("Connected as %s. You can close this window and return to Slack.", profile.DisplayName))
}

func (h *OAuthHandler) renderResult(c *gin.Context, status int, message string) {
	c.Data(status, "text/html; charset=utf-8",
		[]byte("<html><body><p>"+message+"</p></body></html>"))
}
