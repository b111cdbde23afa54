package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	apperrors "liaison/internal/shared/errors"
)

const (
	atlassianAuthURL      = "https://auth.atlassian.com/authorize"
	atlassianTokenURL     = "https://auth.atlassian.com/oauth/token"
	atlassianResourcesURL = "https://api.atlassian.com/oauth/token/accessible-resources"
	atlassianMeURL        = "https://api.atlassian.com/me"

	// httpClientTimeout bounds every call to the identity provider; a
	// timed-out refresh is a refresh failure, never a partial write.
	httpClientTimeout = 30 * time.Second
)

// atlassianScopes covers Jira read/write plus offline_access, which is what
// makes the provider return a refresh token.
var atlassianScopes = []string{
	"read:jira-work",
	"write:jira-work",
	"read:jira-user",
	"read:me",
	"offline_access",
}

type AtlassianOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// AtlassianOAuthClient talks to the Atlassian identity platform: building
// the 3LO consent URL, exchanging authorization codes, and refreshing
// access tokens.
type AtlassianOAuthClient struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// TokenResult is the outcome of a code exchange or refresh.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// AtlassianSite is one Jira Cloud site the user granted access to.
type AtlassianSite struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// AtlassianProfile is the authenticated user's identity at the provider.
type AtlassianProfile struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"name"`
	Email       string `json:"email"`
}

func NewAtlassianOAuthClient(cfg AtlassianOAuthConfig) *AtlassianOAuthClient {
	return &AtlassianOAuthClient{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       atlassianScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  atlassianAuthURL,
				TokenURL: atlassianTokenURL,
			},
		},
		httpClient: &http.Client{Timeout: httpClientTimeout},
	}
}

// AuthURL returns the consent URL for the given state.
func (c *AtlassianOAuthClient) AuthURL(state string) string {
	return c.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("audience", "api.atlassian.com"),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// ExchangeCode exchanges an authorization code for the initial token pair.
func (c *AtlassianOAuthClient) ExchangeCode(ctx context.Context, code string) (*TokenResult, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return tokenResultFrom(token), nil
}

// RefreshToken exchanges a refresh token for a fresh token pair. Provider
// rejections come back as a RefreshFailedError carrying the response status;
// the caller decides what to do with the stored record (it must keep it).
func (c *AtlassianOAuthClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenResult, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	src := c.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, apperrors.NewRefreshFailedError(retrieveErr.Response.StatusCode, err)
		}
		return nil, apperrors.NewRefreshFailedError(0, err)
	}

	result := tokenResultFrom(token)
	// Providers that rotate refresh tokens return a new one; keep the old
	// token when the response omits it.
	if result.RefreshToken == "" {
		result.RefreshToken = refreshToken
	}
	return result, nil
}

// AccessibleResources lists the Jira Cloud sites the token can reach. The
// first entry's id is the cloud id used for API routing.
func (c *AtlassianOAuthClient) AccessibleResources(ctx context.Context, accessToken string) ([]AtlassianSite, error) {
	var sites []AtlassianSite
	if err := c.getJSON(ctx, atlassianResourcesURL, accessToken, &sites); err != nil {
		return nil, fmt.Errorf("failed to list accessible resources: %w", err)
	}
	return sites, nil
}

// Me fetches the authenticated user's profile.
func (c *AtlassianOAuthClient) Me(ctx context.Context, accessToken string) (*AtlassianProfile, error) {
	var profile AtlassianProfile
	if err := c.getJSON(ctx, atlassianMeURL, accessToken, &profile); err != nil {
		return nil, fmt.Errorf("failed to fetch user profile: %w", err)
	}
	return &profile, nil
}

func (c *AtlassianOAuthClient) getJSON(ctx context.Context, url, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func tokenResultFrom(token *oauth2.Token) *TokenResult {
	return &TokenResult{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry.UTC(),
	}
}

// GenerateState returns a random state value for the connect flow.
func GenerateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
