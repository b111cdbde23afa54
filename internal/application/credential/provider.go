package credential

import (
	"context"

	"liaison/internal/infrastructure/auth"
)

type atlassianRefresher struct {
	client *auth.AtlassianOAuthClient
}

// NewAtlassianRefresher adapts the Atlassian OAuth client to the
// TokenRefresher interface the service consumes.
func NewAtlassianRefresher(client *auth.AtlassianOAuthClient) TokenRefresher {
	return &atlassianRefresher{client: client}
}

func (a *atlassianRefresher) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	result, err := a.client.RefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresAt:    result.ExpiresAt,
	}, nil
}
