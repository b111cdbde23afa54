// Package credential implements the credential lookup and refresh
// orchestration across the three storage tiers.
package credential

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"liaison/internal/domain/credential"
	"liaison/internal/infrastructure/cache"
	"liaison/internal/infrastructure/secret"
	apperrors "liaison/internal/shared/errors"
	"liaison/internal/shared/logger"
)

// refreshThreshold is how close to expiry a token may get before any tier
// serves it. The same margin guards the fast-cache read and the durable
// read, so a token is always refreshed before a caller's short operation
// could see it expire. It deliberately equals the local cache TTL: a
// fast-cache entry inside this window cannot be trusted for the lifetime
// of a local entry.
const refreshThreshold = cache.LocalCacheTTL

// RefreshResult is a fresh token pair from the identity provider.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// TokenRefresher exchanges a refresh token at the identity provider's token
// endpoint. Implementations return a RefreshFailedError on rejection.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error)
}

// SaveTokenParams carries the outcome of an initial OAuth authorization.
type SaveTokenParams struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // seconds, provider-assigned lifetime
	CloudID      string
	AccountID    string
	DisplayName  string
}

// Service owns the credential tiers and the refresh path. Lookup order is
// process-local cache, shared fast cache, durable store, refreshing
// through the provider when the stored token is near expiry.
type Service struct {
	repo      credential.Repository
	codec     *secret.TokenCodec
	snapshots *cache.TokenSnapshotCache
	local     *cache.LocalTokenCache
	provider  TokenRefresher
	sf        singleflight.Group
	logger    logger.Interface
	now       func() time.Time
}

// NewService wires the orchestrator. The local cache is owned by the
// service instance; passing a fresh one per instance keeps instances
// independent.
func NewService(
	repo credential.Repository,
	codec *secret.TokenCodec,
	snapshots *cache.TokenSnapshotCache,
	local *cache.LocalTokenCache,
	provider TokenRefresher,
	log logger.Interface,
) *Service {
	return &Service{
		repo:      repo,
		codec:     codec,
		snapshots: snapshots,
		local:     local,
		provider:  provider,
		logger:    log.Named("credential.service"),
		now:       time.Now,
	}
}

// GetValidToken returns a ready-to-use token bundle for the user,
// refreshing it first when it is within refreshThreshold of expiry.
// Returns ErrNotConnected when the user has no stored credential and a
// RefreshFailedError when the provider rejects the refresh exchange.
func (s *Service) GetValidToken(ctx context.Context, userID string) (*credential.TokenBundle, error) {
	s.local.Sweep()
	if bundle := s.local.Get(userID); bundle != nil {
		return bundle, nil
	}

	if bundle, err := s.snapshots.Get(ctx, userID); err == nil && bundle != nil {
		if bundle.ExpiresAt.After(s.now().Add(refreshThreshold)) {
			s.local.Put(userID, bundle)
			return bundle, nil
		}
		// Near expiry: fall through to the durable store so the record
		// is refreshed proactively instead of served until it dies.
	}

	// Collapse concurrent lookups for the same user into one durable
	// read/refresh. Without this, two callers observing "needs refresh"
	// would both hit the provider, and refresh-token rotation makes the
	// loser's token invalid. Cross-instance races are not covered here;
	// they surface as RefreshFailed and the caller retries.
	v, err, _ := s.sf.Do(userID, func() (interface{}, error) {
		if bundle := s.local.Get(userID); bundle != nil {
			return &flightResult{bundle: bundle}, nil
		}
		return s.loadAndMaybeRefresh(ctx, userID, refreshThreshold)
	})
	if err != nil {
		return nil, err
	}
	return v.(*flightResult).bundle, nil
}

// SaveToken persists the token pair from a completed OAuth authorization
// and primes the shared fast cache with TTL equal to the token lifetime.
func (s *Service) SaveToken(ctx context.Context, params SaveTokenParams) error {
	now := s.now().UTC()
	expiresAt := now.Add(time.Duration(params.ExpiresIn) * time.Second)

	encAccess, err := s.codec.Encrypt(params.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encRefresh, err := s.codec.Encrypt(params.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	cred, err := credential.NewCredential(
		params.UserID, params.AccountID, params.DisplayName,
		encAccess, encRefresh, expiresAt, params.CloudID, now,
	)
	if err != nil {
		return err
	}

	if err := s.repo.Upsert(ctx, cred); err != nil {
		return err
	}

	bundle := &credential.TokenBundle{
		AccountID:    params.AccountID,
		DisplayName:  params.DisplayName,
		AccessToken:  params.AccessToken,
		RefreshToken: params.RefreshToken,
		CloudID:      params.CloudID,
		ExpiresAt:    expiresAt,
	}
	if err := s.snapshots.Set(ctx, params.UserID, bundle, time.Duration(params.ExpiresIn)*time.Second); err != nil {
		s.logger.Warnw("failed to prime token snapshot cache",
			"user_id", params.UserID, "error", err)
	}
	// Any local entry predates this authorization.
	s.local.Delete(params.UserID)

	s.logger.Infow("tracker credential saved",
		"user_id", params.UserID, "account_id", params.AccountID)
	return nil
}

// ResetAll wipes credential state from all three tiers. It does not revoke
// tokens at the identity provider.
func (s *Service) ResetAll(ctx context.Context) error {
	if err := s.repo.DeleteAll(ctx); err != nil {
		return err
	}
	err := s.snapshots.DeleteAll(ctx)
	s.local.Clear()
	if err != nil {
		return err
	}
	s.logger.Infow("all tracker credentials reset")
	return nil
}

// RefreshExpiring proactively refreshes every credential expiring within
// the window. Used by the background worker; per-user failures are logged
// and skipped so one broken refresh token cannot stall the sweep. The
// returned count covers only records that actually went through the
// provider exchange.
func (s *Service) RefreshExpiring(ctx context.Context, within time.Duration) (int, error) {
	creds, err := s.repo.ListExpiringBefore(ctx, s.now().Add(within))
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, cred := range creds {
		userID := cred.UserID
		v, err, _ := s.sf.Do(userID, func() (interface{}, error) {
			return s.loadAndMaybeRefresh(ctx, userID, within)
		})
		if err != nil {
			s.logger.Warnw("background refresh failed",
				"user_id", userID, "error", err)
			continue
		}
		if v.(*flightResult).refreshed {
			refreshed++
		}
	}
	return refreshed, nil
}

// flightResult is what a singleflight call for a user resolves to. Both
// the interactive lookup and the background sweep share flight keys, so
// they must share a result shape too.
type flightResult struct {
	bundle    *credential.TokenBundle
	refreshed bool
}

// loadAndMaybeRefresh is the durable-store leg of a lookup: read the
// record, refresh it in place when it expires within threshold, then
// rebuild both cache tiers from it.
func (s *Service) loadAndMaybeRefresh(ctx context.Context, userID string, threshold time.Duration) (*flightResult, error) {
	cred, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, apperrors.ErrNotConnected
	}

	didRefresh := false
	now := s.now().UTC()
	if cred.ExpiresWithin(now, threshold) {
		if err := s.refreshInPlace(ctx, cred, now); err != nil {
			return nil, err
		}
		didRefresh = true
	}

	accessToken, err := s.codec.Decrypt(cred.EncryptedAccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refreshToken, err := s.codec.Decrypt(cred.EncryptedRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	bundle := &credential.TokenBundle{
		AccountID:    cred.AccountID,
		DisplayName:  cred.DisplayName,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		CloudID:      cred.CloudID,
		ExpiresAt:    cred.TokenExpiresAt,
	}

	if ttl := bundle.RemainingLifetime(s.now()); ttl > 0 {
		if err := s.snapshots.Set(ctx, userID, bundle, ttl); err != nil {
			s.logger.Warnw("failed to write token snapshot cache",
				"user_id", userID, "error", err)
		}
	}
	s.local.Put(userID, bundle)

	return &flightResult{bundle: bundle, refreshed: didRefresh}, nil
}

// refreshInPlace exchanges the stored refresh token and updates the record.
// On provider failure nothing is written: the old record stays intact for a
// later retry.
func (s *Service) refreshInPlace(ctx context.Context, cred *credential.Credential, now time.Time) error {
	refreshToken, err := s.codec.Decrypt(cred.EncryptedRefreshToken)
	if err != nil {
		return fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	result, err := s.provider.Refresh(ctx, refreshToken)
	if err != nil {
		return err
	}

	encAccess, err := s.codec.Encrypt(result.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	newRefresh := result.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}
	encRefresh, err := s.codec.Encrypt(newRefresh)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	cred.EncryptedAccessToken = encAccess
	cred.EncryptedRefreshToken = encRefresh
	cred.TokenExpiresAt = result.ExpiresAt.UTC()
	cred.ConnectedAt = now

	if err := s.repo.Upsert(ctx, cred); err != nil {
		return err
	}

	s.logger.Infow("tracker token refreshed",
		"user_id", cred.UserID, "expires_at", cred.TokenExpiresAt)
	return nil
}
