package credential

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liaison/internal/domain/credential"
	"liaison/internal/infrastructure/cache"
	"liaison/internal/infrastructure/secret"
	apperrors "liaison/internal/shared/errors"
	"liaison/internal/shared/logger"
)

const testMasterSecret = "0123456789abcdef0123456789abcdef"

type stubRepo struct {
	mu          sync.Mutex
	records     map[string]*credential.Credential
	getCalls    int
	upsertCalls int
}

func newStubRepo() *stubRepo {
	return &stubRepo{records: make(map[string]*credential.Credential)}
}

func (r *stubRepo) GetByUserID(_ context.Context, userID string) (*credential.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	cred, ok := r.records[userID]
	if !ok {
		return nil, nil
	}
	copied := *cred
	return &copied, nil
}

func (r *stubRepo) Upsert(_ context.Context, cred *credential.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertCalls++
	copied := *cred
	r.records[cred.UserID] = &copied
	return nil
}

func (r *stubRepo) ListExpiringBefore(_ context.Context, t time.Time) ([]*credential.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*credential.Credential
	for _, cred := range r.records {
		if cred.TokenExpiresAt.Before(t) {
			copied := *cred
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *stubRepo) DeleteAll(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]*credential.Credential)
	return nil
}

func (r *stubRepo) record(userID string) *credential.Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[userID]
}

type stubProvider struct {
	calls  atomic.Int64
	delay  time.Duration
	result *RefreshResult
	err    error
}

func (p *stubProvider) Refresh(_ context.Context, _ string) (*RefreshResult, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.err != nil {
		return nil, p.err
	}
	res := *p.result
	return &res, nil
}

type serviceFixture struct {
	svc      *Service
	repo     *stubRepo
	provider *stubProvider
	codec    *secret.TokenCodec
	local    *cache.LocalTokenCache
	mr       *miniredis.Miniredis
	rdb      *redis.Client
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	codec, err := secret.NewTokenCodec(testMasterSecret)
	require.NoError(t, err)

	log := logger.NewLoggerWithSlog(slog.New(slog.NewTextHandler(io.Discard, nil)))
	repo := newStubRepo()
	provider := &stubProvider{}
	local := cache.NewLocalTokenCache()
	snapshots := cache.NewTokenSnapshotCache(rdb, log)

	return &serviceFixture{
		svc:      NewService(repo, codec, snapshots, local, provider, log),
		repo:     repo,
		provider: provider,
		codec:    codec,
		local:    local,
		mr:       mr,
		rdb:      rdb,
	}
}

// seedRecord stores a durable credential whose token expires at the given
// offset from now.
func (f *serviceFixture) seedRecord(t *testing.T, userID string, expiresIn time.Duration) {
	t.Helper()

	encAccess, err := f.codec.Encrypt("access-" + userID)
	require.NoError(t, err)
	encRefresh, err := f.codec.Encrypt("refresh-" + userID)
	require.NoError(t, err)

	now := time.Now().UTC()
	cred, err := credential.NewCredential(
		userID, "acct-"+userID, "User "+userID,
		encAccess, encRefresh, now.Add(expiresIn), "cloud-1", now,
	)
	require.NoError(t, err)
	require.NoError(t, f.repo.Upsert(context.Background(), cred))
	f.repo.mu.Lock()
	f.repo.upsertCalls = 0
	f.repo.mu.Unlock()
}

func TestGetValidToken_NotConnected(t *testing.T) {
	f := newServiceFixture(t)

	bundle, err := f.svc.GetValidToken(context.Background(), "U1")

	assert.Nil(t, bundle)
	assert.True(t, apperrors.IsNotConnected(err))
}

func TestGetValidToken_ServesFromDurableStoreAndPopulatesCaches(t *testing.T) {
	f := newServiceFixture(t)
	f.seedRecord(t, "U1", time.Hour)

	bundle, err := f.svc.GetValidToken(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, "access-U1", bundle.AccessToken)
	assert.Equal(t, "acct-U1", bundle.AccountID)
	assert.Equal(t, "cloud-1", bundle.CloudID)
	assert.Equal(t, int64(0), f.provider.calls.Load())

	// Shared fast cache primed with TTL tied to the token lifetime.
	key := "liaison:credential:U1"
	require.True(t, f.mr.Exists(key))
	ttl := f.mr.TTL(key)
	assert.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 5)

	// Second lookup is served from process memory.
	before := f.repo.getCalls
	again, err := f.svc.GetValidToken(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, bundle.AccessToken, again.AccessToken)
	assert.Equal(t, before, f.repo.getCalls)
}

func TestGetValidToken_SnapshotHitSkipsDurableStore(t *testing.T) {
	f := newServiceFixture(t)

	snapshots := cache.NewTokenSnapshotCache(f.rdb,
		logger.NewLoggerWithSlog(slog.New(slog.NewTextHandler(io.Discard, nil))))
	bundle := &credential.TokenBundle{
		AccountID:   "acct-U2",
		AccessToken: "cached-access",
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, snapshots.Set(context.Background(), "U2", bundle, time.Hour))

	got, err := f.svc.GetValidToken(context.Background(), "U2")
	require.NoError(t, err)
	assert.Equal(t, "cached-access", got.AccessToken)
	assert.Equal(t, 0, f.repo.getCalls)
}

func TestGetValidToken_RefreshesNearExpiry(t *testing.T) {
	f := newServiceFixture(t)
	f.seedRecord(t, "U1", time.Minute)
	f.provider.result = &RefreshResult{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
	}

	bundle, err := f.svc.GetValidToken(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", bundle.AccessToken)
	assert.Equal(t, "new-refresh", bundle.RefreshToken)
	assert.Equal(t, int64(1), f.provider.calls.Load())

	// Durable record rewritten with the new pair and the new expiry.
	rec := f.repo.record("U1")
	require.NotNil(t, rec)
	access, err := f.codec.Decrypt(rec.EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "new-access", access)
	assert.True(t, rec.TokenExpiresAt.After(time.Now().Add(30*time.Minute)))
}

func TestGetValidToken_NoRefreshFarFromExpiry(t *testing.T) {
	f := newServiceFixture(t)
	f.seedRecord(t, "U1", 10*time.Minute)

	_, err := f.svc.GetValidToken(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.provider.calls.Load())
	assert.Equal(t, 0, f.repo.upsertCalls)
}

func TestGetValidToken_KeepsOldRefreshTokenWhenProviderOmitsOne(t *testing.T) {
	f := newServiceFixture(t)
	f.seedRecord(t, "U1", time.Minute)
	f.provider.result = &RefreshResult{
		AccessToken: "new-access",
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	}

	bundle, err := f.svc.GetValidToken(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-U1", bundle.RefreshToken)
}

func TestGetValidToken_RefreshFailurePreservesRecord(t *testing.T) {
	f := newServiceFixture(t)
	f.seedRecord(t, "U1", time.Minute)
	before := f.repo.record("U1")
	f.provider.err = apperrors.NewRefreshFailedError(401, errors.New("invalid_grant"))

	bundle, err := f.svc.GetValidToken(context.Background(), "U1")

	assert.Nil(t, bundle)
	assert.True(t, apperrors.IsRefreshFailed(err))
	assert.Equal(t, 0, f.repo.upsertCalls)

	after := f.repo.record("U1")
	require.NotNil(t, after)
	assert.Equal(t, before.EncryptedAccessToken, after.EncryptedAccessToken)
	assert.Equal(t, before.EncryptedRefreshToken, after.EncryptedRefreshToken)
	assert.Equal(t, before.TokenExpiresAt, after.TokenExpiresAt)
}

func TestGetValidToken_NearExpirySnapshotIsNotTrusted(t *testing.T) {
	f := newServiceFixture(t)
	f.seedRecord(t, "U1", 2*time.Minute)
	f.provider.result = &RefreshResult{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
	}

	// Snapshot exists but expires inside the refresh window; the lookup
	// must fall through and refresh instead of serving it until it dies.
	stale := &credential.TokenBundle{
		AccessToken: "stale-access",
		ExpiresAt:   time.Now().UTC().Add(2 * time.Minute),
	}
	snapshots := cache.NewTokenSnapshotCache(f.rdb,
		logger.NewLoggerWithSlog(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, snapshots.Set(context.Background(), "U1", stale, 2*time.Minute))

	bundle, err := f.svc.GetValidToken(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", bundle.AccessToken)
	assert.Equal(t, int64(1), f.provider.calls.Load())
}

func TestGetValidToken_ConcurrentLookupsRefreshOnce(t *testing.T) {
	f := newServiceFixture(t)
	f.seedRecord(t, "U1", time.Minute)
	f.provider.delay = 20 * time.Millisecond
	f.provider.result = &RefreshResult{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
	}

	const workers = 10
	results := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bundle, err := f.svc.GetValidToken(context.Background(), "U1")
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = bundle.AccessToken
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "new-access", results[i])
	}
	assert.Equal(t, int64(1), f.provider.calls.Load())
}

func TestSaveToken_PersistsAndPrimesSnapshot(t *testing.T) {
	f := newServiceFixture(t)

	err := f.svc.SaveToken(context.Background(), SaveTokenParams{
		UserID:       "U1",
		AccessToken:  "fresh-access",
		RefreshToken: "fresh-refresh",
		ExpiresIn:    3600,
		CloudID:      "cloud-1",
		AccountID:    "acct-1",
		DisplayName:  "Pat",
	})
	require.NoError(t, err)

	rec := f.repo.record("U1")
	require.NotNil(t, rec)
	assert.NotEqual(t, "fresh-access", rec.EncryptedAccessToken)
	access, err := f.codec.Decrypt(rec.EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", access)

	key := "liaison:credential:U1"
	require.True(t, f.mr.Exists(key))
	assert.InDelta(t, 3600, f.mr.TTL(key).Seconds(), 2)

	// A lookup right after is satisfied without touching the provider.
	bundle, err := f.svc.GetValidToken(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", bundle.AccessToken)
	assert.Equal(t, int64(0), f.provider.calls.Load())
}

func TestResetAll_WipesEveryTier(t *testing.T) {
	f := newServiceFixture(t)
	f.seedRecord(t, "U1", time.Hour)
	f.seedRecord(t, "U2", time.Hour)

	// Warm both caches.
	_, err := f.svc.GetValidToken(context.Background(), "U1")
	require.NoError(t, err)
	require.True(t, f.mr.Exists("liaison:credential:U1"))
	require.Equal(t, 1, f.local.Len())

	require.NoError(t, f.svc.ResetAll(context.Background()))

	assert.False(t, f.mr.Exists("liaison:credential:U1"))
	assert.Equal(t, 0, f.local.Len())

	_, err = f.svc.GetValidToken(context.Background(), "U1")
	assert.True(t, apperrors.IsNotConnected(err))
	_, err = f.svc.GetValidToken(context.Background(), "U2")
	assert.True(t, apperrors.IsNotConnected(err))
}

func TestRefreshExpiring_RefreshesOnlyExpiringRecords(t *testing.T) {
	f := newServiceFixture(t)
	f.seedRecord(t, "U1", time.Minute)
	f.seedRecord(t, "U2", 2*time.Hour)
	f.provider.result = &RefreshResult{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
	}

	refreshed, err := f.svc.RefreshExpiring(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, refreshed)
	assert.Equal(t, int64(1), f.provider.calls.Load())

	rec := f.repo.record("U1")
	access, err := f.codec.Decrypt(rec.EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "new-access", access)
}

func TestRefreshExpiring_UsesTheSweepWindowNotTheLookupThreshold(t *testing.T) {
	f := newServiceFixture(t)
	// 8 minutes out: beyond the 3-minute interactive margin but inside
	// the sweep window, so the sweep must still exchange it.
	f.seedRecord(t, "U1", 8*time.Minute)
	oldExpiry := f.repo.record("U1").TokenExpiresAt
	f.provider.result = &RefreshResult{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
	}

	refreshed, err := f.svc.RefreshExpiring(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, refreshed)
	assert.Equal(t, int64(1), f.provider.calls.Load())
	assert.True(t, f.repo.record("U1").TokenExpiresAt.After(oldExpiry))

	// A second sweep finds nothing left to exchange and says so.
	refreshed, err = f.svc.RefreshExpiring(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, refreshed)
	assert.Equal(t, int64(1), f.provider.calls.Load())
}

func TestRefreshExpiring_SkipsFailuresAndContinues(t *testing.T) {
	f := newServiceFixture(t)
	f.seedRecord(t, "U1", time.Minute)
	f.provider.err = apperrors.NewRefreshFailedError(400, errors.New("invalid_grant"))

	refreshed, err := f.svc.RefreshExpiring(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, refreshed)

	// The broken record is left in place for manual reconnection.
	assert.NotNil(t, f.repo.record("U1"))
}
