package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"liaison/internal/domain/credential"
	"liaison/internal/infrastructure/persistence/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.CredentialModel{}))
	return db
}

func testCredential(userID string, expiresAt time.Time) *credential.Credential {
	return &credential.Credential{
		UserID:                userID,
		AccountID:             "acc-" + userID,
		DisplayName:           "User " + userID,
		EncryptedAccessToken:  "enc-access",
		EncryptedRefreshToken: "enc-refresh",
		TokenExpiresAt:        expiresAt,
		CloudID:               "cloud-1",
		ConnectedAt:           time.Now().UTC(),
	}
}

func TestCredentialRepository_GetAbsent(t *testing.T) {
	repo := NewCredentialRepository(setupTestDB(t))

	cred, err := repo.GetByUserID(context.Background(), "U_MISSING")
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestCredentialRepository_UpsertAndGet(t *testing.T) {
	repo := NewCredentialRepository(setupTestDB(t))
	ctx := context.Background()
	expiresAt := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	require.NoError(t, repo.Upsert(ctx, testCredential("U1", expiresAt)))

	got, err := repo.GetByUserID(ctx, "U1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "acc-U1", got.AccountID)
	assert.Equal(t, "enc-access", got.EncryptedAccessToken)
	assert.WithinDuration(t, expiresAt, got.TokenExpiresAt, time.Second)
}

func TestCredentialRepository_UpsertReplacesInPlace(t *testing.T) {
	repo := NewCredentialRepository(setupTestDB(t))
	ctx := context.Background()

	first := testCredential("U1", time.Now().UTC().Add(time.Hour))
	require.NoError(t, repo.Upsert(ctx, first))

	second := testCredential("U1", time.Now().UTC().Add(2*time.Hour))
	second.EncryptedAccessToken = "enc-access-v2"
	require.NoError(t, repo.Upsert(ctx, second))

	got, err := repo.GetByUserID(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "enc-access-v2", got.EncryptedAccessToken)

	var count int64
	repo.(*CredentialRepository).db.Model(&models.CredentialModel{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCredentialRepository_ListExpiringBefore(t *testing.T) {
	repo := NewCredentialRepository(setupTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Upsert(ctx, testCredential("U_SOON", now.Add(2*time.Minute))))
	require.NoError(t, repo.Upsert(ctx, testCredential("U_LATER", now.Add(2*time.Hour))))

	expiring, err := repo.ListExpiringBefore(ctx, now.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, "U_SOON", expiring[0].UserID)
}

func TestCredentialRepository_DeleteAll(t *testing.T) {
	repo := NewCredentialRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, testCredential("U1", time.Now().UTC().Add(time.Hour))))
	require.NoError(t, repo.Upsert(ctx, testCredential("U2", time.Now().UTC().Add(time.Hour))))

	require.NoError(t, repo.DeleteAll(ctx))

	cred, err := repo.GetByUserID(ctx, "U1")
	require.NoError(t, err)
	assert.Nil(t, cred)
}
