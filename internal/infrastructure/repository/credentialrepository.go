package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"liaison/internal/domain/credential"
	"liaison/internal/infrastructure/persistence/mappers"
	"liaison/internal/infrastructure/persistence/models"
)

// CredentialRepository implements credential.Repository using GORM with
// Model/Mapper separation.
type CredentialRepository struct {
	db     *gorm.DB
	mapper mappers.CredentialMapper
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(db *gorm.DB) credential.Repository {
	return &CredentialRepository{
		db:     db,
		mapper: mappers.NewCredentialMapper(),
	}
}

func (r *CredentialRepository) GetByUserID(ctx context.Context, userID string) (*credential.Credential, error) {
	var model models.CredentialModel
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return r.mapper.ToDomain(&model), nil
}

func (r *CredentialRepository) Upsert(ctx context.Context, cred *credential.Credential) error {
	model := r.mapper.ToModel(cred)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"account_id", "display_name",
			"encrypted_access_token", "encrypted_refresh_token",
			"token_expires_at", "cloud_id", "connected_at", "updated_at",
		}),
	}).Create(model).Error
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

func (r *CredentialRepository) ListExpiringBefore(ctx context.Context, t time.Time) ([]*credential.Credential, error) {
	var credModels []*models.CredentialModel
	err := r.db.WithContext(ctx).
		Where("token_expires_at IS NOT NULL AND token_expires_at < ?", t).
		Find(&credModels).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring credentials: %w", err)
	}
	return r.mapper.ToDomainList(credModels), nil
}

func (r *CredentialRepository) DeleteAll(ctx context.Context) error {
	err := r.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&models.CredentialModel{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}
