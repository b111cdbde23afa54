package mappers

import (
	"time"

	"liaison/internal/domain/credential"
	"liaison/internal/infrastructure/persistence/models"
)

// CredentialMapper handles conversion between the credential domain entity
// and its GORM model.
type CredentialMapper interface {
	ToModel(cred *credential.Credential) *models.CredentialModel
	ToDomain(model *models.CredentialModel) *credential.Credential
	ToDomainList(modelList []*models.CredentialModel) []*credential.Credential
}

type credentialMapperImpl struct{}

// NewCredentialMapper creates a new CredentialMapper.
func NewCredentialMapper() CredentialMapper {
	return &credentialMapperImpl{}
}

func (m *credentialMapperImpl) ToModel(cred *credential.Credential) *models.CredentialModel {
	var expiresAt *time.Time
	if !cred.TokenExpiresAt.IsZero() {
		t := cred.TokenExpiresAt
		expiresAt = &t
	}
	return &models.CredentialModel{
		UserID:                cred.UserID,
		AccountID:             cred.AccountID,
		DisplayName:           cred.DisplayName,
		EncryptedAccessToken:  cred.EncryptedAccessToken,
		EncryptedRefreshToken: cred.EncryptedRefreshToken,
		TokenExpiresAt:        expiresAt,
		CloudID:               cred.CloudID,
		ConnectedAt:           cred.ConnectedAt,
	}
}

func (m *credentialMapperImpl) ToDomain(model *models.CredentialModel) *credential.Credential {
	var expiresAt time.Time
	if model.TokenExpiresAt != nil {
		expiresAt = model.TokenExpiresAt.UTC()
	}
	return &credential.Credential{
		UserID:                model.UserID,
		AccountID:             model.AccountID,
		DisplayName:           model.DisplayName,
		EncryptedAccessToken:  model.EncryptedAccessToken,
		EncryptedRefreshToken: model.EncryptedRefreshToken,
		TokenExpiresAt:        expiresAt,
		CloudID:               model.CloudID,
		ConnectedAt:           model.ConnectedAt.UTC(),
	}
}

func (m *credentialMapperImpl) ToDomainList(modelList []*models.CredentialModel) []*credential.Credential {
	creds := make([]*credential.Credential, 0, len(modelList))
	for _, model := range modelList {
		creds = append(creds, m.ToDomain(model))
	}
	return creds
}
