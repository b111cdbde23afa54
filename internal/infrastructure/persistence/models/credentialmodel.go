package models

import "time"

// CredentialModel is the GORM model for the tracker_credentials table.
// Token columns hold ciphertext only.
type CredentialModel struct {
	UserID                string     `gorm:"column:user_id;type:varchar(64);primaryKey"`
	AccountID             string     `gorm:"column:account_id;type:varchar(128);not null"`
	DisplayName           string     `gorm:"column:display_name;type:varchar(255);not null"`
	EncryptedAccessToken  string     `gorm:"column:encrypted_access_token;type:text;not null"`
	EncryptedRefreshToken string     `gorm:"column:encrypted_refresh_token;type:text"`
	TokenExpiresAt        *time.Time `gorm:"column:token_expires_at;index"`
	CloudID               string     `gorm:"column:cloud_id;type:varchar(128);not null"`
	ConnectedAt           time.Time  `gorm:"column:connected_at"`
	CreatedAt             time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the table name for GORM
func (CredentialModel) TableName() string {
	return "tracker_credentials"
}
