package migration

import (
	"liaison/internal/infrastructure/persistence/models"
)

func AutoMigrateModels() []interface{} {
	return []interface{}{
		&models.CredentialModel{},
	}
}
