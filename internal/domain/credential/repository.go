package credential

import (
	"context"
	"time"
)

// Repository is the durable store for credential records. It is the only
// component allowed to delete them.
type Repository interface {
	// GetByUserID returns the record for the user, or (nil, nil) when absent.
	GetByUserID(ctx context.Context, userID string) (*Credential, error)

	// Upsert creates the record or updates it in place.
	Upsert(ctx context.Context, cred *Credential) error

	// ListExpiringBefore returns records whose token expires before t.
	ListExpiringBefore(ctx context.Context, t time.Time) ([]*Credential, error)

	// DeleteAll removes every credential record. Administrative reset only.
	DeleteAll(ctx context.Context) error
}
