package ports

import (
	"context"
	"time"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
)

type APIKeyRepository interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (domain.APIKey, error)
	// Upsert stores key under its hash. An existing key is renamed and reinstated.
	Upsert(ctx context.Context, key domain.APIKey) error
	List(ctx context.Context) ([]domain.APIKey, error)
	// Revoke marks every live key named name as revoked and reports how many were.
	Revoke(ctx context.Context, name string, at time.Time) (int64, error)
	Touch(ctx context.Context, tokenHash string, at time.Time) error
}
