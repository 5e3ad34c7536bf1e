package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
	"github.com/atvirokodosprendimai/qbank/internal/core/ports"
)

// lastUsedResolution bounds how often a key's last_used_at is rewritten.
const lastUsedResolution = time.Minute

type AuthService struct {
	repo ports.APIKeyRepository
	now  func() time.Time
}

func NewAuthService(repo ports.APIKeyRepository) *AuthService {
	return &AuthService{repo: repo, now: time.Now}
}

// Authenticate resolves token to a live key. Unknown, revoked and empty tokens all
// return domain.ErrUnauthorized.
func (s *AuthService) Authenticate(ctx context.Context, token string) (domain.APIKey, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.APIKey{}, domain.ErrUnauthorized
	}

	key, err := s.repo.FindByTokenHash(ctx, HashToken(token))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.APIKey{}, domain.ErrUnauthorized
	case err != nil:
		return domain.APIKey{}, err
	case key.Revoked():
		return domain.APIKey{}, domain.ErrUnauthorized
	}

	now := s.now().UTC()
	if key.LastUsedAt == nil || now.Sub(*key.LastUsedAt) >= lastUsedResolution {
		// Usage tracking never blocks a request.
		if err := s.repo.Touch(ctx, key.TokenHash, now); err == nil {
			key.LastUsedAt = &now
		}
	}
	return key, nil
}

// Register stores the hash of token under name, so the HTTP API accepts it. A
// revoked token registered again becomes live.
func (s *AuthService) Register(ctx context.Context, name, token string) error {
	name = strings.TrimSpace(name)
	token = strings.TrimSpace(token)
	if name == "" || token == "" {
		return fmt.Errorf("%w: api key name and token are required", domain.ErrInvalidInput)
	}
	return s.repo.Upsert(ctx, domain.APIKey{
		Name:      name,
		TokenHash: HashToken(token),
		CreatedAt: s.now().UTC(),
	})
}

// Revoke disables every key registered under name.
func (s *AuthService) Revoke(ctx context.Context, name string) error {
	revoked, err := s.repo.Revoke(ctx, strings.TrimSpace(name), s.now())
	if err != nil {
		return err
	}
	if revoked == 0 {
		return fmt.Errorf("api key %q: %w", name, domain.ErrNotFound)
	}
	return nil
}

func (s *AuthService) List(ctx context.Context) ([]domain.APIKey, error) {
	return s.repo.List(ctx)
}

func HashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}
