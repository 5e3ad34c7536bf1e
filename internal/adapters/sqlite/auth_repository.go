package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atvirokodosprendimai/qbank/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
)

type apiKeyModel struct {
	TokenHash  string     `gorm:"column:token_hash;primaryKey"`
	Name       string     `gorm:"column:name;not null"`
	CreatedAt  time.Time  `gorm:"column:created_at;not null"`
	LastUsedAt *time.Time `gorm:"column:last_used_at"`
	RevokedAt  *time.Time `gorm:"column:revoked_at"`
}

func (apiKeyModel) TableName() string {
	return "api_keys"
}

func (m apiKeyModel) toDomain() domain.APIKey {
	return domain.APIKey{
		Name:       m.Name,
		TokenHash:  m.TokenHash,
		CreatedAt:  m.CreatedAt,
		LastUsedAt: m.LastUsedAt,
		RevokedAt:  m.RevokedAt,
	}
}

// APIKeyRepository keeps hashed HTTP API tokens in the api_keys table.
type APIKeyRepository struct {
	db *gormsqlite.DB
}

func NewAPIKeyRepository(db *gormsqlite.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) FindByTokenHash(ctx context.Context, tokenHash string) (domain.APIKey, error) {
	var model apiKeyModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("token_hash = ?", tokenHash).First(&model).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.APIKey{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.APIKey{}, fmt.Errorf("find api key: %w", err)
	}
	return model.toDomain(), nil
}

func (r *APIKeyRepository) Upsert(ctx context.Context, key domain.APIKey) error {
	model := apiKeyModel{
		TokenHash: key.TokenHash,
		Name:      key.Name,
		CreatedAt: key.CreatedAt.UTC(),
		RevokedAt: key.RevokedAt,
	}
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "revoked_at"}),
		}).Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("upsert api key %q: %w", key.Name, err)
	}
	return nil
}

func (r *APIKeyRepository) List(ctx context.Context) ([]domain.APIKey, error) {
	var models []apiKeyModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Order("name ASC").Order("created_at ASC").Find(&models).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	out := make([]domain.APIKey, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (r *APIKeyRepository) Revoke(ctx context.Context, name string, at time.Time) (int64, error) {
	var revoked int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Model(&apiKeyModel{}).
			Where("name = ? AND revoked_at IS NULL", name).
			Update("revoked_at", at.UTC())
		revoked = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("revoke api key %q: %w", name, err)
	}
	return revoked, nil
}

func (r *APIKeyRepository) Touch(ctx context.Context, tokenHash string, at time.Time) error {
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&apiKeyModel{}).
			Where("token_hash = ?", tokenHash).
			Update("last_used_at", at.UTC()).Error
	})
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}
