package ports

import (
	"context"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
)

// QuestionFinder is the read side the validator needs for name lookups.
type QuestionFinder interface {
	FindOne(ctx context.Context, collection, name string) (domain.Question, error)
}

// QuestionStore is a document collection keyed by question name. Every mutation is
// recorded in the audit trail and outbox within the same write.
type QuestionStore interface {
	QuestionFinder
	InsertOne(ctx context.Context, collection string, q domain.Question, meta domain.MutationMetadata) (domain.Question, error)
	InsertMany(ctx context.Context, collection string, qs []domain.Question, meta domain.MutationMetadata) ([]domain.Question, error)
	ReplaceOne(ctx context.Context, collection string, q domain.Question, meta domain.MutationMetadata) (domain.Question, error)
	DeleteOne(ctx context.Context, collection, name string, meta domain.MutationMetadata) (bool, error)
	UpdateFields(ctx context.Context, collection, name string, fields map[string]any, meta domain.MutationMetadata) (bool, error)
	List(ctx context.Context, collection string, filter domain.ListFilter) ([]domain.Question, error)
}
