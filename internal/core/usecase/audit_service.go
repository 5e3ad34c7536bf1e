package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
	"github.com/atvirokodosprendimai/qbank/internal/core/ports"
)

const (
	defaultAuditPage = 100
	maxAuditPage     = 1000
)

// AuditService pages through the audit trail, newest first.
type AuditService struct {
	repo ports.AuditTrailRepository
}

func NewAuditService(repo ports.AuditTrailRepository) *AuditService {
	return &AuditService{repo: repo}
}

func (s *AuditService) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditTrailEvent, error) {
	filter, err := normalizeAuditFilter(filter)
	if err != nil {
		return nil, err
	}
	return s.repo.List(ctx, filter)
}

func normalizeAuditFilter(f domain.AuditFilter) (domain.AuditFilter, error) {
	if f.Collection != "" {
		if err := validateCollection(f.Collection); err != nil {
			return f, err
		}
	}
	if f.QuestionName != "" {
		f.QuestionName = strings.TrimSpace(f.QuestionName)
		if f.QuestionName == "" {
			return f, domain.ErrInvalidName
		}
	}
	if f.Action != "" && !domain.KnownEventType(f.Action) {
		return f, fmt.Errorf("%w: unknown event type %q", domain.ErrInvalidInput, f.Action)
	}
	if f.AfterID < 0 {
		return f, fmt.Errorf("%w: negative cursor", domain.ErrInvalidInput)
	}
	switch {
	case f.Limit <= 0:
		f.Limit = defaultAuditPage
	case f.Limit > maxAuditPage:
		f.Limit = maxAuditPage
	}
	return f, nil
}
