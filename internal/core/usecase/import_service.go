package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
	"github.com/atvirokodosprendimai/qbank/internal/core/ports"
)

const duplicateInBatch = "Name appears more than once in the import"

type ImportOptions struct {
	// AllOrNothing inserts the batch in a single write, and only when every
	// question validates.
	AllOrNothing bool
}

type ImportResult struct {
	Inserted []string
	Rejected []domain.Report
}

func (r ImportResult) OK() bool {
	return len(r.Rejected) == 0
}

func (r ImportResult) Summary() string {
	if r.OK() {
		return "All questions added successfully!"
	}
	var b strings.Builder
	b.WriteString("Some questions could not be added due to errors:")
	for _, report := range r.Rejected {
		b.WriteString("\n")
		b.WriteString(report.QuestionName())
		for _, k := range report.Fields() {
			fmt.Fprintf(&b, "\n  %s: %s", k, report[k])
		}
	}
	return b.String()
}

type ImportService struct {
	questions *QuestionService
	store     ports.QuestionStore
	log       zerolog.Logger

	importedTotal atomic.Int64
	rejectedTotal atomic.Int64
}

type ImportServiceMetrics struct {
	ImportedTotal int64
	RejectedTotal int64
}

func NewImportService(questions *QuestionService, store ports.QuestionStore, log zerolog.Logger) *ImportService {
	return &ImportService{questions: questions, store: store, log: log}
}

// Import validates and inserts qs. Rejected questions are reported, not returned as
// errors; a non-nil error means the store itself failed.
func (s *ImportService) Import(ctx context.Context, qs []domain.Question, opts ImportOptions, meta domain.MutationMetadata) (ImportResult, error) {
	var (
		result ImportResult
		err    error
	)
	if opts.AllOrNothing {
		result, err = s.importAtomic(ctx, qs, meta)
	} else {
		result, err = s.importEach(ctx, qs, meta)
	}

	s.importedTotal.Add(int64(len(result.Inserted)))
	s.rejectedTotal.Add(int64(len(result.Rejected)))
	s.log.Info().
		Int("total", len(qs)).
		Int("inserted", len(result.Inserted)).
		Int("rejected", len(result.Rejected)).
		Bool("all_or_nothing", opts.AllOrNothing).
		Msg("import finished")
	return result, err
}

func (s *ImportService) importEach(ctx context.Context, qs []domain.Question, meta domain.MutationMetadata) (ImportResult, error) {
	var result ImportResult
	for _, q := range qs {
		saved, err := s.questions.Insert(ctx, q, InsertOptions{}, meta)
		var invalid *domain.ErrInvalidQuestion
		switch {
		case errors.As(err, &invalid):
			result.Rejected = append(result.Rejected, invalid.Report)
		case err != nil:
			return result, fmt.Errorf("import question %q: %w", q.Name(), err)
		default:
			result.Inserted = append(result.Inserted, saved.Name())
		}
	}
	return result, nil
}

// importAtomic validates the whole batch before writing it. Questions accepted earlier
// in the batch count as stored, so a child may follow its parent in the same file.
func (s *ImportService) importAtomic(ctx context.Context, qs []domain.Question, meta domain.MutationMetadata) (ImportResult, error) {
	var result ImportResult
	seen := make(map[string]bool, len(qs))
	accepted := make(map[string]domain.Question, len(qs))
	batch := s.questions.validator.WithPending(accepted)
	docs := make([]domain.Question, 0, len(qs))
	for _, q := range qs {
		name := q.Name()
		v := batch
		if seen[name] {
			v = s.questions.validator
		}
		report, err := s.questions.validateWith(ctx, v, q, false)
		if err != nil {
			return ImportResult{}, fmt.Errorf("validate question %q: %w", name, err)
		}
		if seen[name] {
			if len(report) == 0 {
				report = domain.Report{}
			}
			if _, ok := report[domain.FieldName]; !ok {
				report[domain.FieldName] = duplicateInBatch
			}
			report[domain.ReportQuestionKey] = name
		}
		seen[name] = true
		if len(report) > 0 {
			result.Rejected = append(result.Rejected, report)
			continue
		}
		doc := q.WithoutID()
		doc.StripEmptyOptional()
		accepted[name] = doc
		docs = append(docs, doc)
	}
	if len(result.Rejected) > 0 {
		return result, nil
	}

	saved, err := s.store.InsertMany(ctx, domain.CollectionQuestions, docs, meta)
	if err != nil {
		return ImportResult{}, fmt.Errorf("insert questions: %w", err)
	}
	for _, q := range saved {
		result.Inserted = append(result.Inserted, q.Name())
	}
	return result, nil
}

func (s *ImportService) Metrics() ImportServiceMetrics {
	return ImportServiceMetrics{
		ImportedTotal: s.importedTotal.Load(),
		RejectedTotal: s.rejectedTotal.Load(),
	}
}
