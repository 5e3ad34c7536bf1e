package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
	"github.com/atvirokodosprendimai/qbank/internal/core/ports"
	"github.com/atvirokodosprendimai/qbank/internal/core/validation"
)

const historyTimeFormat = "2006-01-02 15:04:05"

var placeholderPattern = regexp.MustCompile(`\[\[.+?\]\]`)

type InsertOptions struct {
	// Overwrite replaces an existing question with the same name and skips the
	// uniqueness check.
	Overwrite bool
}

type EditOptions struct {
	History  bool
	Validate bool
}

type QuestionService struct {
	store     ports.QuestionStore
	validator *validation.Validator
	log       zerolog.Logger
	now       func() time.Time

	validatedTotal atomic.Int64
	rejectedTotal  atomic.Int64
	insertedTotal  atomic.Int64
	removedTotal   atomic.Int64
	archivedTotal  atomic.Int64
}

type QuestionServiceMetrics struct {
	ValidatedTotal int64
	RejectedTotal  int64
	InsertedTotal  int64
	RemovedTotal   int64
	ArchivedTotal  int64
}

func NewQuestionService(store ports.QuestionStore, validator *validation.Validator, log zerolog.Logger) *QuestionService {
	return &QuestionService{store: store, validator: validator, log: log, now: time.Now}
}

func (s *QuestionService) Validate(ctx context.Context, q domain.Question, ignoreDuplicates bool) (domain.Report, error) {
	return s.validateWith(ctx, s.validator, q, ignoreDuplicates)
}

func (s *QuestionService) validateWith(ctx context.Context, v *validation.Validator, q domain.Question, ignoreDuplicates bool) (domain.Report, error) {
	report, err := v.Validate(ctx, q, ignoreDuplicates)
	if err != nil {
		return nil, err
	}
	s.validatedTotal.Add(1)
	if len(report) > 0 {
		s.rejectedTotal.Add(1)
	}
	return report, nil
}

// Insert validates q and stores it. A failed validation returns *domain.ErrInvalidQuestion.
func (s *QuestionService) Insert(ctx context.Context, q domain.Question, opts InsertOptions, meta domain.MutationMetadata) (domain.Question, error) {
	report, err := s.Validate(ctx, q, opts.Overwrite)
	if err != nil {
		return nil, err
	}
	if len(report) > 0 {
		return nil, &domain.ErrInvalidQuestion{Report: report}
	}

	doc := q.WithoutID()
	doc.StripEmptyOptional()

	var saved domain.Question
	if opts.Overwrite {
		saved, err = s.store.ReplaceOne(ctx, domain.CollectionQuestions, doc, meta)
	} else {
		saved, err = s.store.InsertOne(ctx, domain.CollectionQuestions, doc, meta)
	}
	if err != nil {
		return nil, fmt.Errorf("insert question %q: %w", doc.Name(), err)
	}
	s.insertedTotal.Add(1)
	s.log.Debug().Str("name", doc.Name()).Bool("overwrite", opts.Overwrite).Msg("question inserted")
	return saved, nil
}

func (s *QuestionService) Get(ctx context.Context, collection, name string) (domain.Question, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, domain.ErrInvalidName
	}
	return s.store.FindOne(ctx, collection, name)
}

func (s *QuestionService) List(ctx context.Context, collection string, filter domain.ListFilter) ([]domain.Question, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}
	return s.store.List(ctx, collection, filter)
}

// Update replaces fields of the named question. It reports false when no question
// matched. With History set, the previous and new values are merged into the
// question's history under the current timestamp.
func (s *QuestionService) Update(ctx context.Context, name string, fields map[string]any, opts EditOptions, meta domain.MutationMetadata) (bool, error) {
	if len(fields) == 0 {
		return false, fmt.Errorf("%w: no fields to update", domain.ErrInvalidInput)
	}
	if _, ok := fields[domain.FieldID]; ok {
		return false, fmt.Errorf("%w: %s is assigned by the store", domain.ErrInvalidField, domain.FieldID)
	}

	current, err := s.store.FindOne(ctx, domain.CollectionQuestions, name)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load question %q: %w", name, err)
	}

	updates := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	if opts.History {
		updates[domain.FieldHistory] = s.appendHistory(current, fields)
	}

	if opts.Validate {
		merged := current.Clone()
		for k, v := range updates {
			merged[k] = v
		}
		report, err := s.Validate(ctx, merged, merged.Name() == name)
		if err != nil {
			return false, err
		}
		if len(report) > 0 {
			return false, &domain.ErrInvalidQuestion{Report: report}
		}
	}

	matched, err := s.store.UpdateFields(ctx, domain.CollectionQuestions, name, updates, meta)
	if err != nil {
		return false, fmt.Errorf("update question %q: %w", name, err)
	}
	return matched, nil
}

func (s *QuestionService) appendHistory(current domain.Question, fields map[string]any) map[string]any {
	history := map[string]any{}
	if existing, ok := current[domain.FieldHistory].(map[string]any); ok {
		for k, v := range existing {
			history[k] = v
		}
	}

	stamp := s.now().Format(historyTimeFormat)
	entry := map[string]any{}
	if existing, ok := history[stamp].(map[string]any); ok {
		for k, v := range existing {
			entry[k] = v
		}
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if old, ok := current[k]; ok {
			entry[k+"_old"] = old
		}
		entry[k+"_new"] = fields[k]
	}
	history[stamp] = entry
	return history
}

// Remove deletes the named question, copying it into the archive first when asked.
// It reports false when nothing matched.
func (s *QuestionService) Remove(ctx context.Context, name string, archive bool, meta domain.MutationMetadata) (bool, error) {
	if archive {
		q, err := s.store.FindOne(ctx, domain.CollectionQuestions, name)
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("load question %q: %w", name, err)
		}
		if _, err := s.store.InsertOne(ctx, domain.CollectionArchive, q.WithoutID(), meta); err != nil {
			return false, fmt.Errorf("archive question %q: %w", name, err)
		}
		s.archivedTotal.Add(1)
	}

	deleted, err := s.store.DeleteOne(ctx, domain.CollectionQuestions, name, meta)
	if err != nil {
		return false, fmt.Errorf("delete question %q: %w", name, err)
	}
	if deleted {
		s.removedTotal.Add(1)
	}
	return deleted, nil
}

// Restore moves the newest archived copy of name back into the questions collection.
func (s *QuestionService) Restore(ctx context.Context, name string, meta domain.MutationMetadata) (domain.Question, error) {
	archived, err := s.store.FindOne(ctx, domain.CollectionArchive, name)
	if err != nil {
		return nil, fmt.Errorf("load archived question %q: %w", name, err)
	}
	saved, err := s.Insert(ctx, archived, InsertOptions{}, meta)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.DeleteOne(ctx, domain.CollectionArchive, name, meta); err != nil {
		return nil, fmt.Errorf("drop archived question %q: %w", name, err)
	}
	return saved, nil
}

// DeriveChild copies a parent question into a new child question. Each [[...]]
// placeholder in the parent text is replaced by the next value of fills.
func (s *QuestionService) DeriveChild(ctx context.Context, parentName string, fills []string, meta domain.MutationMetadata) (domain.Question, error) {
	if !strings.HasSuffix(parentName, "00") {
		parentName += "00"
	}
	parent, err := s.store.FindOne(ctx, domain.CollectionQuestions, parentName)
	if err != nil {
		return nil, fmt.Errorf("load parent %q: %w", parentName, err)
	}
	if parent.FamilyType() != domain.FamilyParent {
		return nil, fmt.Errorf("%w: %q is not a parent question", domain.ErrInvalidInput, parentName)
	}

	child := parent.WithoutID()
	delete(child, domain.FieldHistory)
	child[domain.FieldFamilyType] = domain.FamilyChild
	child[domain.FieldInExams] = map[string]any{}

	text, _ := child[domain.FieldQuestion].(string)
	if n := len(placeholderPattern.FindAllStringIndex(text, -1)); n != len(fills) {
		return nil, fmt.Errorf("%w: parent has %d placeholders, got %d values", domain.ErrInvalidInput, n, len(fills))
	}
	i := 0
	child[domain.FieldQuestion] = placeholderPattern.ReplaceAllStringFunc(text, func(string) string {
		fill := fills[i]
		i++
		return fill
	})

	prefix := parentName[:len(parentName)-2]
	last, err := s.highestSequence(ctx, prefix, 2)
	if err != nil {
		return nil, err
	}
	if last >= 99 {
		return nil, fmt.Errorf("%w: no child sequence left under %q", domain.ErrInvalidInput, parentName)
	}
	child[domain.FieldName] = fmt.Sprintf("%s%02d", prefix, last+1)

	return s.Insert(ctx, child, InsertOptions{}, meta)
}

// NextName proposes the name of the next parent or single question in category.
func (s *QuestionService) NextName(ctx context.Context, category, family string) (string, error) {
	var suffix string
	switch family {
	case domain.FamilyParent:
		suffix = "00"
	case domain.FamilySingle:
		suffix = "99"
	default:
		return "", fmt.Errorf("%w: names are proposed for parent and single questions only", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(category) == "" {
		return "", fmt.Errorf("%w: category is required", domain.ErrInvalidInput)
	}

	last, err := s.highestSequence(ctx, category, 4)
	if err != nil {
		return "", err
	}
	if last >= 99 {
		return "", fmt.Errorf("%w: no sequence left in category %q", domain.ErrInvalidInput, category)
	}
	return fmt.Sprintf("%s%02d%s", category, last+1, suffix), nil
}

// highestSequence scans names of the form <prefix><digits> where digits has the given
// width and returns the largest leading two-digit sequence found.
func (s *QuestionService) highestSequence(ctx context.Context, prefix string, width int) (int, error) {
	highest := 0
	filter := domain.ListFilter{Prefix: prefix, Limit: 1000}
	for {
		page, err := s.store.List(ctx, domain.CollectionQuestions, filter)
		if err != nil {
			return 0, fmt.Errorf("list questions under %q: %w", prefix, err)
		}
		for _, q := range page {
			rest := strings.TrimPrefix(q.Name(), prefix)
			if len(rest) != width || !allDigits(rest) {
				continue
			}
			if width == 2 && rest == "00" {
				continue
			}
			seq, _ := strconv.Atoi(rest[:2])
			if seq > highest {
				highest = seq
			}
		}
		if len(page) < filter.Limit {
			return highest, nil
		}
		last := page[len(page)-1]
		filter.After = last.Name()
		filter.AfterID, _ = last[domain.FieldID].(string)
	}
}

func (s *QuestionService) Metrics() QuestionServiceMetrics {
	return QuestionServiceMetrics{
		ValidatedTotal: s.validatedTotal.Load(),
		RejectedTotal:  s.rejectedTotal.Load(),
		InsertedTotal:  s.insertedTotal.Load(),
		RemovedTotal:   s.removedTotal.Load(),
		ArchivedTotal:  s.archivedTotal.Load(),
	}
}

func validateCollection(collection string) error {
	switch collection {
	case domain.CollectionQuestions, domain.CollectionArchive:
		return nil
	}
	return fmt.Errorf("%w: unknown collection %q", domain.ErrInvalidInput, collection)
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
