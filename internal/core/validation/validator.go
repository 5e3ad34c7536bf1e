package validation

import (
	"context"
	"errors"
	"fmt"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
	"github.com/atvirokodosprendimai/qbank/internal/core/ports"
)

const (
	msgUnknownType = "Unknown"
)

// Validator checks raw question documents against the schema registry.
type Validator struct {
	store      ports.QuestionFinder
	categories []string
}

// NewValidator returns a Validator. A nil store disables the checks that need the
// questions collection (name uniqueness and child-parent lookup). An empty category
// list disables the naming scheme check.
func NewValidator(store ports.QuestionFinder, categories []string) *Validator {
	return &Validator{store: store, categories: append([]string(nil), categories...)}
}

// WithPending returns a Validator that also sees the questions in pending, keyed by
// name, as if they were already in the questions collection. pending is read on every
// lookup, so the caller may keep adding to it.
func (v *Validator) WithPending(pending map[string]domain.Question) *Validator {
	if v.store == nil {
		return v
	}
	return &Validator{store: pendingFinder{pending: pending, next: v.store}, categories: v.categories}
}

type pendingFinder struct {
	pending map[string]domain.Question
	next    ports.QuestionFinder
}

func (f pendingFinder) FindOne(ctx context.Context, collection, name string) (domain.Question, error) {
	if collection == domain.CollectionQuestions {
		if q, ok := f.pending[name]; ok {
			return q, nil
		}
	}
	return f.next.FindOne(ctx, collection, name)
}

// Validate returns an empty report if q may be inserted. ignoreDuplicates suppresses the
// name uniqueness check for overwrites. The error is non-nil only when a store lookup fails.
func (v *Validator) Validate(ctx context.Context, q domain.Question, ignoreDuplicates bool) (domain.Report, error) {
	raw, ok := q[domain.FieldMoodleType]
	if !ok {
		return domain.Report{domain.ReportQuestionKey: q.Name(), domain.FieldMoodleType: msgMissing}, nil
	}
	typeName, _ := raw.(string)
	return v.ValidateAs(ctx, q, domain.ParseVariant(typeName), ignoreDuplicates)
}

// ValidateAs runs the rule set of variant regardless of the record's moodle_type.
func (v *Validator) ValidateAs(ctx context.Context, q domain.Question, variant domain.Variant, ignoreDuplicates bool) (domain.Report, error) {
	schema, ok := SchemaFor(variant)
	if !ok {
		return domain.Report{domain.ReportQuestionKey: q.Name(), domain.FieldMoodleType: msgUnknownType}, nil
	}

	c := &check{
		q:                q,
		schema:           schema,
		report:           domain.Report{},
		store:            v.store,
		categories:       v.categories,
		ignoreDuplicates: ignoreDuplicates,
		cache:            map[string]cachedLookup{},
	}
	for _, r := range pipeline {
		if err := r.apply(ctx, c); err != nil {
			return nil, fmt.Errorf("%s check: %w", r.name, err)
		}
	}
	if len(c.report) > 0 {
		c.report[domain.ReportQuestionKey] = q.Name()
	}
	return c.report, nil
}

type cachedLookup struct {
	q     domain.Question
	found bool
}

// check is the per-call accumulator shared by the rules.
type check struct {
	q                domain.Question
	schema           Schema
	report           domain.Report
	store            ports.QuestionFinder
	categories       []string
	ignoreDuplicates bool
	cache            map[string]cachedLookup
}

func (c *check) flagged(field string) bool {
	_, ok := c.report[field]
	return ok
}

// flag records msg for field unless an earlier rule already did.
func (c *check) flag(field, msg string) {
	if c.flagged(field) {
		return
	}
	c.report[field] = msg
}

// lookup reads name from the questions collection once per validation call.
func (c *check) lookup(ctx context.Context, name string) (domain.Question, bool, error) {
	if hit, ok := c.cache[name]; ok {
		return hit.q, hit.found, nil
	}
	q, err := c.store.FindOne(ctx, domain.CollectionQuestions, name)
	switch {
	case err == nil:
		c.cache[name] = cachedLookup{q: q, found: true}
		return q, true, nil
	case errors.Is(err, domain.ErrNotFound):
		c.cache[name] = cachedLookup{}
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("find question %q: %w", name, err)
	}
}
