package usecase

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
)

// stubQuestionStore keeps questions in memory. Func fields override single calls.
type stubQuestionStore struct {
	docs map[string][]domain.Question

	findFn       func(ctx context.Context, collection, name string) (domain.Question, error)
	insertManyFn func(ctx context.Context, collection string, qs []domain.Question) ([]domain.Question, error)
	updateFn     func(ctx context.Context, collection, name string, fields map[string]any) (bool, error)

	insertCalls     int
	insertManyCalls int
	lastUpdate      map[string]any
	metas           []domain.MutationMetadata
}

func newStubStore(seed ...domain.Question) *stubQuestionStore {
	s := &stubQuestionStore{docs: map[string][]domain.Question{}}
	for _, q := range seed {
		s.put(domain.CollectionQuestions, q)
	}
	return s
}

func (s *stubQuestionStore) put(collection string, q domain.Question) domain.Question {
	doc := q.Clone()
	doc[domain.FieldID] = uuid.NewString()
	s.docs[collection] = append(s.docs[collection], doc)
	return doc.Clone()
}

func (s *stubQuestionStore) index(collection, name string) int {
	docs := s.docs[collection]
	for i := len(docs) - 1; i >= 0; i-- {
		if docs[i].Name() == name {
			return i
		}
	}
	return -1
}

func (s *stubQuestionStore) FindOne(ctx context.Context, collection, name string) (domain.Question, error) {
	if s.findFn != nil {
		return s.findFn(ctx, collection, name)
	}
	i := s.index(collection, name)
	if i < 0 {
		return nil, domain.ErrNotFound
	}
	return s.docs[collection][i].Clone(), nil
}

func (s *stubQuestionStore) InsertOne(_ context.Context, collection string, q domain.Question, meta domain.MutationMetadata) (domain.Question, error) {
	s.insertCalls++
	s.metas = append(s.metas, meta)
	return s.put(collection, q), nil
}

func (s *stubQuestionStore) InsertMany(ctx context.Context, collection string, qs []domain.Question, meta domain.MutationMetadata) ([]domain.Question, error) {
	s.insertManyCalls++
	s.metas = append(s.metas, meta)
	if s.insertManyFn != nil {
		return s.insertManyFn(ctx, collection, qs)
	}
	out := make([]domain.Question, 0, len(qs))
	for _, q := range qs {
		out = append(out, s.put(collection, q))
	}
	return out, nil
}

func (s *stubQuestionStore) ReplaceOne(_ context.Context, collection string, q domain.Question, meta domain.MutationMetadata) (domain.Question, error) {
	s.metas = append(s.metas, meta)
	if i := s.index(collection, q.Name()); i >= 0 {
		docs := s.docs[collection]
		s.docs[collection] = append(docs[:i:i], docs[i+1:]...)
	}
	return s.put(collection, q), nil
}

func (s *stubQuestionStore) DeleteOne(_ context.Context, collection, name string, meta domain.MutationMetadata) (bool, error) {
	s.metas = append(s.metas, meta)
	i := s.index(collection, name)
	if i < 0 {
		return false, nil
	}
	docs := s.docs[collection]
	s.docs[collection] = append(docs[:i:i], docs[i+1:]...)
	return true, nil
}

func (s *stubQuestionStore) UpdateFields(ctx context.Context, collection, name string, fields map[string]any, meta domain.MutationMetadata) (bool, error) {
	s.metas = append(s.metas, meta)
	s.lastUpdate = fields
	if s.updateFn != nil {
		return s.updateFn(ctx, collection, name, fields)
	}
	i := s.index(collection, name)
	if i < 0 {
		return false, nil
	}
	for k, v := range fields {
		s.docs[collection][i][k] = v
	}
	return true, nil
}

func (s *stubQuestionStore) List(_ context.Context, collection string, filter domain.ListFilter) ([]domain.Question, error) {
	var out []domain.Question
	for _, q := range s.docs[collection] {
		if strings.HasPrefix(q.Name(), filter.Prefix) {
			out = append(out, q.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	start := len(out)
	for i, q := range out {
		if filter.AfterID != "" && q[domain.FieldID] == filter.AfterID {
			start = i + 1
			break
		}
		if filter.AfterID == "" && q.Name() > filter.After {
			start = i
			break
		}
	}
	out = out[start:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func sampleQuestion(name, family string) domain.Question {
	return domain.Question{
		domain.FieldName:       name,
		domain.FieldQuestion:   "What is [[x]] plus [[y]]?",
		domain.FieldFamilyType: family,
		domain.FieldMoodleType: "numerical",
		"points":               1,
		"time_est":             2,
		"difficulty":           1,
		domain.FieldInExams:    map[string]any{"exam1": 1},
		"correct_answers":      []any{2},
		"tolerance":            0.5,
	}
}
