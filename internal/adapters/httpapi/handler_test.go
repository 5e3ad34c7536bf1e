package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/atvirokodosprendimai/qbank/internal/adapters/fileio"
	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
	"github.com/atvirokodosprendimai/qbank/internal/core/usecase"
	"github.com/atvirokodosprendimai/qbank/internal/core/validation"
	"github.com/atvirokodosprendimai/qbank/internal/metrics"
)

const testAPIKey = "test-api-key"

const validQuestionJSON = `{"name":"phys0199","question":"What is [[x]] plus [[y]]?","family_type":"single",
"moodle_type":"numerical","points":1,"time_est":2,"difficulty":1,"in_exams":{"exam1":1},
"correct_answers":[2],"tolerance":0.5}`

type memStore struct {
	docs  map[string][]domain.Question
	metas []domain.MutationMetadata
}

func newMemStore() *memStore {
	return &memStore{docs: map[string][]domain.Question{}}
}

func (s *memStore) index(collection, name string) int {
	for i := len(s.docs[collection]) - 1; i >= 0; i-- {
		if s.docs[collection][i].Name() == name {
			return i
		}
	}
	return -1
}

func (s *memStore) FindOne(_ context.Context, collection, name string) (domain.Question, error) {
	i := s.index(collection, name)
	if i < 0 {
		return nil, domain.ErrNotFound
	}
	return s.docs[collection][i].Clone(), nil
}

func (s *memStore) InsertOne(_ context.Context, collection string, q domain.Question, meta domain.MutationMetadata) (domain.Question, error) {
	s.metas = append(s.metas, meta)
	doc := q.Clone()
	doc[domain.FieldID] = "id-" + q.Name()
	s.docs[collection] = append(s.docs[collection], doc)
	return doc.Clone(), nil
}

func (s *memStore) InsertMany(ctx context.Context, collection string, qs []domain.Question, meta domain.MutationMetadata) ([]domain.Question, error) {
	out := make([]domain.Question, 0, len(qs))
	for _, q := range qs {
		saved, _ := s.InsertOne(ctx, collection, q, meta)
		out = append(out, saved)
	}
	return out, nil
}

func (s *memStore) ReplaceOne(ctx context.Context, collection string, q domain.Question, meta domain.MutationMetadata) (domain.Question, error) {
	_, _ = s.DeleteOne(ctx, collection, q.Name(), meta)
	return s.InsertOne(ctx, collection, q, meta)
}

func (s *memStore) DeleteOne(_ context.Context, collection, name string, meta domain.MutationMetadata) (bool, error) {
	s.metas = append(s.metas, meta)
	i := s.index(collection, name)
	if i < 0 {
		return false, nil
	}
	docs := s.docs[collection]
	s.docs[collection] = append(docs[:i:i], docs[i+1:]...)
	return true, nil
}

func (s *memStore) UpdateFields(_ context.Context, collection, name string, fields map[string]any, meta domain.MutationMetadata) (bool, error) {
	s.metas = append(s.metas, meta)
	i := s.index(collection, name)
	if i < 0 {
		return false, nil
	}
	for k, v := range fields {
		s.docs[collection][i][k] = v
	}
	return true, nil
}

func (s *memStore) List(_ context.Context, collection string, filter domain.ListFilter) ([]domain.Question, error) {
	var out []domain.Question
	for _, q := range s.docs[collection] {
		if strings.HasPrefix(q.Name(), filter.Prefix) && q.Name() > filter.After {
			out = append(out, q.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

type stubAPIKeyRepo struct {
	findErr error
}

func (s *stubAPIKeyRepo) FindByTokenHash(_ context.Context, hash string) (domain.APIKey, error) {
	if s.findErr != nil {
		return domain.APIKey{}, s.findErr
	}
	if hash != usecase.HashToken(testAPIKey) {
		return domain.APIKey{}, domain.ErrNotFound
	}
	return domain.APIKey{TokenHash: hash, Name: "test-client", CreatedAt: time.Now().UTC()}, nil
}

func (s *stubAPIKeyRepo) Upsert(context.Context, domain.APIKey) error              { return nil }
func (s *stubAPIKeyRepo) List(context.Context) ([]domain.APIKey, error)            { return nil, nil }
func (s *stubAPIKeyRepo) Touch(context.Context, string, time.Time) error           { return nil }
func (s *stubAPIKeyRepo) Revoke(context.Context, string, time.Time) (int64, error) { return 0, nil }

type stubAuditTrailRepo struct {
	lastFilter domain.AuditFilter
}

func (s *stubAuditTrailRepo) List(_ context.Context, filter domain.AuditFilter) ([]domain.AuditTrailEvent, error) {
	s.lastFilter = filter
	return []domain.AuditTrailEvent{{ID: 7, QuestionName: filter.QuestionName, Action: domain.EventQuestionCreated}}, nil
}

type testEnv struct {
	store  *memStore
	audit  *stubAuditTrailRepo
	router http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemStore()
	audit := &stubAuditTrailRepo{}
	questions := usecase.NewQuestionService(store, validation.NewValidator(store, nil), zerolog.Nop())
	imports := usecase.NewImportService(questions, store, zerolog.Nop())
	handler := NewHandler(questions, imports, usecase.NewAuthService(&stubAPIKeyRepo{}), usecase.NewAuditService(audit), zerolog.Nop()).
		WithMetrics(metrics.NewRegistry(metrics.Sources{Questions: questions, Imports: imports}))
	return &testEnv{store: store, audit: audit, router: handler.Router()}
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func TestProtectedRouteWithoutAuth(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/questions", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBearerTokenAccepted(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/questions", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthRepositoryFailureReturns500(t *testing.T) {
	questions := usecase.NewQuestionService(newMemStore(), validation.NewValidator(nil, nil), zerolog.Nop())
	h := NewHandler(questions, nil, usecase.NewAuthService(&stubAPIKeyRepo{findErr: errors.New("db down")}), nil, zerolog.Nop()).Router()
	req := httptest.NewRequest(http.MethodGet, "/v1/questions", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHealthzIsPublic(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestInsertAndGetQuestion(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/v1/questions", validQuestionJSON)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.store.metas) != 1 || env.store.metas[0].Actor != "test-client" || env.store.metas[0].Source != "api" {
		t.Fatalf("unexpected mutation metadata: %+v", env.store.metas)
	}
	if env.store.metas[0].RequestID == "" {
		t.Fatal("expected request id in mutation metadata")
	}

	rec = env.do(http.MethodGet, "/v1/questions/phys0199", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decodeBody(t, rec); got["name"] != "phys0199" {
		t.Fatalf("unexpected question: %v", got)
	}
}

func TestInsertDuplicateReturnsReport(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(http.MethodPost, "/v1/questions", validQuestionJSON); rec.Code != http.StatusCreated {
		t.Fatalf("first insert: %d", rec.Code)
	}

	rec := env.do(http.MethodPost, "/v1/questions", validQuestionJSON)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	report, _ := decodeBody(t, rec)["report"].(map[string]any)
	if report[domain.FieldName] == nil || report[domain.ReportQuestionKey] != "phys0199" {
		t.Fatalf("unexpected report: %v", report)
	}

	if rec := env.do(http.MethodPost, "/v1/questions?overwrite=true", validQuestionJSON); rec.Code != http.StatusCreated {
		t.Fatalf("expected overwrite to succeed, got %d", rec.Code)
	}
}

func TestInsertRejectsInvalidJSON(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []string{`{"name":`, `{"name":"a"} {}`, `[1,2]`} {
		if rec := env.do(http.MethodPost, "/v1/questions", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestValidateUnknownVariant(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/v1/questions:validate", `{"name":"phys0199","moodle_type":"hotspot"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp validateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Valid || resp.Report[domain.FieldMoodleType] != "Unknown" || len(resp.Report) != 2 {
		t.Fatalf("unexpected validation response: %+v", resp)
	}
}

func TestValidateValidQuestion(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/v1/questions:validate", validQuestionJSON)
	var resp validateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Valid || len(resp.Report) != 0 {
		t.Fatalf("expected valid question, got %+v", resp)
	}
}

func TestImportPartialSuccess(t *testing.T) {
	env := newTestEnv(t)
	body := "[" + validQuestionJSON + `,{"name":"phys0299","moodle_type":"essay"}]`

	rec := env.do(http.MethodPost, "/v1/questions:import", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp importResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OK || len(resp.Inserted) != 1 || resp.Inserted[0] != "phys0199" || len(resp.Rejected) != 1 {
		t.Fatalf("unexpected import response: %+v", resp)
	}
	if !strings.HasPrefix(resp.Summary, "Some questions could not be added due to errors:") {
		t.Fatalf("unexpected summary: %q", resp.Summary)
	}
}

func TestImportRejectsNonArrayEnvelope(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(http.MethodPost, "/v1/questions:import", `{"name":"x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestImportXLSXBody(t *testing.T) {
	env := newTestEnv(t)
	q, err := domain.DecodeQuestion([]byte(validQuestionJSON))
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	var buf bytes.Buffer
	if err := fileio.WriteXLSX(&buf, []domain.Question{q}); err != nil {
		t.Fatalf("write xlsx: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/questions:import?all_or_nothing=true", &buf)
	req.Header.Set("X-API-Key", testAPIKey)
	req.Header.Set("Content-Type", xlsxContentType)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || decodeBody(t, rec)["ok"] != true {
		t.Fatalf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := env.store.FindOne(context.Background(), domain.CollectionQuestions, "phys0199"); err != nil {
		t.Fatalf("expected imported question: %v", err)
	}
}

func TestUpdateAndRemoveQuestion(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodPost, "/v1/questions", validQuestionJSON)

	rec := env.do(http.MethodPatch, "/v1/questions/phys0199?history=true&validate=true", `{"points":3}`)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["updated"] != true {
		t.Fatalf("unexpected update response %d: %s", rec.Code, rec.Body.String())
	}
	got, _ := env.store.FindOne(context.Background(), domain.CollectionQuestions, "phys0199")
	if got["points"] != json.Number("3") || got[domain.FieldHistory] == nil {
		t.Fatalf("unexpected stored question: %v", got)
	}

	rec = env.do(http.MethodPatch, "/v1/questions/phys0199?validate=true", `{"points":0}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for invalid edit, got %d", rec.Code)
	}

	rec = env.do(http.MethodDelete, "/v1/questions/phys0199?archive=true", "")
	payload := decodeBody(t, rec)
	if payload["deleted"] != true || payload["archived"] != true {
		t.Fatalf("unexpected delete response: %v", payload)
	}
	if _, err := env.store.FindOne(context.Background(), domain.CollectionArchive, "phys0199"); err != nil {
		t.Fatalf("expected archived copy: %v", err)
	}

	rec = env.do(http.MethodPost, "/v1/questions/phys0199/restore", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected restore to succeed, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateMissingQuestionReportsFalse(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPatch, "/v1/questions/none0199", `{"points":3}`)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["updated"] != false {
		t.Fatalf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateRejectsIDField(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodPost, "/v1/questions", validQuestionJSON)
	if rec := env.do(http.MethodPatch, "/v1/questions/phys0199", `{"_id":"x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetNotFoundReturns404(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(http.MethodGet, "/v1/questions/none0199", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListBadLimitReturnsBadRequest(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(http.MethodGet, "/v1/questions?limit=bad", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListUnknownCollection(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(http.MethodGet, "/v1/questions?collection=drafts", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestQuestionEventsPassesFilter(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/v1/questions/phys0199/events?after_id=10&limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	f := env.audit.lastFilter
	if f.QuestionName != "phys0199" || f.AfterID != 10 || f.Limit != 5 || f.Collection != domain.CollectionQuestions {
		t.Fatalf("unexpected filter: %+v", f)
	}

	if rec := env.do(http.MethodGet, "/v1/questions/phys0199/events?after_id=x", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestNextNameEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/v1/names/next?category=phys&family=single", "")
	if rec.Code != http.StatusOK || decodeBody(t, rec)["name"] != "phys0199" {
		t.Fatalf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTemplatesJSONAndXLSX(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/v1/templates", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	qs, err := fileio.ReadJSON(rec.Body)
	if err != nil {
		t.Fatalf("read template: %v", err)
	}
	if len(qs) != len(domain.Variants()) {
		t.Fatalf("expected %d templates, got %d", len(domain.Variants()), len(qs))
	}

	rec = env.do(http.MethodGet, "/v1/templates?format=xlsx", "")
	if rec.Header().Get("Content-Type") != xlsxContentType {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if _, err := fileio.ReadXLSX(rec.Body); err != nil {
		t.Fatalf("read xlsx template: %v", err)
	}

	if rec := env.do(http.MethodGet, "/v1/templates?format=csv", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodPost, "/v1/questions:validate", validQuestionJSON)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "qbank_questions_validated_total 1") {
		t.Fatalf("expected validation counter in metrics:\n%s", body)
	}
	if !strings.Contains(body, `route="/v1/questions:validate"`) {
		t.Fatalf("expected route label in metrics:\n%s", body)
	}
}

func TestWriteJSONEncodeErrorHandled(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]any{"bad": func() {}})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHandleDomainErrorUnknown(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, zerolog.Nop())
	rec := httptest.NewRecorder()
	h.handleDomainError(rec, errors.New("boom"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
