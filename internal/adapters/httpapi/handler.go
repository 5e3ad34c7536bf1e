package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/atvirokodosprendimai/qbank/internal/adapters/fileio"
	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
	"github.com/atvirokodosprendimai/qbank/internal/core/usecase"
	"github.com/atvirokodosprendimai/qbank/internal/metrics"
)

type ctxKey string

const (
	apiActorCtxKey    ctxKey = "api_actor"
	maxJSONBodySize          = 1 << 20
	maxImportBodySize        = 16 << 20
	xlsxContentType          = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type Handler struct {
	questions *usecase.QuestionService
	imports   *usecase.ImportService
	auth      *usecase.AuthService
	audit     *usecase.AuditService
	metrics   *metrics.Registry
	log       zerolog.Logger
}

func NewHandler(questions *usecase.QuestionService, imports *usecase.ImportService, auth *usecase.AuthService, audit *usecase.AuditService, log zerolog.Logger) *Handler {
	return &Handler{questions: questions, imports: imports, auth: auth, audit: audit, log: log}
}

// WithMetrics serves reg on /metrics and records request metrics for every route.
func (h *Handler) WithMetrics(reg *metrics.Registry) *Handler {
	h.metrics = reg
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
	}
	r.Use(h.logRequests)

	r.Get("/healthz", h.healthz)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.Group(func(pr chi.Router) {
		pr.Use(h.requireAPIKey)
		pr.Get("/v1/questions", h.listQuestions)
		pr.Post("/v1/questions", h.insertQuestion)
		pr.Post("/v1/questions:validate", h.validateQuestion)
		pr.Post("/v1/questions:import", h.importQuestions)
		pr.Get("/v1/questions/{name}", h.getQuestion)
		pr.Patch("/v1/questions/{name}", h.updateQuestion)
		pr.Delete("/v1/questions/{name}", h.removeQuestion)
		pr.Get("/v1/questions/{name}/events", h.questionEvents)
		pr.Post("/v1/questions/{name}/restore", h.restoreQuestion)
		pr.Post("/v1/questions/{name}/children", h.deriveChild)
		pr.Get("/v1/names/next", h.nextName)
		pr.Get("/v1/templates", h.templates)
	})

	return r
}

type validateResponse struct {
	Valid  bool          `json:"valid"`
	Report domain.Report `json:"report"`
}

type importResponse struct {
	OK       bool            `json:"ok"`
	Inserted []string        `json:"inserted"`
	Rejected []domain.Report `json:"rejected"`
	Summary  string          `json:"summary"`
}

type deriveChildRequest struct {
	Fills []string `json:"fills"`
}

func (h *Handler) listQuestions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	qs, err := h.questions.List(r.Context(), collectionParam(r), domain.ListFilter{
		Prefix:  r.URL.Query().Get("prefix"),
		After:   r.URL.Query().Get("after"),
		AfterID: r.URL.Query().Get("after_id"),
		Limit:   limit,
	})
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	if qs == nil {
		qs = []domain.Question{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": qs})
}

func (h *Handler) insertQuestion(w http.ResponseWriter, r *http.Request) {
	q, ok := decodeQuestionBody(w, r)
	if !ok {
		return
	}

	saved, err := h.questions.Insert(r.Context(), q, usecase.InsertOptions{
		Overwrite: boolParam(r, "overwrite"),
	}, mutationMeta(r))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, saved)
}

func (h *Handler) validateQuestion(w http.ResponseWriter, r *http.Request) {
	q, ok := decodeQuestionBody(w, r)
	if !ok {
		return
	}

	report, err := h.questions.Validate(r.Context(), q, boolParam(r, "ignore_duplicates"))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	if report == nil {
		report = domain.Report{}
	}

	writeJSON(w, http.StatusOK, validateResponse{Valid: len(report) == 0, Report: report})
}

func (h *Handler) importQuestions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)

	format := fileio.FormatJSON
	if strings.HasPrefix(r.Header.Get("Content-Type"), xlsxContentType) || r.URL.Query().Get("format") == string(fileio.FormatXLSX) {
		format = fileio.FormatXLSX
	}

	qs, err := fileio.Read(r.Body, format)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	result, err := h.imports.Import(r.Context(), qs, usecase.ImportOptions{
		AllOrNothing: boolParam(r, "all_or_nothing"),
	}, mutationMeta(r))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	resp := importResponse{
		OK:       result.OK(),
		Inserted: result.Inserted,
		Rejected: result.Rejected,
		Summary:  result.Summary(),
	}
	if resp.Inserted == nil {
		resp.Inserted = []string{}
	}
	if resp.Rejected == nil {
		resp.Rejected = []domain.Report{}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getQuestion(w http.ResponseWriter, r *http.Request) {
	q, err := h.questions.Get(r.Context(), collectionParam(r), chi.URLParam(r, "name"))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) updateQuestion(w http.ResponseWriter, r *http.Request) {
	fields, ok := decodeQuestionBody(w, r)
	if !ok {
		return
	}

	updated, err := h.questions.Update(r.Context(), chi.URLParam(r, "name"), fields, usecase.EditOptions{
		History:  boolParam(r, "history"),
		Validate: boolParam(r, "validate"),
	}, mutationMeta(r))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"updated": updated})
}

func (h *Handler) removeQuestion(w http.ResponseWriter, r *http.Request) {
	archive := boolParam(r, "archive")

	deleted, err := h.questions.Remove(r.Context(), chi.URLParam(r, "name"), archive, mutationMeta(r))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted, "archived": deleted && archive})
}

func (h *Handler) restoreQuestion(w http.ResponseWriter, r *http.Request) {
	q, err := h.questions.Restore(r.Context(), chi.URLParam(r, "name"), mutationMeta(r))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) deriveChild(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	var req deriveChildRequest
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	child, err := h.questions.DeriveChild(r.Context(), chi.URLParam(r, "name"), req.Fills, mutationMeta(r))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, child)
}

func (h *Handler) nextName(w http.ResponseWriter, r *http.Request) {
	name, err := h.questions.NextName(r.Context(), r.URL.Query().Get("category"), r.URL.Query().Get("family"))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"name": name})
}

func (h *Handler) questionEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	var afterID int64
	if raw := r.URL.Query().Get("after_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after_id must be integer")
			return
		}
		afterID = parsed
	}

	items, err := h.audit.List(r.Context(), domain.AuditFilter{
		Collection:   collectionParam(r),
		QuestionName: chi.URLParam(r, "name"),
		Action:       r.URL.Query().Get("action"),
		AfterID:      afterID,
		Limit:        limit,
	})
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	if items == nil {
		items = []domain.AuditTrailEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) templates(w http.ResponseWriter, r *http.Request) {
	format := fileio.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = fileio.FormatJSON
	}

	var buf bytes.Buffer
	if err := fileio.Write(&buf, format, usecase.TemplateQuestions()); err != nil {
		h.handleDomainError(w, err)
		return
	}

	contentType := "application/json"
	if format == fileio.FormatXLSX {
		contentType = xlsxContentType
		w.Header().Set("Content-Disposition", `attachment; filename="template.xlsx"`)
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.log.Warn().Err(err).Msg("write template response")
	}
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if token == "" {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token = strings.TrimSpace(auth[7:])
			}
		}

		apiKey, err := h.auth.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			h.log.Error().Err(err).Msg("authenticate api key")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		ctx := context.WithValue(r.Context(), apiActorCtxKey, apiKey.Name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (h *Handler) handleDomainError(w http.ResponseWriter, err error) {
	var invalid *domain.ErrInvalidQuestion
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "question failed validation",
			"report": invalid.Report,
		})
	case errors.Is(err, domain.ErrInvalidName), errors.Is(err, domain.ErrInvalidField), errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	default:
		h.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeQuestionBody(w http.ResponseWriter, r *http.Request) (domain.Question, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return nil, false
	}
	q, err := domain.DecodeQuestion(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return nil, false
	}
	return q, true
}

func mutationMeta(r *http.Request) domain.MutationMetadata {
	return domain.MutationMetadata{
		Actor:     actorFromContext(r.Context()),
		Source:    "api",
		RequestID: middleware.GetReqID(r.Context()),
	}
}

func collectionParam(r *http.Request) string {
	if c := r.URL.Query().Get("collection"); c != "" {
		return c
	}
	return domain.CollectionQuestions
}

func boolParam(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be integer")
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("encode json response: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}

func actorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(apiActorCtxKey).(string)
	if actor == "" {
		return "api"
	}
	return actor
}
