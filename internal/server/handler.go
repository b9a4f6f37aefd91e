package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nkhunters/tool-calls-sanitizer/internal/chat"
	"github.com/nkhunters/tool-calls-sanitizer/internal/ratelimit"
	"github.com/nkhunters/tool-calls-sanitizer/internal/sanitize"
	"github.com/nkhunters/tool-calls-sanitizer/internal/store"
	"github.com/nkhunters/tool-calls-sanitizer/internal/tokens"
)

const (
	maxBodyBytes     = 8 << 20
	defaultListLimit = 50
)

// Options are per-request overrides of the service's pipeline configuration.
type Options struct {
	DeduplicationEnabled *bool  `json:"deduplication_enabled,omitempty"`
	DeduplicationWindow  *int   `json:"deduplication_window,omitempty"`
	PreserveFailedCalls  *bool  `json:"preserve_failed_calls,omitempty"`
	StrictValidation     *bool  `json:"strict_validation,omitempty"`
	RetryScope           string `json:"retry_scope,omitempty"`
}

type SanitizeRequest struct {
	Messages []chat.Message `json:"messages"`
	Options  *Options       `json:"options,omitempty"`
}

type SanitizeResponse struct {
	ID       string          `json:"id"`
	Messages []chat.Message  `json:"messages"`
	Report   sanitize.Report `json:"report"`
	Tokens   *tokens.Budget  `json:"tokens,omitempty"`
}

type CheckRequest struct {
	Messages []chat.Message `json:"messages"`
}

type errorResponse struct {
	Error string `json:"error"`
	Index *int   `json:"index,omitempty"`
}

type Handler struct {
	base   sanitize.Config
	tokens *tokens.Counter
	store  store.Store
	log    *slog.Logger
	now    func() time.Time
}

func NewHandler(cfg sanitize.Config, counter *tokens.Counter, s store.Store, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = log
	}
	return &Handler{base: cfg, tokens: counter, store: s, log: log, now: time.Now}
}

// HandleSanitize runs the pipeline over the posted messages, enforces the
// single-tool-call constraint on the result and records a run report.
func (h *Handler) HandleSanitize(w http.ResponseWriter, r *http.Request) {
	var req SanitizeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	opts, err := req.Options.apply()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	sanitized, report := sanitize.New(h.base, opts...).SanitizeWithReport(req.Messages)

	if err := chat.CheckSingleToolCall(sanitized); err != nil {
		h.log.Error("server: sanitized output violates tool call limit", "err", err)
		writeLimitError(w, err)
		return
	}

	resp := SanitizeResponse{
		ID:       uuid.NewString(),
		Messages: sanitized,
		Report:   report,
	}
	if h.tokens != nil {
		budget, err := h.tokens.Measure(req.Messages, sanitized, h.base.MaxContextLength)
		if err != nil {
			h.log.Warn("server: token count unavailable", "err", err)
		} else {
			resp.Tokens = &budget
		}
	}

	h.saveReport(r, resp)
	h.log.Debug("server: sanitized messages",
		"id", resp.ID,
		"input", report.Input,
		"output", report.Output,
		"fallback", report.Fallback)

	writeJSON(w, http.StatusOK, resp)
}

// HandleCheck applies only the single-tool-call guard.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := chat.CheckSingleToolCall(req.Messages); err != nil {
		writeLimitError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "reports are not recorded", nil)
		return
	}
	rep, err := h.store.GetReport(chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error(), nil)
		return
	}
	if err != nil {
		h.log.Error("server: loading report failed", "err", err)
		writeError(w, http.StatusInternalServerError, "loading report failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) HandleListReports(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusOK, []store.RunReport{})
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}
	reports, err := h.store.ListReports(limit)
	if err != nil {
		h.log.Error("server: listing reports failed", "err", err)
		writeError(w, http.StatusInternalServerError, "listing reports failed", nil)
		return
	}
	if reports == nil {
		reports = []store.RunReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (h *Handler) saveReport(r *http.Request, resp SanitizeResponse) {
	if h.store == nil {
		return
	}
	rec := store.RunReport{
		ID:        resp.ID,
		CreatedAt: h.now().UTC(),
		Client:    ratelimit.ClientKey(r),
		Report:    resp.Report,
	}
	if resp.Tokens != nil {
		rec.TokensBefore = resp.Tokens.Before
		rec.TokensAfter = resp.Tokens.After
		rec.OverBudget = resp.Tokens.OverBudget
	}
	if err := h.store.SaveReport(rec); err != nil {
		h.log.Error("server: failed to save report", "id", resp.ID, "err", err)
	}
}

func (o *Options) apply() ([]sanitize.Option, error) {
	if o == nil {
		return nil, nil
	}
	var opts []sanitize.Option
	if o.DeduplicationEnabled != nil {
		opts = append(opts, sanitize.WithDeduplication(*o.DeduplicationEnabled))
	}
	if o.DeduplicationWindow != nil {
		opts = append(opts, sanitize.WithWindow(*o.DeduplicationWindow))
	}
	if o.PreserveFailedCalls != nil {
		opts = append(opts, sanitize.WithPreserveFailedCalls(*o.PreserveFailedCalls))
	}
	if o.StrictValidation != nil {
		opts = append(opts, sanitize.WithStrictValidation(*o.StrictValidation))
	}
	if o.RetryScope != "" {
		scope, err := sanitize.ParseRetryScope(o.RetryScope)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sanitize.WithRetryScope(scope))
	}
	return opts, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", nil)
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), nil)
		return false
	}
	return true
}

func writeLimitError(w http.ResponseWriter, err error) {
	var limitErr *chat.ToolCallLimitError
	if errors.As(err, &limitErr) {
		writeError(w, http.StatusUnprocessableEntity, err.Error(), &limitErr.Index)
		return
	}
	writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
}

func writeError(w http.ResponseWriter, status int, msg string, index *int) {
	writeJSON(w, status, errorResponse{Error: msg, Index: index})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("server: failed to write response", "err", err)
	}
}
