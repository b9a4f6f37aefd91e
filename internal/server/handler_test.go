package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkhunters/tool-calls-sanitizer/internal/chat"
	"github.com/nkhunters/tool-calls-sanitizer/internal/ratelimit"
	"github.com/nkhunters/tool-calls-sanitizer/internal/sanitize"
	"github.com/nkhunters/tool-calls-sanitizer/internal/store"
	"github.com/nkhunters/tool-calls-sanitizer/internal/tokens"
)

type testServer struct {
	handler http.Handler
	store   *store.BoltStore
}

func newTestServer(t *testing.T, limiter *ratelimit.Limiter) *testServer {
	t.Helper()
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(sanitize.DefaultConfig(), tokens.NewCounter(), st, log)
	h.now = func() time.Time { return time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC) }
	return &testServer{handler: NewRouter(h, limiter), store: st}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "203.0.113.9:40000"
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func twoCallConversation() []chat.Message {
	return []chat.Message{
		{Role: chat.RoleUser, Content: "open both pages"},
		{Role: chat.RoleAssistant, ToolCalls: []chat.ToolCall{
			{ID: "p1", Type: "function", Function: chat.FunctionCall{Name: "get_page_content", Arguments: `{"page_id":"1"}`}},
			{ID: "p2", Type: "function", Function: chat.FunctionCall{Name: "get_page_content", Arguments: `{"page_id":"2"}`}},
		}},
		{Role: chat.RoleTool, ToolCallID: "p2", Content: "page two"},
	}
}

func TestHandleSanitize(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPost, "/v1/sanitize", SanitizeRequest{Messages: twoCallConversation()})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp SanitizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	require.Len(t, resp.Messages, 2)
	require.Len(t, resp.Messages[1].ToolCalls, 1)
	require.Equal(t, "p1", resp.Messages[1].ToolCalls[0].ID)
	require.Equal(t, 3, resp.Report.Input)
	require.Equal(t, 1, resp.Report.CollapsedCalls)
	require.NotNil(t, resp.Tokens)
	require.Greater(t, resp.Tokens.Before, resp.Tokens.After)
	require.Equal(t, 4000, resp.Tokens.MaxContextLength)

	saved, err := srv.store.GetReport(resp.ID)
	require.NoError(t, err)
	require.Equal(t, resp.Report, saved.Report)
	require.Equal(t, "203.0.113.9", saved.Client)

	rec = srv.do(t, http.MethodGet, "/v1/reports/"+resp.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/v1/reports?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []store.RunReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
}

func TestHandleSanitizeOptions(t *testing.T) {
	srv := newTestServer(t, nil)
	off := false
	msgs := []chat.Message{
		{Role: chat.RoleUser, Content: "again"},
		{Role: chat.RoleUser, Content: "again"},
	}

	rec := srv.do(t, http.MethodPost, "/v1/sanitize", SanitizeRequest{
		Messages: msgs,
		Options:  &Options{DeduplicationEnabled: &off},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SanitizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)

	rec = srv.do(t, http.MethodPost, "/v1/sanitize", SanitizeRequest{
		Messages: msgs,
		Options:  &Options{RetryScope: "galaxy"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSanitizeBadRequests(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPost, "/v1/sanitize", `{"messages": [`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	huge := `{"messages":[{"role":"user","content":"` + strings.Repeat("x", maxBodyBytes) + `"}]}`
	rec = srv.do(t, http.MethodPost, "/v1/sanitize", huge)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandleSanitizeEmptyList(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPost, "/v1/sanitize", `{"messages": []}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"messages":[]`)
}

func TestHandleCheck(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPost, "/v1/check", CheckRequest{Messages: twoCallConversation()})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var errResp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	require.NotNil(t, errResp.Index)
	require.Equal(t, 1, *errResp.Index)
	require.Contains(t, errResp.Error, "found 2 tool calls")

	rec = srv.do(t, http.MethodPost, "/v1/check", CheckRequest{Messages: twoCallConversation()[:1]})
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestHandleGetReportMissing(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := srv.do(t, http.MethodGet, "/v1/reports/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodGet, "/v1/reports?limit=zero", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouterHealthAndRateLimit(t *testing.T) {
	srv := newTestServer(t, ratelimit.New(1, time.Minute))

	rec := srv.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, "/v1/check", CheckRequest{}).Code)
	require.Equal(t, http.StatusTooManyRequests, srv.do(t, http.MethodPost, "/v1/check", CheckRequest{}).Code)

	// Health checks are not rate limited.
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/health", nil).Code)
}
