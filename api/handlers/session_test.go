package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/casegate/casestore"
	"github.com/BaSui01/casegate/dispatcher"
	"github.com/BaSui01/casegate/session"
	"github.com/BaSui01/casegate/testutil"
	"github.com/BaSui01/casegate/testutil/mocks"
	"github.com/BaSui01/casegate/types"
)

// =============================================================================
// 🧪 SessionHandler 测试
// =============================================================================

type apiFixture struct {
	repo    *mocks.MockRepository
	manager *dispatcher.Manager
	tools   *dispatcher.Tools
	mux     *http.ServeMux
}

func newAPIFixture(t *testing.T, maxSessions int) *apiFixture {
	t.Helper()

	repo := mocks.NewMockRepository(testutil.SeededStore(t))
	d, err := dispatcher.New(repo)
	require.NoError(t, err)
	tools, err := dispatcher.NewTools(d)
	require.NoError(t, err)
	manager := dispatcher.NewManager(dispatcher.ManagerConfig{MaxSessions: maxSessions}, zap.NewNop(), nil)
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })

	mux := http.NewServeMux()
	NewSessionHandler(manager, tools, repo, zap.NewNop()).Register(mux)
	NewStreamHandler(manager, tools, nil, zap.NewNop()).Register(mux)
	return &apiFixture{repo: repo, manager: manager, tools: tools, mux: mux}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)
	return w
}

func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Success bool       `json:"success"`
		Data    T          `json:"data"`
		Error   *ErrorInfo `json:"error"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.True(t, resp.Success, "unexpected error: %+v", resp.Error)
	return resp.Data
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *ErrorInfo {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	return resp.Error
}

func (f *apiFixture) open(t *testing.T) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/sessions", "")
	require.Equal(t, http.StatusCreated, w.Code)
	view := decodeData[SessionView](t, w)
	require.NotEmpty(t, view.ID)
	assert.Equal(t, session.StageNoTask, view.State.Stage)
	return view.ID
}

func (f *apiFixture) invoke(t *testing.T, id, tool, args string) InvokeResponse {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/tools/"+tool, args)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decodeData[InvokeResponse](t, w)
}

func TestSessionHandler_Workflow(t *testing.T) {
	f := newAPIFixture(t, 0)
	id := f.open(t)

	resp := f.invoke(t, id, "load_task", `{"identity":"John"}`)
	assert.Equal(t, dispatcher.StatusOK, resp.Result.Status)
	assert.Equal(t, session.StageTaskLoaded, resp.Session.State.Stage)

	// 未核实时披露被拒绝，但仍以 200 返回
	resp = f.invoke(t, id, "reveal_sensitive_details", "")
	assert.Equal(t, dispatcher.StatusRefused, resp.Result.Status)
	assert.Equal(t, types.ErrNotVerified, resp.Result.Code)

	resp = f.invoke(t, id, "get_challenge", "{}")
	assert.Equal(t, "What is your mother's maiden name?", resp.Result.Details["challenge"])

	resp = f.invoke(t, id, "submit_verification", `{"answer":"  smith "}`)
	assert.Equal(t, dispatcher.StatusOK, resp.Result.Status)
	assert.True(t, resp.Session.State.Verified)

	resp = f.invoke(t, id, "reveal_sensitive_details", "")
	assert.Equal(t, dispatcher.StatusOK, resp.Result.Status)
	assert.Contains(t, resp.Result.Message, "4242")

	resp = f.invoke(t, id, "record_resolution", `{"confirmed":false}`)
	assert.Equal(t, dispatcher.StatusOK, resp.Result.Status)
	assert.Equal(t, session.StageResolved, resp.Session.State.Stage)
	assert.Equal(t, string(casestore.StatusResolvedAdverse), resp.Result.Details["record_status"])

	// 会话完成后写操作被拒绝
	resp = f.invoke(t, id, "load_task", `{"identity":"Sarah"}`)
	assert.Equal(t, types.ErrSessionComplete, resp.Result.Code)

	w := f.do(t, http.MethodGet, "/api/v1/sessions/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeData[SessionView](t, w).State.Complete)
}

func TestSessionHandler_InvalidInvocations(t *testing.T) {
	f := newAPIFixture(t, 0)
	id := f.open(t)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{"unknown tool", "/api/v1/sessions/" + id + "/tools/transfer_funds", "{}", http.StatusBadRequest, types.ErrInvalidRequest},
		{"bad arguments", "/api/v1/sessions/" + id + "/tools/load_task", `{"name":"John"}`, http.StatusBadRequest, types.ErrInvalidRequest},
		{"missing confirmed", "/api/v1/sessions/" + id + "/tools/record_resolution", `{}`, http.StatusBadRequest, types.ErrInvalidRequest},
		{"unknown session", "/api/v1/sessions/nope/tools/get_challenge", "{}", http.StatusNotFound, types.ErrSessionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, string(tt.wantCode), decodeError(t, w).Code)
		})
	}

	// 参数错误不改变会话
	w := f.do(t, http.MethodGet, "/api/v1/sessions/"+id, "")
	assert.Equal(t, session.StageNoTask, decodeData[SessionView](t, w).State.Stage)
}

func TestSessionHandler_CloseAndLimit(t *testing.T) {
	f := newAPIFixture(t, 1)
	id := f.open(t)

	w := f.do(t, http.MethodPost, "/api/v1/sessions", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, string(types.ErrSessionLimit), decodeError(t, w).Code)

	w = f.do(t, http.MethodDelete, "/api/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodDelete, "/api/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.open(t)
}

func TestSessionHandler_ListTools(t *testing.T) {
	f := newAPIFixture(t, 0)

	w := f.do(t, http.MethodGet, "/api/v1/tools", "")
	require.Equal(t, http.StatusOK, w.Code)
	schemas := decodeData[[]types.ToolSchema](t, w)

	names := make([]string, 0, len(schemas))
	for _, s := range schemas {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		"load_task", "get_challenge", "submit_verification", "reveal_sensitive_details", "record_resolution",
	}, names)
}

func TestSessionHandler_CasesAreRedacted(t *testing.T) {
	f := newAPIFixture(t, 0)

	w := f.do(t, http.MethodGet, "/api/v1/cases", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.NotContains(t, body, "Smith")
	assert.NotContains(t, body, "Fluffy")
	assert.Contains(t, body, "[redacted]")

	f.repo.WithListError(casestore.ErrPersistence)
	w = f.do(t, http.MethodGet, "/api/v1/cases", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, string(types.ErrPersistence), decodeError(t, w).Code)
}

func TestSessionHandler_History(t *testing.T) {
	f := newAPIFixture(t, 0)
	recordID := testutil.PendingID(t, f.repo, "Mike")

	id := f.open(t)
	f.invoke(t, id, "load_task", `{"identity":"Mike"}`)
	f.invoke(t, id, "submit_verification", `{"answer":"Chicago"}`)
	f.invoke(t, id, "record_resolution", `{"confirmed":true}`)

	w := f.do(t, http.MethodGet, "/api/v1/cases/"+recordID+"/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	events := decodeData[[]casestore.Event](t, w)
	require.Len(t, events, 1)
	assert.Equal(t, casestore.StatusPending, events[0].From)
	assert.Equal(t, casestore.StatusResolvedSafe, events[0].To)
	assert.Equal(t, "session:"+id, events[0].Actor)
	testutil.AssertResolved(t, f.repo, recordID, casestore.StatusResolvedSafe)

	w = f.do(t, http.MethodGet, "/api/v1/cases/missing/history", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
