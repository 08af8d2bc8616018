package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/casegate/api/handlers"
	"github.com/BaSui01/casegate/casestore"
	"github.com/BaSui01/casegate/dispatcher"
	"github.com/BaSui01/casegate/session"
	"github.com/BaSui01/casegate/testutil"
	"github.com/BaSui01/casegate/types"
)

func newTestClient(t *testing.T) (*Client, casestore.Repository) {
	t.Helper()

	repo := testutil.SeededStore(t)
	d, err := dispatcher.New(repo)
	require.NoError(t, err)
	tools, err := dispatcher.NewTools(d)
	require.NoError(t, err)
	manager := dispatcher.NewManager(dispatcher.ManagerConfig{MaxSessions: 4}, nil, nil)
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })

	mux := http.NewServeMux()
	handlers.NewSessionHandler(manager, tools, repo, nil).Register(mux)
	health := handlers.NewHealthHandler(handlers.BuildInfo{Version: "test"}, nil)
	health.RegisterCheck(handlers.NewPingCheck("repository", repo.Ping))
	health.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL+"/", WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c, repo
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8080", "://x"} {
		_, err := NewClient(raw)
		assert.Error(t, err, raw)
	}
}

func TestClient_VerificationWorkflow(t *testing.T) {
	c, repo := newTestClient(t)
	ctx := testutil.TestContext(t)

	s, err := c.OpenSession(ctx)
	require.NoError(t, err)

	inv, err := c.Invoke(ctx, s.ID, "load_task", LoadTaskRequest{Identity: "Mike"})
	require.NoError(t, err)
	assert.True(t, inv.Result.OK())

	inv, err = c.Invoke(ctx, s.ID, "submit_verification", SubmitVerificationRequest{Answer: "chicago"})
	require.NoError(t, err)
	assert.True(t, inv.Session.State.Verified)

	inv, err = c.Invoke(ctx, s.ID, "record_resolution", RecordResolutionRequest{Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, session.StageResolved, inv.Session.State.Stage)

	got, err := c.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.State.Complete)

	recordID := inv.Session.State.TaskID
	require.NotEmpty(t, recordID)
	events, err := c.History(ctx, recordID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, casestore.StatusResolvedSafe, events[0].To)

	rec, err := repo.Get(ctx, recordID)
	require.NoError(t, err)
	assert.Equal(t, casestore.StatusResolvedSafe, rec.Status)

	require.NoError(t, c.CloseSession(ctx, s.ID))
}

func TestClient_ErrorsCarryCodes(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := testutil.TestContext(t)

	_, err := c.GetSession(ctx, "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, types.ErrSessionNotFound, apiErr.Code)
	assert.True(t, types.IsErrorCode(apiErr.AsTypesError(), types.ErrSessionNotFound))

	s, err := c.OpenSession(ctx)
	require.NoError(t, err)
	_, err = c.Invoke(ctx, s.ID, "load_task", map[string]any{"identity": 42})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, types.ErrInvalidRequest, apiErr.Code)

	// 被拒绝的操作不是调用错误
	inv, err := c.Invoke(ctx, s.ID, "reveal_sensitive_details", nil)
	require.NoError(t, err)
	assert.True(t, inv.Result.Refused())
	assert.Equal(t, types.ErrNoTaskLoaded, inv.Result.Code)
}

func TestClient_ToolsCasesReady(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := testutil.TestContext(t)

	schemas, err := c.Tools(ctx)
	require.NoError(t, err)
	assert.Len(t, schemas, 5)

	cases, err := c.Cases(ctx)
	require.NoError(t, err)
	require.Len(t, cases, 3)
	for _, rec := range cases {
		assert.Equal(t, "[redacted]", rec.ExpectedAnswer)
	}

	health, err := c.Ready(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "pass", health.Checks["repository"].Status)
}
