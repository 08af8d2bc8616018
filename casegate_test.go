package casegate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/casegate/api"
	"github.com/BaSui01/casegate/api/handlers"
	"github.com/BaSui01/casegate/casestore"
	"github.com/BaSui01/casegate/config"
	"github.com/BaSui01/casegate/internal/metrics"
	"github.com/BaSui01/casegate/session"
)

func newEngine(t *testing.T, cfg *config.Config, opts ...Option) *Engine {
	t.Helper()
	eng, err := New(context.Background(), cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	return eng
}

func TestEngine_EndToEnd(t *testing.T) {
	collector := metrics.NewCollector("casegate_test", nil)
	eng := newEngine(t, config.DefaultConfig(), WithMetrics(collector))

	mux := http.NewServeMux()
	eng.Register(mux, handlers.BuildInfo{Version: "test"})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := api.NewClient(srv.URL, api.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	ctx := context.Background()

	s, err := c.OpenSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, eng.Sessions.Len())

	_, err = c.Invoke(ctx, s.ID, "load_task", api.LoadTaskRequest{Identity: "John"})
	require.NoError(t, err)
	_, err = c.Invoke(ctx, s.ID, "submit_verification", api.SubmitVerificationRequest{Answer: "Smith"})
	require.NoError(t, err)
	inv, err := c.Invoke(ctx, s.ID, "record_resolution", api.RecordResolutionRequest{Confirmed: false})
	require.NoError(t, err)
	assert.Equal(t, session.StageResolved, inv.Session.State.Stage)

	rec, err := eng.Repo.Get(ctx, inv.Session.State.TaskID)
	require.NoError(t, err)
	assert.Equal(t, casestore.StatusResolvedAdverse, rec.Status)

	health, err := c.Ready(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pass", health.Checks["case_store"].Status)
	assert.NotContains(t, health.Checks, "case_store_pool", "memory store has no pool")

	n, err := testutil.GatherAndCount(collector.Registry(),
		"casegate_test_sessions_active", "casegate_test_store_operation_duration_seconds")
	require.NoError(t, err)
	assert.Greater(t, n, 1)
}

func TestEngine_NoSeed(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Seed = false
	eng := newEngine(t, cfg, WithRepository(casestore.NewMemoryStore()))

	n, err := eng.Repo.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEngine_ScriptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte("task_found: \"Case for {{.Identity}} is open.\"\n"), 0o600))

	cfg := config.DefaultConfig()
	cfg.Workflow.ScriptPath = path
	eng := newEngine(t, cfg)

	ctx := context.Background()
	s, err := eng.Sessions.Open()
	require.NoError(t, err)
	res := eng.Dispatcher.LoadTask(ctx, s, "Sarah")
	assert.Equal(t, "Case for Sarah is open.", res.Message)

	cfg = config.DefaultConfig()
	cfg.Workflow.ScriptPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = New(ctx, cfg, nil)
	assert.Error(t, err)
}

func TestEngine_SQLPoolStats(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Type = "sql"
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = filepath.Join(t.TempDir(), "cases.db")
	cfg.Database.AutoMigrate = true

	collector := metrics.NewCollector("casegate_pool", nil)
	eng := newEngine(t, cfg, WithMetrics(collector))

	n, err := eng.Repo.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	eng.ReportPoolStats()
	count, err := testutil.GatherAndCount(collector.Registry(), "casegate_pool_db_connections_open")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// 连接池检查挂在就绪探针上
	mux := http.NewServeMux()
	eng.Register(mux, handlers.BuildInfo{Version: "test"})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := api.NewClient(srv.URL, api.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	health, err := c.Ready(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pass", health.Checks["case_store"].Status)
	assert.Equal(t, "pass", health.Checks["case_store_pool"].Status)
	assert.False(t, eng.sqlPool().Health().LastCheck.IsZero())
}

func TestSweepInterval(t *testing.T) {
	assert.Zero(t, sweepInterval(0))
	assert.Equal(t, time.Second, sweepInterval(2*time.Second))
	assert.Equal(t, 5*time.Minute, sweepInterval(20*time.Minute))
}
