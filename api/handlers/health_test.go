package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 HealthHandler 测试
// =============================================================================

func newHealthMux(h *HealthHandler) *http.ServeMux {
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func TestHealthHandler_Liveness(t *testing.T) {
	h := NewHealthHandler(BuildInfo{Version: "1.2.3"}, zap.NewNop())
	mux := newHealthMux(h)

	for _, path := range []string{"/health", "/healthz"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

		assert.Equal(t, http.StatusOK, w.Code, path)
		var status HealthStatus
		require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
		assert.Equal(t, "healthy", status.Status)
		assert.Equal(t, "1.2.3", status.Version)
	}
}

func TestHealthHandler_Ready(t *testing.T) {
	tests := []struct {
		name       string
		checks     []HealthCheck
		wantStatus int
		wantState  string
	}{
		{name: "no checks", wantStatus: http.StatusOK, wantState: "healthy"},
		{
			name: "all pass",
			checks: []HealthCheck{
				NewPingCheck("case_store", func(context.Context) error { return nil }),
			},
			wantStatus: http.StatusOK,
			wantState:  "healthy",
		},
		{
			name: "store down",
			checks: []HealthCheck{
				NewPingCheck("case_store", func(context.Context) error { return errors.New("connection refused") }),
				NewPingCheck("sessions", func(context.Context) error { return nil }),
			},
			wantStatus: http.StatusServiceUnavailable,
			wantState:  "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(BuildInfo{}, nil)
			for _, c := range tt.checks {
				h.RegisterCheck(c)
			}

			w := httptest.NewRecorder()
			newHealthMux(h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			var status HealthStatus
			require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
			assert.Equal(t, tt.wantState, status.Status)
			assert.Len(t, status.Checks, len(tt.checks))
			if tt.wantState == "unhealthy" {
				assert.Equal(t, "fail", status.Checks["case_store"].Status)
				assert.Equal(t, "connection refused", status.Checks["case_store"].Message)
				assert.Equal(t, "pass", status.Checks["sessions"].Status)
			}
		})
	}
}

func TestHealthHandler_Version(t *testing.T) {
	build := BuildInfo{Version: "1.0.0", BuildTime: "2026-01-01", GitCommit: "abc123"}
	w := httptest.NewRecorder()
	newHealthMux(NewHealthHandler(build, nil)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool      `json:"success"`
		Data    BuildInfo `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, build, resp.Data)
}

func TestHealthHandler_MethodNotAllowed(t *testing.T) {
	w := httptest.NewRecorder()
	newHealthMux(NewHealthHandler(BuildInfo{}, nil)).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
