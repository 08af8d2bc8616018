package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/casegate/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func testConfig() Config {
	return Config{Addr: "127.0.0.1:0", ShutdownTimeout: 2 * time.Second}
}

func TestAPIAndMetricsConfig(t *testing.T) {
	sc := config.DefaultConfig().Server
	sc.HTTPPort = 9000
	sc.MetricsPort = 9100
	sc.ReadTimeout = 20 * time.Second

	api := APIConfig(sc, nil)
	assert.Equal(t, "api", api.Name)
	assert.Equal(t, ":9000", api.Addr)
	assert.Equal(t, 40*time.Second, api.IdleTimeout)
	assert.Equal(t, sc.ShutdownTimeout, api.ShutdownTimeout)
	assert.Nil(t, api.TLS)

	m := MetricsConfig(sc)
	assert.Equal(t, "metrics", m.Name)
	assert.Equal(t, ":9100", m.Addr)
	assert.Equal(t, sc.ShutdownTimeout, m.ShutdownTimeout)
}

func TestManager_StartAndShutdown(t *testing.T) {
	m := NewManager(okHandler(), testConfig(), zap.NewNop())
	assert.Equal(t, "http", m.config.Name)
	assert.Equal(t, "127.0.0.1:0", m.Addr())

	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	assert.NotEqual(t, "127.0.0.1:0", m.Addr())

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()), "second shutdown is a no-op")
	_, err = http.Get("http://" + m.Addr() + "/")
	assert.Error(t, err)
	assert.Zero(t, m.ActiveConnections())

	err = m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestManager_DoubleStart(t *testing.T) {
	m := NewManager(http.NewServeMux(), testConfig(), zap.NewNop())

	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}

func TestManager_ShutdownHooksRunInReverse(t *testing.T) {
	m := NewManager(http.NewServeMux(), testConfig(), zap.NewNop())

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string, err error) ShutdownHook {
		return func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return err
		}
	}
	hookErr := errors.New("store close failed")
	m.OnShutdown(record("store", hookErr))
	m.OnShutdown(record("sessions", nil))

	require.NoError(t, m.Start())
	err := m.Shutdown(context.Background())

	require.ErrorIs(t, err, hookErr)
	assert.Equal(t, []string{"sessions", "store"}, order)
}

// 被劫持的会话流不受 http.Server.Shutdown 管理，应通过请求 ctx 退出
func TestManager_ShutdownEndsWebSocketStreams(t *testing.T) {
	streamDone := make(chan error, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			streamDone <- err
			return
		}
		defer conn.CloseNow()
		_, _, err = conn.Read(r.Context())
		streamDone <- err
	})

	m := NewManager(handler, testConfig(), zap.NewNop())
	require.NoError(t, m.Start())

	dialCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(dialCtx, "ws://"+m.Addr()+"/", nil)
	require.NoError(t, err)
	defer client.CloseNow()

	require.Eventually(t, func() bool { return m.ActiveConnections() == 0 }, time.Second, 10*time.Millisecond,
		"hijacked connection leaves net/http accounting")

	require.NoError(t, m.Shutdown(context.Background()))
	select {
	case err := <-streamDone:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler still running after shutdown")
	}
}

func TestManager_RunStopsOnContextCancel(t *testing.T) {
	m := NewManager(okHandler(), testConfig(), zap.NewNop())

	hookCalled := make(chan struct{})
	m.OnShutdown(func(context.Context) error {
		close(hookCalled)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.Addr() != "127.0.0.1:0" }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	<-hookCalled
}

func TestManager_RunListenError(t *testing.T) {
	first := NewManager(http.NewServeMux(), testConfig(), zap.NewNop())
	require.NoError(t, first.Start())
	t.Cleanup(func() { _ = first.Shutdown(context.Background()) })

	cfg := testConfig()
	cfg.Addr = first.Addr()
	second := NewManager(http.NewServeMux(), cfg, zap.NewNop())

	err := second.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}
