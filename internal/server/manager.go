package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/casegate/config"
)

// =============================================================================
// 🌐 HTTP 监听管理
// =============================================================================

// ShutdownHook 在监听停止后执行，例如关闭会话管理器与案例仓储
type ShutdownHook func(ctx context.Context) error

// Config 单个监听（API 或 metrics）的参数
type Config struct {
	Name            string
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
	// 非空时以 HTTPS 提供服务
	TLS *tls.Config
}

// APIConfig 由 server 配置段构造 API 监听参数
func APIConfig(sc config.ServerConfig, tlsConfig *tls.Config) Config {
	return Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", sc.HTTPPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     2 * sc.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: sc.ShutdownTimeout,
		TLS:             tlsConfig,
	}
}

// MetricsConfig 构造 Prometheus 抓取端口的监听参数
func MetricsConfig(sc config.ServerConfig) Config {
	return Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", sc.MetricsPort),
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     time.Minute,
		MaxHeaderBytes:  64 << 10,
		ShutdownTimeout: sc.ShutdownTimeout,
	}
}

// Manager 管理一个 HTTP 监听的生命周期。
//
// 请求 ctx 派生自 Manager 的基础 ctx，Shutdown 开始时先取消它，
// 这样已被 WebSocket 劫持、不受 http.Server.Shutdown 管理的会话流也会退出。
type Manager struct {
	server *http.Server
	config Config
	logger *zap.Logger

	base       context.Context
	cancelBase context.CancelFunc
	active     atomic.Int64
	errCh      chan error

	mu       sync.Mutex
	listener net.Listener
	hooks    []ShutdownHook
	closed   bool
}

// NewManager 创建监听管理器
func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "http"
	}

	m := &Manager{
		config: cfg,
		logger: logger.With(zap.String("component", "http_server"), zap.String("server", cfg.Name)),
		errCh:  make(chan error, 1),
	}
	m.base, m.cancelBase = context.WithCancel(context.Background())
	m.server = &http.Server{
		Addr:           cfg.Addr,
		Handler:        handler,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		TLSConfig:      cfg.TLS,
		ErrorLog:       zap.NewStdLog(m.logger.Named("net/http")),
		BaseContext:    func(net.Listener) context.Context { return m.base },
		ConnState:      m.trackConn,
	}
	return m
}

// trackConn 统计打开的连接; 劫持后的连接（WebSocket）按关闭计
func (m *Manager) trackConn(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		m.active.Add(1)
	case http.StateHijacked, http.StateClosed:
		m.active.Add(-1)
	}
}

// ActiveConnections 返回 net/http 仍在管理的连接数
func (m *Manager) ActiveConnections() int64 {
	return m.active.Load()
}

// OnShutdown 注册关闭钩子，按注册的逆序执行
func (m *Manager) OnShutdown(hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Start 绑定端口并在后台提供服务
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return fmt.Errorf("server %s is closed", m.config.Name)
	case m.listener != nil:
		return fmt.Errorf("server %s already started", m.config.Name)
	}

	ln, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.Addr, err)
	}
	if m.config.TLS != nil {
		ln = tls.NewListener(ln, m.config.TLS)
	}
	m.listener = ln
	m.logger.Info("listening",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", m.config.TLS != nil),
	)

	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("HTTP server failed", zap.Error(err))
			select {
			case m.errCh <- err:
			default:
			}
		}
	}()
	return nil
}

// Run 启动并阻塞，直到 ctx 结束或 Serve 异常退出，随后优雅关闭
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-m.errCh:
	}

	shutdownErr := m.Shutdown(context.WithoutCancel(ctx))
	if serveErr != nil {
		return fmt.Errorf("server %s: %w", m.config.Name, serveErr)
	}
	return shutdownErr
}

// Shutdown 取消在途请求的 ctx，停止监听并等待连接排空，然后执行关闭钩子。
// 重复调用为空操作。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	hooks := m.hooks
	m.hooks = nil
	m.mu.Unlock()

	m.logger.Info("shutting down", zap.Int64("open_connections", m.active.Load()))
	m.cancelBase()

	ctx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Error("HTTP server shutdown failed",
			zap.Int64("open_connections", m.active.Load()),
			zap.Error(err),
		)
		errs = append(errs, err)
	}
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](ctx); err != nil {
			m.logger.Warn("shutdown hook failed", zap.Int("hook", i), zap.Error(err))
			errs = append(errs, err)
		}
	}

	m.logger.Info("stopped")
	return errors.Join(errs...)
}

// Addr 返回实际监听地址；未启动时返回配置地址
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}
