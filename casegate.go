// Package casegate wires the case store, dispatcher, session manager and HTTP
// handlers into one Engine. cmd/casegate drives it; tests can build one over
// an in-memory store.
//
// Usage:
//
//	cfg := config.DefaultConfig()
//	eng, err := casegate.New(ctx, cfg, logger)
//	defer eng.Close(ctx)
//	mux := http.NewServeMux()
//	eng.Register(mux, handlers.BuildInfo{Version: "dev"})
package casegate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/casegate/api/handlers"
	"github.com/BaSui01/casegate/casestore"
	"github.com/BaSui01/casegate/config"
	"github.com/BaSui01/casegate/dispatcher"
	"github.com/BaSui01/casegate/internal/database"
	"github.com/BaSui01/casegate/internal/metrics"
)

// Engine 持有一次进程生命周期内的全部核心组件
type Engine struct {
	Config     *config.Config
	Repo       casestore.Repository
	Dispatcher *dispatcher.Dispatcher
	Sessions   *dispatcher.Manager
	Tools      *dispatcher.Tools

	metrics *metrics.Collector
	tracers trace.TracerProvider
	logger  *zap.Logger
	checks  []handlers.HealthCheck
}

// Option 配置 Engine
type Option func(*engineOptions)

type engineOptions struct {
	metrics *metrics.Collector
	repo    casestore.Repository
	tracers trace.TracerProvider
}

// WithMetrics 接入 Prometheus 收集器；仓储、调度器与会话管理器都会上报
func WithMetrics(c *metrics.Collector) Option {
	return func(o *engineOptions) { o.metrics = c }
}

// WithTracerProvider 让调度器的 span 走指定 provider，默认使用全局 provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *engineOptions) { o.tracers = tp }
}

// WithRepository 使用外部构造的仓储，跳过 cfg.Store 驱动的构造
func WithRepository(repo casestore.Repository) Option {
	return func(o *engineOptions) { o.repo = repo }
}

// New 按配置构造 Engine。失败时已打开的资源会被释放。
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	repo := o.repo
	if repo == nil {
		var err error
		repo, err = casestore.NewRepository(ctx, cfg.StoreConfig(), logger)
		if err != nil {
			return nil, fmt.Errorf("open case store: %w", err)
		}
	}
	if o.metrics != nil {
		repo = casestore.Instrument(repo, backendName(cfg), o.metrics)
	}

	e := &Engine{
		Config:  cfg,
		Repo:    repo,
		metrics: o.metrics,
		tracers: o.tracers,
		logger:  logger.With(zap.String("component", "engine")),
	}
	if err := e.init(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) init(ctx context.Context) error {
	cfg := e.Config

	if cfg.Store.Seed {
		if _, err := casestore.Seed(ctx, e.Repo, casestore.SampleRecords(), e.logger); err != nil {
			return fmt.Errorf("seed case store: %w", err)
		}
	}

	dopts := []dispatcher.Option{
		dispatcher.WithLogger(e.logger),
		dispatcher.WithPersistTimeout(cfg.Workflow.PersistTimeout),
		dispatcher.WithMaxVerificationAttempts(cfg.Workflow.MaxVerificationAttempts),
		dispatcher.WithTracerProvider(e.tracers),
	}
	if cfg.Workflow.ScriptPath != "" {
		script, err := dispatcher.LoadScript(cfg.Workflow.ScriptPath)
		if err != nil {
			return err
		}
		dopts = append(dopts, dispatcher.WithScript(script))
	}
	var sessionMetrics dispatcher.SessionMetrics
	if e.metrics != nil {
		dopts = append(dopts, dispatcher.WithMetrics(e.metrics))
		sessionMetrics = e.metrics
	}

	d, err := dispatcher.New(e.Repo, dopts...)
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}
	tools, err := dispatcher.NewTools(d)
	if err != nil {
		return fmt.Errorf("create tools: %w", err)
	}

	e.Dispatcher = d
	e.Tools = tools
	e.Sessions = dispatcher.NewManager(dispatcher.ManagerConfig{
		MaxSessions:   cfg.Workflow.MaxSessions,
		IdleTimeout:   cfg.Workflow.SessionIdleTimeout,
		SweepInterval: sweepInterval(cfg.Workflow.SessionIdleTimeout),
	}, e.logger, sessionMetrics)

	e.checks = []handlers.HealthCheck{handlers.NewPingCheck("case_store", e.Repo.Ping)}
	if pool := e.sqlPool(); pool != nil {
		// SQL 后端额外报告连接池是否被占满
		e.checks = append(e.checks, handlers.NewPingCheck("case_store_pool", pool.Check))
	}
	return nil
}

// Register 挂载业务路由与探针
func (e *Engine) Register(mux *http.ServeMux, build handlers.BuildInfo) {
	handlers.NewSessionHandler(e.Sessions, e.Tools, e.Repo, e.logger).Register(mux)
	handlers.NewStreamHandler(e.Sessions, e.Tools, e.Config.Server.AllowedOrigins, e.logger).Register(mux)

	health := handlers.NewHealthHandler(build, e.logger)
	for _, c := range e.checks {
		health.RegisterCheck(c)
	}
	health.Register(mux)
}

// sqlPool 返回 SQL 后端的连接池，其他后端为 nil
func (e *Engine) sqlPool() *database.PoolManager {
	store, ok := casestore.Base(e.Repo).(*casestore.SQLStore)
	if !ok {
		return nil
	}
	return store.Pool()
}

// ReportPoolStats 把 SQL 连接池状态写入指标；非 SQL 后端为空操作
func (e *Engine) ReportPoolStats() {
	pool := e.sqlPool()
	if e.metrics == nil || pool == nil {
		return
	}
	h := pool.Health()
	e.metrics.RecordDBConnections(e.Config.Database.Driver, h.Open, h.Idle)
	if h.Saturated() {
		e.logger.Warn("case store pool saturated",
			zap.Int("in_use", h.InUse),
			zap.Int("max_open", h.MaxOpen),
			zap.Int64("wait_count", h.WaitCount),
		)
	}
}

// RunPoolReporter 按 interval 周期上报连接池状态，直到 ctx 结束
func (e *Engine) RunPoolReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		e.ReportPoolStats()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close 先结束全部会话，再关闭仓储
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if e.Sessions != nil {
		errs = append(errs, e.Sessions.Shutdown(ctx))
	}
	errs = append(errs, e.Repo.Close())
	return errors.Join(errs...)
}

func backendName(cfg *config.Config) string {
	if cfg.Store.Type == "" {
		return string(casestore.StoreTypeMemory)
	}
	return cfg.Store.Type
}

// sweepInterval 空闲回收检查频率：超时的四分之一，下限一秒
func sweepInterval(idle time.Duration) time.Duration {
	if idle <= 0 {
		return 0
	}
	return max(idle/4, time.Second)
}
