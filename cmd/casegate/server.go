package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/casegate"
	"github.com/BaSui01/casegate/api/handlers"
	"github.com/BaSui01/casegate/config"
	"github.com/BaSui01/casegate/internal/metrics"
	"github.com/BaSui01/casegate/internal/server"
	"github.com/BaSui01/casegate/internal/telemetry"
	"github.com/BaSui01/casegate/internal/tlsutil"
)

// poolReportInterval 连接池指标刷新周期
const poolReportInterval = 15 * time.Second

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 CaseGate 的主服务器：API 与 Metrics 双端口
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	engine    *casegate.Engine
	collector *metrics.Collector
	telemetry *telemetry.Providers

	httpManager    *server.Manager
	metricsManager *server.Manager
	limiterStop    context.CancelFunc
}

// NewServer 构造服务器及其依赖；返回错误时不持有任何资源
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		collector: metrics.NewCollector("casegate", logger),
	}

	providers, err := telemetry.Init(cfg.Telemetry, logger,
		telemetry.WithServiceVersion(Version),
		telemetry.WithResourceAttributes(telemetry.StoreType(cfg.Store.Type)),
	)
	if err != nil {
		// 遥测不可用不影响业务
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.telemetry = providers

	engine, err := casegate.New(ctx, cfg, logger,
		casegate.WithMetrics(s.collector),
		casegate.WithTracerProvider(providers.TracerProvider()),
	)
	if err != nil {
		s.shutdownTelemetry(ctx)
		return nil, err
	}
	s.engine = engine

	if err := s.initHTTPServer(); err != nil {
		_ = engine.Close(ctx)
		s.shutdownTelemetry(ctx)
		return nil, err
	}
	s.initMetricsServer()
	return s, nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) initHTTPServer() error {
	mux := http.NewServeMux()
	s.engine.Register(mux, handlers.BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	})

	var tlsConfig *tls.Config
	if s.cfg.Server.TLSCertFile != "" {
		c, err := tlsutil.ServerTLSConfig(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
		if err != nil {
			return err
		}
		tlsConfig = c
	}

	s.httpManager = server.NewManager(s.buildHandler(mux), server.APIConfig(s.cfg.Server, tlsConfig), s.logger)

	// HTTP 停止后依次关闭：会话与仓储，然后遥测
	s.httpManager.OnShutdown(func(ctx context.Context) error {
		return s.shutdownTelemetry(ctx)
	})
	s.httpManager.OnShutdown(func(ctx context.Context) error {
		return s.engine.Close(ctx)
	})
	return nil
}

// buildHandler 组装中间件链；限流清理 goroutine 在 Server 生命周期内存活
func (s *Server) buildHandler(mux http.Handler) http.Handler {
	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.AllowedOrigins),
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		limiterCtx, cancel := context.WithCancel(context.Background())
		s.limiterStop = cancel
		chain = append(chain, RateLimiter(limiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger))
	}
	if s.cfg.Auth.Enabled {
		chain = append(chain, JWTAuth(s.cfg.Auth, s.logger))
	}
	return Chain(mux, chain...)
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) initMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.collector.Handler())

	s.metricsManager = server.NewManager(mux, server.MetricsConfig(s.cfg.Server), s.logger)
}

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// Run 启动两个端口并阻塞到 ctx 结束或任一服务器出错，随后优雅关闭。
// 任一端口启动失败时另一个也会停止，关闭钩子总会执行。
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting servers",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.String("metrics_addr", s.metricsManager.Addr()),
		zap.Bool("tls", s.cfg.Server.TLSCertFile != ""),
		zap.Bool("auth", s.cfg.Auth.Enabled),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.httpManager.Run(gctx) })
	g.Go(func() error { return s.metricsManager.Run(gctx) })
	g.Go(func() error {
		s.engine.RunPoolReporter(gctx, poolReportInterval)
		return nil
	})
	err := g.Wait()

	// Run 在 Start 失败时不会触发 Shutdown；这里兜底，重复调用为空操作
	shutdownCtx := context.WithoutCancel(ctx)
	err = errors.Join(err, s.httpManager.Shutdown(shutdownCtx), s.metricsManager.Shutdown(shutdownCtx))

	if s.limiterStop != nil {
		s.limiterStop()
	}
	s.logger.Info("graceful shutdown completed")
	return err
}

func (s *Server) shutdownTelemetry(ctx context.Context) error {
	if s.telemetry == nil {
		return nil
	}
	return s.telemetry.Shutdown(ctx)
}
