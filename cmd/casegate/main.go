// =============================================================================
// CaseGate 主入口
// =============================================================================
// 使用方法:
//
//	casegate serve                       # 启动服务
//	casegate serve --config config.yaml  # 指定配置文件
//	casegate migrate up                  # 运行数据库迁移
//	casegate cases list                  # 列出记录（答案脱敏）
//	casegate simulate                    # 在内存仓储上回放一次核实流程
//	casegate health                      # 健康检查
//	casegate version                     # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/casegate/api"
	"github.com/BaSui01/casegate/config"
	"github.com/BaSui01/casegate/internal/tlsutil"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// rootOptions 全局 flag
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "casegate",
		Short: "Gated verification workflow for pending fraud cases",
		Long: `casegate serves the session task state machine over HTTP and WebSocket.

A session loads one pending case by identity, verifies the subject against the
case's challenge, reveals the case details only after verification, and records
the subject's decision exactly once.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file (YAML)")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newCasesCmd(opts),
		newSimulateCmd(opts),
		newHealthCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig 默认值 → YAML → CASEGATE_* 环境变量，然后校验
func loadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API and metrics servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}

			logger := initLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			logger.Info("starting CaseGate",
				zap.String("version", Version),
				zap.String("build_time", BuildTime),
				zap.String("git_commit", GitCommit),
				zap.String("store", cfg.Store.Type),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, err := NewServer(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if err := srv.Run(ctx); err != nil {
				return err
			}
			logger.Info("CaseGate stopped")
			return nil
		},
	}
}

// =============================================================================
// 🏥 health 命令
// =============================================================================

func newHealthCmd() *cobra.Command {
	var (
		addr    string
		token   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the readiness endpoint of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := api.NewClient(addr,
				api.WithHTTPClient(tlsutil.HTTPClient(timeout)),
				api.WithToken(token),
			)
			if err != nil {
				return err
			}
			health, err := client.Ready(cmd.Context())
			if health != nil {
				printHealth(cmd.OutOrStdout(), health)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "Server address")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	return cmd
}

func printHealth(w io.Writer, h *api.Health) {
	fmt.Fprintf(w, "%s (version %s)\n", h.Status, h.Version)
	for name, c := range h.Checks {
		line := fmt.Sprintf("  %-12s %s %s", name, c.Status, c.Latency)
		if c.Message != "" {
			line += "  " + c.Message
		}
		fmt.Fprintln(w, line)
	}
}

// =============================================================================
// 📋 version 命令
// =============================================================================

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "CaseGate %s\n", Version)
			fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		},
	}
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
