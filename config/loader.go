// =============================================================================
// 📦 CaseGate 配置加载器
// =============================================================================
// 默认值 → YAML 文件（支持 ${VAR} 展开，拒绝未知键）→ CASEGATE_* 环境变量
//
// 使用方法:
//
//	cfg, err := config.Load("casegate.yaml")
//
// 环境变量名为 <前缀>_<段>_<键>，例如 CASEGATE_STORE_TYPE、CASEGATE_WORKFLOW_MAX_SESSIONS；
// 另外识别 DATABASE_URL 与 MONGODB_URI 这两个部署平台常注入的变量。
// =============================================================================
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 CaseGate 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server"`

	// Store 任务记录仓储配置
	Store StoreConfig `yaml:"store"`

	// Database SQL 后端配置
	Database DatabaseConfig `yaml:"database"`

	// Redis 后端配置
	Redis RedisConfig `yaml:"redis"`

	// Mongo 后端配置
	Mongo MongoConfig `yaml:"mongo"`

	// Workflow 会话与调度配置
	Workflow WorkflowConfig `yaml:"workflow"`

	// Log 日志配置
	Log LogConfig `yaml:"log"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Auth 操作员鉴权配置
	Auth AuthConfig `yaml:"auth"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// 每个客户端 IP 的限流速率
	RateLimitRPS int `yaml:"rate_limit_rps"`
	// 限流突发容量
	RateLimitBurst int `yaml:"rate_limit_burst"`
	// WebSocket 允许的 Origin 模式
	AllowedOrigins []string `yaml:"allowed_origins"`
	// TLS 证书与私钥，两者同时设置时启用 HTTPS
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
}

// StoreConfig 仓储配置
type StoreConfig struct {
	// 类型: memory, file, redis, sql, mongo
	Type string `yaml:"type"`
	// file 后端的数据目录
	BaseDir string `yaml:"base_dir"`
	// 空库时写入示例记录
	Seed bool `yaml:"seed"`
	// 网络后端的连接超时
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// UpdateStatus 最大重试次数，0 表示不重试
	MaxRetries int `yaml:"max_retries"`
	// 初始退避
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	// 最大退避
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: sqlite, sqlite3, postgres, mysql
	Driver string `yaml:"driver"`
	// 完整 DSN，设置后忽略 Host/Port 等字段
	URL string `yaml:"url"`
	// 主机
	Host string `yaml:"host"`
	// 端口
	Port int `yaml:"port"`
	// 用户名
	User string `yaml:"user"`
	// 密码
	Password string `yaml:"password"`
	// 数据库名；sqlite 下为文件路径
	Name string `yaml:"name"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode"`
	// 启动时通过 GORM 建表
	AutoMigrate bool `yaml:"auto_migrate"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr"`
	// 密码
	Password string `yaml:"password"`
	// 数据库编号
	DB int `yaml:"db"`
	// 连接池大小
	PoolSize int `yaml:"pool_size"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix"`
	// 启用 TLS
	TLS bool `yaml:"tls"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// WorkflowConfig 会话与调度配置
type WorkflowConfig struct {
	// 单次持久化调用的超时
	PersistTimeout time.Duration `yaml:"persist_timeout"`
	// 验证失败上限，0 表示不限
	MaxVerificationAttempts int `yaml:"max_verification_attempts"`
	// 同时打开的会话上限，0 表示不限
	MaxSessions int `yaml:"max_sessions"`
	// 空闲会话回收时间，0 表示不回收
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	// 话术 YAML 文件，空则使用内置话术
	ScriptPath string `yaml:"script_path"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level"`
	// 输出格式: json, console
	Format string `yaml:"format"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled"`
	// 导出器: otlp, stdout
	Exporter string `yaml:"exporter"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	// 服务名称
	ServiceName string `yaml:"service_name"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate"`
}

// AuthConfig 操作员 JWT 鉴权配置
type AuthConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled"`
	// HMAC 签名密钥
	JWTSecret string `yaml:"jwt_secret"`
	// 期望的 issuer，空则不校验
	Issuer string `yaml:"issuer"`
	// 期望的 audience，空则不校验
	Audience string `yaml:"audience"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Load 是命令行使用的标准入口: 读取 path（可为空）与环境变量并校验
func Load(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
}

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建读取 CASEGATE_* 变量的加载器
func NewLoader() *Loader {
	return &Loader{envPrefix: "CASEGATE", lookupEnv: os.LookupEnv}
}

// WithConfigPath 设置 YAML 文件路径; 文件不存在时沿用默认值
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 追加校验器，按添加顺序执行
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 依次应用默认值、YAML 文件与环境变量，然后运行校验器
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.applyFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}
	if err := l.applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// applyFile 解析 YAML; ${VAR} 先按进程环境展开，未知键视为错误
func (l *Loader) applyFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.Expand(string(data), func(name string) string {
		v, _ := l.lookupEnv(name)
		return v
	})
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// =============================================================================
// 🌱 环境变量绑定
// =============================================================================

// envBinding 把一个环境变量（不含前缀）绑定到配置字段
type envBinding struct {
	key string
	set func(string) error
}

// applyEnv 按绑定表覆盖字段; 空值视为未设置
func (l *Loader) applyEnv(cfg *Config) error {
	for _, b := range envBindings(cfg) {
		name := l.envPrefix + "_" + b.key
		v, ok := l.lookupEnv(name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(v); err != nil {
			return fmt.Errorf("failed to set %s: %w", name, err)
		}
	}

	// 平台注入的连接串只在前缀变量缺席时生效
	for _, alias := range []struct {
		name, prefixed string
		dst            *string
	}{
		{"DATABASE_URL", "DATABASE_URL", &cfg.Database.URL},
		{"MONGODB_URI", "MONGO_URI", &cfg.Mongo.URI},
	} {
		if v, ok := l.lookupEnv(l.envPrefix + "_" + alias.prefixed); ok && v != "" {
			continue
		}
		if v, ok := l.lookupEnv(alias.name); ok && v != "" {
			*alias.dst = v
		}
	}
	return nil
}

// envBindings 列出每个可由环境变量覆盖的字段
func envBindings(cfg *Config) []envBinding {
	s, st, db, r, m := &cfg.Server, &cfg.Store, &cfg.Database, &cfg.Redis, &cfg.Mongo
	w, lg, tm, a := &cfg.Workflow, &cfg.Log, &cfg.Telemetry, &cfg.Auth
	return []envBinding{
		{"SERVER_HTTP_PORT", intVar(&s.HTTPPort)},
		{"SERVER_METRICS_PORT", intVar(&s.MetricsPort)},
		{"SERVER_READ_TIMEOUT", durationVar(&s.ReadTimeout)},
		{"SERVER_WRITE_TIMEOUT", durationVar(&s.WriteTimeout)},
		{"SERVER_SHUTDOWN_TIMEOUT", durationVar(&s.ShutdownTimeout)},
		{"SERVER_RATE_LIMIT_RPS", intVar(&s.RateLimitRPS)},
		{"SERVER_RATE_LIMIT_BURST", intVar(&s.RateLimitBurst)},
		{"SERVER_ALLOWED_ORIGINS", listVar(&s.AllowedOrigins)},
		{"SERVER_TLS_CERT_FILE", stringVar(&s.TLSCertFile)},
		{"SERVER_TLS_KEY_FILE", stringVar(&s.TLSKeyFile)},

		{"STORE_TYPE", stringVar(&st.Type)},
		{"STORE_BASE_DIR", stringVar(&st.BaseDir)},
		{"STORE_SEED", boolVar(&st.Seed)},
		{"STORE_CONNECT_TIMEOUT", durationVar(&st.ConnectTimeout)},
		{"STORE_MAX_RETRIES", intVar(&st.MaxRetries)},
		{"STORE_INITIAL_BACKOFF", durationVar(&st.InitialBackoff)},
		{"STORE_MAX_BACKOFF", durationVar(&st.MaxBackoff)},

		{"DATABASE_DRIVER", stringVar(&db.Driver)},
		{"DATABASE_URL", stringVar(&db.URL)},
		{"DATABASE_HOST", stringVar(&db.Host)},
		{"DATABASE_PORT", intVar(&db.Port)},
		{"DATABASE_USER", stringVar(&db.User)},
		{"DATABASE_PASSWORD", stringVar(&db.Password)},
		{"DATABASE_NAME", stringVar(&db.Name)},
		{"DATABASE_SSL_MODE", stringVar(&db.SSLMode)},
		{"DATABASE_AUTO_MIGRATE", boolVar(&db.AutoMigrate)},
		{"DATABASE_MAX_OPEN_CONNS", intVar(&db.MaxOpenConns)},
		{"DATABASE_MAX_IDLE_CONNS", intVar(&db.MaxIdleConns)},
		{"DATABASE_CONN_MAX_LIFETIME", durationVar(&db.ConnMaxLifetime)},

		{"REDIS_ADDR", stringVar(&r.Addr)},
		{"REDIS_PASSWORD", stringVar(&r.Password)},
		{"REDIS_DB", intVar(&r.DB)},
		{"REDIS_POOL_SIZE", intVar(&r.PoolSize)},
		{"REDIS_KEY_PREFIX", stringVar(&r.KeyPrefix)},
		{"REDIS_TLS", boolVar(&r.TLS)},

		{"MONGO_URI", stringVar(&m.URI)},
		{"MONGO_DATABASE", stringVar(&m.Database)},
		{"MONGO_COLLECTION", stringVar(&m.Collection)},

		{"WORKFLOW_PERSIST_TIMEOUT", durationVar(&w.PersistTimeout)},
		{"WORKFLOW_MAX_VERIFICATION_ATTEMPTS", intVar(&w.MaxVerificationAttempts)},
		{"WORKFLOW_MAX_SESSIONS", intVar(&w.MaxSessions)},
		{"WORKFLOW_SESSION_IDLE_TIMEOUT", durationVar(&w.SessionIdleTimeout)},
		{"WORKFLOW_SCRIPT_PATH", stringVar(&w.ScriptPath)},

		{"LOG_LEVEL", stringVar(&lg.Level)},
		{"LOG_FORMAT", stringVar(&lg.Format)},
		{"LOG_OUTPUT_PATHS", listVar(&lg.OutputPaths)},
		{"LOG_ENABLE_CALLER", boolVar(&lg.EnableCaller)},
		{"LOG_ENABLE_STACKTRACE", boolVar(&lg.EnableStacktrace)},

		{"TELEMETRY_ENABLED", boolVar(&tm.Enabled)},
		{"TELEMETRY_EXPORTER", stringVar(&tm.Exporter)},
		{"TELEMETRY_OTLP_ENDPOINT", stringVar(&tm.OTLPEndpoint)},
		{"TELEMETRY_SERVICE_NAME", stringVar(&tm.ServiceName)},
		{"TELEMETRY_SAMPLE_RATE", floatVar(&tm.SampleRate)},

		{"AUTH_ENABLED", boolVar(&a.Enabled)},
		{"AUTH_JWT_SECRET", stringVar(&a.JWTSecret)},
		{"AUTH_ISSUER", stringVar(&a.Issuer)},
		{"AUTH_AUDIENCE", stringVar(&a.Audience)},
	}
}

func stringVar(p *string) func(string) error {
	return func(v string) error {
		*p = v
		return nil
	}
}

func intVar(p *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*p = n
		return nil
	}
}

func floatVar(p *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*p = f
		return nil
	}
}

func boolVar(p *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*p = b
		return nil
	}
}

func durationVar(p *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*p = d
		return nil
	}
}

// listVar 解析逗号分隔列表，忽略空项
func listVar(p *[]string) func(string) error {
	return func(v string) error {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*p = out
		return nil
	}
}
