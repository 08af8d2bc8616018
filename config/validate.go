package config

import (
	"fmt"
	"slices"
	"strings"
)

var (
	storeTypes    = []string{"memory", "file", "redis", "sql", "mongo"}
	sqlDrivers    = []string{"sqlite", "sqlite3", "postgres", "mysql"}
	logLevels     = []string{"debug", "info", "warn", "error"}
	logFormats    = []string{"json", "console"}
	exporterKinds = []string{"otlp", "stdout"}
)

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 服务器
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, "metrics port must differ from HTTP port")
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, "rate limit must not be negative")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "tls_cert_file and tls_key_file must be set together")
	}

	// 仓储
	if !oneOf(c.Store.Type, storeTypes) {
		errs = append(errs, fmt.Sprintf("store.type must be one of %s", strings.Join(storeTypes, ", ")))
	}
	if c.Store.MaxRetries < 0 {
		errs = append(errs, "store.max_retries must not be negative")
	}
	switch c.Store.Type {
	case "file":
		if c.Store.BaseDir == "" {
			errs = append(errs, "store.base_dir is required for the file store")
		}
	case "sql":
		if !oneOf(c.Database.Driver, sqlDrivers) {
			errs = append(errs, fmt.Sprintf("database.driver must be one of %s", strings.Join(sqlDrivers, ", ")))
		} else if c.Database.DSN() == "" {
			errs = append(errs, "database connection is not configured")
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis store")
		}
	case "mongo":
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			errs = append(errs, "mongo.uri and mongo.database are required for the mongo store")
		}
	}

	// 工作流
	if c.Workflow.PersistTimeout <= 0 {
		errs = append(errs, "workflow.persist_timeout must be positive")
	}
	if c.Workflow.MaxVerificationAttempts < 0 {
		errs = append(errs, "workflow.max_verification_attempts must not be negative")
	}
	if c.Workflow.MaxSessions < 0 {
		errs = append(errs, "workflow.max_sessions must not be negative")
	}

	// 日志
	if !oneOf(strings.ToLower(c.Log.Level), logLevels) {
		errs = append(errs, "log.level must be one of debug, info, warn, error")
	}
	if !oneOf(c.Log.Format, logFormats) {
		errs = append(errs, "log.format must be json or console")
	}

	// 遥测
	if c.Telemetry.Enabled {
		if !oneOf(c.Telemetry.Exporter, exporterKinds) {
			errs = append(errs, "telemetry.exporter must be otlp or stdout")
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
		}
	}

	// 鉴权
	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, "auth.jwt_secret must be at least 32 bytes when auth is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func oneOf(v string, allowed []string) bool {
	return slices.Contains(allowed, v)
}
