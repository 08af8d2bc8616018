package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/casegate/casestore"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, StoreConfig{}, cfg.Store)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, MongoConfig{}, cfg.Mongo)
	assert.NotEqual(t, WorkflowConfig{}, cfg.Workflow)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 100, cfg.RateLimitRPS)
	assert.Equal(t, 200, cfg.RateLimitBurst)
}

func TestDefaultWorkflowConfig(t *testing.T) {
	cfg := DefaultWorkflowConfig()
	assert.Equal(t, 5*time.Second, cfg.PersistTimeout)
	assert.Zero(t, cfg.MaxVerificationAttempts, "unlimited by default")
	assert.Equal(t, 1000, cfg.MaxSessions)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTimeout)
	assert.Empty(t, cfg.ScriptPath)
}

func TestDefaultStoreConfig(t *testing.T) {
	cfg := DefaultStoreConfig()
	assert.Equal(t, "memory", cfg.Type)
	assert.True(t, cfg.Seed)
	assert.Equal(t, 2, cfg.MaxRetries)
}

func TestDefaultLogAndTelemetry(t *testing.T) {
	assert.Equal(t, "info", DefaultLogConfig().Level)
	assert.Equal(t, "json", DefaultLogConfig().Format)
	assert.Equal(t, []string{"stdout"}, DefaultLogConfig().OutputPaths)
	assert.False(t, DefaultTelemetryConfig().Enabled)
	assert.Equal(t, "casegate", DefaultTelemetryConfig().ServiceName)
	assert.False(t, DefaultAuthConfig().Enabled)
}

// --- DSN / StoreConfig ---

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "postgres",
			cfg:  DatabaseConfig{Driver: "postgres", Host: "localhost", Port: 5432, User: "u", Password: "p", Name: "cases", SSLMode: "disable"},
			want: "host=localhost port=5432 user=u password=p dbname=cases sslmode=disable",
		},
		{
			name: "mysql",
			cfg:  DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "cases"},
			want: "u:p@tcp(db:3306)/cases?parseTime=true",
		},
		{
			name: "sqlite",
			cfg:  DatabaseConfig{Driver: "sqlite", Name: "/tmp/cases.db"},
			want: "file:/tmp/cases.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		},
		{
			name: "explicit url wins",
			cfg:  DatabaseConfig{Driver: "postgres", URL: "postgres://x@y/z", Host: "ignored"},
			want: "postgres://x@y/z",
		},
		{
			name: "unknown",
			cfg:  DatabaseConfig{Driver: "oracle"},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}

func TestDatabaseConfig_MigrationURL(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p w", Name: "cases", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p%20w@db:5432/cases?sslmode=disable", pg.MigrationURL())

	lite := DatabaseConfig{Driver: "sqlite", Name: "./data/cases.db"}
	assert.Equal(t, "sqlite3://./data/cases.db", lite.MigrationURL())
}

func TestConfig_StoreConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Type = "sql"
	cfg.Store.MaxRetries = 5
	cfg.Database.Driver = "postgres"
	cfg.Redis.KeyPrefix = "x:"

	sc := cfg.StoreConfig()
	assert.Equal(t, casestore.StoreTypeSQL, sc.Type)
	assert.Equal(t, "postgres", sc.SQL.Dialect)
	assert.Equal(t, cfg.Database.DSN(), sc.SQL.DSN)
	assert.True(t, sc.SQL.AutoMigrate)
	assert.Equal(t, 5, sc.Retry.MaxRetries)
	assert.Equal(t, 2.0, sc.Retry.BackoffMultiplier)
	assert.Equal(t, "x:", sc.Redis.KeyPrefix)
	assert.Equal(t, "task_records", sc.Mongo.Collection)
}
