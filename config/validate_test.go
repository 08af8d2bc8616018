package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{
			name:    "invalid HTTP port",
			modify:  func(c *Config) { c.Server.HTTPPort = 70000 },
			wantErr: "invalid HTTP port",
		},
		{
			name:    "metrics port collides",
			modify:  func(c *Config) { c.Server.MetricsPort = c.Server.HTTPPort },
			wantErr: "metrics port must differ",
		},
		{
			name:    "tls cert without key",
			modify:  func(c *Config) { c.Server.TLSCertFile = "server.crt" },
			wantErr: "tls_cert_file and tls_key_file",
		},
		{
			name:    "unknown store type",
			modify:  func(c *Config) { c.Store.Type = "tape" },
			wantErr: "store.type",
		},
		{
			name:    "file store without dir",
			modify:  func(c *Config) { c.Store.Type = "file"; c.Store.BaseDir = "" },
			wantErr: "store.base_dir",
		},
		{
			name:    "sql store with unknown driver",
			modify:  func(c *Config) { c.Store.Type = "sql"; c.Database.Driver = "oracle" },
			wantErr: "database.driver",
		},
		{
			name:   "sql store with sqlite",
			modify: func(c *Config) { c.Store.Type = "sql" },
		},
		{
			name:    "mongo store without database",
			modify:  func(c *Config) { c.Store.Type = "mongo"; c.Mongo.Database = "" },
			wantErr: "mongo.uri and mongo.database",
		},
		{
			name:    "non-positive persist timeout",
			modify:  func(c *Config) { c.Workflow.PersistTimeout = 0 },
			wantErr: "persist_timeout",
		},
		{
			name:    "negative verification attempts",
			modify:  func(c *Config) { c.Workflow.MaxVerificationAttempts = -1 },
			wantErr: "max_verification_attempts",
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: "log.level",
		},
		{
			name:    "telemetry exporter",
			modify:  func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.Exporter = "zipkin" },
			wantErr: "telemetry.exporter",
		},
		{
			name:    "short jwt secret",
			modify:  func(c *Config) { c.Auth.Enabled = true; c.Auth.JWTSecret = "short" },
			wantErr: "jwt_secret",
		},
		{
			name: "auth with long secret",
			modify: func(c *Config) {
				c.Auth.Enabled = true
				c.Auth.JWTSecret = strings.Repeat("k", 32)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
