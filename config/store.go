package config

import (
	"fmt"
	"net/url"

	"github.com/BaSui01/casegate/casestore"
)

// DSN 返回数据库连接字符串；URL 优先
func (d *DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		// glebarez/sqlite 通过 _pragma 设置忙等待
		if d.Name == "" {
			return ""
		}
		return "file:" + d.Name + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	case "sqlite3":
		if d.Name == "" {
			return ""
		}
		return "file:" + d.Name + "?_busy_timeout=5000&_journal_mode=WAL"
	default:
		return ""
	}
}

// MigrationURL 返回 golang-migrate 使用的数据库 URL
func (d *DatabaseConfig) MigrationURL() string {
	if d.URL != "" {
		return d.URL
	}
	switch d.Driver {
	case "postgres":
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(d.User, d.Password),
			Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
			Path:     "/" + d.Name,
			RawQuery: "sslmode=" + d.SSLMode,
		}
		return u.String()
	case "mysql":
		return fmt.Sprintf("mysql://%s:%s@tcp(%s:%d)/%s?multiStatements=true",
			d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite", "sqlite3":
		return "sqlite3://" + d.Name
	default:
		return ""
	}
}

// StoreConfig 组装 casestore 使用的仓储配置
func (c *Config) StoreConfig() casestore.StoreConfig {
	sc := casestore.DefaultStoreConfig()
	sc.Type = casestore.StoreType(c.Store.Type)
	sc.BaseDir = c.Store.BaseDir
	sc.ConnectTimeout = c.Store.ConnectTimeout
	sc.Retry = casestore.RetryConfig{
		MaxRetries:        c.Store.MaxRetries,
		InitialBackoff:    c.Store.InitialBackoff,
		MaxBackoff:        c.Store.MaxBackoff,
		BackoffMultiplier: sc.Retry.BackoffMultiplier,
	}
	sc.SQL = casestore.SQLStoreConfig{
		Dialect:         c.Database.Driver,
		DSN:             c.Database.DSN(),
		AutoMigrate:     c.Database.AutoMigrate,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
	sc.Redis = casestore.RedisStoreConfig{
		Addr:      c.Redis.Addr,
		Password:  c.Redis.Password,
		DB:        c.Redis.DB,
		PoolSize:  c.Redis.PoolSize,
		KeyPrefix: c.Redis.KeyPrefix,
		TLS:       c.Redis.TLS,
	}
	sc.Mongo = casestore.MongoStoreConfig{
		URI:        c.Mongo.URI,
		Database:   c.Mongo.Database,
		Collection: c.Mongo.Collection,
	}
	return sc
}
