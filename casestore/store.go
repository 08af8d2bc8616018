package casestore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("record is no longer pending")
	ErrStoreClosed   = errors.New("store is closed")
	ErrInvalidInput  = errors.New("invalid input")
	ErrPersistence   = errors.New("persistence failure")
)

// persistenceError 将底层存储故障包装为 ErrPersistence，保留原始错误链
func persistenceError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// IsPersistenceError reports whether err is a storage fault rather than a workflow outcome.
func IsPersistenceError(err error) bool {
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrStoreClosed)
}

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
	StoreTypeMongo  StoreType = "mongo"
)

// RetryConfig defines retry behavior for status updates
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 disables retry)
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// InitialBackoff is the initial backoff duration (default: 50ms)
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration (default: 1s)
	MaxBackoff time.Duration `json:"max_backoff" yaml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff (default: 2.0)
	BackoffMultiplier float64 `json:"backoff_multiplier" yaml:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration.
// Updates sit on the conversational path, so the budget stays well under a second or two.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        1 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// SQLStoreConfig contains SQL-specific configuration
type SQLStoreConfig struct {
	// Dialect is one of sqlite (pure Go), sqlite3 (cgo), postgres, mysql
	Dialect string `json:"dialect" yaml:"dialect"`

	// DSN is the driver-specific data source name
	DSN string `json:"dsn" yaml:"dsn"`

	// AutoMigrate creates the tables through gorm when true
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate"`

	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	// Addr is the Redis server address (host:port)
	Addr string `json:"addr" yaml:"addr"`

	// Password is the Redis password (optional)
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number
	DB int `json:"db" yaml:"db"`

	// PoolSize is the connection pool size
	PoolSize int `json:"pool_size" yaml:"pool_size"`

	// KeyPrefix is the prefix for all Redis keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// TLS enables a hardened TLS connection to the server
	TLS bool `json:"tls" yaml:"tls"`
}

// MongoStoreConfig contains MongoDB-specific configuration
type MongoStoreConfig struct {
	URI        string `json:"uri" yaml:"uri"`
	Database   string `json:"database" yaml:"database"`
	Collection string `json:"collection" yaml:"collection"`
}

// StoreConfig is the base configuration for all repository implementations
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// BaseDir is the base directory for file-based storage
	BaseDir string `json:"base_dir" yaml:"base_dir"`

	SQL   SQLStoreConfig   `json:"sql" yaml:"sql"`
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`
	Mongo MongoStoreConfig `json:"mongo" yaml:"mongo"`

	// Retry configuration for UpdateStatus
	Retry RetryConfig `json:"retry" yaml:"retry"`

	// ConnectTimeout bounds the initial connection check of network backends
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    StoreTypeMemory,
		BaseDir: "./data/cases",
		SQL: SQLStoreConfig{
			Dialect:      "sqlite",
			DSN:          "file:./data/cases.db?_pragma=busy_timeout(5000)",
			AutoMigrate:  true,
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Redis: RedisStoreConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "casegate:",
		},
		Mongo: MongoStoreConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "casegate",
			Collection: "task_records",
		},
		Retry:          DefaultRetryConfig(),
		ConnectTimeout: 5 * time.Second,
	}
}

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// Repository is the durable store of task records.
//
// UpdateStatus is a compare-and-set from StatusPending to a terminal status: the
// record change and its audit Event are applied together or not at all.
type Repository interface {
	Store

	// FindPendingByIdentity returns the single pending record for key, or ErrNotFound.
	// Records in a terminal status are never returned.
	FindPendingByIdentity(ctx context.Context, key string) (*Record, error)

	// UpdateStatus sets status, note and update timestamp of a pending record.
	// Returns ErrNotFound for unknown ids, ErrConflict when the record is no longer
	// pending, and an ErrPersistence-wrapped error on storage faults.
	UpdateStatus(ctx context.Context, id string, status Status, note string) error

	// ListAll returns every record ordered by creation time (diagnostic only).
	ListAll(ctx context.Context) ([]*Record, error)

	// Get returns a record by id.
	Get(ctx context.Context, id string) (*Record, error)

	// Create inserts a new record. A second pending record for the same identity
	// is rejected with ErrAlreadyExists.
	Create(ctx context.Context, rec *Record) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)

	// History returns the audit events of a record, oldest first.
	History(ctx context.Context, id string) ([]*Event, error)
}
