package casestore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// NewRepository creates a Repository based on the configuration.
// UpdateStatus is wrapped with WithRetry when config.Retry.MaxRetries > 0.
func NewRepository(ctx context.Context, config StoreConfig, logger *zap.Logger) (Repository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		repo Repository
		err  error
	)
	switch config.Type {
	case StoreTypeMemory, "":
		repo = NewMemoryStore()
	case StoreTypeFile:
		repo, err = NewFileStore(config)
	case StoreTypeRedis:
		repo, err = NewRedisStore(config)
	case StoreTypeSQL:
		repo, err = NewSQLStore(config, logger)
	case StoreTypeMongo:
		repo, err = NewMongoStore(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported case store type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("case store ready", zap.String("type", string(config.Type)))
	return WithRetry(repo, config.Retry, logger), nil
}
