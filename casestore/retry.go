package casestore

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// retryingRepository 对 UpdateStatus 的瞬时存储故障做指数退避重试。
// NotFound/Conflict/InvalidInput 属于确定结果，不会重试。
type retryingRepository struct {
	Repository
	cfg    RetryConfig
	logger *zap.Logger
}

// WithRetry decorates repo so UpdateStatus retries transient persistence faults.
// The caller's context deadline bounds the total time spent.
func WithRetry(repo Repository, cfg RetryConfig, logger *zap.Logger) Repository {
	if cfg.MaxRetries <= 0 {
		return repo
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retryingRepository{
		Repository: repo,
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "case_store_retry")),
	}
}

func (r *retryingRepository) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	if r.cfg.InitialBackoff > 0 {
		bo.InitialInterval = r.cfg.InitialBackoff
	}
	if r.cfg.MaxBackoff > 0 {
		bo.MaxInterval = r.cfg.MaxBackoff
	}
	if r.cfg.BackoffMultiplier > 1 {
		bo.Multiplier = r.cfg.BackoffMultiplier
	}
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.cfg.MaxRetries)), ctx)
}

// UpdateStatus retries only ErrPersistence-wrapped failures
func (r *retryingRepository) UpdateStatus(ctx context.Context, id string, status Status, note string) error {
	attempt := 0
	op := func() error {
		attempt++
		err := r.Repository.UpdateStatus(ctx, id, status, note)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrPersistence) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		r.logger.Warn("status update failed, retrying",
			zap.String("record_id", id),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	}
	return backoff.Retry(op, r.newBackOff(ctx))
}
