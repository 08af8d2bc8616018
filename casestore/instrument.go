package casestore

import (
	"context"
	"errors"
	"time"
)

// Observer receives per-call repository measurements. kind is "" on success.
type Observer interface {
	RecordStoreOperation(backend, operation, kind string, duration time.Duration)
}

// instrumentedRepository 记录每次仓储调用的耗时与结果分类
type instrumentedRepository struct {
	Repository
	backend  string
	observer Observer
}

// Instrument decorates repo so every call is reported to observer.
func Instrument(repo Repository, backend string, observer Observer) Repository {
	if observer == nil {
		return repo
	}
	return &instrumentedRepository{Repository: repo, backend: backend, observer: observer}
}

// Unwrap returns the decorated repository.
func (r *instrumentedRepository) Unwrap() Repository { return r.Repository }

// Unwrap returns the decorated repository.
func (r *retryingRepository) Unwrap() Repository { return r.Repository }

// Base strips decorators added by WithRetry and Instrument.
func Base(repo Repository) Repository {
	for {
		u, ok := repo.(interface{ Unwrap() Repository })
		if !ok {
			return repo
		}
		repo = u.Unwrap()
	}
}

func (r *instrumentedRepository) observe(op string, start time.Time, err error) {
	r.observer.RecordStoreOperation(r.backend, op, errorKind(err), time.Since(start))
}

// errorKind 将仓储错误归类为指标标签
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrStoreClosed):
		return "closed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "persistence"
	}
}

func (r *instrumentedRepository) Ping(ctx context.Context) error {
	start := time.Now()
	err := r.Repository.Ping(ctx)
	r.observe("ping", start, err)
	return err
}

func (r *instrumentedRepository) FindPendingByIdentity(ctx context.Context, key string) (*Record, error) {
	start := time.Now()
	rec, err := r.Repository.FindPendingByIdentity(ctx, key)
	r.observe("find_pending", start, err)
	return rec, err
}

func (r *instrumentedRepository) UpdateStatus(ctx context.Context, id string, status Status, note string) error {
	start := time.Now()
	err := r.Repository.UpdateStatus(ctx, id, status, note)
	r.observe("update_status", start, err)
	return err
}

func (r *instrumentedRepository) ListAll(ctx context.Context) ([]*Record, error) {
	start := time.Now()
	recs, err := r.Repository.ListAll(ctx)
	r.observe("list_all", start, err)
	return recs, err
}

func (r *instrumentedRepository) Get(ctx context.Context, id string) (*Record, error) {
	start := time.Now()
	rec, err := r.Repository.Get(ctx, id)
	r.observe("get", start, err)
	return rec, err
}

func (r *instrumentedRepository) Create(ctx context.Context, rec *Record) error {
	start := time.Now()
	err := r.Repository.Create(ctx, rec)
	r.observe("create", start, err)
	return err
}

func (r *instrumentedRepository) Count(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := r.Repository.Count(ctx)
	r.observe("count", start, err)
	return n, err
}

func (r *instrumentedRepository) History(ctx context.Context, id string) ([]*Event, error) {
	start := time.Now()
	events, err := r.Repository.History(ctx, id)
	r.observe("history", start, err)
	return events, err
}
