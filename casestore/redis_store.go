package casestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/casegate/internal/tlsutil"
	"github.com/redis/go-redis/v9"
)

// maxTxAttempts bounds optimistic-lock retries when a watched key changes under us
const maxTxAttempts = 5

// RedisStore is a Redis-based implementation of Repository.
// Suitable for distributed production deployments.
// Records are JSON strings; a per-identity key indexes the pending record and a
// sorted set keeps creation order. Status updates use WATCH/MULTI so the record,
// the pending index and the audit list change in one transaction.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

var _ Repository = (*RedisStore)(nil)

// NewRedisStore creates a new Redis-based repository
func NewRedisStore(config StoreConfig) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	}
	if config.Redis.TLS {
		opts.TLSConfig = tlsutil.ClientTLSConfig()
	}
	client := redis.NewClient(opts)

	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreWithClient(client, config.Redis.KeyPrefix), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "casegate:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "case:",
		now:       time.Now,
	}
}

// Close closes the store
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisStore) Ping(ctx context.Context) error {
	err := s.client.Ping(ctx).Err()
	if errors.Is(err, redis.ErrClosed) {
		return ErrStoreClosed
	}
	return err
}

// dataKey returns the Redis key for a record
func (s *RedisStore) dataKey(id string) string {
	return s.keyPrefix + "data:" + id
}

// pendingKey returns the Redis key holding the pending record id of an identity
func (s *RedisStore) pendingKey(identity string) string {
	return s.keyPrefix + "pending:" + identity
}

// eventsKey returns the Redis key for a record's audit list
func (s *RedisStore) eventsKey(id string) string {
	return s.keyPrefix + "events:" + id
}

// allKey returns the Redis key for the creation-ordered index
func (s *RedisStore) allKey() string {
	return s.keyPrefix + "all"
}

// stringGetter is satisfied by both *redis.Client and *redis.Tx
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) read(ctx context.Context, getter stringGetter, id string) (*Record, error) {
	data, err := getter.Get(ctx, s.dataKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistenceError("read record", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, persistenceError("decode record", err)
	}
	return &rec, nil
}

// FindPendingByIdentity returns the pending record for key
func (s *RedisStore) FindPendingByIdentity(ctx context.Context, key string) (*Record, error) {
	id, err := s.client.Get(ctx, s.pendingKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistenceError("find pending", err)
	}

	rec, err := s.read(ctx, s.client, id)
	if err != nil {
		return nil, err
	}
	// 索引与数据在同一 MULTI 中变更; 读到终态说明更新已提交
	if rec.Status != StatusPending {
		return nil, ErrNotFound
	}
	return rec, nil
}

// UpdateStatus moves a pending record to a terminal status
func (s *RedisStore) UpdateStatus(ctx context.Context, id string, status Status, note string) error {
	if err := checkUpdate(id, status); err != nil {
		return err
	}

	txf := func(tx *redis.Tx) error {
		rec, err := s.read(ctx, tx, id)
		if err != nil {
			return err
		}
		if rec.Status != StatusPending {
			return ErrConflict
		}

		now := s.now()
		ev := newEvent(ctx, id, rec.Status, status, note, now)
		rec.Status = status
		rec.OutcomeNote = note
		rec.UpdatedAt = now

		recData, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		evData, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.dataKey(id), recData, 0)
			pipe.Del(ctx, s.pendingKey(rec.IdentityKey))
			pipe.RPush(ctx, s.eventsKey(id), evData)
			return nil
		})
		return err
	}

	var lastErr error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, s.dataKey(id))
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			lastErr = err
			continue
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict), errors.Is(err, ErrPersistence):
			return err
		default:
			return persistenceError("update status", err)
		}
	}
	return persistenceError("update status", lastErr)
}

// ListAll returns all records ordered by creation time
func (s *RedisStore) ListAll(ctx context.Context) ([]*Record, error) {
	ids, err := s.client.ZRange(ctx, s.allKey(), 0, -1).Result()
	if err != nil {
		return nil, persistenceError("list records", err)
	}
	if len(ids) == 0 {
		return []*Record{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.dataKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, persistenceError("list records", err)
	}

	result := make([]*Record, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, persistenceError("decode record", err)
		}
		result = append(result, &rec)
	}
	return result, nil
}

// Get retrieves a record by ID
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	return s.read(ctx, s.client, id)
}

// Create inserts a new record
func (s *RedisStore) Create(ctx context.Context, rec *Record) error {
	prepared, err := prepareNew(rec, s.now())
	if err != nil {
		return err
	}
	data, err := json.Marshal(prepared)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	pending := s.pendingKey(prepared.IdentityKey)
	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, s.dataKey(prepared.ID)).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyExists
		}
		if prepared.Status == StatusPending {
			n, err := tx.Exists(ctx, pending).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrAlreadyExists
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.dataKey(prepared.ID), data, 0)
			if prepared.Status == StatusPending {
				pipe.Set(ctx, pending, prepared.ID, 0)
			}
			pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: float64(prepared.CreatedAt.UnixNano()), Member: prepared.ID})
			return nil
		})
		return err
	}

	// 被监视的键变动不代表重复: 重新检查后再决定
	var lastErr error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, s.dataKey(prepared.ID), pending)
		switch {
		case err == nil:
			rec.adopt(prepared)
			return nil
		case errors.Is(err, ErrAlreadyExists):
			return err
		case errors.Is(err, redis.TxFailedErr):
			lastErr = err
			continue
		default:
			return persistenceError("create record", err)
		}
	}
	return persistenceError("create record", lastErr)
}

// Count returns the number of records
func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, s.allKey()).Result()
	if err != nil {
		return 0, persistenceError("count records", err)
	}
	return n, nil
}

// History returns the audit trail of a record
func (s *RedisStore) History(ctx context.Context, id string) ([]*Event, error) {
	n, err := s.client.Exists(ctx, s.dataKey(id)).Result()
	if err != nil {
		return nil, persistenceError("read history", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	items, err := s.client.LRange(ctx, s.eventsKey(id), 0, -1).Result()
	if err != nil {
		return nil, persistenceError("read history", err)
	}

	result := make([]*Event, 0, len(items))
	for _, item := range items {
		var ev Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, persistenceError("decode event", err)
		}
		result = append(result, &ev)
	}
	return result, nil
}
