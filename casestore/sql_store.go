package casestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/casegate/internal/database"
)

// txRetries 死锁或 SQLITE_BUSY 时的事务重试次数
const txRetries = 2

// recordRow 是 task_records 表的 GORM 模型
type recordRow struct {
	ID             string            `gorm:"primaryKey;size:64"`
	IdentityKey    string            `gorm:"size:255;not null;index:idx_task_records_identity_status,priority:1"`
	Status         string            `gorm:"size:32;not null;default:pending;index:idx_task_records_identity_status,priority:2"`
	Challenge      string            `gorm:"type:text;not null"`
	ExpectedAnswer string            `gorm:"type:text;not null"`
	Fields         map[string]string `gorm:"column:descriptive_fields;type:text;serializer:json"`
	OutcomeNote    string            `gorm:"type:text"`
	CreatedAt      time.Time         `gorm:"not null"`
	UpdatedAt      time.Time         `gorm:"not null"`
}

// TableName 指定表名
func (recordRow) TableName() string { return "task_records" }

func (r *recordRow) toRecord() *Record {
	return &Record{
		ID:             r.ID,
		IdentityKey:    r.IdentityKey,
		Status:         Status(r.Status),
		Challenge:      r.Challenge,
		ExpectedAnswer: r.ExpectedAnswer,
		Fields:         r.Fields,
		OutcomeNote:    r.OutcomeNote,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func rowFromRecord(rec *Record) *recordRow {
	return &recordRow{
		ID:             rec.ID,
		IdentityKey:    rec.IdentityKey,
		Status:         string(rec.Status),
		Challenge:      rec.Challenge,
		ExpectedAnswer: rec.ExpectedAnswer,
		Fields:         rec.Fields,
		OutcomeNote:    rec.OutcomeNote,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

// eventRow 是 task_events 表的 GORM 模型
type eventRow struct {
	ID         string    `gorm:"primaryKey;size:64"`
	RecordID   string    `gorm:"size:64;not null;index"`
	FromStatus string    `gorm:"size:32;not null"`
	ToStatus   string    `gorm:"size:32;not null"`
	Note       string    `gorm:"type:text"`
	Actor      string    `gorm:"size:255"`
	CreatedAt  time.Time `gorm:"not null"`
}

// TableName 指定表名
func (eventRow) TableName() string { return "task_events" }

// SQLStore is a GORM-backed Repository (SQLite, PostgreSQL, MySQL).
// UpdateStatus runs as one transaction: a conditional UPDATE ... WHERE status = 'pending'
// plus the audit insert, so a concurrent resolver sees zero affected rows.
type SQLStore struct {
	pool   *database.PoolManager
	logger *zap.Logger
	now    func() time.Time
}

var _ Repository = (*SQLStore)(nil)

// NewSQLStore 打开数据库并创建仓储
func NewSQLStore(config StoreConfig, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := database.Open(config.SQL.Dialect, config.SQL.DSN, logger)
	if err != nil {
		return nil, err
	}

	poolCfg := database.DefaultPoolConfig()
	if config.SQL.MaxOpenConns > 0 {
		poolCfg.MaxOpenConns = config.SQL.MaxOpenConns
	}
	if config.SQL.MaxIdleConns > 0 {
		poolCfg.MaxIdleConns = config.SQL.MaxIdleConns
	}
	if config.SQL.ConnMaxLifetime > 0 {
		poolCfg.ConnMaxLifetime = config.SQL.ConnMaxLifetime
	}
	// SQLite 只有一个写者; 单连接避免 SQLITE_BUSY
	if database.IsSQLite(config.SQL.Dialect) {
		poolCfg.MaxOpenConns = 1
		poolCfg.MaxIdleConns = 1
	}

	pool, err := database.NewPoolManager(db, poolCfg, logger)
	if err != nil {
		return nil, err
	}

	return NewSQLStoreWithPool(pool, config.SQL.AutoMigrate, logger)
}

// NewSQLStoreWithPool 基于已有连接池创建仓储
func NewSQLStoreWithPool(pool *database.PoolManager, autoMigrate bool, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if autoMigrate {
		if err := pool.DB().AutoMigrate(&recordRow{}, &eventRow{}); err != nil {
			_ = pool.Close()
			return nil, fmt.Errorf("failed to migrate case tables: %w", err)
		}
		if err := ensurePendingIndex(pool.DB()); err != nil {
			_ = pool.Close()
			return nil, fmt.Errorf("failed to create pending identity index: %w", err)
		}
	}
	return &SQLStore{
		pool:   pool,
		logger: logger.With(zap.String("component", "case_store"), zap.String("backend", "sql")),
		now:    time.Now,
	}, nil
}

// pendingIndexName 与 internal/migration 中的索引同名
const pendingIndexName = "uq_task_records_pending_identity"

// ensurePendingIndex 建立"每个身份最多一条 pending"的唯一约束。
// AutoMigrate 无法表达部分索引：SQLite/PostgreSQL 用 WHERE 子句，
// MySQL 用生成列 + 唯一索引（NULL 不参与唯一约束）。
func ensurePendingIndex(db *gorm.DB) error {
	switch db.Dialector.Name() {
	case "mysql":
		m := db.Migrator()
		if !m.HasColumn(&recordRow{}, "pending_identity") {
			if err := db.Exec("ALTER TABLE task_records ADD COLUMN pending_identity VARCHAR(255) " +
				"GENERATED ALWAYS AS (IF(status = 'pending', identity_key, NULL)) STORED").Error; err != nil {
				return err
			}
		}
		if m.HasIndex(&recordRow{}, pendingIndexName) {
			return nil
		}
		return db.Exec("CREATE UNIQUE INDEX " + pendingIndexName + " ON task_records (pending_identity)").Error
	default:
		return db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS " + pendingIndexName +
			" ON task_records (identity_key) WHERE status = 'pending'").Error
	}
}

// Pool returns the underlying connection pool.
func (s *SQLStore) Pool() *database.PoolManager { return s.pool }

// Close closes the underlying pool
func (s *SQLStore) Close() error {
	return s.pool.Close()
}

// Ping checks if the store is healthy
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		if errors.Is(err, database.ErrPoolClosed) {
			return ErrStoreClosed
		}
		return err
	}
	return nil
}

func (s *SQLStore) db(ctx context.Context) *gorm.DB {
	return s.pool.DB().WithContext(ctx)
}

func (s *SQLStore) wrap(op string, err error) error {
	if errors.Is(err, database.ErrPoolClosed) {
		return ErrStoreClosed
	}
	return persistenceError(op, err)
}

// FindPendingByIdentity returns the pending record for key
func (s *SQLStore) FindPendingByIdentity(ctx context.Context, key string) (*Record, error) {
	var row recordRow
	err := s.db(ctx).
		Where("identity_key = ? AND status = ?", key, string(StatusPending)).
		Order("created_at DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.wrap("find pending", err)
	}
	return row.toRecord(), nil
}

// UpdateStatus moves a pending record to a terminal status inside one transaction
func (s *SQLStore) UpdateStatus(ctx context.Context, id string, status Status, note string) error {
	if err := checkUpdate(id, status); err != nil {
		return err
	}

	now := s.now()
	err := s.pool.WithTransactionRetry(ctx, txRetries, func(tx *gorm.DB) error {
		res := tx.Model(&recordRow{}).
			Where("id = ? AND status = ?", id, string(StatusPending)).
			Updates(map[string]any{
				"status":       string(status),
				"outcome_note": note,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&recordRow{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrConflict
		}

		ev := newEvent(ctx, id, StatusPending, status, note, now)
		return tx.Create(&eventRow{
			ID:         ev.ID,
			RecordID:   ev.RecordID,
			FromStatus: string(ev.From),
			ToStatus:   string(ev.To),
			Note:       ev.Note,
			Actor:      ev.Actor,
			CreatedAt:  ev.At,
		}).Error
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		return err
	default:
		return s.wrap("update status", err)
	}
}

// ListAll returns all records ordered by creation time
func (s *SQLStore) ListAll(ctx context.Context) ([]*Record, error) {
	var rows []recordRow
	if err := s.db(ctx).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, s.wrap("list records", err)
	}
	result := make([]*Record, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toRecord())
	}
	return result, nil
}

// Get retrieves a record by ID
func (s *SQLStore) Get(ctx context.Context, id string) (*Record, error) {
	var row recordRow
	err := s.db(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.wrap("get record", err)
	}
	return row.toRecord(), nil
}

// Create inserts a new record; the pending-per-identity check and insert share a transaction
func (s *SQLStore) Create(ctx context.Context, rec *Record) error {
	prepared, err := prepareNew(rec, s.now())
	if err != nil {
		return err
	}

	err = s.pool.WithTransactionRetry(ctx, txRetries, func(tx *gorm.DB) error {
		var count int64
		q := tx.Model(&recordRow{}).Where("id = ?", prepared.ID)
		if prepared.Status == StatusPending {
			q = tx.Model(&recordRow{}).Where("id = ? OR (identity_key = ? AND status = ?)", prepared.ID, prepared.IdentityKey, string(StatusPending))
		}
		if err := q.Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyExists
		}
		return tx.Create(rowFromRecord(prepared)).Error
	})

	switch {
	case err == nil:
		rec.adopt(prepared)
		return nil
	case errors.Is(err, ErrAlreadyExists), database.IsDuplicateKeyError(err):
		// 并发 Create 越过计数检查时由唯一索引兜底
		return ErrAlreadyExists
	default:
		return s.wrap("create record", err)
	}
}

// Count returns the number of records
func (s *SQLStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db(ctx).Model(&recordRow{}).Count(&count).Error; err != nil {
		return 0, s.wrap("count records", err)
	}
	return count, nil
}

// History returns the audit trail of a record
func (s *SQLStore) History(ctx context.Context, id string) ([]*Event, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	var rows []eventRow
	if err := s.db(ctx).Where("record_id = ?", id).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, s.wrap("read history", err)
	}
	result := make([]*Event, 0, len(rows))
	for _, r := range rows {
		result = append(result, &Event{
			ID:       r.ID,
			RecordID: r.RecordID,
			From:     Status(r.FromStatus),
			To:       Status(r.ToStatus),
			Note:     r.Note,
			Actor:    r.Actor,
			At:       r.CreatedAt,
		})
	}
	return result, nil
}
