package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrPoolClosed is returned by every operation after Close.
	ErrPoolClosed = errors.New("pool is closed")
	// ErrPoolExhausted 表示所有连接都在使用中，新的仓储调用需要排队
	ErrPoolExhausted = errors.New("connection pool exhausted")
)

// =============================================================================
// 🗄️ 案例仓储连接池
// =============================================================================

// PoolManager 持有 SQL 仓储的 GORM 连接，并在后台探测其健康状况
type PoolManager struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	config PoolConfig
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
	stop   chan struct{}

	checkMu   sync.Mutex
	lastCheck time.Time
	lastErr   error
	failures  int
}

// PoolConfig 连接池配置
type PoolConfig struct {
	// 最大空闲连接数
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns"`

	// 最大打开连接数（SQLite 写入串行化时应设为 1）
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns"`

	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`

	// 后台探测间隔，0 表示只在 Check 时探测
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultPoolConfig 返回默认连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        5,
		MaxOpenConns:        20,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Validate 校验连接池配置
func (c PoolConfig) Validate() error {
	switch {
	case c.MaxOpenConns <= 0:
		return fmt.Errorf("max_open_conns must be positive, got %d", c.MaxOpenConns)
	case c.MaxIdleConns <= 0:
		return fmt.Errorf("max_idle_conns must be positive, got %d", c.MaxIdleConns)
	case c.MaxIdleConns > c.MaxOpenConns:
		return fmt.Errorf("max_idle_conns (%d) exceeds max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

// NewPoolManager 应用连接池参数，按需启动后台探测
func NewPoolManager(db *gorm.DB, config PoolConfig, logger *zap.Logger) (*PoolManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pm := &PoolManager{
		db:     db,
		sqlDB:  sqlDB,
		config: config,
		logger: logger.With(zap.String("component", "case_store_pool")),
		stop:   make(chan struct{}),
	}
	if config.HealthCheckInterval > 0 {
		go pm.checkLoop()
	}

	pm.logger.Info("case store pool initialized",
		zap.Int("max_idle_conns", config.MaxIdleConns),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Duration("health_check_interval", config.HealthCheckInterval),
	)
	return pm, nil
}

// DB 返回 GORM 数据库实例
func (pm *PoolManager) DB() *gorm.DB {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.db
}

// Ping 检查数据库连接
func (pm *PoolManager) Ping(ctx context.Context) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if pm.closed {
		return ErrPoolClosed
	}
	return pm.sqlDB.PingContext(ctx)
}

// Close 停止后台探测并关闭连接池
func (pm *PoolManager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.closed {
		return nil
	}
	pm.closed = true
	close(pm.stop)
	pm.logger.Info("closing case store pool")
	return pm.sqlDB.Close()
}

// =============================================================================
// 🏥 健康探测
// =============================================================================

// Health 是连接池统计与最近一次探测结果的快照
type Health struct {
	MaxOpen             int           `json:"max_open"`
	Open                int           `json:"open"`
	InUse               int           `json:"in_use"`
	Idle                int           `json:"idle"`
	WaitCount           int64         `json:"wait_count"`
	WaitDuration        time.Duration `json:"wait_duration"`
	LastCheck           time.Time     `json:"last_check"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// Saturated 所有连接都被占用
func (h Health) Saturated() bool {
	return h.MaxOpen > 0 && h.InUse >= h.MaxOpen
}

// Health 返回当前快照，不触发新的探测
func (pm *PoolManager) Health() Health {
	st := pm.sqlDB.Stats()
	h := Health{
		MaxOpen:      st.MaxOpenConnections,
		Open:         st.OpenConnections,
		InUse:        st.InUse,
		Idle:         st.Idle,
		WaitCount:    st.WaitCount,
		WaitDuration: st.WaitDuration,
	}

	pm.checkMu.Lock()
	defer pm.checkMu.Unlock()
	h.LastCheck = pm.lastCheck
	h.ConsecutiveFailures = pm.failures
	if pm.lastErr != nil {
		h.LastError = pm.lastErr.Error()
	}
	return h
}

// Check 是案例仓储的就绪检查: 连接可用且池未被占满
// 池已占满时不再 Ping，否则探测本身也要排队等连接。
func (pm *PoolManager) Check(ctx context.Context) error {
	if h := pm.Health(); h.Saturated() {
		return fmt.Errorf("%w: %d/%d in use, %d waits", ErrPoolExhausted, h.InUse, h.MaxOpen, h.WaitCount)
	}
	return pm.checkOnce(ctx)
}

// checkOnce 执行一次 Ping 并记录结果; 只在健康状态切换时写日志
func (pm *PoolManager) checkOnce(ctx context.Context) error {
	err := pm.Ping(ctx)
	if errors.Is(err, ErrPoolClosed) {
		return err
	}

	pm.checkMu.Lock()
	defer pm.checkMu.Unlock()
	pm.lastCheck = time.Now()
	pm.lastErr = err
	switch {
	case err != nil:
		pm.failures++
		if pm.failures == 1 {
			pm.logger.Error("case store unreachable", zap.Error(err))
		}
	case pm.failures > 0:
		pm.logger.Info("case store reachable again", zap.Int("failed_checks", pm.failures))
		pm.failures = 0
	}
	return err
}

// checkLoop 周期探测，Close 后退出
func (pm *PoolManager) checkLoop() {
	ticker := time.NewTicker(pm.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = pm.checkOnce(ctx)
		cancel()
	}
}

// =============================================================================
// 🔄 事务管理
// =============================================================================

// TransactionFunc 事务函数类型
type TransactionFunc func(tx *gorm.DB) error

// WithTransaction 在事务中执行函数，fn 返回错误时整体回滚
func (pm *PoolManager) WithTransaction(ctx context.Context, fn TransactionFunc) error {
	pm.mu.RLock()
	if pm.closed {
		pm.mu.RUnlock()
		return ErrPoolClosed
	}
	db := pm.db
	pm.mu.RUnlock()

	return db.WithContext(ctx).Transaction(fn)
}

// WithTransactionRetry 在事务中执行函数，对死锁、锁等待等瞬时错误做指数退避重试。
// 不可重试的错误立即返回，不会被包装。
func (pm *PoolManager) WithTransactionRetry(ctx context.Context, maxRetries int, fn TransactionFunc) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := pm.WithTransaction(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryableError(err) {
			return backoff.Permanent(err)
		}
		pm.logger.Warn("transaction failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
		)
		return err
	}

	var policy backoff.BackOff = bo
	if maxRetries >= 0 {
		policy = backoff.WithMaxRetries(bo, uint64(maxRetries))
	}
	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}

// IsRetryableError 判断错误是否可重试
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errMsg := strings.ToLower(err.Error())

	for _, marker := range []string{
		"deadlock",
		"serialization failure", "40001", // PostgreSQL SQLSTATE 40001
		"connection reset", "connection refused", "broken pipe",
		"lock timeout", "lock wait timeout",
		"database is locked", "sqlite_busy", // SQLite 写锁竞争
		"bad connection", // driver: bad connection
	} {
		if strings.Contains(errMsg, marker) {
			return true
		}
	}
	return false
}

// IsDuplicateKeyError 判断错误是否为唯一约束冲突。
// TranslateError 已把支持的驱动映射为 gorm.ErrDuplicatedKey，其余按错误文本兜底。
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	errMsg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"unique constraint failed", // SQLite
		"duplicate key value",      // PostgreSQL 23505
		"duplicate entry",          // MySQL 1062
	} {
		if strings.Contains(errMsg, marker) {
			return true
		}
	}
	return false
}
