// =============================================================================
// 🗄️ MockRepository - 可注入故障的仓储
// =============================================================================
// 包装真实 casestore.Repository，按方法注入错误并记录调用次数
//
// 使用方法:
//
//	repo := mocks.NewMockRepository(casestore.NewMemoryStore()).
//		WithUpdateError(casestore.ErrPersistence)
// =============================================================================
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/casegate/casestore"
)

// MockRepository 是 casestore.Repository 的故障注入包装
type MockRepository struct {
	casestore.Repository

	mu sync.Mutex

	// 错误注入
	findErr    error
	updateErr  error
	listErr    error
	historyErr error
	pingErr    error

	// 调用记录
	findCalls   int
	updateCalls int
	lastUpdate  context.Context
}

var _ casestore.Repository = (*MockRepository)(nil)

// NewMockRepository 包装 base
func NewMockRepository(base casestore.Repository) *MockRepository {
	return &MockRepository{Repository: base}
}

// WithFindError 设置 FindPendingByIdentity 的错误
func (m *MockRepository) WithFindError(err error) *MockRepository {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findErr = err
	return m
}

// WithUpdateError 设置 UpdateStatus 的错误
func (m *MockRepository) WithUpdateError(err error) *MockRepository {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateErr = err
	return m
}

// WithListError 设置 ListAll 的错误
func (m *MockRepository) WithListError(err error) *MockRepository {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
	return m
}

// WithHistoryError 设置 History 的错误
func (m *MockRepository) WithHistoryError(err error) *MockRepository {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historyErr = err
	return m
}

// WithPingError 设置 Ping 的错误
func (m *MockRepository) WithPingError(err error) *MockRepository {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
	return m
}

// FindPendingByIdentity implements casestore.Repository.
func (m *MockRepository) FindPendingByIdentity(ctx context.Context, key string) (*casestore.Record, error) {
	m.mu.Lock()
	m.findCalls++
	err := m.findErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.Repository.FindPendingByIdentity(ctx, key)
}

// UpdateStatus implements casestore.Repository.
func (m *MockRepository) UpdateStatus(ctx context.Context, id string, status casestore.Status, note string) error {
	m.mu.Lock()
	m.updateCalls++
	m.lastUpdate = ctx
	err := m.updateErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.Repository.UpdateStatus(ctx, id, status, note)
}

// ListAll implements casestore.Repository.
func (m *MockRepository) ListAll(ctx context.Context) ([]*casestore.Record, error) {
	m.mu.Lock()
	err := m.listErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.Repository.ListAll(ctx)
}

// History implements casestore.Repository.
func (m *MockRepository) History(ctx context.Context, id string) ([]*casestore.Event, error) {
	m.mu.Lock()
	err := m.historyErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.Repository.History(ctx, id)
}

// Ping implements casestore.Store.
func (m *MockRepository) Ping(ctx context.Context) error {
	m.mu.Lock()
	err := m.pingErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.Repository.Ping(ctx)
}

// FindCalls 返回 FindPendingByIdentity 调用次数
func (m *MockRepository) FindCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findCalls
}

// UpdateCalls 返回 UpdateStatus 调用次数
func (m *MockRepository) UpdateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateCalls
}

// LastUpdateContext 返回最近一次 UpdateStatus 收到的 ctx
func (m *MockRepository) LastUpdateContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUpdate
}
