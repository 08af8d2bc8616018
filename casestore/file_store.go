package casestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fileSnapshot 是 index.json 的磁盘格式
type fileSnapshot struct {
	Records map[string]*Record  `json:"records"`
	Events  map[string][]*Event `json:"events"`
}

// FileStore是一个基于文件的 Repository 实现.
// 适合单节点生产部署. 每次写入都先写临时文件再重命名, 写盘失败时内存状态保持不变.
type FileStore struct {
	baseDir   string
	records   map[string]*Record // in-memory cache
	events    map[string][]*Event
	mu        sync.RWMutex
	closed    bool
	now       func() time.Time
	writeFile func(name string, data []byte, perm os.FileMode) error
}

var _ Repository = (*FileStore)(nil)

// NewFileStore 新建文件存储
func NewFileStore(config StoreConfig) (*FileStore, error) {
	baseDir := filepath.Join(config.BaseDir, "records")
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create case store directory: %w", err)
	}

	store := &FileStore{
		baseDir:   baseDir,
		records:   make(map[string]*Record),
		events:    make(map[string][]*Event),
		now:       time.Now,
		writeFile: os.WriteFile,
	}

	// 装入已存在的记录
	if err := store.loadFromDisk(); err != nil {
		return nil, fmt.Errorf("failed to load records from disk: %w", err)
	}

	return store, nil
}

func (s *FileStore) indexPath() string {
	return filepath.Join(s.baseDir, "index.json")
}

// 从磁盘加载所有记录到内存
func (s *FileStore) loadFromDisk() error {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	if snap.Records != nil {
		s.records = snap.Records
	}
	if snap.Events != nil {
		s.events = snap.Events
	}
	return nil
}

// saveToDisk 原子写: 写入临时文件后重命名
func (s *FileStore) saveToDisk(records map[string]*Record, events map[string][]*Event) error {
	data, err := json.MarshalIndent(fileSnapshot{Records: records, Events: events}, "", "  ")
	if err != nil {
		return err
	}

	tempPath := s.indexPath() + ".tmp"
	if err := s.writeFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, s.indexPath())
}

// Close 关闭存储
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.saveToDisk(s.records, s.events)
}

// Ping 检查存储是否健康
func (s *FileStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// FindPendingByIdentity 返回身份对应的待处理记录
func (s *FileStore) FindPendingByIdentity(ctx context.Context, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	for _, rec := range s.records {
		if rec.IdentityKey == key && rec.Status == StatusPending {
			return rec.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// UpdateStatus 在副本上修改并落盘, 成功后才替换内存状态
func (s *FileStore) UpdateStatus(ctx context.Context, id string, status Status, note string) error {
	if err := checkUpdate(id, status); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	current, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if current.Status != StatusPending {
		return ErrConflict
	}

	now := s.now()
	updated := current.Clone()
	updated.Status = status
	updated.OutcomeNote = note
	updated.UpdatedAt = now

	records := make(map[string]*Record, len(s.records))
	for k, v := range s.records {
		records[k] = v
	}
	records[id] = updated

	events := make(map[string][]*Event, len(s.events)+1)
	for k, v := range s.events {
		events[k] = v
	}
	trail := make([]*Event, 0, len(s.events[id])+1)
	trail = append(trail, s.events[id]...)
	events[id] = append(trail, newEvent(ctx, id, current.Status, status, note, now))

	if err := s.saveToDisk(records, events); err != nil {
		return persistenceError("update status", err)
	}

	s.records = records
	s.events = events
	return nil
}

// ListAll 按创建时间返回全部记录
func (s *FileStore) ListAll(ctx context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	result := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		result = append(result, rec.Clone())
	}
	sortByCreation(result)
	return result, nil
}

// Get 通过 ID 获取记录
func (s *FileStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Create 插入新记录
func (s *FileStore) Create(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	prepared, err := prepareNew(rec, s.now())
	if err != nil {
		return err
	}
	if _, ok := s.records[prepared.ID]; ok {
		return ErrAlreadyExists
	}
	if prepared.Status == StatusPending {
		for _, existing := range s.records {
			if existing.IdentityKey == prepared.IdentityKey && existing.Status == StatusPending {
				return ErrAlreadyExists
			}
		}
	}

	records := make(map[string]*Record, len(s.records)+1)
	for k, v := range s.records {
		records[k] = v
	}
	records[prepared.ID] = prepared.Clone()

	if err := s.saveToDisk(records, s.events); err != nil {
		return persistenceError("create record", err)
	}
	s.records = records
	rec.adopt(prepared)
	return nil
}

// Count 返回记录数量
func (s *FileStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	return int64(len(s.records)), nil
}

// History 返回记录的审计轨迹
func (s *FileStore) History(ctx context.Context, id string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if _, ok := s.records[id]; !ok {
		return nil, ErrNotFound
	}

	result := make([]*Event, 0, len(s.events[id]))
	for _, ev := range s.events[id] {
		cp := *ev
		result = append(result, &cp)
	}
	return result, nil
}
