package proofcache

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore 使用进程内集合保存缓存键。
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[common.Hash]struct{}
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[common.Hash]struct{})}
}

var _ Store = (*MemoryStore)(nil)

// Put 写入键。
func (s *MemoryStore) Put(_ context.Context, key common.Hash) error {
	s.mu.Lock()
	s.keys[key] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Has 判断键是否存在。
func (s *MemoryStore) Has(_ context.Context, key common.Hash) (bool, error) {
	s.mu.RLock()
	_, ok := s.keys[key]
	s.mu.RUnlock()
	return ok, nil
}

// Delete 删除键。
func (s *MemoryStore) Delete(_ context.Context, keys ...common.Hash) error {
	s.mu.Lock()
	for _, key := range keys {
		delete(s.keys, key)
	}
	s.mu.Unlock()
	return nil
}

// Len 返回当前条目数。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Close 对内存实现无操作。
func (s *MemoryStore) Close() error { return nil }
