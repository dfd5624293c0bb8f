package events

import (
	"context"
	"sync"
)

const defaultMemoryCapacity = 1024

// MemoryPublisher 在内存中保留最近的事件，用于开发环境与测试。
type MemoryPublisher struct {
	mu       sync.Mutex
	events   []Event
	capacity int
}

// NewMemoryPublisher 创建内存发布器，capacity 不大于零时保留 1024 条。
func NewMemoryPublisher(capacity int) *MemoryPublisher {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryPublisher{capacity: capacity}
}

// Publish 实现 Publisher。
func (m *MemoryPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	if over := len(m.events) - m.capacity; over > 0 {
		m.events = append([]Event(nil), m.events[over:]...)
	}
	return nil
}

// Events 返回已保留事件的副本，按发布顺序排列。
func (m *MemoryPublisher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Kinds 返回已保留事件的类型序列。
func (m *MemoryPublisher) Kinds() []Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]Kind, len(m.events))
	for i, e := range m.events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Close 实现 Publisher。
func (m *MemoryPublisher) Close() error { return nil }
