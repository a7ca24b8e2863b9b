// internal/pkg/ratelimit/store.go
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision 是一次 Take/Peek 的结果。
type Decision struct {
	Allowed   bool
	Remaining int
	WindowEnd time.Time
}

// Store 保存令牌桶状态。Take 必须对单个桶原子地完成"过期则补满 + 消费一个令牌"。
type Store interface {
	Take(ctx context.Context, key string, capacity int, window time.Duration, now time.Time) (Decision, error)
	Peek(ctx context.Context, key string, capacity int, window time.Duration, now time.Time) (Decision, error)
	Clear(ctx context.Context, key string) error
	// Sweep 移除窗口已关闭超过一个窗口长度的桶，返回移除数量。
	Sweep(now time.Time, window time.Duration) int
}

type bucket struct {
	mu        sync.Mutex
	tokens    int
	windowEnd time.Time
}

// refill 在窗口过期时补满，调用方持有 b.mu。
func (b *bucket) refill(capacity int, window time.Duration, now time.Time) {
	if now.After(b.windowEnd) {
		b.tokens = capacity
		b.windowEnd = now.Add(window)
	}
}

// MemoryStore 是进程内的令牌桶存储。map 只在查找/创建时加锁，桶之间互不竞争。
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*bucket)}
}

func (s *MemoryStore) bucket(key string, capacity int, window time.Duration, now time.Time) *bucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{tokens: capacity, windowEnd: now.Add(window)}
		s.buckets[key] = b
	}
	return b
}

func (s *MemoryStore) Take(_ context.Context, key string, capacity int, window time.Duration, now time.Time) (Decision, error) {
	b := s.bucket(key, capacity, window, now)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(capacity, window, now)
	if b.tokens <= 0 {
		return Decision{Allowed: false, Remaining: 0, WindowEnd: b.windowEnd}, nil
	}
	b.tokens--
	return Decision{Allowed: true, Remaining: b.tokens, WindowEnd: b.windowEnd}, nil
}

func (s *MemoryStore) Peek(_ context.Context, key string, capacity int, window time.Duration, now time.Time) (Decision, error) {
	s.mu.Lock()
	b, ok := s.buckets[key]
	s.mu.Unlock()
	if !ok {
		return Decision{Allowed: true, Remaining: capacity, WindowEnd: now.Add(window)}, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if now.After(b.windowEnd) {
		return Decision{Allowed: true, Remaining: capacity, WindowEnd: now.Add(window)}, nil
	}
	return Decision{Allowed: b.tokens > 0, Remaining: b.tokens, WindowEnd: b.windowEnd}, nil
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.buckets, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Sweep(now time.Time, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, b := range s.buckets {
		b.mu.Lock()
		stale := now.Sub(b.windowEnd) > window
		b.mu.Unlock()
		if stale {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

// Len 返回当前桶数量。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}
