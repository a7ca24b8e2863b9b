// internal/pkg/keyedmutex/keyedmutex.go
package keyedmutex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	zlog "github.com/rs/zerolog/log"
)

// ErrLockOperationFailed 是 LockOperationFailedError 的哨兵值，便于 errors.Is 判断。
var ErrLockOperationFailed = errors.New("lock operation failed")

// LockOperationFailedError 包装在持锁期间 op 返回的错误，记录出错的 key，保留原始 cause。
type LockOperationFailedError struct {
	Key string
	Err error
}

func (e *LockOperationFailedError) Error() string {
	return fmt.Sprintf("lock operation failed for key %q: %v", e.Key, e.Err)
}

func (e *LockOperationFailedError) Unwrap() error { return e.Err }

func (e *LockOperationFailedError) Is(target error) bool { return target == ErrLockOperationFailed }

// Backend 是可选的跨进程锁（例如 ZooKeeper）。只有最外层的获取才会调用它。
type Backend interface {
	Acquire(ctx context.Context, key string) (release func() error, err error)
}

type ownerKey struct{}

var ownerSeq atomic.Uint64

// WithOwner 在 context 中安装一个新的 owner token（已有则原样返回）。
// owner 代表一条逻辑调用链：同一个 owner 对同一个 key 的嵌套获取是可重入的，
// 因此不要在多个并发 goroutine 之间共享带 owner 的 context。
func WithOwner(ctx context.Context) context.Context {
	ctx, _ = withOwner(ctx)
	return ctx
}

func withOwner(ctx context.Context) (context.Context, uint64) {
	if id, ok := ctx.Value(ownerKey{}).(uint64); ok {
		return ctx, id
	}
	id := ownerSeq.Add(1)
	return context.WithValue(ctx, ownerKey{}, id), id
}

// namedLock 的 owner/depth/refs 都由 KeyedMutex.mu 保护；sem 容量为 1，持有即加锁。
type namedLock struct {
	sem   chan struct{}
	owner uint64
	depth int
	refs  int // 持有者 + 等待者，为 0 时才允许被 Sweep 移除
}

// KeyedMutex 为任意字符串 key 提供一把可重入的互斥锁。
type KeyedMutex struct {
	mu      sync.Mutex
	locks   map[string]*namedLock
	backend Backend

	waitObserver prometheus.Observer
	heldGauge    prometheus.Gauge
}

type Option func(*KeyedMutex)

// WithBackend 让最外层的获取同时持有一把跨进程锁。
func WithBackend(b Backend) Option {
	return func(m *KeyedMutex) { m.backend = b }
}

// WithMetrics 注入等待时长直方图和持锁数量 gauge。
func WithMetrics(wait prometheus.Observer, held prometheus.Gauge) Option {
	return func(m *KeyedMutex) {
		m.waitObserver = wait
		m.heldGauge = held
	}
}

func New(opts ...Option) *KeyedMutex {
	m := &KeyedMutex{locks: make(map[string]*namedLock)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Do 在持有 key 对应的锁期间执行 op，任何退出路径（包括 panic）都会释放锁。
// op 收到的 ctx 携带 owner，可以在其中对同一个 key 再次调用 Do 而不会死锁。
func (m *KeyedMutex) Do(ctx context.Context, key string, op func(ctx context.Context) error) error {
	ctx, owner := withOwner(ctx)

	reentered, release, err := m.acquire(ctx, key, owner)
	if err != nil {
		return err
	}
	defer release()

	opErr := op(ctx)
	if opErr == nil {
		return nil
	}
	if reentered {
		// 只在最外层包装一次
		return opErr
	}
	var inner *LockOperationFailedError
	if errors.As(opErr, &inner) {
		// 嵌套的其他 key 已经包装过，保留最内层的 key
		return opErr
	}
	return &LockOperationFailedError{Key: key, Err: opErr}
}

// Run 是 Do 的带返回值版本。
func Run[T any](ctx context.Context, m *KeyedMutex, key string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := m.Do(ctx, key, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (m *KeyedMutex) acquire(ctx context.Context, key string, owner uint64) (bool, func(), error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &namedLock{sem: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	if l.depth > 0 && l.owner == owner {
		l.depth++
		m.mu.Unlock()
		return true, func() { m.releaseNested(l) }, nil
	}
	l.refs++
	m.mu.Unlock()

	start := time.Now()
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		m.mu.Lock()
		l.refs--
		m.mu.Unlock()
		return false, nil, fmt.Errorf("keyedmutex: acquire %q: %w", key, ctx.Err())
	}
	if m.waitObserver != nil {
		m.waitObserver.Observe(time.Since(start).Seconds())
	}

	var backendRelease func() error
	if m.backend != nil {
		rel, err := m.backend.Acquire(ctx, key)
		if err != nil {
			<-l.sem
			m.mu.Lock()
			l.refs--
			m.mu.Unlock()
			return false, nil, fmt.Errorf("keyedmutex: backend acquire %q: %w", key, err)
		}
		backendRelease = rel
	}

	m.mu.Lock()
	l.owner = owner
	l.depth = 1
	m.mu.Unlock()
	if m.heldGauge != nil {
		m.heldGauge.Inc()
	}

	return false, func() { m.releaseOuter(key, l, backendRelease) }, nil
}

func (m *KeyedMutex) releaseNested(l *namedLock) {
	m.mu.Lock()
	l.depth--
	m.mu.Unlock()
}

func (m *KeyedMutex) releaseOuter(key string, l *namedLock, backendRelease func() error) {
	m.mu.Lock()
	l.depth = 0
	l.owner = 0
	m.mu.Unlock()

	if backendRelease != nil {
		if err := backendRelease(); err != nil {
			zlog.Warn().Err(err).Str("key", key).Msg("failed to release backend lock")
		}
	}
	if m.heldGauge != nil {
		m.heldGauge.Dec()
	}

	<-l.sem
	m.mu.Lock()
	l.refs--
	m.mu.Unlock()
}

// Sweep 移除当前没有持有者也没有等待者的锁条目，返回移除数量。
// 这只是内存上的优化：正在被持有或等待的锁永远不会被移除。
func (m *KeyedMutex) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, l := range m.locks {
		if l.refs == 0 {
			delete(m.locks, key)
			removed++
		}
	}
	return removed
}

// Len 返回注册表中的锁数量。
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
