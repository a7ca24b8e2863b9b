// internal/pkg/clock/clock.go
package clock

import (
	"sync"
	"time"
)

// Clock 允许在领域层/服务层注入时间。
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystem 返回基于 time.Now 的时钟。
func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Manual 是一个可以手动拨动的时钟，测试中用来模拟窗口过期。
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual 创建一个停在 t 的时钟。
func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC()}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance 将时钟向前拨动 d。
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set 将时钟设置到 t。
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC()
}
