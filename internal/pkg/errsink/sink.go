// internal/pkg/errsink/sink.go
package errsink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"storefront/internal/pkg/clock"
	"storefront/internal/pkg/logger"
)

const (
	CategoryValidation        = "validation"
	CategoryNotFound          = "not_found"
	CategoryConflict          = "conflict"
	CategoryInsufficientStock = "insufficient_stock"
	CategoryFeatureDisabled   = "feature_disabled"
	CategoryRateLimit         = "rate_limit"
	CategoryLock              = "lock"
	CategoryPayment           = "payment"
	CategorySecurity          = "security"
	CategoryInternal          = "internal"
)

const (
	securityWindow    = 5 * time.Minute
	securityThreshold = 5
	recentWindow      = time.Minute
)

// Counter 是某个类别的快照。
type Counter struct {
	Count    int64     `json:"count"`
	LastSeen time.Time `json:"lastSeen"`
}

type counter struct {
	count    atomic.Int64
	lastSeen atomic.Int64 // unix nano
}

// Sink 按类别累计错误次数，用于监控与告警判断，从不参与业务逻辑。
type Sink struct {
	clock clock.Clock

	mu       sync.RWMutex
	counters map[string]*counter

	secMu          sync.Mutex
	securityEvents []time.Time

	desc *prometheus.Desc
}

func New(clk clock.Clock) *Sink {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Sink{
		clock:    clk,
		counters: make(map[string]*counter),
		desc: prometheus.NewDesc("storefront_errors_total",
			"Errors recorded by category since the last reset.", []string{"category"}, nil),
	}
}

func (s *Sink) counter(category string) *counter {
	s.mu.RLock()
	c, ok := s.counters[category]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.counters[category]; !ok {
		c = &counter{}
		s.counters[category] = c
	}
	return c
}

// Record 记录一次错误。security 类别额外维护最近 5 分钟的事件窗口，
// 超过 5 次后以 error 级别输出 "security alert"。
func (s *Sink) Record(ctx context.Context, category string, err error) {
	now := s.clock.Now()
	c := s.counter(category)
	total := c.count.Add(1)
	c.lastSeen.Store(now.UnixNano())

	if category != CategorySecurity {
		logger.Ctx(ctx).Debug().Err(err).Str("category", category).Int64("count", total).Msg("error recorded")
		return
	}

	recent := s.trackSecurity(now)
	if recent > securityThreshold {
		logger.Ctx(ctx).Error().Err(err).Int("events_5m", recent).Int64("count", total).Msg("security alert")
		return
	}
	logger.Ctx(ctx).Warn().Err(err).Int("events_5m", recent).Int64("count", total).Msg("security event")
}

func (s *Sink) trackSecurity(now time.Time) int {
	s.secMu.Lock()
	defer s.secMu.Unlock()
	cutoff := now.Add(-securityWindow)
	kept := s.securityEvents[:0]
	for _, ts := range s.securityEvents {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	s.securityEvents = append(kept, now)
	return len(s.securityEvents)
}

// IsRateConcerning 当该类别最后一次事件在 60 秒内且累计次数超过阈值时返回 true。
// 这是按最近一次事件门控的累计计数，不是真正的滑动窗口速率。
func (s *Sink) IsRateConcerning(category string, thresholdPerMinute int64) bool {
	s.mu.RLock()
	c, ok := s.counters[category]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	last := time.Unix(0, c.lastSeen.Load())
	return s.clock.Now().Sub(last) <= recentWindow && c.count.Load() > thresholdPerMinute
}

// Snapshot 返回所有计数器的副本。
func (s *Sink) Snapshot() map[string]Counter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Counter, len(s.counters))
	for k, c := range s.counters {
		out[k] = Counter{Count: c.count.Load(), LastSeen: time.Unix(0, c.lastSeen.Load()).UTC()}
	}
	return out
}

// Reset 清空所有状态（测试/运维用）。
func (s *Sink) Reset() {
	s.mu.Lock()
	s.counters = make(map[string]*counter)
	s.mu.Unlock()

	s.secMu.Lock()
	s.securityEvents = nil
	s.secMu.Unlock()
}

func (s *Sink) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.desc
}

func (s *Sink) Collect(ch chan<- prometheus.Metric) {
	for category, c := range s.Snapshot() {
		ch <- prometheus.MustNewConstMetric(s.desc, prometheus.CounterValue, float64(c.Count), category)
	}
}
