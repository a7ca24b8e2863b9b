// internal/pkg/ratelimit/limiter.go
package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"storefront/internal/pkg/clock"
	"storefront/internal/pkg/logger"
)

// Limiter 是按 (operation, key) 划分的固定窗口令牌桶。
//
// 每个窗口开始时发放 capacity 个令牌，每次放行消耗一个；当前时间越过窗口结束时刻后
// 桶立即补满并开启新窗口。这是近似算法：在窗口交界处最多可在短时间内放行 2×capacity
// 次调用，适合防滥用，不适合严格的 SLA 控制。
type Limiter struct {
	cfg       Config
	clock     clock.Clock
	store     Store
	decisions *prometheus.CounterVec
}

type Option func(*Limiter)

func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

func WithStore(s Store) Option {
	return func(l *Limiter) { l.store = s }
}

// WithMetrics 注入按 operation/outcome 统计的决策计数器。
func WithMetrics(decisions *prometheus.CounterVec) Option {
	return func(l *Limiter) { l.decisions = decisions }
}

func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{cfg: cfg, clock: clock.NewSystem(), store: NewMemoryStore()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Status 是给客户端响应头用的桶状态。Unlimited 为 true 时其它字段无意义。
type Status struct {
	Limit     int
	Remaining int
	ResetTime time.Time
	Unlimited bool
}

func (l *Limiter) capacity(op Operation) (int, bool) {
	if !l.cfg.Enabled {
		return 0, false
	}
	capacity, ok := l.cfg.Capacity(op)
	if !ok || capacity <= 0 {
		return 0, false
	}
	return capacity, true
}

func bucketKey(op Operation, key string) string {
	return string(op) + ":" + key
}

// CheckLimit 消费一个令牌；桶已空时返回 *RateLimitExceededError。
// 未知操作或全局关闭时不限流。存储故障时放行并记录告警。
func (l *Limiter) CheckLimit(ctx context.Context, op Operation, key string) error {
	capacity, limited := l.capacity(op)
	if !limited {
		return nil
	}

	now := l.clock.Now()
	window := l.cfg.Window()
	d, err := l.store.Take(ctx, bucketKey(op, key), capacity, window, now)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("operation", string(op)).Msg("rate limit store unavailable, admitting request")
		l.observe(op, "error")
		return nil
	}
	if d.Allowed {
		l.observe(op, "allowed")
		return nil
	}

	l.observe(op, "rejected")
	retryAfter := d.WindowEnd.Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	logger.Ctx(ctx).Warn().
		Str("operation", string(op)).
		Str("key", key).
		Dur("retry_after", retryAfter).
		Msg("rate limit exceeded")
	return &RateLimitExceededError{
		Operation:     op,
		Limit:         capacity,
		WindowSeconds: int(window / time.Second),
		RetryAfter:    retryAfter,
	}
}

// GetStatus 返回桶状态，不消耗令牌。
func (l *Limiter) GetStatus(ctx context.Context, op Operation, key string) (Status, error) {
	capacity, limited := l.capacity(op)
	if !limited {
		return Status{Unlimited: true}, nil
	}
	d, err := l.store.Peek(ctx, bucketKey(op, key), capacity, l.cfg.Window(), l.clock.Now())
	if err != nil {
		return Status{}, err
	}
	return Status{Limit: capacity, Remaining: d.Remaining, ResetTime: d.WindowEnd}, nil
}

// Clear 强制重置一个桶（管理/测试用）。
func (l *Limiter) Clear(ctx context.Context, op Operation, key string) error {
	return l.store.Clear(ctx, bucketKey(op, key))
}

// Sweep 移除窗口已关闭超过一个窗口长度的桶。
func (l *Limiter) Sweep() int {
	return l.store.Sweep(l.clock.Now(), l.cfg.Window())
}

func (l *Limiter) observe(op Operation, outcome string) {
	if l.decisions != nil {
		l.decisions.WithLabelValues(string(op), outcome).Inc()
	}
}
