// internal/service/shop/application/sweep.go
package application

import (
	"context"
	"time"

	"storefront/internal/pkg/keyedmutex"
	"storefront/internal/pkg/ratelimit"
	"storefront/internal/pkg/sweeper"
)

type SweepConfig struct {
	CartInterval      time.Duration `yaml:"cartInterval"`
	LockInterval      time.Duration `yaml:"lockInterval"`
	RateLimitInterval time.Duration `yaml:"rateLimitInterval"`
	// UnpaidOrderTimeout 为 0 时不自动取消未支付订单。
	UnpaidOrderTimeout  time.Duration `yaml:"unpaidOrderTimeout"`
	UnpaidOrderInterval time.Duration `yaml:"unpaidOrderInterval"`
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		CartInterval:        time.Hour,
		LockInterval:        5 * time.Minute,
		RateLimitInterval:   time.Minute,
		UnpaidOrderTimeout:  24 * time.Hour,
		UnpaidOrderInterval: 15 * time.Minute,
	}
}

// SweepJobs 组装后台清理任务：过期购物车、超时未支付订单、空闲锁条目、过期限流桶。
// 传入 nil 的组件对应的任务会被跳过。
func SweepJobs(cfg SweepConfig, carts *CartService, orders *OrderService, locks *keyedmutex.KeyedMutex, limiter *ratelimit.Limiter) []sweeper.Job {
	var jobs []sweeper.Job
	if carts != nil {
		jobs = append(jobs, sweeper.Job{Name: "carts", Interval: cfg.CartInterval, Run: carts.SweepExpired})
	}
	if orders != nil && cfg.UnpaidOrderTimeout > 0 {
		jobs = append(jobs, sweeper.Job{Name: "unpaid-orders", Interval: cfg.UnpaidOrderInterval, Run: func(ctx context.Context) (int, error) {
			return orders.CancelUnpaid(ctx, cfg.UnpaidOrderTimeout)
		}})
	}
	if locks != nil {
		jobs = append(jobs, sweeper.Job{Name: "locks", Interval: cfg.LockInterval, Run: func(context.Context) (int, error) {
			return locks.Sweep(), nil
		}})
	}
	if limiter != nil {
		jobs = append(jobs, sweeper.Job{Name: "ratelimit", Interval: cfg.RateLimitInterval, Run: func(context.Context) (int, error) {
			return limiter.Sweep(), nil
		}})
	}
	return jobs
}
