// internal/pkg/sweeper/sweeper.go
package sweeper

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Job 是一个周期性清理任务，返回本次移除的条目数。
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int, error)
}

// Sweeper 为每个 Job 启动一个独立的 ticker，直到 ctx 结束。
type Sweeper struct {
	jobs    []Job
	removed *prometheus.CounterVec
}

func New(removed *prometheus.CounterVec, jobs ...Job) *Sweeper {
	return &Sweeper{jobs: jobs, removed: removed}
}

// Run 阻塞直到 ctx 被取消。单次执行失败只记录日志，不会终止其它任务。
func (s *Sweeper) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		job := job
		if job.Interval <= 0 {
			continue
		}
		g.Go(func() error {
			zlog.Info().Str("job", job.Name).Dur("interval", job.Interval).Msg("✅ Sweep job started")
			ticker := time.NewTicker(job.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.RunOnce(ctx, job)
				case <-ctx.Done():
					zlog.Info().Str("job", job.Name).Msg("🛑 Sweep job stopped")
					return nil
				}
			}
		})
	}
	return g.Wait()
}

// RunOnce 立即执行一次 job。
func (s *Sweeper) RunOnce(ctx context.Context, job Job) {
	n, err := job.Run(ctx)
	if err != nil {
		zlog.Error().Err(err).Str("job", job.Name).Msg("sweep failed")
		return
	}
	if n > 0 {
		zlog.Debug().Str("job", job.Name).Int("removed", n).Msg("sweep finished")
	}
	if s.removed != nil {
		s.removed.WithLabelValues(job.Name).Add(float64(n))
	}
}
