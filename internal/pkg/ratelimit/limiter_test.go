package ratelimit

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/pkg/clock"
	"storefront/internal/pkg/redis"
)

var t0 = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestLimiter(opts ...Option) (*Limiter, *clock.Manual) {
	clk := clock.NewManual(t0)
	cfg := DefaultConfig()
	cfg.OrderCreationPerMinute = 5
	return New(cfg, append([]Option{WithClock(clk)}, opts...)...), clk
}

func TestLimiter_AdmitsCapacityThenRejects(t *testing.T) {
	l, clk := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.CheckLimit(ctx, OpOrder, "tenant-a:s1"), "call %d", i+1)
	}

	err := l.CheckLimit(ctx, OpOrder, "tenant-a:s1")
	require.Error(t, err)
	var rle *RateLimitExceededError
	require.ErrorAs(t, err, &rle)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, OpOrder, rle.Operation)
	assert.Equal(t, 5, rle.Limit)
	assert.Equal(t, 60, rle.WindowSeconds)
	assert.Equal(t, 60*time.Second, rle.RetryAfter)

	// 窗口结束时刻本身仍属于当前窗口
	clk.Advance(60 * time.Second)
	assert.Error(t, l.CheckLimit(ctx, OpOrder, "tenant-a:s1"))

	clk.Advance(time.Millisecond)
	require.NoError(t, l.CheckLimit(ctx, OpOrder, "tenant-a:s1"))

	st, err := l.GetStatus(ctx, OpOrder, "tenant-a:s1")
	require.NoError(t, err)
	assert.Equal(t, 5, st.Limit)
	assert.Equal(t, 4, st.Remaining)
	assert.Equal(t, clk.Now().Add(60*time.Second), st.ResetTime)
}

func TestLimiter_RetryAfterShrinksWithinWindow(t *testing.T) {
	l, clk := newTestLimiter()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.CheckLimit(ctx, OpOrder, "k"))
	}
	clk.Advance(45 * time.Second)

	var rle *RateLimitExceededError
	require.ErrorAs(t, l.CheckLimit(ctx, OpOrder, "k"), &rle)
	assert.Equal(t, 15*time.Second, rle.RetryAfter)
	assert.Equal(t, 15, rle.RetryAfterSeconds())
}

func TestLimiter_KeysAndOperationsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.CheckLimit(ctx, OpOrder, "a"))
	}
	assert.Error(t, l.CheckLimit(ctx, OpOrder, "a"))
	assert.NoError(t, l.CheckLimit(ctx, OpOrder, "b"))
	assert.NoError(t, l.CheckLimit(ctx, OpCart, "a"))
}

func TestLimiter_UnknownOperationAndDisabledAreUnlimited(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.CheckLimit(ctx, Operation("checkout-v2"), "k"))
	}
	st, err := l.GetStatus(ctx, Operation("checkout-v2"), "k")
	require.NoError(t, err)
	assert.True(t, st.Unlimited)

	cfg := DefaultConfig()
	cfg.Enabled = false
	off := New(cfg)
	for i := 0; i < 100; i++ {
		require.NoError(t, off.CheckLimit(ctx, OpOrder, "k"))
	}
}

func TestLimiter_GetStatusDoesNotConsume(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		st, err := l.GetStatus(ctx, OpOrder, "k")
		require.NoError(t, err)
		assert.Equal(t, 5, st.Remaining)
	}
	require.NoError(t, l.CheckLimit(ctx, OpOrder, "k"))
	st, err := l.GetStatus(ctx, OpOrder, "k")
	require.NoError(t, err)
	assert.Equal(t, 4, st.Remaining)
}

func TestLimiter_Clear(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.CheckLimit(ctx, OpOrder, "k"))
	}
	require.Error(t, l.CheckLimit(ctx, OpOrder, "k"))

	require.NoError(t, l.Clear(ctx, OpOrder, "k"))
	assert.NoError(t, l.CheckLimit(ctx, OpOrder, "k"))
}

func TestLimiter_Sweep(t *testing.T) {
	store := NewMemoryStore()
	l, clk := newTestLimiter(WithStore(store))
	ctx := context.Background()

	require.NoError(t, l.CheckLimit(ctx, OpOrder, "old"))
	clk.Advance(90 * time.Second)
	require.NoError(t, l.CheckLimit(ctx, OpOrder, "fresh"))

	// old 的窗口在 t0+60s 关闭，才过去 30s
	assert.Equal(t, 0, l.Sweep())

	clk.Advance(31 * time.Second)
	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, store.Len())
}

func TestLimiter_ConcurrentCallsNeverExceedCapacity(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.CheckLimit(ctx, OpOrder, "hot") == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(5), admitted.Load())
}

func TestLimiter_Metrics(t *testing.T) {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "decisions"}, []string{"operation", "outcome"})
	l, _ := newTestLimiter(WithMetrics(decisions))
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_ = l.CheckLimit(ctx, OpOrder, "k")
	}
	assert.Equal(t, 5.0, testutil.ToFloat64(decisions.WithLabelValues("order", "allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(decisions.WithLabelValues("order", "rejected")))
}

type failingStore struct{ MemoryStore }

func (*failingStore) Take(context.Context, string, int, time.Duration, time.Time) (Decision, error) {
	return Decision{}, errors.New("connection refused")
}

func TestLimiter_StoreFailureAdmits(t *testing.T) {
	l, _ := newTestLimiter(WithStore(&failingStore{}))
	assert.NoError(t, l.CheckLimit(context.Background(), OpOrder, "k"))
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client, err := redis.NewClient([]string{addr}, "", 0)
	require.NoError(t, err)
	defer client.Close()

	store, err := NewRedisStore(client)
	require.NoError(t, err)

	l, clk := newTestLimiter(WithStore(store))
	ctx := context.Background()
	key := "test:" + time.Now().Format(time.RFC3339Nano)
	defer l.Clear(ctx, OpOrder, key)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.CheckLimit(ctx, OpOrder, key))
	}
	require.Error(t, l.CheckLimit(ctx, OpOrder, key))

	clk.Advance(61 * time.Second)
	require.NoError(t, l.CheckLimit(ctx, OpOrder, key))
	st, err := l.GetStatus(ctx, OpOrder, key)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Remaining)
}
