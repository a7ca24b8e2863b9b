package keyedmutex

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_MutualExclusion(t *testing.T) {
	m := New()
	const n = 500

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Do(context.Background(), "counter", func(ctx context.Context) error {
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, n, counter)
}

func TestKeyedMutex_Reentrant(t *testing.T) {
	m := New()

	done := make(chan string, 1)
	go func() {
		v, err := Run(context.Background(), m, "order:1", func(ctx context.Context) (string, error) {
			return Run(ctx, m, "order:1", func(ctx context.Context) (string, error) {
				return "X", nil
			})
		})
		require.NoError(t, err)
		done <- v
	}()

	select {
	case v := <-done:
		assert.Equal(t, "X", v)
	case <-time.After(2 * time.Second):
		t.Fatal("nested acquisition deadlocked")
	}
}

func TestKeyedMutex_WrapsOperationError(t *testing.T) {
	m := New()
	cause := errors.New("boom")

	err := m.Do(context.Background(), "cart:7", func(ctx context.Context) error {
		return m.Do(ctx, "cart:7", func(ctx context.Context) error { return cause })
	})
	require.Error(t, err)

	var lockErr *LockOperationFailedError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, "cart:7", lockErr.Key)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrLockOperationFailed)
	// 可重入的内层调用不会重复包装
	assert.Same(t, cause, lockErr.Err)
}

func TestKeyedMutex_NestedKeysWrapOnce(t *testing.T) {
	m := New()
	cause := errors.New("disk full")

	err := m.Do(context.Background(), "cart-session:t1:s1", func(ctx context.Context) error {
		return m.Do(ctx, "cart:7", func(ctx context.Context) error {
			return m.Do(ctx, "stock:p1:", func(ctx context.Context) error { return cause })
		})
	})

	var lockErr *LockOperationFailedError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, "stock:p1:", lockErr.Key)
	assert.Same(t, cause, lockErr.Err)
	assert.Equal(t, `lock operation failed for key "stock:p1:": disk full`, err.Error())
}

func TestKeyedMutex_ReleasesAfterPanic(t *testing.T) {
	m := New()

	func() {
		defer func() { _ = recover() }()
		_ = m.Do(context.Background(), "k", func(ctx context.Context) error { panic("kaboom") })
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := m.Do(ctx, "k", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestKeyedMutex_WaitHonoursContext(t *testing.T) {
	m := New()
	held := make(chan struct{})
	releaseHolder := make(chan struct{})

	go func() {
		_ = m.Do(context.Background(), "k", func(ctx context.Context) error {
			close(held)
			<-releaseHolder
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := m.Do(ctx, "k", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)

	close(releaseHolder)
}

func TestKeyedMutex_DistinctKeysDoNotBlock(t *testing.T) {
	m := New()
	held := make(chan struct{})
	releaseHolder := make(chan struct{})
	defer close(releaseHolder)

	go func() {
		_ = m.Do(context.Background(), "a", func(ctx context.Context) error {
			close(held)
			<-releaseHolder
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, m.Do(ctx, "b", func(ctx context.Context) error { return nil }))
}

func TestKeyedMutex_SweepSkipsHeldLocks(t *testing.T) {
	m := New()
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, m.Do(context.Background(), k, func(ctx context.Context) error { return nil }))
	}

	held := make(chan struct{})
	releaseHolder := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_ = m.Do(context.Background(), "b", func(ctx context.Context) error {
			close(held)
			<-releaseHolder
			return nil
		})
	}()
	<-held

	assert.Equal(t, 2, m.Sweep())
	assert.Equal(t, 1, m.Len())

	close(releaseHolder)
	<-finished
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 0, m.Len())
}

type fakeBackend struct {
	mu       sync.Mutex
	acquired []string
	released int
}

func (b *fakeBackend) Acquire(ctx context.Context, key string) (func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acquired = append(b.acquired, key)
	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.released++
		return nil
	}, nil
}

func TestKeyedMutex_BackendOnlyOnOutermostAcquire(t *testing.T) {
	backend := &fakeBackend{}
	m := New(WithBackend(backend))

	err := m.Do(context.Background(), "stock:p1:v1", func(ctx context.Context) error {
		return m.Do(ctx, "stock:p1:v1", func(ctx context.Context) error { return nil })
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"stock:p1:v1"}, backend.acquired)
	assert.Equal(t, 1, backend.released)
}
