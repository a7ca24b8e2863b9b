// internal/service/shop/application/common.go
package application

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/pkg/keyedmutex"
)

const (
	cartSessionLockPrefix = "cart-session:"
	cartLockPrefix        = "cart:"
	orderLockPrefix       = "order:"
	productLockPrefix     = "product:"
)

// fail 在 span 上记录错误并原样返回。
func fail(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// lockAll 按排序后的 key 依次加锁再执行 fn，所有需要多把库存锁的操作都走这里以避免死锁。
func lockAll(ctx context.Context, locks *keyedmutex.KeyedMutex, keys []string, fn func(ctx context.Context) error) error {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	uniq := sorted[:0]
	for i, k := range sorted {
		if i == 0 || k != sorted[i-1] {
			uniq = append(uniq, k)
		}
	}
	return lockChain(ctx, locks, uniq, fn)
}

func lockChain(ctx context.Context, locks *keyedmutex.KeyedMutex, keys []string, fn func(ctx context.Context) error) error {
	if len(keys) == 0 {
		return fn(ctx)
	}
	return locks.Do(ctx, keys[0], func(ctx context.Context) error {
		return lockChain(ctx, locks, keys[1:], fn)
	})
}
