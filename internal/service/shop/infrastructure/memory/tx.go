// internal/service/shop/infrastructure/memory/tx.go
package memory

import (
	"context"
	"sync"
)

type txKey struct{}

// journal 记录事务内每次写入的补偿动作，失败时逆序执行。
type journal struct {
	mu   sync.Mutex
	undo []func()
}

func (j *journal) rollback() {
	j.mu.Lock()
	undo := j.undo
	j.undo = nil
	j.mu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

// onRollback 在 ctx 处于事务中时登记补偿动作；不在事务中则什么都不做。
// 补偿动作在仓储锁释放后执行，需要自己加锁。
func onRollback(ctx context.Context, fn func()) {
	j, ok := ctx.Value(txKey{}).(*journal)
	if !ok {
		return
	}
	j.mu.Lock()
	j.undo = append(j.undo, fn)
	j.mu.Unlock()
}

// TxRunner 实现 domain.TxRunner。fn 返回错误或 panic 时撤销事务内的全部写入；
// 嵌套调用并入外层事务。
type TxRunner struct{}

func (TxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*journal); ok {
		return fn(ctx)
	}
	j := &journal{}
	defer func() {
		if p := recover(); p != nil {
			j.rollback()
			panic(p)
		}
	}()
	if err := fn(context.WithValue(ctx, txKey{}, j)); err != nil {
		j.rollback()
		return err
	}
	return nil
}
