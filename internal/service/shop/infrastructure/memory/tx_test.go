package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/service/shop/domain"
)

var now = time.Date(2025, 5, 2, 8, 0, 0, 0, time.UTC)

func seedProduct(t *testing.T, repo *ProductRepository, stock int) *domain.Product {
	t.Helper()
	p, err := domain.NewProduct("t1", "Mug", "mug", "MUG-1", "", decimal.RequireFromString("9.90"), stock, now)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), p))
	return p
}

func TestTxRunner_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	products := NewProductRepository()
	orders := NewOrderRepository()
	carts := NewCartRepository()
	mug := seedProduct(t, products, 5)
	boom := errors.New("boom")

	err := TxRunner{}.WithinTx(ctx, func(ctx context.Context) error {
		_, err := products.AdjustStock(ctx, "t1", mug.ID, "", -3)
		require.NoError(t, err)

		o, err := domain.NewOrder("t1", "ACM-1", domain.Customer{Name: "Bo", Email: "bo@example.com"}, "USD", now)
		require.NoError(t, err)
		require.NoError(t, orders.Create(ctx, o))
		require.NoError(t, orders.AddItems(ctx, o.ID, []*domain.OrderItem{{ID: "i1", ProductID: mug.ID, Quantity: 3}}))

		renamed := *mug
		renamed.Name = "Renamed"
		require.NoError(t, products.Update(ctx, &renamed))

		require.NoError(t, carts.Save(ctx, domain.NewCart("t1", "s1", now, time.Hour)))
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := products.FindByID(ctx, "t1", mug.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, p.StockQuantity)
	assert.Equal(t, "Mug", p.Name)
	exists, err := orders.ExistsByNumber(ctx, "t1", "ACM-1")
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = carts.FindBySession(ctx, "t1", "s1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTxRunner_CommitKeepsWrites(t *testing.T) {
	ctx := context.Background()
	products := NewProductRepository()
	mug := seedProduct(t, products, 5)

	err := TxRunner{}.WithinTx(ctx, func(ctx context.Context) error {
		// 嵌套事务并入外层
		return TxRunner{}.WithinTx(ctx, func(ctx context.Context) error {
			_, err := products.AdjustStock(ctx, "t1", mug.ID, "", -2)
			return err
		})
	})
	require.NoError(t, err)

	p, err := products.FindByID(ctx, "t1", mug.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, p.StockQuantity)
}

func TestTxRunner_RollbackKeepsConcurrentStockChanges(t *testing.T) {
	ctx := context.Background()
	products := NewProductRepository()
	mug := seedProduct(t, products, 5)

	err := TxRunner{}.WithinTx(ctx, func(txCtx context.Context) error {
		_, err := products.AdjustStock(txCtx, "t1", mug.ID, "", -3)
		require.NoError(t, err)
		// 事务外的补货不能被回滚覆盖
		_, err = products.AdjustStock(ctx, "t1", mug.ID, "", 10)
		require.NoError(t, err)
		return errors.New("abort")
	})
	require.Error(t, err)

	p, err := products.FindByID(ctx, "t1", mug.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, p.StockQuantity)
}

func TestTxRunner_RollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	products := NewProductRepository()
	mug := seedProduct(t, products, 5)

	assert.Panics(t, func() {
		_ = TxRunner{}.WithinTx(ctx, func(ctx context.Context) error {
			_, _ = products.AdjustStock(ctx, "t1", mug.ID, "", -5)
			panic("crash")
		})
	})
	p, err := products.FindByID(ctx, "t1", mug.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, p.StockQuantity)
}
