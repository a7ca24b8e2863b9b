package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/service/shop/domain"
)

func TestCartService_AddItemMergesAndChecksStock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.seedProduct(t, "t1", "socks", "4.99", 5)

	cart, err := h.cart.AddItem(ctx, "t1", "s1", AddCartItemRequest{ProductID: p.ID, Quantity: 2})
	require.NoError(t, err)
	cart, err = h.cart.AddItem(ctx, "t1", "s1", AddCartItemRequest{ProductID: p.ID, Quantity: 3})
	require.NoError(t, err)

	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
	assert.Equal(t, "24.95", cart.Subtotal.StringFixed(2))
	assert.Equal(t, "2.50", cart.Tax.StringFixed(2))
	assert.Equal(t, "27.45", cart.Total.StringFixed(2))

	// 合并后的数量 6 超过库存 5
	_, err = h.cart.AddItem(ctx, "t1", "s1", AddCartItemRequest{ProductID: p.ID, Quantity: 1})
	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 5, insufficient.Available)
	assert.Equal(t, 6, insufficient.Requested)

	stored, err := h.cart.GetOrCreateCart(ctx, "t1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 5, stored.ItemCount())
	// 加购不扣库存
	assert.Equal(t, 5, h.stockOf(t, "t1", p.ID, ""))
}

func TestCartService_RejectsUnavailableProducts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.seedProduct(t, "t1", "poster", "10", 3)
	foreign := h.seedProduct(t, "t2", "foreign", "10", 3)

	_, err := h.cart.AddItem(ctx, "t1", "s1", AddCartItemRequest{ProductID: p.ID, Quantity: 0})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.cart.AddItem(ctx, "t1", "s1", AddCartItemRequest{ProductID: foreign.ID, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	draft, err := h.catalog.Create(ctx, "t1", CreateProductRequest{Name: "Draft", Slug: "draft", Price: decimal.NewFromInt(1), StockQuantity: 9})
	require.NoError(t, err)
	_, err = h.cart.AddItem(ctx, "t1", "s1", AddCartItemRequest{ProductID: draft.ID, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.cart.AddItem(ctx, "t1", "", AddCartItemRequest{ProductID: p.ID, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.cart.AddItem(ctx, "t3", "s1", AddCartItemRequest{ProductID: p.ID, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrFeatureDisabled)
}

func TestCartService_VariantLines(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.seedProduct(t, "t1", "hoodie", "35", 0)
	small, err := h.catalog.AddVariant(ctx, "t1", p.ID, AddVariantRequest{SKU: "HD-S", Name: "Small", Price: decimal.NewFromInt(35), StockQuantity: 2})
	require.NoError(t, err)
	large, err := h.catalog.AddVariant(ctx, "t1", p.ID, AddVariantRequest{SKU: "HD-L", Name: "Large", Price: decimal.NewFromInt(38), StockQuantity: 2})
	require.NoError(t, err)

	_, err = h.cart.AddItem(ctx, "t1", "s1", AddCartItemRequest{ProductID: p.ID, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrValidation, "variant is required")

	_, err = h.cart.AddItem(ctx, "t1", "s1", AddCartItemRequest{ProductID: p.ID, VariantID: small.ID, Quantity: 2})
	require.NoError(t, err)
	cart, err := h.cart.AddItem(ctx, "t1", "s1", AddCartItemRequest{ProductID: p.ID, VariantID: large.ID, Quantity: 1})
	require.NoError(t, err)

	require.Len(t, cart.Items, 2)
	line := cart.FindItem(p.ID, large.ID)
	require.NotNil(t, line)
	assert.Equal(t, "HD-L", line.SKU)
	assert.Equal(t, "Large", line.VariantName)
	assert.Equal(t, "108.00", cart.Subtotal.StringFixed(2))
}

func TestCartService_UpdateRemoveClear(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.seedProduct(t, "t1", "pen", "2", 10)
	b := h.seedProduct(t, "t1", "ink", "6", 1)

	_, err := h.cart.AddItem(ctx, "t1", "s1", AddCartItemRequest{ProductID: a.ID, Quantity: 1})
	require.NoError(t, err)
	cart, err := h.cart.AddItem(ctx, "t1", "s1", AddCartItemRequest{ProductID: b.ID, Quantity: 1})
	require.NoError(t, err)
	penLine := cart.FindItem(a.ID, "")
	inkLine := cart.FindItem(b.ID, "")

	cart, err = h.cart.UpdateItemQuantity(ctx, "t1", "s1", penLine.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, "14.00", cart.Subtotal.StringFixed(2))

	_, err = h.cart.UpdateItemQuantity(ctx, "t1", "s1", inkLine.ID, 2)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	_, err = h.cart.UpdateItemQuantity(ctx, "t1", "s1", inkLine.ID, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = h.cart.UpdateItemQuantity(ctx, "t1", "s1", "missing", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	cart, err = h.cart.RemoveItem(ctx, "t1", "s1", inkLine.ID)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
	assert.Equal(t, "8.80", cart.Total.StringFixed(2))

	cart, err = h.cart.Clear(ctx, "t1", "s1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
	assert.True(t, cart.Total.IsZero())
}

func TestCartService_Lifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.seedProduct(t, "t1", "cap", "15", 10)

	cart, err := h.cart.AddItem(ctx, "t1", "s1", AddCartItemRequest{ProductID: p.ID, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, start.Add(48*time.Hour), cart.ExpiresAt)

	// 进入"即将过期"区间后读取会顺延
	h.clock.Advance(40 * time.Hour)
	extended, err := h.cart.GetOrCreateCart(ctx, "t1", "s1")
	require.NoError(t, err)
	assert.Equal(t, cart.ID, extended.ID)
	assert.Equal(t, h.clock.Now().Add(48*time.Hour), extended.ExpiresAt)

	// 过期后被新的空购物车替换
	h.clock.Advance(49 * time.Hour)
	fresh, err := h.cart.GetOrCreateCart(ctx, "t1", "s1")
	require.NoError(t, err)
	assert.NotEqual(t, cart.ID, fresh.ID)
	assert.True(t, fresh.IsEmpty())
}

func TestCartService_SweepExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.cart.GetOrCreateCart(ctx, "t1", "old")
	require.NoError(t, err)
	h.clock.Advance(24 * time.Hour)
	_, err = h.cart.GetOrCreateCart(ctx, "t2", "new")
	require.NoError(t, err)

	h.clock.Advance(25 * time.Hour)
	n, err := h.cart.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = h.carts.FindBySession(ctx, "t1", "old")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.carts.FindBySession(ctx, "t2", "new")
	assert.NoError(t, err)
}

func TestCartService_SessionsAreTenantScoped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c1, err := h.cart.GetOrCreateCart(ctx, "t1", "shared")
	require.NoError(t, err)
	c2, err := h.cart.GetOrCreateCart(ctx, "t2", "shared")
	require.NoError(t, err)
	assert.NotEqual(t, c1.ID, c2.ID)
}

// 同一会话并发加购：结果数量等于所有成功请求之和，且从不超过库存。
func TestCartService_ConcurrentAddsRespectStock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.seedProduct(t, "t1", "limited", "9", 7)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.cart.AddItem(ctx, "t1", "s1", AddCartItemRequest{ProductID: p.ID, Quantity: 1})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, domain.ErrInsufficientStock), "unexpected error: %v", err)
		}()
	}
	wg.Wait()

	cart, err := h.cart.GetOrCreateCart(ctx, "t1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 7, succeeded)
	assert.Equal(t, 7, cart.ItemCount())
	assert.Len(t, cart.Items, 1)
}
