package domain

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestCart_AddItemMerges(t *testing.T) {
	c := NewCart("t1", "s1", now, time.Hour)

	first, err := c.AddItem(CartItem{ProductID: "p1", VariantID: "v1", Quantity: 2, UnitPrice: decimal.RequireFromString("9.99")}, now)
	require.NoError(t, err)
	assert.Equal(t, 5, c.QuantityAfterAdd("p1", "v1", 3))
	merged, err := c.AddItem(CartItem{ProductID: "p1", VariantID: "v1", Quantity: 3, UnitPrice: decimal.RequireFromString("9.99")}, now)
	require.NoError(t, err)

	assert.Same(t, first, merged)
	assert.Equal(t, 5, merged.Quantity)
	assert.Len(t, c.Items, 1)

	_, err = c.AddItem(CartItem{ProductID: "p1", VariantID: "v2", Quantity: 1, UnitPrice: decimal.NewFromInt(5)}, now)
	require.NoError(t, err)
	assert.Len(t, c.Items, 2)
	assert.Equal(t, 6, c.ItemCount())

	_, err = c.AddItem(CartItem{ProductID: "p1", Quantity: 0}, now)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCart_RecalculateTotals(t *testing.T) {
	c := NewCart("t1", "s1", now, time.Hour)
	_, _ = c.AddItem(CartItem{ProductID: "p1", Quantity: 3, UnitPrice: decimal.RequireFromString("19.99")}, now)
	_, _ = c.AddItem(CartItem{ProductID: "p2", Quantity: 1, UnitPrice: decimal.RequireFromString("0.05")}, now)

	c.RecalculateTotals(FlatRateTaxPolicy{Rate: decimal.RequireFromString("0.0825")})

	assert.Equal(t, "60.02", c.Subtotal.StringFixed(2))
	assert.Equal(t, "4.95", c.Tax.StringFixed(2))
	assert.Equal(t, "64.97", c.Total.StringFixed(2))
}

// 任意 add/update/remove 序列后 total == Σ unitPrice*qty + tax。
func TestCart_TotalInvariant(t *testing.T) {
	policy := FlatRateTaxPolicy{Rate: decimal.RequireFromString("0.07")}
	r := rand.New(rand.NewSource(7))
	products := []string{"p1", "p2", "p3", "p4"}

	for round := 0; round < 100; round++ {
		c := NewCart("t1", "s1", now, time.Hour)
		for step := 0; step < 30; step++ {
			switch op := r.Intn(3); {
			case op == 0 || c.IsEmpty():
				price := decimal.New(int64(r.Intn(100000)), -2)
				_, err := c.AddItem(CartItem{ProductID: products[r.Intn(len(products))], Quantity: r.Intn(5) + 1, UnitPrice: price}, now)
				require.NoError(t, err)
			case op == 1:
				it := c.Items[r.Intn(len(c.Items))]
				_, err := c.UpdateItemQuantity(it.ID, r.Intn(9)+1, now)
				require.NoError(t, err)
			default:
				it := c.Items[r.Intn(len(c.Items))]
				require.NoError(t, c.RemoveItem(it.ID, now))
			}
			c.RecalculateTotals(policy)

			sum := decimal.Zero
			for _, it := range c.Items {
				sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
			}
			assert.True(t, c.Subtotal.Equal(sum.Round(2)))
			assert.True(t, c.Total.Equal(sum.Round(2).Add(policy.Tax(sum.Round(2)))), "round %d step %d", round, step)
		}
	}
}

func TestCart_UpdateAndRemoveUnknownItem(t *testing.T) {
	c := NewCart("t1", "s1", now, time.Hour)
	_, err := c.UpdateItemQuantity("missing", 1, now)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, c.RemoveItem("missing", now), ErrNotFound)

	it, _ := c.AddItem(CartItem{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(1)}, now)
	_, err = c.UpdateItemQuantity(it.ID, 0, now)
	assert.ErrorIs(t, err, ErrValidation)

	c.Clear(now)
	c.RecalculateTotals(nil)
	assert.True(t, c.IsEmpty())
	assert.True(t, c.Total.IsZero())
}

func TestCart_Lifecycle(t *testing.T) {
	c := NewCart("t1", "s1", now, 24*time.Hour)
	threshold := 2 * time.Hour

	assert.Equal(t, CartActive, c.State(now, threshold))
	assert.Equal(t, CartExpiringSoon, c.State(now.Add(23*time.Hour), threshold))
	assert.Equal(t, CartExpired, c.State(now.Add(24*time.Hour), threshold))

	later := now.Add(23 * time.Hour)
	c.Extend(later, 24*time.Hour)
	assert.Equal(t, CartActive, c.State(later, threshold))
}
