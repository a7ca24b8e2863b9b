package domain

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProduct_Validation(t *testing.T) {
	tests := []struct {
		name  string
		pname string
		slug  string
		price string
		field string
	}{
		{"empty name", "  ", "mug", "1", "name"},
		{"long name", strings.Repeat("x", 256), "mug", "1", "name"},
		{"bad slug upper", "Mug", "Mug", "1", "slug"},
		{"bad slug double hyphen", "Mug", "big--mug", "1", "slug"},
		{"bad slug trailing hyphen", "Mug", "mug-", "1", "slug"},
		{"negative price", "Mug", "mug", "-0.01", "price"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewProduct("t1", tc.pname, tc.slug, "SKU-1", "", decimal.RequireFromString(tc.price), 0, now)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}

	p, err := NewProduct("t1", "Coffee Mug", "coffee-mug-2", "MUG-1", "", decimal.RequireFromString("12.5"), 3, now)
	require.NoError(t, err)
	assert.Equal(t, ProductDraft, p.Status)
	assert.Equal(t, "12.50", p.Price.StringFixed(2))
}

func TestProduct_Variants(t *testing.T) {
	p, err := NewProduct("t1", "Shirt", "shirt", "SHIRT", "", decimal.NewFromInt(20), 0, now)
	require.NoError(t, err)

	require.NoError(t, p.AddVariant(&Variant{SKU: "SHIRT-S", Name: "S", Price: decimal.NewFromInt(20), Active: true, Stock: Stock{StockQuantity: 2}}, now))
	err = p.AddVariant(&Variant{SKU: "shirt-s", Name: "S again", Price: decimal.NewFromInt(20)}, now)
	assert.ErrorIs(t, err, ErrConflict)

	v := p.Variants[0]
	got, err := p.Variant(v.ID)
	require.NoError(t, err)
	assert.Same(t, v, got)
	_, err = p.Variant("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = p.StockFor("")
	assert.ErrorIs(t, err, ErrValidation)
	s, err := p.StockFor(v.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, s.StockQuantity)

	// 草稿商品不可购买
	_, _, err = p.Purchasable(v.ID)
	assert.ErrorIs(t, err, ErrValidation)
	p.Status = ProductActive
	price, variant, err := p.Purchasable(v.ID)
	require.NoError(t, err)
	assert.Same(t, v, variant)
	assert.True(t, price.Equal(decimal.NewFromInt(20)))

	v.Active = false
	_, _, err = p.Purchasable(v.ID)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestProduct_EnsureMainImageIsIdempotent(t *testing.T) {
	p, _ := NewProduct("t1", "Lamp", "lamp", "LAMP", "", decimal.NewFromInt(40), 1, now)
	assert.False(t, p.EnsureMainImage())

	a, _ := p.AddImage("https://cdn/a.jpg", "", now)
	b, _ := p.AddImage("https://cdn/b.jpg", "", now)

	assert.True(t, p.EnsureMainImage())
	snapshot := []bool{a.IsMain, b.IsMain}
	assert.False(t, p.EnsureMainImage())
	assert.Equal(t, snapshot, []bool{a.IsMain, b.IsMain})
	assert.Same(t, a, p.MainImage())

	// 多张主图时只保留第一张
	b.IsMain = true
	assert.True(t, p.EnsureMainImage())
	assert.True(t, a.IsMain)
	assert.False(t, b.IsMain)
}

func TestProduct_SetMainImage(t *testing.T) {
	p, _ := NewProduct("t1", "Lamp", "lamp", "LAMP", "", decimal.NewFromInt(40), 1, now)
	a, _ := p.AddImage("https://cdn/a.jpg", "", now)
	b, _ := p.AddImage("https://cdn/b.jpg", "", now)
	p.EnsureMainImage()

	require.NoError(t, p.SetMainImage(b.ID, now))
	assert.False(t, a.IsMain)
	assert.True(t, b.IsMain)
	assert.ErrorIs(t, p.SetMainImage("missing", now), ErrNotFound)
}

func TestTenant_OrderPrefix(t *testing.T) {
	assert.Equal(t, "ACM", (&Tenant{Slug: "acme-clinic"}).OrderPrefix())
	assert.Equal(t, "SHOP2", (&Tenant{Slug: "acme", OrderCodePrefix: "shop-2"}).OrderPrefix())
	assert.Equal(t, "ORD", (&Tenant{Slug: "--"}).OrderPrefix())
}
