// internal/service/shop/domain/cart.go
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartItem 是购物车中的一行，单价在加入时从商品/变体解析。
type CartItem struct {
	ID          string
	ProductID   string
	VariantID   string
	ProductName string
	VariantName string
	SKU         string
	Quantity    int
	UnitPrice   decimal.Decimal
}

func (i *CartItem) LineTotal() decimal.Decimal {
	return Money(i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity))))
}

type CartState string

const (
	CartActive       CartState = "active"
	CartExpiringSoon CartState = "expiring_soon"
	CartExpired      CartState = "expired"
)

// Cart 是会话级的购物车聚合。Subtotal/Tax/Total 都是派生值，每次改动后由 RecalculateTotals 重算。
type Cart struct {
	ID        string
	TenantID  string
	SessionID string
	Items     []*CartItem
	Subtotal  decimal.Decimal
	Tax       decimal.Decimal
	Shipping  decimal.Decimal
	Total     decimal.Decimal
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewCart(tenantID, sessionID string, now time.Time, ttl time.Duration) *Cart {
	return &Cart{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		SessionID: sessionID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (c *Cart) IsEmpty() bool { return len(c.Items) == 0 }

// ItemCount 返回所有行的数量之和。
func (c *Cart) ItemCount() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// FindItem 按 (productID, variantID) 查找已有行。
func (c *Cart) FindItem(productID, variantID string) *CartItem {
	for _, it := range c.Items {
		if it.ProductID == productID && it.VariantID == variantID {
			return it
		}
	}
	return nil
}

func (c *Cart) Item(itemID string) (*CartItem, error) {
	for _, it := range c.Items {
		if it.ID == itemID {
			return it, nil
		}
	}
	return nil, NewNotFound("cart item", itemID)
}

// QuantityAfterAdd 返回加入 qty 后该 (product, variant) 行的合并数量，用于提交前校验库存。
func (c *Cart) QuantityAfterAdd(productID, variantID string, qty int) int {
	if it := c.FindItem(productID, variantID); it != nil {
		return it.Quantity + qty
	}
	return qty
}

// AddItem 合并或追加一行，返回合并后的行。调用方负责之后调用 RecalculateTotals。
func (c *Cart) AddItem(line CartItem, now time.Time) (*CartItem, error) {
	if line.Quantity < 1 {
		return nil, NewValidationError("quantity", "must be at least 1")
	}
	if line.UnitPrice.IsNegative() {
		return nil, NewValidationError("unitPrice", "must not be negative")
	}
	if it := c.FindItem(line.ProductID, line.VariantID); it != nil {
		it.Quantity += line.Quantity
		it.UnitPrice = Money(line.UnitPrice)
		c.UpdatedAt = now
		return it, nil
	}
	if line.ID == "" {
		line.ID = uuid.NewString()
	}
	line.UnitPrice = Money(line.UnitPrice)
	it := &line
	c.Items = append(c.Items, it)
	c.UpdatedAt = now
	return it, nil
}

func (c *Cart) UpdateItemQuantity(itemID string, qty int, now time.Time) (*CartItem, error) {
	if qty < 1 {
		return nil, NewValidationError("quantity", "must be at least 1")
	}
	it, err := c.Item(itemID)
	if err != nil {
		return nil, err
	}
	it.Quantity = qty
	c.UpdatedAt = now
	return it, nil
}

func (c *Cart) RemoveItem(itemID string, now time.Time) error {
	for i, it := range c.Items {
		if it.ID == itemID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			c.UpdatedAt = now
			return nil
		}
	}
	return NewNotFound("cart item", itemID)
}

func (c *Cart) Clear(now time.Time) {
	c.Items = nil
	c.UpdatedAt = now
}

// RecalculateTotals: subtotal = Σ unitPrice*qty；tax 由 policy 给出；total = subtotal + tax + shipping。
func (c *Cart) RecalculateTotals(policy TaxPolicy) {
	subtotal := decimal.Zero
	for _, it := range c.Items {
		subtotal = subtotal.Add(it.LineTotal())
	}
	if policy == nil {
		policy = NoTax
	}
	c.Subtotal = Money(subtotal)
	c.Tax = Money(policy.Tax(c.Subtotal))
	if c.IsEmpty() {
		c.Shipping = decimal.Zero
	}
	c.Shipping = Money(c.Shipping)
	c.Total = c.Subtotal.Add(c.Tax).Add(c.Shipping)
}

// State 返回隐式生命周期：过期 / 即将过期（剩余不超过 threshold）/ 活跃。
func (c *Cart) State(now time.Time, threshold time.Duration) CartState {
	if !now.Before(c.ExpiresAt) {
		return CartExpired
	}
	if c.ExpiresAt.Sub(now) <= threshold {
		return CartExpiringSoon
	}
	return CartActive
}

// Extend 把过期时间顺延到 now+ttl。
func (c *Cart) Extend(now time.Time, ttl time.Duration) {
	c.ExpiresAt = now.Add(ttl)
	c.UpdatedAt = now
}
