// internal/service/shop/domain/order.go
package domain

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Customer struct {
	Name            string
	Email           string
	Phone           string
	ShippingAddress string
}

func (c Customer) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return NewValidationError("customer.name", "is required")
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return NewValidationError("customer.email", "is not a valid address")
	}
	return nil
}

// OrderItem 是下单时的快照：名称、SKU、单价都是复制过来的，不随商品变化。
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	VariantID   string
	ProductName string
	VariantName string
	SKU         string
	Quantity    int
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

func NewOrderItemFromCart(orderID string, it *CartItem) *OrderItem {
	return &OrderItem{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		ProductID:   it.ProductID,
		VariantID:   it.VariantID,
		ProductName: it.ProductName,
		VariantName: it.VariantName,
		SKU:         it.SKU,
		Quantity:    it.Quantity,
		UnitPrice:   Money(it.UnitPrice),
		LineTotal:   it.LineTotal(),
	}
}

// Order 是订单聚合根。创建后除状态和少量后台可编辑字段外不可变。
type Order struct {
	ID               string
	TenantID         string
	OrderNumber      string
	Status           OrderStatus
	Customer         Customer
	Items            []*OrderItem
	Subtotal         decimal.Decimal
	Tax              decimal.Decimal
	Shipping         decimal.Decimal
	TotalAmount      decimal.Decimal
	Currency         string
	PaymentReference string
	Notes            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// 工厂函数: NewOrder 创建一个待支付订单（尚无明细）。
func NewOrder(tenantID, orderNumber string, customer Customer, currency string, now time.Time) (*Order, error) {
	if err := customer.Validate(); err != nil {
		return nil, err
	}
	return &Order{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		OrderNumber: orderNumber,
		Status:      StatusPendingPayment,
		Customer:    customer,
		Currency:    currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// CopyTotals 原样复制购物车的金额。
func (o *Order) CopyTotals(c *Cart) {
	o.Subtotal = c.Subtotal
	o.Tax = c.Tax
	o.Shipping = c.Shipping
	o.TotalAmount = c.Total
}

// RecalculateTotals 从明细快照重算：subtotal = Σ lineTotal，total = subtotal + tax + shipping。
func (o *Order) RecalculateTotals() {
	subtotal := decimal.Zero
	for _, it := range o.Items {
		it.LineTotal = Money(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
		subtotal = subtotal.Add(it.LineTotal)
	}
	o.Subtotal = Money(subtotal)
	o.Tax = Money(o.Tax)
	o.Shipping = Money(o.Shipping)
	o.TotalAmount = o.Subtotal.Add(o.Tax).Add(o.Shipping)
}

func (o *Order) CanBeCancelled() bool {
	return o.Status.CanBeCancelled()
}

// TransitionTo 按状态表流转，非法流转返回 ConflictError。
func (o *Order) TransitionTo(next OrderStatus, now time.Time) error {
	if !next.Valid() {
		return NewValidationError("status", "unknown status %q", next)
	}
	if !o.Status.CanTransitionTo(next) {
		return NewConflict("order", "cannot transition from %s to %s", o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = now
	return nil
}

// Cancel 取消订单
func (o *Order) Cancel(now time.Time) error {
	if !o.CanBeCancelled() {
		return NewConflict("order", "order in status %s cannot be cancelled", o.Status)
	}
	o.Status = StatusCancelled
	o.UpdatedAt = now
	return nil
}
