// internal/service/shop/domain/repository.go
package domain

import (
	"context"
	"time"
)

// 以下仓储接口位于领域层，由基础设施层实现。
// 除 Tenant 和支付回调查找外，所有方法都按 tenantID 过滤：
// 其他租户的实体一律表现为 NotFound。

type TenantRepository interface {
	FindByID(ctx context.Context, id string) (*Tenant, error)
	Save(ctx context.Context, tenant *Tenant) error
}

type ProductFilter struct {
	Status ProductStatus
	Query  string
	Limit  int
	Offset int
}

type ProductRepository interface {
	// Create 插入商品及其变体、图片。slug/SKU 重复返回 ConflictError。
	Create(ctx context.Context, p *Product) error
	// Update 保存商品头、变体和图片（新增的插入，缺失的删除）。库存字段不在这里改。
	Update(ctx context.Context, p *Product) error
	Delete(ctx context.Context, tenantID, id string) error
	FindByID(ctx context.Context, tenantID, id string) (*Product, error)
	FindBySlug(ctx context.Context, tenantID, slug string) (*Product, error)
	List(ctx context.Context, tenantID string, filter ProductFilter) ([]*Product, error)
	ExistsBySlug(ctx context.Context, tenantID, slug string) (bool, error)
	ExistsBySKU(ctx context.Context, tenantID, sku string) (bool, error)
	// AdjustStock 条件更新库存（UPDATE ... WHERE stock_quantity + delta >= 0），
	// 会变为负数时返回 *InsufficientStockError。variantID 为空表示简单商品本身。返回新库存。
	AdjustStock(ctx context.Context, tenantID, productID, variantID string, delta int) (int, error)
}

type CartRepository interface {
	FindByID(ctx context.Context, tenantID, id string) (*Cart, error)
	FindBySession(ctx context.Context, tenantID, sessionID string) (*Cart, error)
	// Save 以整体替换的方式保存购物车及其明细。
	Save(ctx context.Context, cart *Cart) error
	Delete(ctx context.Context, tenantID, id string) error
	// DeleteExpired 删除 ExpiresAt 不晚于 before 的购物车，返回删除数量。
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

type OrderFilter struct {
	Status OrderStatus
	Limit  int
	Offset int
}

type OrderRepository interface {
	// Create 只插入订单头。订单号重复返回 ConflictError。
	Create(ctx context.Context, o *Order) error
	AddItems(ctx context.Context, orderID string, items []*OrderItem) error
	// Save 更新订单头（状态、金额、支付引用、备注）。
	Save(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, tenantID, id string) (*Order, error)
	FindByNumber(ctx context.Context, tenantID, number string) (*Order, error)
	// FindByPaymentReference 供支付回调使用，回调本身不携带租户。
	FindByPaymentReference(ctx context.Context, reference string) (*Order, error)
	ExistsByNumber(ctx context.Context, tenantID, number string) (bool, error)
	List(ctx context.Context, tenantID string, filter OrderFilter) ([]*Order, error)
	// FindStale 跨租户返回 status 且 UpdatedAt 早于 before 的订单，最旧的在前，供后台任务使用。
	FindStale(ctx context.Context, status OrderStatus, before time.Time, limit int) ([]*Order, error)
}

// TxRunner 在一个事务中执行 fn；fn 内通过 ctx 使用同一个事务。
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
