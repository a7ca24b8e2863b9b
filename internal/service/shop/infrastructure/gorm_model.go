// internal/service/shop/infrastructure/gorm_model.go
package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"
)

// TenantModel 对应 tenant 表
type TenantModel struct {
	ID               string `gorm:"primaryKey;size:36"`
	Slug             string `gorm:"size:100;uniqueIndex"`
	Name             string `gorm:"size:255"`
	Email            string `gorm:"size:255"`
	EcommerceEnabled bool
	OrderCodePrefix  string `gorm:"size:16"`
	CreatedAt        time.Time
}

func (TenantModel) TableName() string { return "tenant" }

// ProductModel 对应 product 表。slug 在租户内唯一；SKU 可为空，唯一性由仓储检查。
type ProductModel struct {
	ID            string          `gorm:"primaryKey;size:36"`
	TenantID      string          `gorm:"size:36;not null;uniqueIndex:idx_product_tenant_slug,priority:1;index"`
	Slug          string          `gorm:"size:255;not null;uniqueIndex:idx_product_tenant_slug,priority:2"`
	SKU           string          `gorm:"size:100"`
	Name          string          `gorm:"size:255;not null"`
	Description   string          `gorm:"type:text"`
	Price         decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Status        string          `gorm:"size:16;not null;index"`
	StockQuantity int             `gorm:"not null;default:0"`
	CreatedAt     time.Time       `gorm:"index"`
	UpdatedAt     time.Time

	Variants []VariantModel `gorm:"foreignKey:ProductID"`
	Images   []ImageModel   `gorm:"foreignKey:ProductID"`
}

func (ProductModel) TableName() string { return "product" }

// VariantModel 对应 product_variant 表，SKU 在租户内唯一。
type VariantModel struct {
	ID            string          `gorm:"primaryKey;size:36"`
	ProductID     string          `gorm:"size:36;not null;index"`
	TenantID      string          `gorm:"size:36;not null;uniqueIndex:idx_variant_tenant_sku,priority:1"`
	SKU           string          `gorm:"size:100;not null;uniqueIndex:idx_variant_tenant_sku,priority:2"`
	Name          string          `gorm:"size:255;not null"`
	Price         decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Active        bool
	Position      int
	StockQuantity int `gorm:"not null;default:0"`
}

func (VariantModel) TableName() string { return "product_variant" }

type ImageModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	ProductID string `gorm:"size:36;not null;index"`
	URL       string `gorm:"size:1024;not null"`
	AltText   string `gorm:"size:255"`
	IsMain    bool
	Position  int
}

func (ImageModel) TableName() string { return "product_image" }

// CartModel 对应 cart 表，一个会话在一个租户下只有一辆购物车。
type CartModel struct {
	ID        string          `gorm:"primaryKey;size:36"`
	TenantID  string          `gorm:"size:36;not null;uniqueIndex:idx_cart_tenant_session,priority:1"`
	SessionID string          `gorm:"size:128;not null;uniqueIndex:idx_cart_tenant_session,priority:2"`
	Subtotal  decimal.Decimal `gorm:"type:decimal(12,2)"`
	Tax       decimal.Decimal `gorm:"type:decimal(12,2)"`
	Shipping  decimal.Decimal `gorm:"type:decimal(12,2)"`
	Total     decimal.Decimal `gorm:"type:decimal(12,2)"`
	ExpiresAt time.Time       `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Items []CartItemModel `gorm:"foreignKey:CartID"`
}

func (CartModel) TableName() string { return "cart" }

type CartItemModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	CartID      string `gorm:"size:36;not null;index"`
	ProductID   string `gorm:"size:36;not null"`
	VariantID   string `gorm:"size:36"`
	ProductName string `gorm:"size:255"`
	VariantName string `gorm:"size:255"`
	SKU         string `gorm:"size:100"`
	Quantity    int
	UnitPrice   decimal.Decimal `gorm:"type:decimal(12,2)"`
	Position    int
}

func (CartItemModel) TableName() string { return "cart_item" }

// OrderModel 对应 shop_order 表（order 是保留字）。
type OrderModel struct {
	ID               string          `gorm:"primaryKey;size:36"`
	TenantID         string          `gorm:"size:36;not null;uniqueIndex:idx_order_tenant_number,priority:1"`
	OrderNumber      string          `gorm:"size:64;not null;uniqueIndex:idx_order_tenant_number,priority:2"`
	Status           string          `gorm:"size:32;not null;index"`
	CustomerName     string          `gorm:"size:255"`
	CustomerEmail    string          `gorm:"size:255"`
	CustomerPhone    string          `gorm:"size:64"`
	ShippingAddress  string          `gorm:"type:text"`
	Subtotal         decimal.Decimal `gorm:"type:decimal(12,2)"`
	Tax              decimal.Decimal `gorm:"type:decimal(12,2)"`
	Shipping         decimal.Decimal `gorm:"type:decimal(12,2)"`
	TotalAmount      decimal.Decimal `gorm:"type:decimal(12,2)"`
	Currency         string          `gorm:"size:3"`
	PaymentReference string          `gorm:"size:128;index"`
	Notes            string          `gorm:"type:text"`
	CreatedAt        time.Time       `gorm:"index"`
	UpdatedAt        time.Time

	Items []OrderItemModel `gorm:"foreignKey:OrderID"`
}

func (OrderModel) TableName() string { return "shop_order" }

type OrderItemModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	OrderID     string `gorm:"size:36;not null;index"`
	ProductID   string `gorm:"size:36;not null"`
	VariantID   string `gorm:"size:36"`
	ProductName string `gorm:"size:255"`
	VariantName string `gorm:"size:255"`
	SKU         string `gorm:"size:100"`
	Quantity    int
	UnitPrice   decimal.Decimal `gorm:"type:decimal(12,2)"`
	LineTotal   decimal.Decimal `gorm:"type:decimal(12,2)"`
	Position    int
}

func (OrderItemModel) TableName() string { return "shop_order_item" }

// AllModels 是 AutoMigrate 需要的全部模型。
func AllModels() []interface{} {
	return []interface{}{
		&TenantModel{}, &ProductModel{}, &VariantModel{}, &ImageModel{},
		&CartModel{}, &CartItemModel{}, &OrderModel{}, &OrderItemModel{},
	}
}
