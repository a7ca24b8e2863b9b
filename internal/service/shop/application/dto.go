// internal/service/shop/application/dto.go
package application

import (
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/service/shop/domain"
)

// --- 请求 ---

type CreateProductRequest struct {
	Name          string          `json:"name"`
	Slug          string          `json:"slug"`
	SKU           string          `json:"sku"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stockQuantity"`
	Status        string          `json:"status"`
}

// UpdateProductRequest 中为 nil 的字段保持不变。
type UpdateProductRequest struct {
	Name        *string          `json:"name"`
	Slug        *string          `json:"slug"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Status      *string          `json:"status"`
}

type AddVariantRequest struct {
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stockQuantity"`
	Active        *bool           `json:"active"`
}

type AddImageRequest struct {
	URL     string `json:"url"`
	AltText string `json:"altText"`
}

type AddCartItemRequest struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

type CustomerInfo struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	ShippingAddress string `json:"shippingAddress"`
}

func (c CustomerInfo) toDomain() domain.Customer {
	return domain.Customer{Name: c.Name, Email: c.Email, Phone: c.Phone, ShippingAddress: c.ShippingAddress}
}

type CheckoutRequest struct {
	Customer CustomerInfo `json:"customer"`
	Notes    string       `json:"notes"`
}

// DirectOrderRequest 是"立即购买"：绕过购物车直接下单。
type DirectOrderRequest struct {
	ProductID string       `json:"productId"`
	VariantID string       `json:"variantId"`
	Quantity  int          `json:"quantity"`
	Customer  CustomerInfo `json:"customer"`
	Notes     string       `json:"notes"`
}

type StartPaymentResult struct {
	OrderID         string `json:"orderId"`
	ProviderOrderID string `json:"providerOrderId"`
	ApprovalURL     string `json:"approvalUrl"`
}

// --- 响应 ---

type VariantView struct {
	ID            string          `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	Active        bool            `json:"active"`
	StockQuantity int             `json:"stockQuantity"`
	InStock       bool            `json:"inStock"`
}

type ImageView struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	AltText  string `json:"altText"`
	IsMain   bool   `json:"isMain"`
	Position int    `json:"position"`
}

type ProductView struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Slug          string          `json:"slug"`
	SKU           string          `json:"sku"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	Status        string          `json:"status"`
	StockQuantity int             `json:"stockQuantity"`
	InStock       bool            `json:"inStock"`
	Variants      []VariantView   `json:"variants"`
	Images        []ImageView     `json:"images"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func ToProductView(p *domain.Product) ProductView {
	v := ProductView{
		ID: p.ID, Name: p.Name, Slug: p.Slug, SKU: p.SKU, Description: p.Description,
		Price: p.Price, Status: string(p.Status),
		StockQuantity: p.StockQuantity, InStock: p.IsInStock(),
		Variants: []VariantView{}, Images: []ImageView{},
		UpdatedAt: p.UpdatedAt,
	}
	for _, vr := range p.Variants {
		v.Variants = append(v.Variants, VariantView{
			ID: vr.ID, SKU: vr.SKU, Name: vr.Name, Price: vr.Price, Active: vr.Active,
			StockQuantity: vr.StockQuantity, InStock: vr.IsInStock(),
		})
	}
	if p.HasVariants() {
		v.InStock = false
		for _, vr := range p.Variants {
			if vr.Active && vr.IsInStock() {
				v.InStock = true
			}
		}
	}
	for _, img := range p.Images {
		v.Images = append(v.Images, ImageView{ID: img.ID, URL: img.URL, AltText: img.AltText, IsMain: img.IsMain, Position: img.Position})
	}
	return v
}

type CartItemView struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"productId"`
	VariantID   string          `json:"variantId,omitempty"`
	ProductName string          `json:"productName"`
	VariantName string          `json:"variantName,omitempty"`
	SKU         string          `json:"sku"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

type CartView struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Items     []CartItemView  `json:"items"`
	ItemCount int             `json:"itemCount"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Shipping  decimal.Decimal `json:"shipping"`
	Total     decimal.Decimal `json:"total"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

func ToCartView(c *domain.Cart) CartView {
	v := CartView{
		ID: c.ID, SessionID: c.SessionID, Items: []CartItemView{}, ItemCount: c.ItemCount(),
		Subtotal: c.Subtotal, Tax: c.Tax, Shipping: c.Shipping, Total: c.Total, ExpiresAt: c.ExpiresAt,
	}
	for _, it := range c.Items {
		v.Items = append(v.Items, CartItemView{
			ID: it.ID, ProductID: it.ProductID, VariantID: it.VariantID,
			ProductName: it.ProductName, VariantName: it.VariantName, SKU: it.SKU,
			Quantity: it.Quantity, UnitPrice: it.UnitPrice, LineTotal: it.LineTotal(),
		})
	}
	return v
}

type OrderItemView struct {
	ProductID   string          `json:"productId"`
	VariantID   string          `json:"variantId,omitempty"`
	ProductName string          `json:"productName"`
	VariantName string          `json:"variantName,omitempty"`
	SKU         string          `json:"sku"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

type OrderView struct {
	ID          string          `json:"id"`
	OrderNumber string          `json:"orderNumber"`
	Status      string          `json:"status"`
	Customer    CustomerInfo    `json:"customer"`
	Items       []OrderItemView `json:"items"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	Shipping    decimal.Decimal `json:"shipping"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Currency    string          `json:"currency"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func ToOrderView(o *domain.Order) OrderView {
	v := OrderView{
		ID: o.ID, OrderNumber: o.OrderNumber, Status: string(o.Status),
		Customer: CustomerInfo{
			Name: o.Customer.Name, Email: o.Customer.Email,
			Phone: o.Customer.Phone, ShippingAddress: o.Customer.ShippingAddress,
		},
		Items:    []OrderItemView{},
		Subtotal: o.Subtotal, Tax: o.Tax, Shipping: o.Shipping, TotalAmount: o.TotalAmount,
		Currency: o.Currency, Notes: o.Notes, CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, OrderItemView{
			ProductID: it.ProductID, VariantID: it.VariantID, ProductName: it.ProductName,
			VariantName: it.VariantName, SKU: it.SKU, Quantity: it.Quantity,
			UnitPrice: it.UnitPrice, LineTotal: it.LineTotal,
		})
	}
	return v
}
