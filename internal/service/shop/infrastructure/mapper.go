// internal/service/shop/infrastructure/mapper.go
package infrastructure

import (
	"storefront/internal/service/shop/domain"
)

func toDomainTenant(m *TenantModel) *domain.Tenant {
	return &domain.Tenant{
		ID:               m.ID,
		Slug:             m.Slug,
		Name:             m.Name,
		Email:            m.Email,
		EcommerceEnabled: m.EcommerceEnabled,
		OrderCodePrefix:  m.OrderCodePrefix,
		CreatedAt:        m.CreatedAt,
	}
}

func fromDomainTenant(t *domain.Tenant) *TenantModel {
	return &TenantModel{
		ID:               t.ID,
		Slug:             t.Slug,
		Name:             t.Name,
		Email:            t.Email,
		EcommerceEnabled: t.EcommerceEnabled,
		OrderCodePrefix:  t.OrderCodePrefix,
		CreatedAt:        t.CreatedAt,
	}
}

// ToDomainProduct 将数据库模型转换为领域模型，变体和图片需要已经预加载。
func ToDomainProduct(m *ProductModel) *domain.Product {
	p := &domain.Product{
		ID:          m.ID,
		TenantID:    m.TenantID,
		Name:        m.Name,
		Slug:        m.Slug,
		SKU:         m.SKU,
		Description: m.Description,
		Price:       domain.Money(m.Price),
		Status:      domain.ProductStatus(m.Status),
		Stock:       domain.Stock{StockQuantity: m.StockQuantity},
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	for i := range m.Variants {
		v := &m.Variants[i]
		p.Variants = append(p.Variants, &domain.Variant{
			ID:        v.ID,
			ProductID: v.ProductID,
			SKU:       v.SKU,
			Name:      v.Name,
			Price:     domain.Money(v.Price),
			Active:    v.Active,
			Position:  v.Position,
			Stock:     domain.Stock{StockQuantity: v.StockQuantity},
		})
	}
	for i := range m.Images {
		img := &m.Images[i]
		p.Images = append(p.Images, &domain.Image{
			ID: img.ID, URL: img.URL, AltText: img.AltText, IsMain: img.IsMain, Position: img.Position,
		})
	}
	return p
}

// FromDomainProduct 只转换商品头，变体和图片由 variantModel/imageModel 单独转换。
func FromDomainProduct(p *domain.Product) *ProductModel {
	return &ProductModel{
		ID:            p.ID,
		TenantID:      p.TenantID,
		Slug:          p.Slug,
		SKU:           p.SKU,
		Name:          p.Name,
		Description:   p.Description,
		Price:         domain.Money(p.Price),
		Status:        string(p.Status),
		StockQuantity: p.StockQuantity,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func variantModel(tenantID string, v *domain.Variant) *VariantModel {
	return &VariantModel{
		ID:            v.ID,
		ProductID:     v.ProductID,
		TenantID:      tenantID,
		SKU:           v.SKU,
		Name:          v.Name,
		Price:         domain.Money(v.Price),
		Active:        v.Active,
		Position:      v.Position,
		StockQuantity: v.StockQuantity,
	}
}

func imageModel(productID string, img *domain.Image) *ImageModel {
	return &ImageModel{
		ID: img.ID, ProductID: productID, URL: img.URL, AltText: img.AltText,
		IsMain: img.IsMain, Position: img.Position,
	}
}

func toDomainCart(m *CartModel) *domain.Cart {
	c := &domain.Cart{
		ID:        m.ID,
		TenantID:  m.TenantID,
		SessionID: m.SessionID,
		Subtotal:  domain.Money(m.Subtotal),
		Tax:       domain.Money(m.Tax),
		Shipping:  domain.Money(m.Shipping),
		Total:     domain.Money(m.Total),
		ExpiresAt: m.ExpiresAt,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	for i := range m.Items {
		it := &m.Items[i]
		c.Items = append(c.Items, &domain.CartItem{
			ID:          it.ID,
			ProductID:   it.ProductID,
			VariantID:   it.VariantID,
			ProductName: it.ProductName,
			VariantName: it.VariantName,
			SKU:         it.SKU,
			Quantity:    it.Quantity,
			UnitPrice:   domain.Money(it.UnitPrice),
		})
	}
	return c
}

func fromDomainCart(c *domain.Cart) (*CartModel, []CartItemModel) {
	m := &CartModel{
		ID:        c.ID,
		TenantID:  c.TenantID,
		SessionID: c.SessionID,
		Subtotal:  c.Subtotal,
		Tax:       c.Tax,
		Shipping:  c.Shipping,
		Total:     c.Total,
		ExpiresAt: c.ExpiresAt,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	items := make([]CartItemModel, 0, len(c.Items))
	for i, it := range c.Items {
		items = append(items, CartItemModel{
			ID:          it.ID,
			CartID:      c.ID,
			ProductID:   it.ProductID,
			VariantID:   it.VariantID,
			ProductName: it.ProductName,
			VariantName: it.VariantName,
			SKU:         it.SKU,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Position:    i,
		})
	}
	return m, items
}

func toDomainOrder(m *OrderModel) *domain.Order {
	o := &domain.Order{
		ID:          m.ID,
		TenantID:    m.TenantID,
		OrderNumber: m.OrderNumber,
		Status:      domain.OrderStatus(m.Status),
		Customer: domain.Customer{
			Name:            m.CustomerName,
			Email:           m.CustomerEmail,
			Phone:           m.CustomerPhone,
			ShippingAddress: m.ShippingAddress,
		},
		Subtotal:         domain.Money(m.Subtotal),
		Tax:              domain.Money(m.Tax),
		Shipping:         domain.Money(m.Shipping),
		TotalAmount:      domain.Money(m.TotalAmount),
		Currency:         m.Currency,
		PaymentReference: m.PaymentReference,
		Notes:            m.Notes,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	for i := range m.Items {
		o.Items = append(o.Items, toDomainOrderItem(&m.Items[i]))
	}
	return o
}

func toDomainOrderItem(m *OrderItemModel) *domain.OrderItem {
	return &domain.OrderItem{
		ID:          m.ID,
		OrderID:     m.OrderID,
		ProductID:   m.ProductID,
		VariantID:   m.VariantID,
		ProductName: m.ProductName,
		VariantName: m.VariantName,
		SKU:         m.SKU,
		Quantity:    m.Quantity,
		UnitPrice:   domain.Money(m.UnitPrice),
		LineTotal:   domain.Money(m.LineTotal),
	}
}

// fromDomainOrder 只转换订单头。
func fromDomainOrder(o *domain.Order) *OrderModel {
	return &OrderModel{
		ID:               o.ID,
		TenantID:         o.TenantID,
		OrderNumber:      o.OrderNumber,
		Status:           string(o.Status),
		CustomerName:     o.Customer.Name,
		CustomerEmail:    o.Customer.Email,
		CustomerPhone:    o.Customer.Phone,
		ShippingAddress:  o.Customer.ShippingAddress,
		Subtotal:         o.Subtotal,
		Tax:              o.Tax,
		Shipping:         o.Shipping,
		TotalAmount:      o.TotalAmount,
		Currency:         o.Currency,
		PaymentReference: o.PaymentReference,
		Notes:            o.Notes,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

func fromDomainOrderItem(orderID string, position int, it *domain.OrderItem) OrderItemModel {
	return OrderItemModel{
		ID:          it.ID,
		OrderID:     orderID,
		ProductID:   it.ProductID,
		VariantID:   it.VariantID,
		ProductName: it.ProductName,
		VariantName: it.VariantName,
		SKU:         it.SKU,
		Quantity:    it.Quantity,
		UnitPrice:   it.UnitPrice,
		LineTotal:   it.LineTotal,
		Position:    position,
	}
}
