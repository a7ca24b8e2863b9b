// internal/service/shop/infrastructure/memory/clone.go
package memory

import "storefront/internal/service/shop/domain"

// 仓储内外只交换副本，调用方修改聚合后必须显式保存。

func cloneProduct(p *domain.Product) *domain.Product {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Variants = make([]*domain.Variant, 0, len(p.Variants))
	for _, v := range p.Variants {
		vc := *v
		cp.Variants = append(cp.Variants, &vc)
	}
	cp.Images = make([]*domain.Image, 0, len(p.Images))
	for _, img := range p.Images {
		ic := *img
		cp.Images = append(cp.Images, &ic)
	}
	return &cp
}

func cloneCart(c *domain.Cart) *domain.Cart {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Items = make([]*domain.CartItem, 0, len(c.Items))
	for _, it := range c.Items {
		ic := *it
		cp.Items = append(cp.Items, &ic)
	}
	return &cp
}

func cloneOrder(o *domain.Order) *domain.Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Items = make([]*domain.OrderItem, 0, len(o.Items))
	for _, it := range o.Items {
		ic := *it
		cp.Items = append(cp.Items, &ic)
	}
	return &cp
}

func page[T any](items []T, limit, offset int) []T {
	if offset > len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
