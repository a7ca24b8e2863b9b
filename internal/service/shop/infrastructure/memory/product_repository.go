// internal/service/shop/infrastructure/memory/product_repository.go
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"storefront/internal/service/shop/domain"
)

// ProductRepository 是 domain.ProductRepository 的内存实现。
type ProductRepository struct {
	mu       sync.RWMutex
	products map[string]*domain.Product
}

func NewProductRepository() *ProductRepository {
	return &ProductRepository{products: make(map[string]*domain.Product)}
}

func (r *ProductRepository) skuTaken(tenantID, sku, exceptProductID string) bool {
	for _, p := range r.products {
		if p.TenantID != tenantID || p.ID == exceptProductID {
			continue
		}
		if strings.EqualFold(p.SKU, sku) {
			return true
		}
		for _, v := range p.Variants {
			if strings.EqualFold(v.SKU, sku) {
				return true
			}
		}
	}
	return false
}

func (r *ProductRepository) checkUnique(p *domain.Product) error {
	for _, other := range r.products {
		if other.TenantID == p.TenantID && other.ID != p.ID && other.Slug == p.Slug {
			return domain.NewConflict("product", "slug %q already exists", p.Slug)
		}
	}
	if p.SKU != "" && r.skuTaken(p.TenantID, p.SKU, p.ID) {
		return domain.NewConflict("product", "sku %q already exists", p.SKU)
	}
	for _, v := range p.Variants {
		if r.skuTaken(p.TenantID, v.SKU, p.ID) {
			return domain.NewConflict("variant", "sku %q already exists", v.SKU)
		}
	}
	return nil
}

func (r *ProductRepository) Create(ctx context.Context, p *domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[p.ID]; ok {
		return domain.NewConflict("product", "id %q already exists", p.ID)
	}
	if err := r.checkUnique(p); err != nil {
		return err
	}
	r.products[p.ID] = cloneProduct(p)
	onRollback(ctx, func() { r.restore(p.ID, nil) })
	return nil
}

// restore 把商品放回 prev。库存只由 AdjustStock 自己的补偿负责，这里沿用当前库存。
func (r *ProductRepository) restore(id string, prev *domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev == nil {
		delete(r.products, id)
		return
	}
	restored := cloneProduct(prev)
	if cur, ok := r.products[id]; ok {
		restored.StockQuantity = cur.StockQuantity
		for _, v := range restored.Variants {
			if now, err := cur.Variant(v.ID); err == nil {
				v.StockQuantity = now.StockQuantity
			}
		}
	}
	r.products[id] = restored
}

func (r *ProductRepository) Update(ctx context.Context, p *domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.products[p.ID]
	if !ok || existing.TenantID != p.TenantID {
		return domain.NewNotFound("product", p.ID)
	}
	if err := r.checkUnique(p); err != nil {
		return err
	}

	updated := cloneProduct(p)
	// 库存只能通过 AdjustStock 修改
	updated.StockQuantity = existing.StockQuantity
	for _, v := range updated.Variants {
		if old, err := existing.Variant(v.ID); err == nil {
			v.StockQuantity = old.StockQuantity
		}
	}
	r.products[p.ID] = updated
	onRollback(ctx, func() { r.restore(p.ID, existing) })
	return nil
}

func (r *ProductRepository) Delete(ctx context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok || p.TenantID != tenantID {
		return domain.NewNotFound("product", id)
	}
	delete(r.products, id)
	onRollback(ctx, func() { r.restore(id, p) })
	return nil
}

func (r *ProductRepository) FindByID(_ context.Context, tenantID, id string) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok || p.TenantID != tenantID {
		return nil, domain.NewNotFound("product", id)
	}
	return cloneProduct(p), nil
}

func (r *ProductRepository) FindBySlug(_ context.Context, tenantID, slug string) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.products {
		if p.TenantID == tenantID && p.Slug == slug {
			return cloneProduct(p), nil
		}
	}
	return nil, domain.NewNotFound("product", slug)
}

func (r *ProductRepository) List(_ context.Context, tenantID string, filter domain.ProductFilter) ([]*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(filter.Query))
	var out []*domain.Product
	for _, p := range r.products {
		if p.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(p.Name), q) && !strings.Contains(strings.ToLower(p.SKU), q) {
			continue
		}
		out = append(out, cloneProduct(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func (r *ProductRepository) ExistsBySlug(_ context.Context, tenantID, slug string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.products {
		if p.TenantID == tenantID && p.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (r *ProductRepository) ExistsBySKU(_ context.Context, tenantID, sku string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.skuTaken(tenantID, sku, ""), nil
}

func (r *ProductRepository) stock(tenantID, productID, variantID string) (*domain.Stock, error) {
	p, ok := r.products[productID]
	if !ok || p.TenantID != tenantID {
		return nil, domain.NewNotFound("product", productID)
	}
	if variantID == "" {
		return &p.Stock, nil
	}
	v, err := p.Variant(variantID)
	if err != nil {
		return nil, err
	}
	return &v.Stock, nil
}

func (r *ProductRepository) AdjustStock(ctx context.Context, tenantID, productID, variantID string, delta int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stock, err := r.stock(tenantID, productID, variantID)
	if err != nil {
		return 0, err
	}
	if stock.StockQuantity+delta < 0 {
		return stock.StockQuantity, &domain.InsufficientStockError{
			ProductID: productID, VariantID: variantID,
			Available: stock.StockQuantity, Requested: -delta,
		}
	}
	stock.StockQuantity += delta
	// 回滚时反向调整，不覆盖事务外的并发改动
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if s, err := r.stock(tenantID, productID, variantID); err == nil {
			s.StockQuantity -= delta
		}
	})
	return stock.StockQuantity, nil
}
