// internal/service/shop/infrastructure/memory/repositories.go
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"storefront/internal/service/shop/domain"
)

type TenantRepository struct {
	mu      sync.RWMutex
	tenants map[string]*domain.Tenant
}

func NewTenantRepository(tenants ...*domain.Tenant) *TenantRepository {
	r := &TenantRepository{tenants: make(map[string]*domain.Tenant)}
	for _, t := range tenants {
		cp := *t
		r.tenants[t.ID] = &cp
	}
	return r
}

func (r *TenantRepository) FindByID(_ context.Context, id string) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	if !ok {
		return nil, domain.NewNotFound("tenant", id)
	}
	cp := *t
	return &cp, nil
}

func (r *TenantRepository) Save(_ context.Context, t *domain.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tenants[t.ID] = &cp
	return nil
}

type CartRepository struct {
	mu    sync.RWMutex
	carts map[string]*domain.Cart
}

func NewCartRepository() *CartRepository {
	return &CartRepository{carts: make(map[string]*domain.Cart)}
}

func (r *CartRepository) FindByID(_ context.Context, tenantID, id string) (*domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.carts[id]
	if !ok || c.TenantID != tenantID {
		return nil, domain.NewNotFound("cart", id)
	}
	return cloneCart(c), nil
}

func (r *CartRepository) FindBySession(_ context.Context, tenantID, sessionID string) (*domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.carts {
		if c.TenantID == tenantID && c.SessionID == sessionID {
			return cloneCart(c), nil
		}
	}
	return nil, domain.NewNotFound("cart", sessionID)
}

func (r *CartRepository) Save(ctx context.Context, c *domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.carts[c.ID]
	if ok && existing.TenantID != c.TenantID {
		return domain.NewNotFound("cart", c.ID)
	}
	for id, other := range r.carts {
		if id != c.ID && other.TenantID == c.TenantID && other.SessionID == c.SessionID {
			return domain.NewConflict("cart", "session %q already has a cart", c.SessionID)
		}
	}
	r.carts[c.ID] = cloneCart(c)
	onRollback(ctx, func() { r.restore(c.ID, existing) })
	return nil
}

func (r *CartRepository) restore(id string, prev *domain.Cart) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev == nil {
		delete(r.carts, id)
		return
	}
	r.carts[id] = prev
}

func (r *CartRepository) Delete(ctx context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.carts[id]
	if !ok || c.TenantID != tenantID {
		return domain.NewNotFound("cart", id)
	}
	delete(r.carts, id)
	onRollback(ctx, func() { r.restore(id, c) })
	return nil
}

func (r *CartRepository) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, c := range r.carts {
		if !c.ExpiresAt.After(before) {
			delete(r.carts, id)
			n++
		}
	}
	return n, nil
}

type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]*domain.Order)}
}

func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return domain.NewConflict("order", "id %q already exists", o.ID)
	}
	for _, other := range r.orders {
		if other.TenantID == o.TenantID && other.OrderNumber == o.OrderNumber {
			return domain.NewConflict("order", "order number %q already exists", o.OrderNumber)
		}
	}
	cp := cloneOrder(o)
	cp.Items = nil
	r.orders[o.ID] = cp
	onRollback(ctx, func() { r.restore(o.ID, nil) })
	return nil
}

func (r *OrderRepository) restore(id string, prev *domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev == nil {
		delete(r.orders, id)
		return
	}
	r.orders[id] = prev
}

func (r *OrderRepository) AddItems(ctx context.Context, orderID string, items []*domain.OrderItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return domain.NewNotFound("order", orderID)
	}
	prev := cloneOrder(o)
	for _, it := range items {
		ic := *it
		ic.OrderID = orderID
		o.Items = append(o.Items, &ic)
	}
	onRollback(ctx, func() { r.restore(orderID, prev) })
	return nil
}

func (r *OrderRepository) Save(ctx context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.orders[o.ID]
	if !ok || existing.TenantID != o.TenantID {
		return domain.NewNotFound("order", o.ID)
	}
	cp := cloneOrder(o)
	cp.Items = existing.Items // 明细只通过 AddItems 写入
	r.orders[o.ID] = cp
	onRollback(ctx, func() { r.restore(o.ID, existing) })
	return nil
}

func (r *OrderRepository) FindByID(_ context.Context, tenantID, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok || o.TenantID != tenantID {
		return nil, domain.NewNotFound("order", id)
	}
	return cloneOrder(o), nil
}

func (r *OrderRepository) FindByNumber(_ context.Context, tenantID, number string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.orders {
		if o.TenantID == tenantID && o.OrderNumber == number {
			return cloneOrder(o), nil
		}
	}
	return nil, domain.NewNotFound("order", number)
}

func (r *OrderRepository) FindByPaymentReference(_ context.Context, reference string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.orders {
		if reference != "" && o.PaymentReference == reference {
			return cloneOrder(o), nil
		}
	}
	return nil, domain.NewNotFound("order", reference)
}

func (r *OrderRepository) ExistsByNumber(_ context.Context, tenantID, number string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.orders {
		if o.TenantID == tenantID && o.OrderNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (r *OrderRepository) List(_ context.Context, tenantID string, filter domain.OrderFilter) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Order
	for _, o := range r.orders {
		if o.TenantID != tenantID || (filter.Status != "" && o.Status != filter.Status) {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderNumber > out[j].OrderNumber
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func (r *OrderRepository) FindStale(_ context.Context, status domain.OrderStatus, before time.Time, limit int) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Order
	for _, o := range r.orders {
		if o.Status == status && o.UpdatedAt.Before(before) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return page(out, limit, 0), nil
}
