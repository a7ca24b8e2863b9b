// internal/service/shop/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"storefront/internal/service/shop/domain"
)

// --- Tenant ---

type GormTenantRepository struct {
	db *gorm.DB
}

func NewGormTenantRepository(db *gorm.DB) *GormTenantRepository {
	return &GormTenantRepository{db: db}
}

func (r *GormTenantRepository) FindByID(ctx context.Context, id string) (*domain.Tenant, error) {
	var m TenantModel
	if err := conn(ctx, r.db).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, translate(err, "tenant", id, "find")
	}
	return toDomainTenant(&m), nil
}

func (r *GormTenantRepository) Save(ctx context.Context, t *domain.Tenant) error {
	err := conn(ctx, r.db).Clauses(clause.OnConflict{UpdateAll: true}).Create(fromDomainTenant(t)).Error
	return translate(err, "tenant", t.ID, "save")
}

// --- Product ---

// GormProductRepository 是 domain.ProductRepository 的 GORM 实现
type GormProductRepository struct {
	db *gorm.DB
}

func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

func preloadProduct(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Variants", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("position") })
}

func (r *GormProductRepository) Create(ctx context.Context, p *domain.Product) error {
	return inTx(ctx, r.db, func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(FromDomainProduct(p)).Error; err != nil {
			return translate(err, "product", p.Slug, "create")
		}
		for _, v := range p.Variants {
			if err := tx.Create(variantModel(p.TenantID, v)).Error; err != nil {
				return translate(err, "variant", v.SKU, "create")
			}
		}
		for _, img := range p.Images {
			if err := tx.Create(imageModel(p.ID, img)).Error; err != nil {
				return translate(err, "image", img.ID, "create")
			}
		}
		return nil
	})
}

// Update 更新商品头，同步变体（新增插入、缺失删除、已有的不动库存）并整体替换图片。
func (r *GormProductRepository) Update(ctx context.Context, p *domain.Product) error {
	return inTx(ctx, r.db, func(tx *gorm.DB) error {
		var existing ProductModel
		if err := preloadProduct(tx).Where("id = ? AND tenant_id = ?", p.ID, p.TenantID).First(&existing).Error; err != nil {
			return translate(err, "product", p.ID, "find")
		}

		err := tx.Model(&ProductModel{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
			"name":        p.Name,
			"slug":        p.Slug,
			"sku":         p.SKU,
			"description": p.Description,
			"price":       domain.Money(p.Price),
			"status":      string(p.Status),
			"updated_at":  p.UpdatedAt,
		}).Error
		if err != nil {
			return translate(err, "product", p.Slug, "update")
		}

		known := make(map[string]bool, len(existing.Variants))
		for _, v := range existing.Variants {
			known[v.ID] = true
		}
		keep := make([]string, 0, len(p.Variants))
		for _, v := range p.Variants {
			keep = append(keep, v.ID)
			if !known[v.ID] {
				if err := tx.Create(variantModel(p.TenantID, v)).Error; err != nil {
					return translate(err, "variant", v.SKU, "create")
				}
				continue
			}
			err := tx.Model(&VariantModel{}).Where("id = ?", v.ID).Updates(map[string]interface{}{
				"sku":      v.SKU,
				"name":     v.Name,
				"price":    domain.Money(v.Price),
				"active":   v.Active,
				"position": v.Position,
			}).Error
			if err != nil {
				return translate(err, "variant", v.SKU, "update")
			}
		}
		del := tx.Where("product_id = ?", p.ID)
		if len(keep) > 0 {
			del = del.Where("id NOT IN ?", keep)
		}
		if err := del.Delete(&VariantModel{}).Error; err != nil {
			return errors.Wrap(err, "delete removed variants")
		}

		if err := tx.Where("product_id = ?", p.ID).Delete(&ImageModel{}).Error; err != nil {
			return errors.Wrap(err, "replace images")
		}
		for _, img := range p.Images {
			if err := tx.Create(imageModel(p.ID, img)).Error; err != nil {
				return translate(err, "image", img.ID, "create")
			}
		}
		return nil
	})
}

func (r *GormProductRepository) Delete(ctx context.Context, tenantID, id string) error {
	return inTx(ctx, r.db, func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND tenant_id = ?", id, tenantID).Delete(&ProductModel{})
		if res.Error != nil {
			return translate(res.Error, "product", id, "delete")
		}
		if res.RowsAffected == 0 {
			return domain.NewNotFound("product", id)
		}
		if err := tx.Where("product_id = ?", id).Delete(&VariantModel{}).Error; err != nil {
			return errors.Wrap(err, "delete variants")
		}
		return errors.Wrap(tx.Where("product_id = ?", id).Delete(&ImageModel{}).Error, "delete images")
	})
}

func (r *GormProductRepository) FindByID(ctx context.Context, tenantID, id string) (*domain.Product, error) {
	var m ProductModel
	err := preloadProduct(conn(ctx, r.db)).Where("id = ? AND tenant_id = ?", id, tenantID).First(&m).Error
	if err != nil {
		return nil, translate(err, "product", id, "find")
	}
	return ToDomainProduct(&m), nil
}

func (r *GormProductRepository) FindBySlug(ctx context.Context, tenantID, slug string) (*domain.Product, error) {
	var m ProductModel
	err := preloadProduct(conn(ctx, r.db)).Where("tenant_id = ? AND slug = ?", tenantID, slug).First(&m).Error
	if err != nil {
		return nil, translate(err, "product", slug, "find")
	}
	return ToDomainProduct(&m), nil
}

func (r *GormProductRepository) List(ctx context.Context, tenantID string, filter domain.ProductFilter) ([]*domain.Product, error) {
	q := preloadProduct(conn(ctx, r.db)).Where("tenant_id = ?", tenantID)
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if s := strings.ToLower(strings.TrimSpace(filter.Query)); s != "" {
		like := "%" + s + "%"
		q = q.Where("(LOWER(name) LIKE ? OR LOWER(sku) LIKE ?)", like, like)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit).Offset(filter.Offset)
	}

	var models []ProductModel
	if err := q.Order("created_at DESC").Order("id").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	out := make([]*domain.Product, len(models))
	for i := range models {
		out[i] = ToDomainProduct(&models[i])
	}
	return out, nil
}

func (r *GormProductRepository) ExistsBySlug(ctx context.Context, tenantID, slug string) (bool, error) {
	var n int64
	err := conn(ctx, r.db).Model(&ProductModel{}).Where("tenant_id = ? AND slug = ?", tenantID, slug).Count(&n).Error
	return n > 0, errors.Wrap(err, "count products by slug")
}

// ExistsBySKU 同时检查商品和变体的 SKU（不区分大小写）。
func (r *GormProductRepository) ExistsBySKU(ctx context.Context, tenantID, sku string) (bool, error) {
	sku = strings.ToLower(strings.TrimSpace(sku))
	db := conn(ctx, r.db)
	var n int64
	if err := db.Model(&ProductModel{}).Where("tenant_id = ? AND LOWER(sku) = ?", tenantID, sku).Count(&n).Error; err != nil {
		return false, errors.Wrap(err, "count products by sku")
	}
	if n > 0 {
		return true, nil
	}
	if err := db.Model(&VariantModel{}).Where("tenant_id = ? AND LOWER(sku) = ?", tenantID, sku).Count(&n).Error; err != nil {
		return false, errors.Wrap(err, "count variants by sku")
	}
	return n > 0, nil
}

// AdjustStock 用条件 UPDATE 增减库存，保证库存不会变成负数。
func (r *GormProductRepository) AdjustStock(ctx context.Context, tenantID, productID, variantID string, delta int) (int, error) {
	var qty int
	err := inTx(ctx, r.db, func(tx *gorm.DB) error {
		var (
			model interface{}
			q     *gorm.DB
		)
		if variantID == "" {
			model = &ProductModel{}
			q = tx.Model(model).Where("id = ? AND tenant_id = ?", productID, tenantID)
		} else {
			model = &VariantModel{}
			q = tx.Model(model).Where("id = ? AND product_id = ? AND tenant_id = ?", variantID, productID, tenantID)
		}

		res := q.Session(&gorm.Session{}).
			Where("stock_quantity + ? >= 0", delta).
			Update("stock_quantity", gorm.Expr("stock_quantity + ?", delta))
		if res.Error != nil {
			return errors.Wrap(res.Error, "adjust stock")
		}

		var current struct{ StockQuantity int }
		if err := q.Session(&gorm.Session{}).Select("stock_quantity").Take(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if variantID != "" {
					return domain.NewNotFound("variant", variantID)
				}
				return domain.NewNotFound("product", productID)
			}
			return errors.Wrap(err, "read stock")
		}
		qty = current.StockQuantity
		if res.RowsAffected == 0 {
			return &domain.InsufficientStockError{
				ProductID: productID, VariantID: variantID,
				Available: current.StockQuantity, Requested: -delta,
			}
		}
		return nil
	})
	return qty, err
}

// --- Cart ---

type GormCartRepository struct {
	db *gorm.DB
}

func NewGormCartRepository(db *gorm.DB) *GormCartRepository {
	return &GormCartRepository{db: db}
}

func preloadCart(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position") })
}

func (r *GormCartRepository) FindByID(ctx context.Context, tenantID, id string) (*domain.Cart, error) {
	var m CartModel
	if err := preloadCart(conn(ctx, r.db)).Where("id = ? AND tenant_id = ?", id, tenantID).First(&m).Error; err != nil {
		return nil, translate(err, "cart", id, "find")
	}
	return toDomainCart(&m), nil
}

func (r *GormCartRepository) FindBySession(ctx context.Context, tenantID, sessionID string) (*domain.Cart, error) {
	var m CartModel
	if err := preloadCart(conn(ctx, r.db)).Where("tenant_id = ? AND session_id = ?", tenantID, sessionID).First(&m).Error; err != nil {
		return nil, translate(err, "cart", sessionID, "find")
	}
	return toDomainCart(&m), nil
}

// Save 整体替换：更新购物车头，删除旧明细后重新插入。
func (r *GormCartRepository) Save(ctx context.Context, c *domain.Cart) error {
	m, items := fromDomainCart(c)
	return inTx(ctx, r.db, func(tx *gorm.DB) error {
		var existing CartModel
		err := tx.Select("id", "tenant_id").Where("id = ?", c.ID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Omit(clause.Associations).Create(m).Error; err != nil {
				return translate(err, "cart", c.SessionID, "create")
			}
		case err != nil:
			return errors.Wrap(err, "find cart")
		case existing.TenantID != c.TenantID:
			return domain.NewNotFound("cart", c.ID)
		default:
			err := tx.Model(&CartModel{}).Where("id = ?", c.ID).Updates(map[string]interface{}{
				"subtotal":   m.Subtotal,
				"tax":        m.Tax,
				"shipping":   m.Shipping,
				"total":      m.Total,
				"expires_at": m.ExpiresAt,
				"updated_at": m.UpdatedAt,
			}).Error
			if err != nil {
				return translate(err, "cart", c.ID, "update")
			}
		}

		if err := tx.Where("cart_id = ?", c.ID).Delete(&CartItemModel{}).Error; err != nil {
			return errors.Wrap(err, "delete cart items")
		}
		if len(items) == 0 {
			return nil
		}
		return translate(tx.Create(&items).Error, "cart item", c.ID, "create")
	})
}

func (r *GormCartRepository) Delete(ctx context.Context, tenantID, id string) error {
	return inTx(ctx, r.db, func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND tenant_id = ?", id, tenantID).Delete(&CartModel{})
		if res.Error != nil {
			return translate(res.Error, "cart", id, "delete")
		}
		if res.RowsAffected == 0 {
			return domain.NewNotFound("cart", id)
		}
		return errors.Wrap(tx.Where("cart_id = ?", id).Delete(&CartItemModel{}).Error, "delete cart items")
	})
}

func (r *GormCartRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	var removed int64
	err := inTx(ctx, r.db, func(tx *gorm.DB) error {
		expired := tx.Model(&CartModel{}).Select("id").Where("expires_at <= ?", before)
		if err := tx.Where("cart_id IN (?)", expired).Delete(&CartItemModel{}).Error; err != nil {
			return errors.Wrap(err, "delete expired cart items")
		}
		res := tx.Where("expires_at <= ?", before).Delete(&CartModel{})
		removed = res.RowsAffected
		return errors.Wrap(res.Error, "delete expired carts")
	})
	return int(removed), err
}

// --- Order ---

type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func preloadOrder(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position") })
}

func (r *GormOrderRepository) Create(ctx context.Context, o *domain.Order) error {
	err := conn(ctx, r.db).Omit(clause.Associations).Create(fromDomainOrder(o)).Error
	return translate(err, "order", o.OrderNumber, "create")
}

func (r *GormOrderRepository) AddItems(ctx context.Context, orderID string, items []*domain.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	db := conn(ctx, r.db)
	var n int64
	if err := db.Model(&OrderItemModel{}).Where("order_id = ?", orderID).Count(&n).Error; err != nil {
		return errors.Wrap(err, "count order items")
	}
	models := make([]OrderItemModel, 0, len(items))
	for i, it := range items {
		models = append(models, fromDomainOrderItem(orderID, int(n)+i, it))
	}
	return translate(db.Create(&models).Error, "order item", orderID, "create")
}

func (r *GormOrderRepository) Save(ctx context.Context, o *domain.Order) error {
	res := conn(ctx, r.db).Model(&OrderModel{}).Where("id = ? AND tenant_id = ?", o.ID, o.TenantID).Updates(map[string]interface{}{
		"status":            string(o.Status),
		"subtotal":          o.Subtotal,
		"tax":               o.Tax,
		"shipping":          o.Shipping,
		"total_amount":      o.TotalAmount,
		"payment_reference": o.PaymentReference,
		"notes":             o.Notes,
		"updated_at":        o.UpdatedAt,
	})
	if res.Error != nil {
		return translate(res.Error, "order", o.ID, "save")
	}
	if res.RowsAffected == 0 {
		// MySQL 在值没有变化时也返回 0，这里再确认一次是否存在
		if _, err := r.FindByID(ctx, o.TenantID, o.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *GormOrderRepository) findOne(ctx context.Context, key string, query string, args ...interface{}) (*domain.Order, error) {
	var m OrderModel
	if err := preloadOrder(conn(ctx, r.db)).Where(query, args...).First(&m).Error; err != nil {
		return nil, translate(err, "order", key, "find")
	}
	return toDomainOrder(&m), nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, tenantID, id string) (*domain.Order, error) {
	return r.findOne(ctx, id, "id = ? AND tenant_id = ?", id, tenantID)
}

func (r *GormOrderRepository) FindByNumber(ctx context.Context, tenantID, number string) (*domain.Order, error) {
	return r.findOne(ctx, number, "tenant_id = ? AND order_number = ?", tenantID, number)
}

func (r *GormOrderRepository) FindByPaymentReference(ctx context.Context, reference string) (*domain.Order, error) {
	if reference == "" {
		return nil, domain.NewNotFound("order", reference)
	}
	return r.findOne(ctx, reference, "payment_reference = ?", reference)
}

func (r *GormOrderRepository) ExistsByNumber(ctx context.Context, tenantID, number string) (bool, error) {
	var n int64
	err := conn(ctx, r.db).Model(&OrderModel{}).Where("tenant_id = ? AND order_number = ?", tenantID, number).Count(&n).Error
	return n > 0, errors.Wrap(err, "count orders by number")
}

func (r *GormOrderRepository) List(ctx context.Context, tenantID string, filter domain.OrderFilter) ([]*domain.Order, error) {
	q := preloadOrder(conn(ctx, r.db)).Where("tenant_id = ?", tenantID)
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit).Offset(filter.Offset)
	}
	var models []OrderModel
	if err := q.Order("created_at DESC").Order("order_number DESC").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	out := make([]*domain.Order, len(models))
	for i := range models {
		out[i] = toDomainOrder(&models[i])
	}
	return out, nil
}

func (r *GormOrderRepository) FindStale(ctx context.Context, status domain.OrderStatus, before time.Time, limit int) ([]*domain.Order, error) {
	q := preloadOrder(conn(ctx, r.db)).Where("status = ? AND updated_at < ?", string(status), before)
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []OrderModel
	if err := q.Order("updated_at ASC").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "find stale orders")
	}
	out := make([]*domain.Order, len(models))
	for i := range models {
		out[i] = toDomainOrder(&models[i])
	}
	return out, nil
}
