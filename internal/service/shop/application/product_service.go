// internal/service/shop/application/product_service.go
package application

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/pkg/clock"
	"storefront/internal/pkg/keyedmutex"
	"storefront/internal/pkg/logger"
	"storefront/internal/service/shop/domain"
)

// ProductService 负责商品、变体、图片和库存的后台管理以及前台查询。
type ProductService struct {
	gate     *TenantGate
	products domain.ProductRepository
	locks    *keyedmutex.KeyedMutex
	clock    clock.Clock
	tracer   trace.Tracer
}

func NewProductService(gate *TenantGate, products domain.ProductRepository, locks *keyedmutex.KeyedMutex, clk clock.Clock, tracer trace.Tracer) *ProductService {
	return &ProductService{gate: gate, products: products, locks: locks, clock: clk, tracer: tracer}
}

func (s *ProductService) Create(ctx context.Context, tenantID string, req CreateProductRequest) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "app.ProductService.Create")
	defer span.End()

	if _, err := s.gate.Validate(ctx, tenantID); err != nil {
		return nil, err
	}
	p, err := domain.NewProduct(tenantID, req.Name, req.Slug, req.SKU, req.Description, req.Price, req.StockQuantity, s.clock.Now())
	if err != nil {
		return nil, fail(span, err)
	}
	if req.Status != "" {
		p.Status = domain.ProductStatus(strings.ToUpper(req.Status))
		if err := p.Validate(); err != nil {
			return nil, fail(span, err)
		}
	}

	if exists, err := s.products.ExistsBySlug(ctx, tenantID, p.Slug); err != nil {
		return nil, fail(span, err)
	} else if exists {
		return nil, fail(span, domain.NewConflict("product", "slug %q already exists", p.Slug))
	}
	if p.SKU != "" {
		if exists, err := s.products.ExistsBySKU(ctx, tenantID, p.SKU); err != nil {
			return nil, fail(span, err)
		} else if exists {
			return nil, fail(span, domain.NewConflict("product", "sku %q already exists", p.SKU))
		}
	}

	if err := s.products.Create(ctx, p); err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.String("product.id", p.ID))
	logger.Ctx(ctx).Info().Str("tenant", tenantID).Str("product", p.ID).Str("slug", p.Slug).Msg("product created")
	return p, nil
}

// mutate 在商品锁内加载、修改并保存商品头。
func (s *ProductService) mutate(ctx context.Context, tenantID, productID string, fn func(p *domain.Product) error) (*domain.Product, error) {
	if _, err := s.gate.Validate(ctx, tenantID); err != nil {
		return nil, err
	}
	return keyedmutex.Run(ctx, s.locks, productLockPrefix+productID, func(ctx context.Context) (*domain.Product, error) {
		p, err := s.products.FindByID(ctx, tenantID, productID)
		if err != nil {
			return nil, err
		}
		if err := fn(p); err != nil {
			return nil, err
		}
		if err := s.products.Update(ctx, p); err != nil {
			return nil, err
		}
		return p, nil
	})
}

func (s *ProductService) Update(ctx context.Context, tenantID, productID string, req UpdateProductRequest) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "app.ProductService.Update", trace.WithAttributes(attribute.String("product.id", productID)))
	defer span.End()

	p, err := s.mutate(ctx, tenantID, productID, func(p *domain.Product) error {
		if req.Slug != nil && *req.Slug != p.Slug {
			exists, err := s.products.ExistsBySlug(ctx, tenantID, *req.Slug)
			if err != nil {
				return err
			}
			if exists {
				return domain.NewConflict("product", "slug %q already exists", *req.Slug)
			}
			p.Slug = *req.Slug
		}
		if req.Name != nil {
			p.Name = strings.TrimSpace(*req.Name)
		}
		if req.Description != nil {
			p.Description = *req.Description
		}
		if req.Price != nil {
			p.Price = domain.Money(*req.Price)
		}
		if req.Status != nil {
			p.Status = domain.ProductStatus(strings.ToUpper(*req.Status))
		}
		p.UpdatedAt = s.clock.Now()
		return p.Validate()
	})
	return p, fail(span, err)
}

func (s *ProductService) Delete(ctx context.Context, tenantID, productID string) error {
	ctx, span := s.tracer.Start(ctx, "app.ProductService.Delete", trace.WithAttributes(attribute.String("product.id", productID)))
	defer span.End()

	if _, err := s.gate.Validate(ctx, tenantID); err != nil {
		return err
	}
	err := s.locks.Do(ctx, productLockPrefix+productID, func(ctx context.Context) error {
		return s.products.Delete(ctx, tenantID, productID)
	})
	if err == nil {
		logger.Ctx(ctx).Info().Str("tenant", tenantID).Str("product", productID).Msg("product deleted")
	}
	return fail(span, err)
}

func (s *ProductService) Get(ctx context.Context, tenantID, productID string) (*domain.Product, error) {
	if _, err := s.gate.Validate(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.products.FindByID(ctx, tenantID, productID)
}

// GetBySlug activeOnly 为 true 时（前台）非上架商品表现为 NotFound。
func (s *ProductService) GetBySlug(ctx context.Context, tenantID, slug string, activeOnly bool) (*domain.Product, error) {
	if _, err := s.gate.Validate(ctx, tenantID); err != nil {
		return nil, err
	}
	p, err := s.products.FindBySlug(ctx, tenantID, slug)
	if err != nil {
		return nil, err
	}
	if activeOnly && !p.IsActive() {
		return nil, domain.NewNotFound("product", slug)
	}
	return p, nil
}

func (s *ProductService) List(ctx context.Context, tenantID string, filter domain.ProductFilter) ([]*domain.Product, error) {
	if _, err := s.gate.Validate(ctx, tenantID); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.products.List(ctx, tenantID, filter)
}

func (s *ProductService) AddVariant(ctx context.Context, tenantID, productID string, req AddVariantRequest) (*domain.Variant, error) {
	ctx, span := s.tracer.Start(ctx, "app.ProductService.AddVariant", trace.WithAttributes(attribute.String("product.id", productID)))
	defer span.End()

	var added *domain.Variant
	_, err := s.mutate(ctx, tenantID, productID, func(p *domain.Product) error {
		if exists, err := s.products.ExistsBySKU(ctx, tenantID, req.SKU); err != nil {
			return err
		} else if exists {
			return domain.NewConflict("variant", "sku %q already exists", req.SKU)
		}
		active := true
		if req.Active != nil {
			active = *req.Active
		}
		v := &domain.Variant{
			SKU: strings.TrimSpace(req.SKU), Name: strings.TrimSpace(req.Name), Price: req.Price,
			Active: active, Stock: domain.Stock{StockQuantity: req.StockQuantity},
		}
		if err := p.AddVariant(v, s.clock.Now()); err != nil {
			return err
		}
		added = v
		return nil
	})
	if err != nil {
		return nil, fail(span, err)
	}
	return added, nil
}

// AdjustStock 在库存锁内增减库存：先用领域规则检查，再做条件更新。返回新库存。
func (s *ProductService) AdjustStock(ctx context.Context, tenantID, productID, variantID string, delta int) (int, error) {
	ctx, span := s.tracer.Start(ctx, "app.ProductService.AdjustStock", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.String("variant.id", variantID),
		attribute.Int("delta", delta),
	))
	defer span.End()

	if _, err := s.gate.Validate(ctx, tenantID); err != nil {
		return 0, err
	}
	if delta == 0 {
		return 0, fail(span, domain.NewValidationError("delta", "must not be zero"))
	}

	key := domain.StockKey(productID, variantID)
	qty, err := keyedmutex.Run(ctx, s.locks, key, func(ctx context.Context) (int, error) {
		p, err := s.products.FindByID(ctx, tenantID, productID)
		if err != nil {
			return 0, err
		}
		stock, err := p.StockFor(variantID)
		if err != nil {
			return 0, err
		}
		if delta < 0 {
			if err := stock.DecreaseStock(-delta); err != nil {
				return 0, stockError(err, productID, variantID)
			}
		} else if err := stock.IncreaseStock(delta); err != nil {
			return 0, err
		}
		return s.products.AdjustStock(ctx, tenantID, productID, variantID, delta)
	})
	if err != nil {
		return 0, fail(span, err)
	}
	logger.Ctx(ctx).Info().Str("key", key).Int("delta", delta).Int("stock", qty).Msg("stock adjusted")
	return qty, nil
}

func (s *ProductService) AddImage(ctx context.Context, tenantID, productID string, req AddImageRequest) (*domain.Image, error) {
	var img *domain.Image
	_, err := s.mutate(ctx, tenantID, productID, func(p *domain.Product) error {
		var err error
		if img, err = p.AddImage(req.URL, req.AltText, s.clock.Now()); err != nil {
			return err
		}
		p.EnsureMainImage()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// EnsureMainImage 幂等：重复调用结果相同，没有改动时不写库。
func (s *ProductService) EnsureMainImage(ctx context.Context, tenantID, productID string) (*domain.Product, error) {
	if _, err := s.gate.Validate(ctx, tenantID); err != nil {
		return nil, err
	}
	return keyedmutex.Run(ctx, s.locks, productLockPrefix+productID, func(ctx context.Context) (*domain.Product, error) {
		p, err := s.products.FindByID(ctx, tenantID, productID)
		if err != nil {
			return nil, err
		}
		if !p.EnsureMainImage() {
			return p, nil
		}
		p.UpdatedAt = s.clock.Now()
		return p, s.products.Update(ctx, p)
	})
}

func (s *ProductService) SetMainImage(ctx context.Context, tenantID, productID, imageID string) (*domain.Product, error) {
	return s.mutate(ctx, tenantID, productID, func(p *domain.Product) error {
		return p.SetMainImage(imageID, s.clock.Now())
	})
}

// stockError 给领域层的库存错误补上商品/变体信息。
func stockError(err error, productID, variantID string) error {
	if ise, ok := err.(*domain.InsufficientStockError); ok {
		ise.ProductID, ise.VariantID = productID, variantID
	}
	return err
}
