// internal/service/shop/application/cart_service.go
package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/pkg/clock"
	"storefront/internal/pkg/keyedmutex"
	"storefront/internal/pkg/logger"
	"storefront/internal/service/shop/domain"
	"storefront/internal/service/shop/domain/port"
)

// CartConfig 控制购物车生命周期。
type CartConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	ExtendThreshold time.Duration `yaml:"extendThreshold"`
}

func DefaultCartConfig() CartConfig {
	return CartConfig{TTL: 7 * 24 * time.Hour, ExtendThreshold: 24 * time.Hour}
}

type CartService struct {
	gate     *TenantGate
	carts    domain.CartRepository
	products domain.ProductRepository
	taxes    port.TaxPolicyResolver
	locks    *keyedmutex.KeyedMutex
	clock    clock.Clock
	cfg      CartConfig
	tracer   trace.Tracer
}

func NewCartService(gate *TenantGate, carts domain.CartRepository, products domain.ProductRepository,
	taxes port.TaxPolicyResolver, locks *keyedmutex.KeyedMutex, clk clock.Clock, cfg CartConfig, tracer trace.Tracer) *CartService {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCartConfig().TTL
	}
	if cfg.ExtendThreshold < 0 {
		cfg.ExtendThreshold = 0
	}
	return &CartService{
		gate: gate, carts: carts, products: products, taxes: taxes,
		locks: locks, clock: clk, cfg: cfg, tracer: tracer,
	}
}

func sessionLockKey(tenantID, sessionID string) string {
	return cartSessionLockPrefix + tenantID + ":" + sessionID
}

func (s *CartService) taxPolicy(tenantID string) domain.TaxPolicy {
	if s.taxes == nil {
		return domain.NoTax
	}
	return s.taxes.For(tenantID)
}

// loadOrCreate 必须在会话锁内调用：过期的购物车被替换，即将过期的被顺延。
func (s *CartService) loadOrCreate(ctx context.Context, tenantID, sessionID string) (*domain.Cart, error) {
	now := s.clock.Now()
	cart, err := s.carts.FindBySession(ctx, tenantID, sessionID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		cart = nil
	case err != nil:
		return nil, err
	}

	if cart != nil {
		switch cart.State(now, s.cfg.ExtendThreshold) {
		case domain.CartActive:
			return cart, nil
		case domain.CartExpiringSoon:
			cart.Extend(now, s.cfg.TTL)
			if err := s.carts.Save(ctx, cart); err != nil {
				return nil, err
			}
			return cart, nil
		case domain.CartExpired:
			logger.Ctx(ctx).Info().Str("tenant", tenantID).Str("cart", cart.ID).Msg("replacing expired cart")
			if err := s.carts.Delete(ctx, tenantID, cart.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
		}
	}

	cart = domain.NewCart(tenantID, sessionID, now, s.cfg.TTL)
	cart.RecalculateTotals(s.taxPolicy(tenantID))
	if err := s.carts.Save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// withCart 先持会话锁拿到购物车，再持 cart:<id> 锁执行 fn，fn 返回 nil 时保存。
func (s *CartService) withCart(ctx context.Context, tenantID, sessionID string, fn func(ctx context.Context, cart *domain.Cart) error) (*domain.Cart, error) {
	if _, err := s.gate.Validate(ctx, tenantID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.NewValidationError("sessionId", "is required")
	}
	return keyedmutex.Run(ctx, s.locks, sessionLockKey(tenantID, sessionID), func(ctx context.Context) (*domain.Cart, error) {
		cart, err := s.loadOrCreate(ctx, tenantID, sessionID)
		if err != nil {
			return nil, err
		}
		if fn == nil {
			return cart, nil
		}
		err = s.locks.Do(ctx, cartLockPrefix+cart.ID, func(ctx context.Context) error {
			if err := fn(ctx, cart); err != nil {
				return err
			}
			cart.RecalculateTotals(s.taxPolicy(tenantID))
			return s.carts.Save(ctx, cart)
		})
		if err != nil {
			return nil, err
		}
		return cart, nil
	})
}

func (s *CartService) GetOrCreateCart(ctx context.Context, tenantID, sessionID string) (*domain.Cart, error) {
	ctx, span := s.tracer.Start(ctx, "app.CartService.GetOrCreateCart")
	defer span.End()

	cart, err := s.withCart(ctx, tenantID, sessionID, nil)
	return cart, fail(span, err)
}

// AddItem 在库存锁内读取商品、校验合并后的数量并提交，检查和写入之间库存不会被其他请求改动。
func (s *CartService) AddItem(ctx context.Context, tenantID, sessionID string, req AddCartItemRequest) (*domain.Cart, error) {
	ctx, span := s.tracer.Start(ctx, "app.CartService.AddItem", trace.WithAttributes(
		attribute.String("product.id", req.ProductID),
		attribute.Int("quantity", req.Quantity),
	))
	defer span.End()

	if req.Quantity < 1 {
		return nil, fail(span, domain.NewValidationError("quantity", "must be at least 1"))
	}
	if req.ProductID == "" {
		return nil, fail(span, domain.NewValidationError("productId", "is required"))
	}

	cart, err := s.withCart(ctx, tenantID, sessionID, func(ctx context.Context, cart *domain.Cart) error {
		return s.locks.Do(ctx, domain.StockKey(req.ProductID, req.VariantID), func(ctx context.Context) error {
			p, err := s.products.FindByID(ctx, tenantID, req.ProductID)
			if err != nil {
				return err
			}
			price, variant, err := p.Purchasable(req.VariantID)
			if err != nil {
				return err
			}
			stock, err := p.StockFor(req.VariantID)
			if err != nil {
				return err
			}
			want := cart.QuantityAfterAdd(req.ProductID, req.VariantID, req.Quantity)
			if !stock.CanFulfillQuantity(want) {
				return &domain.InsufficientStockError{
					ProductID: req.ProductID, VariantID: req.VariantID,
					Available: stock.StockQuantity, Requested: want,
				}
			}

			line := domain.CartItem{
				ProductID: p.ID, ProductName: p.Name, SKU: p.SKU,
				Quantity: req.Quantity, UnitPrice: price,
			}
			if variant != nil {
				line.VariantID, line.VariantName, line.SKU = variant.ID, variant.Name, variant.SKU
			}
			_, err = cart.AddItem(line, s.clock.Now())
			return err
		})
	})
	if err != nil {
		return nil, fail(span, err)
	}
	logger.Ctx(ctx).Debug().Str("cart", cart.ID).Str("product", req.ProductID).Int("qty", req.Quantity).Msg("cart item added")
	return cart, nil
}

func (s *CartService) UpdateItemQuantity(ctx context.Context, tenantID, sessionID, itemID string, quantity int) (*domain.Cart, error) {
	ctx, span := s.tracer.Start(ctx, "app.CartService.UpdateItemQuantity", trace.WithAttributes(
		attribute.String("item.id", itemID),
		attribute.Int("quantity", quantity),
	))
	defer span.End()

	if quantity < 1 {
		return nil, fail(span, domain.NewValidationError("quantity", "must be at least 1"))
	}
	cart, err := s.withCart(ctx, tenantID, sessionID, func(ctx context.Context, cart *domain.Cart) error {
		item, err := cart.Item(itemID)
		if err != nil {
			return err
		}
		return s.locks.Do(ctx, domain.StockKey(item.ProductID, item.VariantID), func(ctx context.Context) error {
			p, err := s.products.FindByID(ctx, tenantID, item.ProductID)
			if err != nil {
				return err
			}
			stock, err := p.StockFor(item.VariantID)
			if err != nil {
				return err
			}
			if !stock.CanFulfillQuantity(quantity) {
				return &domain.InsufficientStockError{
					ProductID: item.ProductID, VariantID: item.VariantID,
					Available: stock.StockQuantity, Requested: quantity,
				}
			}
			_, err = cart.UpdateItemQuantity(itemID, quantity, s.clock.Now())
			return err
		})
	})
	return cart, fail(span, err)
}

func (s *CartService) RemoveItem(ctx context.Context, tenantID, sessionID, itemID string) (*domain.Cart, error) {
	ctx, span := s.tracer.Start(ctx, "app.CartService.RemoveItem", trace.WithAttributes(attribute.String("item.id", itemID)))
	defer span.End()

	cart, err := s.withCart(ctx, tenantID, sessionID, func(_ context.Context, cart *domain.Cart) error {
		return cart.RemoveItem(itemID, s.clock.Now())
	})
	return cart, fail(span, err)
}

func (s *CartService) Clear(ctx context.Context, tenantID, sessionID string) (*domain.Cart, error) {
	ctx, span := s.tracer.Start(ctx, "app.CartService.Clear")
	defer span.End()

	cart, err := s.withCart(ctx, tenantID, sessionID, func(_ context.Context, cart *domain.Cart) error {
		cart.Clear(s.clock.Now())
		return nil
	})
	return cart, fail(span, err)
}

// SweepExpired 删除所有已过期的购物车。
func (s *CartService) SweepExpired(ctx context.Context) (int, error) {
	n, err := s.carts.DeleteExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Ctx(ctx).Info().Int("removed", n).Msg("expired carts swept")
	}
	return n, nil
}
