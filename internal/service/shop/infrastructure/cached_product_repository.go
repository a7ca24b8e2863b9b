// internal/service/shop/infrastructure/cached_product_repository.go
package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"storefront/internal/pkg/logger"
	"storefront/internal/service/shop/domain"
)

const DefaultProductCacheTTL = 5 * time.Minute

// CachedProductRepository 给店铺前台的 slug 查询加一层 Redis 读缓存。
// 库存检查走 FindByID，不经过缓存；任何写操作都会失效对应的 slug。
type CachedProductRepository struct {
	domain.ProductRepository
	rdb goredis.UniversalClient
	ttl time.Duration
}

func NewCachedProductRepository(inner domain.ProductRepository, rdb goredis.UniversalClient, ttl time.Duration) *CachedProductRepository {
	if ttl <= 0 {
		ttl = DefaultProductCacheTTL
	}
	return &CachedProductRepository{ProductRepository: inner, rdb: rdb, ttl: ttl}
}

func slugKey(tenantID, slug string) string {
	return fmt.Sprintf("product:slug:%s:%s", tenantID, slug)
}

func (r *CachedProductRepository) FindBySlug(ctx context.Context, tenantID, slug string) (*domain.Product, error) {
	key := slugKey(tenantID, slug)
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var p domain.Product
		if err := json.Unmarshal(raw, &p); err == nil {
			logger.Ctx(ctx).Debug().Str("key", key).Msg("product cache hit")
			return &p, nil
		}
		logger.Ctx(ctx).Warn().Str("key", key).Msg("dropping undecodable product cache entry")
	} else if !errors.Is(err, goredis.Nil) {
		logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("product cache read failed")
	}

	p, err := r.ProductRepository.FindBySlug(ctx, tenantID, slug)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(p); err == nil {
		if err := r.rdb.Set(ctx, key, data, r.ttl).Err(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("product cache write failed")
		}
	}
	return p, nil
}

func (r *CachedProductRepository) Update(ctx context.Context, p *domain.Product) error {
	// slug 可能被改掉，旧值要一起失效。
	old, findErr := r.ProductRepository.FindByID(ctx, p.TenantID, p.ID)
	if err := r.ProductRepository.Update(ctx, p); err != nil {
		return err
	}
	if findErr == nil {
		r.invalidate(ctx, p.TenantID, old.Slug)
	}
	r.invalidate(ctx, p.TenantID, p.Slug)
	return nil
}

func (r *CachedProductRepository) Delete(ctx context.Context, tenantID, id string) error {
	p, findErr := r.ProductRepository.FindByID(ctx, tenantID, id)
	if err := r.ProductRepository.Delete(ctx, tenantID, id); err != nil {
		return err
	}
	if findErr == nil {
		r.invalidate(ctx, tenantID, p.Slug)
	}
	return nil
}

func (r *CachedProductRepository) AdjustStock(ctx context.Context, tenantID, productID, variantID string, delta int) (int, error) {
	stock, err := r.ProductRepository.AdjustStock(ctx, tenantID, productID, variantID, delta)
	if err != nil {
		return stock, err
	}
	if p, findErr := r.ProductRepository.FindByID(ctx, tenantID, productID); findErr == nil {
		r.invalidate(ctx, tenantID, p.Slug)
	}
	return stock, nil
}

func (r *CachedProductRepository) invalidate(ctx context.Context, tenantID, slug string) {
	if err := r.rdb.Del(ctx, slugKey(tenantID, slug)).Err(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("slug", slug).Msg("product cache invalidation failed")
	}
}
