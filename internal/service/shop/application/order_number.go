// internal/service/shop/application/order_number.go
package application

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"

	"storefront/internal/pkg/clock"
	"storefront/internal/service/shop/domain"
)

const orderNumberAttempts = 10

// OrderNumberGenerator 生成形如 SHO-20240115-0427 的租户内唯一订单号。
type OrderNumberGenerator struct {
	orders domain.OrderRepository
	clock  clock.Clock
	suffix func() int
}

func NewOrderNumberGenerator(orders domain.OrderRepository, clk clock.Clock) *OrderNumberGenerator {
	return &OrderNumberGenerator{
		orders: orders,
		clock:  clk,
		suffix: func() int { return rand.IntN(10000) },
	}
}

// Generate 先尝试 10 个随机四位后缀，都冲突时退回毫秒时间戳；仍冲突返回 ConflictError。
// 最终的唯一性由仓储的唯一约束保证，这里只是尽量避开已存在的号码。
func (g *OrderNumberGenerator) Generate(ctx context.Context, tenant *domain.Tenant) (string, error) {
	now := g.clock.Now()
	base := fmt.Sprintf("%s-%s-", tenant.OrderPrefix(), now.Format("20060102"))

	for i := 0; i < orderNumberAttempts; i++ {
		candidate := fmt.Sprintf("%s%04d", base, g.suffix())
		exists, err := g.orders.ExistsByNumber(ctx, tenant.ID, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}

	fallback := base + strconv.FormatInt(now.UnixMilli(), 10)
	exists, err := g.orders.ExistsByNumber(ctx, tenant.ID, fallback)
	if err != nil {
		return "", err
	}
	if exists {
		return "", domain.NewConflict("order", "unable to generate a unique order number")
	}
	return fallback, nil
}
