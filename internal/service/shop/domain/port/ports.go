// internal/service/shop/domain/port/ports.go
package port

import (
	"context"

	"storefront/internal/service/shop/domain"
)

// FeatureFlags 回答某个租户是否开通了电商功能。
type FeatureFlags interface {
	IsEnabled(ctx context.Context, tenantID string) (bool, error)
}

// TaxPolicyResolver 为租户选择计税策略。
type TaxPolicyResolver interface {
	For(tenantID string) domain.TaxPolicy
}

// Notifier 发送订单确认邮件。失败由调用方记录日志，不影响订单。
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, tenant *domain.Tenant, order *domain.Order) error
}

// OrderEventPublisher 推送订单状态变化。
type OrderEventPublisher interface {
	OrderStatusChanged(ctx context.Context, event domain.OrderStatusChanged) error
}
