// internal/service/shop/application/tenant_gate.go
package application

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/pkg/logger"
	"storefront/internal/service/shop/domain"
	"storefront/internal/service/shop/domain/port"
)

// TenantGate 在每个租户级操作之前执行：租户必须存在且开通了电商功能。
type TenantGate struct {
	tenants domain.TenantRepository
	flags   port.FeatureFlags
	tracer  trace.Tracer
}

// NewTenantGate flags 为 nil 时直接使用租户上的 EcommerceEnabled。
func NewTenantGate(tenants domain.TenantRepository, flags port.FeatureFlags, tracer trace.Tracer) *TenantGate {
	return &TenantGate{tenants: tenants, flags: flags, tracer: tracer}
}

func (g *TenantGate) Validate(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	ctx, span := g.tracer.Start(ctx, "app.TenantGate.Validate", trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer span.End()

	if strings.TrimSpace(tenantID) == "" {
		return nil, fail(span, domain.NewNotFound("tenant", tenantID))
	}
	tenant, err := g.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return nil, fail(span, err)
	}

	enabled := tenant.EcommerceEnabled
	if g.flags != nil {
		if enabled, err = g.flags.IsEnabled(ctx, tenantID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fail(span, domain.NewNotFound("tenant", tenantID))
			}
			return nil, fail(span, err)
		}
	}
	if !enabled {
		logger.Ctx(ctx).Warn().Str("tenant", tenantID).Msg("ecommerce feature disabled for tenant")
		return nil, fail(span, &domain.FeatureDisabledError{TenantID: tenantID, Feature: domain.FeatureEcommerce})
	}
	return tenant, nil
}
