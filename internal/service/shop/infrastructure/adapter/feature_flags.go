// internal/service/shop/infrastructure/adapter/feature_flags.go
package adapter

import (
	"context"

	"storefront/internal/service/shop/domain"
)

// TenantFeatureFlags 实现 port.FeatureFlags：配置里的覆盖项优先，其余读租户表的 EcommerceEnabled。
type TenantFeatureFlags struct {
	tenants   domain.TenantRepository
	overrides map[string]bool
}

func NewTenantFeatureFlags(tenants domain.TenantRepository, overrides map[string]bool) *TenantFeatureFlags {
	return &TenantFeatureFlags{tenants: tenants, overrides: overrides}
}

func (f *TenantFeatureFlags) IsEnabled(ctx context.Context, tenantID string) (bool, error) {
	tenant, err := f.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if enabled, ok := f.overrides[tenantID]; ok {
		return enabled, nil
	}
	return tenant.EcommerceEnabled, nil
}
