// internal/service/shop/domain/tenant.go
package domain

import (
	"strings"
	"time"
	"unicode"
)

const FeatureEcommerce = "ecommerce"

// Tenant 是隔离边界，所有实体和操作都属于且只属于一个租户。
type Tenant struct {
	ID               string
	Slug             string
	Name             string
	Email            string
	EcommerceEnabled bool
	OrderCodePrefix  string
	CreatedAt        time.Time
}

// OrderPrefix 返回订单号前缀：优先用配置的前缀，否则取 slug 的前三个字母数字，兜底 ORD。
func (t *Tenant) OrderPrefix() string {
	src := t.OrderCodePrefix
	if src == "" {
		src = t.Slug
	}
	var b strings.Builder
	for _, r := range strings.ToUpper(src) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
		if t.OrderCodePrefix == "" && b.Len() == 3 {
			break
		}
	}
	if b.Len() == 0 {
		return "ORD"
	}
	return b.String()
}
