// internal/service/shop/domain/tax.go
package domain

import "github.com/shopspring/decimal"

// TaxPolicy 根据小计计算税额。
type TaxPolicy interface {
	Tax(subtotal decimal.Decimal) decimal.Decimal
}

// FlatRateTaxPolicy 按固定税率计税，例如 0.08 表示 8%。
type FlatRateTaxPolicy struct {
	Rate decimal.Decimal
}

func (p FlatRateTaxPolicy) Tax(subtotal decimal.Decimal) decimal.Decimal {
	return Money(subtotal.Mul(p.Rate))
}

// NoTax 不计税。
var NoTax TaxPolicy = FlatRateTaxPolicy{Rate: decimal.Zero}
