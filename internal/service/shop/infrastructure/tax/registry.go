// internal/service/shop/infrastructure/tax/registry.go
package tax

import (
	"fmt"
	"math"

	"github.com/google/cel-go/cel"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"storefront/internal/service/shop/domain"
)

// TenantConfig 二选一：固定税率，或一个以 subtotal（double）为变量、返回 double 的 CEL 表达式。
type TenantConfig struct {
	Rate       string `yaml:"rate"`
	Expression string `yaml:"expression"`
}

type Config struct {
	DefaultRate string                  `yaml:"defaultRate"`
	Tenants     map[string]TenantConfig `yaml:"tenants"`
}

// Registry 实现 port.TaxPolicyResolver。所有表达式在启动时编译，配置错误直接拒绝启动。
type Registry struct {
	fallback domain.TaxPolicy
	tenants  map[string]domain.TaxPolicy
}

func NewRegistry(cfg Config) (*Registry, error) {
	fallback, err := flat(cfg.DefaultRate)
	if err != nil {
		return nil, fmt.Errorf("tax.defaultRate: %w", err)
	}
	r := &Registry{fallback: fallback, tenants: make(map[string]domain.TaxPolicy, len(cfg.Tenants))}

	env, err := cel.NewEnv(cel.Variable("subtotal", cel.DoubleType))
	if err != nil {
		return nil, fmt.Errorf("tax: create cel env: %w", err)
	}
	for tenantID, tc := range cfg.Tenants {
		switch {
		case tc.Expression != "" && tc.Rate != "":
			return nil, fmt.Errorf("tax.tenants.%s: rate and expression are mutually exclusive", tenantID)
		case tc.Expression != "":
			p, err := compile(env, tenantID, tc.Expression, fallback)
			if err != nil {
				return nil, err
			}
			r.tenants[tenantID] = p
		default:
			p, err := flat(tc.Rate)
			if err != nil {
				return nil, fmt.Errorf("tax.tenants.%s: %w", tenantID, err)
			}
			r.tenants[tenantID] = p
		}
	}
	return r, nil
}

func (r *Registry) For(tenantID string) domain.TaxPolicy {
	if p, ok := r.tenants[tenantID]; ok {
		return p
	}
	return r.fallback
}

func flat(rate string) (domain.TaxPolicy, error) {
	if rate == "" {
		return domain.NoTax, nil
	}
	d, err := decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid rate %q: %w", rate, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("rate %q must not be negative", rate)
	}
	return domain.FlatRateTaxPolicy{Rate: d}, nil
}

// ExpressionPolicy 通过 CEL 计算税额。求值失败时退回到默认策略并记日志。
type ExpressionPolicy struct {
	tenantID string
	source   string
	program  cel.Program
	fallback domain.TaxPolicy
}

func compile(env *cel.Env, tenantID, expr string, fallback domain.TaxPolicy) (*ExpressionPolicy, error) {
	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("tax.tenants.%s: compile %q: %w", tenantID, expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.DoubleType) {
		return nil, fmt.Errorf("tax.tenants.%s: expression %q must evaluate to double, got %s", tenantID, expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("tax.tenants.%s: program %q: %w", tenantID, expr, err)
	}
	return &ExpressionPolicy{tenantID: tenantID, source: expr, program: prg, fallback: fallback}, nil
}

func (p *ExpressionPolicy) Tax(subtotal decimal.Decimal) decimal.Decimal {
	out, _, err := p.program.Eval(map[string]interface{}{"subtotal": subtotal.InexactFloat64()})
	if err != nil {
		zlog.Error().Err(err).Str("tenant", p.tenantID).Str("expression", p.source).Msg("tax expression failed, using default rate")
		return p.fallback.Tax(subtotal)
	}
	v, ok := out.Value().(float64)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		zlog.Error().Str("tenant", p.tenantID).Str("expression", p.source).Msgf("tax expression returned %v, using default rate", out.Value())
		return p.fallback.Tax(subtotal)
	}
	tax := domain.Money(decimal.NewFromFloat(v))
	if tax.IsNegative() {
		return decimal.Zero
	}
	return tax
}
