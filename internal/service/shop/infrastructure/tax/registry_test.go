package tax

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(Config{
		DefaultRate: "0.08",
		Tenants: map[string]TenantConfig{
			"flat":    {Rate: "0.2"},
			"tiered":  {Expression: "subtotal > 100.0 ? subtotal * 0.1 : 0.0"},
			"rebate":  {Expression: "subtotal * -1.0"},
			"broken":  {Expression: "[1.0][int(subtotal)]"},
			"taxfree": {Rate: "0"},
		},
	})
	require.NoError(t, err)

	cases := []struct {
		tenant   string
		subtotal string
		want     string
	}{
		{"unknown", "24.95", "2.00"},
		{"flat", "10.00", "2.00"},
		{"tiered", "80.00", "0.00"},
		{"tiered", "150.00", "15.00"},
		{"rebate", "10.00", "0"},
		{"taxfree", "99.99", "0"},
		// 表达式运行期越界时退回默认税率
		{"broken", "50.00", "4.00"},
	}
	for _, tc := range cases {
		t.Run(tc.tenant+"/"+tc.subtotal, func(t *testing.T) {
			got := r.For(tc.tenant).Tax(dec(tc.subtotal))
			assert.True(t, dec(tc.want).Equal(got), "want %s got %s", tc.want, got)
		})
	}
}

func TestRegistry_NoDefaultMeansNoTax(t *testing.T) {
	r, err := NewRegistry(Config{})
	require.NoError(t, err)
	assert.True(t, r.For("t1").Tax(dec("100")).IsZero())
}

func TestRegistry_RejectsBadConfig(t *testing.T) {
	bad := []Config{
		{DefaultRate: "abc"},
		{DefaultRate: "-0.1"},
		{Tenants: map[string]TenantConfig{"t1": {Expression: "subtotal +"}}},
		{Tenants: map[string]TenantConfig{"t1": {Expression: "subtotal > 1.0"}}},
		{Tenants: map[string]TenantConfig{"t1": {Expression: "unknown * 2.0"}}},
		{Tenants: map[string]TenantConfig{"t1": {Rate: "0.1", Expression: "subtotal * 0.1"}}},
	}
	for _, cfg := range bad {
		_, err := NewRegistry(cfg)
		assert.Error(t, err, "%+v", cfg)
	}
}
