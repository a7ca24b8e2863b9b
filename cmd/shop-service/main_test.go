package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"storefront/internal/pkg/bootstrap"
)

func TestConfig_LoadAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  port: 9000
storage:
  driver: sqlite
  dsn: "file::memory:?cache=shared"
rateLimiting:
  enabled: true
  orderCreationPerMinute: 3
cart:
  ttl: 48h
  extendThreshold: 12h
tax:
  defaultRate: "0.07"
features:
  t2: false
tenants:
  - id: t1
    slug: acme
    ecommerceEnabled: true
`), 0o600))
	t.Setenv("PAYPAL_CLIENT_ID", "client-from-env")

	cfg := defaultConfig()
	require.NoError(t, bootstrap.Load(path, &cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9000, cfg.App.Port)
	assert.Equal(t, serviceName, cfg.App.Name)
	assert.Equal(t, 3, cfg.RateLimiting.OrderCreationPerMinute)
	// 没写的字段保留默认值
	assert.Equal(t, 30, cfg.RateLimiting.CartOperationsPerMinute)
	assert.Equal(t, 48*time.Hour, cfg.Cart.TTL)
	assert.Equal(t, "0.07", cfg.Tax.DefaultRate)
	assert.Equal(t, "client-from-env", cfg.PayPal.ClientID)
	assert.Equal(t, map[string]bool{"t2": false}, cfg.Features)
	require.Len(t, cfg.Tenants, 1)
	assert.Equal(t, "acme", cfg.Tenants[0].Slug)
}

func TestConfig_ValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"mysql without dsn":   func(c *Config) { c.Storage.Driver = "mysql" },
		"sqlite without dsn":  func(c *Config) { c.Storage.Driver = "sqlite" },
		"unknown driver":      func(c *Config) { c.Storage.Driver = "mongo" },
		"redis without addrs": func(c *Config) { c.RateLimiting.Backend = "redis" },
		"tenant without slug": func(c *Config) { c.Tenants = []TenantSeed{{ID: "t1"}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := defaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWire_InMemory(t *testing.T) {
	cfg := defaultConfig()
	cfg.AdminToken = "tok"
	cfg.Tenants = []TenantSeed{
		{ID: "t1", Slug: "acme", Name: "Acme", EcommerceEnabled: true},
		{ID: "t2", Slug: "globex", Name: "Globex", EcommerceEnabled: true},
	}
	cfg.Features = map[string]bool{"t2": false}

	ctx, cancel := context.WithCancel(context.Background())
	mux := http.NewServeMux()
	cleanup, err := wire(bootstrap.AppCtx{Ctx: ctx, Mux: mux, Tracer: noop.NewTracerProvider().Tracer("test")}, cfg)
	require.NoError(t, err)
	srv := httptest.NewServer(mux)
	defer func() {
		srv.Close()
		cancel()
		cleanup(context.Background())
	}()

	get := func(path, tenant string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		require.NoError(t, err)
		if tenant != "" {
			req.Header.Set("X-Tenant-ID", tenant)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp
	}

	assert.Equal(t, http.StatusOK, get("/healthz", "").StatusCode)
	assert.Equal(t, http.StatusOK, get("/api/products", "t1").StatusCode)
	assert.Equal(t, http.StatusForbidden, get("/api/products", "t2").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get("/admin/monitoring", "").StatusCode)
	assert.Equal(t, http.StatusOK, get("/metrics", "").StatusCode)
}
