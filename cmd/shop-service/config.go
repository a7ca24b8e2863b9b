// cmd/shop-service/config.go
package main

import (
	"time"

	"github.com/pkg/errors"

	"storefront/internal/pkg/bootstrap"
	"storefront/internal/pkg/ratelimit"
	"storefront/internal/service/shop/application"
	"storefront/internal/service/shop/infrastructure/adapter"
	"storefront/internal/service/shop/infrastructure/tax"
)

type StorageConfig struct {
	Driver string `yaml:"driver"` // memory | mysql | sqlite
	DSN    string `yaml:"dsn"`    // 仅 sqlite；mysql 使用 infra.mysql.dsn
}

// TenantSeed 启动时写入（或覆盖）租户表。
type TenantSeed struct {
	ID               string `yaml:"id"`
	Slug             string `yaml:"slug"`
	Name             string `yaml:"name"`
	Email            string `yaml:"email"`
	EcommerceEnabled bool   `yaml:"ecommerceEnabled"`
	OrderCodePrefix  string `yaml:"orderCodePrefix"`
}

type Config struct {
	bootstrap.Config `yaml:",inline"`

	AdminToken     string                  `yaml:"adminToken"`
	TrustedProxies []string                `yaml:"trustedProxies"`
	Currency       string                  `yaml:"currency"`
	Storage        StorageConfig           `yaml:"storage"`
	RateLimiting   ratelimit.Config        `yaml:"rateLimiting"`
	Cart           application.CartConfig  `yaml:"cart"`
	Tax            tax.Config              `yaml:"tax"`
	PayPal         adapter.PayPalConfig    `yaml:"paypal"`
	Sweep          application.SweepConfig `yaml:"sweep"`
	ProductCache struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"productCache"`
	Notification struct {
		From string `yaml:"from"`
	} `yaml:"notification"`
	// Features 按租户覆盖 ecommerce 开关，优先于租户表。
	Features map[string]bool `yaml:"features"`
	Tenants  []TenantSeed    `yaml:"tenants"`
}

func defaultConfig() Config {
	cfg := Config{
		Currency:     "USD",
		Storage:      StorageConfig{Driver: "memory"},
		RateLimiting: ratelimit.DefaultConfig(),
		Cart:         application.DefaultCartConfig(),
		Sweep:        application.DefaultSweepConfig(),
	}
	cfg.App = bootstrap.AppConfig{Name: serviceName, Port: 8080, LogLevel: "info"}
	cfg.Infra.Zookeeper.SessionTimeout = 10 * time.Second
	cfg.ProductCache.TTL = 5 * time.Minute
	cfg.Notification.From = "no-reply@storefront.local"
	return cfg
}

func (c *Config) ApplyEnv() {
	c.Config.ApplyEnv()
	c.PayPal.ClientID = bootstrap.GetEnv("PAYPAL_CLIENT_ID", c.PayPal.ClientID)
	c.PayPal.ClientSecret = bootstrap.GetEnv("PAYPAL_CLIENT_SECRET", c.PayPal.ClientSecret)
	c.PayPal.WebhookID = bootstrap.GetEnv("PAYPAL_WEBHOOK_ID", c.PayPal.WebhookID)
	c.AdminToken = bootstrap.GetEnv("ADMIN_TOKEN", c.AdminToken)
	c.TrustedProxies = bootstrap.GetEnvList("TRUSTED_PROXIES", c.TrustedProxies)
	c.Storage.Driver = bootstrap.GetEnv("STORAGE_DRIVER", c.Storage.Driver)
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "mysql":
		if c.Infra.MySQL.DSN == "" {
			return errors.New("storage.driver mysql requires infra.mysql.dsn")
		}
	case "sqlite":
		if c.Storage.DSN == "" {
			return errors.New("storage.driver sqlite requires storage.dsn")
		}
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.RateLimiting.Backend {
	case "", "memory":
	case "redis":
		if len(c.Infra.Redis.Addrs) == 0 {
			return errors.New("rateLimiting.backend redis requires infra.redis.addrs")
		}
	default:
		return errors.Errorf("unknown rate limiting backend %q", c.RateLimiting.Backend)
	}
	for i, t := range c.Tenants {
		if t.ID == "" || t.Slug == "" {
			return errors.Errorf("tenants[%d]: id and slug are required", i)
		}
	}
	return nil
}
