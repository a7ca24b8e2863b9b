// internal/pkg/ratelimit/config.go
package ratelimit

import "time"

// Operation 是限流的操作类别。
type Operation string

const (
	OpCart    Operation = "cart"
	OpOrder   Operation = "order"
	OpPayment Operation = "payment"
	OpProduct Operation = "product"
	OpSearch  Operation = "search"
	OpAdmin   Operation = "admin"
)

// Config 对应配置文件中的 rateLimiting 段。
type Config struct {
	Enabled                    bool   `yaml:"enabled"`
	WindowSizeSeconds          int    `yaml:"windowSizeSeconds"`
	CartOperationsPerMinute    int    `yaml:"cartOperationsPerMinute"`
	OrderCreationPerMinute     int    `yaml:"orderCreationPerMinute"`
	PaymentOperationsPerMinute int    `yaml:"paymentOperationsPerMinute"`
	ProductBrowsingPerMinute   int    `yaml:"productBrowsingPerMinute"`
	SearchOperationsPerMinute  int    `yaml:"searchOperationsPerMinute"`
	AdminOperationsPerMinute   int    `yaml:"adminOperationsPerMinute"`
	Backend                    string `yaml:"backend"` // memory | redis
}

func DefaultConfig() Config {
	return Config{
		Enabled:                    true,
		WindowSizeSeconds:          60,
		CartOperationsPerMinute:    30,
		OrderCreationPerMinute:     5,
		PaymentOperationsPerMinute: 10,
		ProductBrowsingPerMinute:   100,
		SearchOperationsPerMinute:  50,
		AdminOperationsPerMinute:   20,
		Backend:                    "memory",
	}
}

// Capacity 返回某类操作每个窗口的令牌数；未知操作返回 false（不限流）。
func (c Config) Capacity(op Operation) (int, bool) {
	switch op {
	case OpCart:
		return c.CartOperationsPerMinute, true
	case OpOrder:
		return c.OrderCreationPerMinute, true
	case OpPayment:
		return c.PaymentOperationsPerMinute, true
	case OpProduct:
		return c.ProductBrowsingPerMinute, true
	case OpSearch:
		return c.SearchOperationsPerMinute, true
	case OpAdmin:
		return c.AdminOperationsPerMinute, true
	}
	return 0, false
}

func (c Config) Window() time.Duration {
	if c.WindowSizeSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.WindowSizeSeconds) * time.Second
}
