package bootstrap

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
app:
  name: shop-service
  port: 8080
  logLevel: debug
infra:
  jaeger:
    endpoint: http://jaeger:14268/api/traces
  redis:
    addrs: ["redis:6379"]
    db: 2
  zookeeper:
    servers: ["zk1:2181"]
    sessionTimeout: 5s
  nacos:
    serverAddrs: nacos:8848
    register: true
extra: value
`

type serviceConfig struct {
	Config `yaml:",inline"`
	Extra  string `yaml:"extra"`
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileThenEnv(t *testing.T) {
	t.Setenv("REDIS_ADDRS", "r1:6379, r2:6379")
	t.Setenv("KAFKA_BROKERS", "k1:9092")
	t.Setenv("PORT", "9090")

	var cfg serviceConfig
	require.NoError(t, Load(writeConfig(t, sample), &cfg))

	assert.Equal(t, "shop-service", cfg.App.Name)
	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "http://jaeger:14268/api/traces", cfg.Infra.Jaeger.Endpoint)
	assert.Equal(t, []string{"r1:6379", "r2:6379"}, cfg.Infra.Redis.Addrs)
	assert.Equal(t, 2, cfg.Infra.Redis.DB)
	assert.Equal(t, []string{"k1:9092"}, cfg.Infra.Kafka.Brokers)
	assert.Equal(t, 5*time.Second, cfg.Infra.Zookeeper.SessionTimeout)
	assert.True(t, cfg.Infra.Nacos.Register)
	assert.Equal(t, "value", cfg.Extra)
}

func TestLoad_Errors(t *testing.T) {
	var cfg Config
	assert.Error(t, Load(filepath.Join(t.TempDir(), "missing.yaml"), &cfg))
	assert.Error(t, Load(writeConfig(t, "app: [unterminated"), &cfg))
	assert.NoError(t, Load("", &cfg))
}

func TestStartService_ServesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	registered := make(chan struct{})
	cleaned := false

	done := make(chan error, 1)
	go func() {
		done <- StartService(ctx, AppInfo{
			ServiceName: "test-service",
			RegisterHandlers: func(app AppCtx) (func(context.Context), error) {
				app.Mux.HandleFunc("GET /ping", func(w http.ResponseWriter, r *http.Request) {})
				assert.NotNil(t, app.Tracer)
				assert.Nil(t, app.Nacos)
				close(registered)
				return func(context.Context) { cleaned = true }, nil
			},
		}, Config{App: AppConfig{Port: 0}})
	}()

	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers were not registered")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.True(t, cleaned)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not shut down")
	}
}
