// cmd/shop-service/main.go
package main

import (
	"context"
	"flag"

	zlog "github.com/rs/zerolog/log"

	"storefront/internal/pkg/bootstrap"
)

const serviceName = "shop-service"

// main 是应用的"组装根"：加载配置，然后交给 bootstrap 启动并在退出时清理。
func main() {
	configPath := flag.String("config", bootstrap.GetEnv("CONFIG_PATH", "configs/shop-service.yaml"), "path to the YAML config file")
	flag.Parse()

	cfg := defaultConfig()
	if err := bootstrap.Load(*configPath, &cfg); err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		zlog.Fatal().Err(err).Msg("invalid config")
	}

	err := bootstrap.StartService(context.Background(), bootstrap.AppInfo{
		ServiceName: serviceName,
		RegisterHandlers: func(app bootstrap.AppCtx) (func(context.Context), error) {
			return wire(app, cfg)
		},
	}, cfg.Config)
	if err != nil {
		zlog.Fatal().Err(err).Msg("shop-service exited")
	}
}
