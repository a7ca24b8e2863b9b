// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/pkg/logger"
	"storefront/internal/pkg/nacos"
	"storefront/internal/pkg/tracing"
)

const shutdownTimeout = 10 * time.Second

type AppCtx struct {
	// Ctx 在收到退出信号后取消，后台 goroutine 以它为生命周期。
	Ctx    context.Context
	Mux    *http.ServeMux
	Tracer trace.Tracer
	Nacos  *nacos.Client
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName string
	// RegisterHandlers 注册路由并启动后台任务；返回的 cleanup 在 HTTP 服务停止后执行。
	RegisterHandlers func(appCtx AppCtx) (cleanup func(ctx context.Context), err error)
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑，阻塞直到 ctx 结束或收到 SIGINT/SIGTERM。
func StartService(ctx context.Context, info AppInfo, cfg Config) error {
	logger.Init(info.ServiceName, cfg.App.LogLevel, nil)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		return errors.Wrap(err, "init tracer provider")
	}

	var naming *nacos.Client
	if cfg.Infra.Nacos.Register {
		if naming, err = nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group); err != nil {
			return err
		}
		defer naming.Close()
	}

	mux := http.NewServeMux()
	var cleanup func(context.Context)
	if info.RegisterHandlers != nil {
		cleanup, err = info.RegisterHandlers(AppCtx{
			Ctx:    ctx,
			Mux:    mux,
			Tracer: otel.Tracer(info.ServiceName),
			Nacos:  naming,
		})
		if err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.App.Port))
	if err != nil {
		return errors.Wrapf(err, "listen on :%d", cfg.App.Port)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		zlog.Info().Int("port", port).Msgf("%s listening", info.ServiceName)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var ip string
	if naming != nil {
		if ip, err = GetOutboundIP(); err != nil {
			zlog.Error().Err(err).Msg("failed to get outbound IP address, skipping nacos registration")
		} else if err = naming.RegisterServiceInstance(info.ServiceName, ip, port); err != nil {
			zlog.Error().Err(err).Msg("failed to register service with nacos")
			ip = ""
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		stop()
	}
	zlog.Info().Msgf("Shutting down service %s...", info.ServiceName)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// 关停顺序：先从注册中心摘除，再停 HTTP，最后清理依赖并刷出 trace
	if naming != nil && ip != "" {
		if err := naming.DeregisterServiceInstance(info.ServiceName, ip, port); err != nil {
			zlog.Error().Err(err).Msg("Error deregistering from Nacos")
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Error shutting down http server")
	} else {
		zlog.Info().Msg("HTTP server shut down.")
	}
	if cleanup != nil {
		cleanup(shutdownCtx)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Error shutting down tracer provider")
	}

	zlog.Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
	return runErr
}

// GetOutboundIP 返回本机访问外网时使用的 IP，用于服务注册。UDP 拨号不会真正发包。
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", errors.Wrap(err, "dial udp")
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
