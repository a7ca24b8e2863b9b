// cmd/notification-service/main.go
package main

import (
	"context"
	"flag"
	"net/http"

	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"

	"storefront/internal/pkg/bootstrap"
	"storefront/internal/pkg/mq"
	"storefront/internal/service/notification"
	"storefront/internal/service/shop/infrastructure/adapter"
)

const (
	serviceName     = "notification-service"
	consumerGroupID = "notification-group"
)

type Config struct {
	bootstrap.Config `yaml:",inline"`
	SMTP             notification.SMTPConfig `yaml:"smtp"`
}

func (c *Config) ApplyEnv() {
	c.Config.ApplyEnv()
	c.SMTP.Host = bootstrap.GetEnv("SMTP_HOST", c.SMTP.Host)
	c.SMTP.Username = bootstrap.GetEnv("SMTP_USERNAME", c.SMTP.Username)
	c.SMTP.Password = bootstrap.GetEnv("SMTP_PASSWORD", c.SMTP.Password)
}

func main() {
	configPath := flag.String("config", bootstrap.GetEnv("CONFIG_PATH", "configs/notification-service.yaml"), "path to the YAML config file")
	flag.Parse()

	cfg := Config{}
	cfg.App = bootstrap.AppConfig{Name: serviceName, Port: 8083, LogLevel: "info"}
	if err := bootstrap.Load(*configPath, &cfg); err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}

	err := bootstrap.StartService(context.Background(), bootstrap.AppInfo{
		ServiceName: serviceName,
		RegisterHandlers: func(app bootstrap.AppCtx) (func(context.Context), error) {
			if len(cfg.Infra.Kafka.Brokers) == 0 {
				return nil, errors.New("infra.kafka.brokers is required")
			}
			groupID := cfg.Infra.Kafka.GroupID
			if groupID == "" {
				groupID = consumerGroupID
			}

			var sender notification.Sender = notification.LogSender{}
			if cfg.SMTP.Enabled() {
				sender = notification.NewSMTPSender(cfg.SMTP)
			} else {
				zlog.Warn().Msg("smtp is not configured, emails will only be logged")
			}

			reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, adapter.EmailTopic, groupID)
			processor := notification.NewProcessor(sender, app.Tracer)
			stopped := make(chan struct{})
			go func() {
				defer close(stopped)
				zlog.Info().Str("topic", adapter.EmailTopic).Msg("✅ Notification Service started as a Kafka consumer")
				_ = processor.Run(app.Ctx, reader)
			}()

			app.Mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("OK"))
			})

			return func(ctx context.Context) {
				select {
				case <-stopped:
				case <-ctx.Done():
				}
				if err := reader.Close(); err != nil {
					zlog.Error().Err(err).Msg("failed to close kafka reader")
				}
			}, nil
		},
	}, cfg.Config)
	if err != nil {
		zlog.Fatal().Err(err).Msg("notification-service exited")
	}
}
