package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Shinox-lab/dashboard/internal/config"
	"github.com/Shinox-lab/dashboard/internal/modules/relay/application/usecase"
	"github.com/Shinox-lab/dashboard/internal/modules/relay/infrastructure"
	transport "github.com/Shinox-lab/dashboard/internal/modules/relay/interface"
	"github.com/Shinox-lab/dashboard/internal/platform/broker"
	"github.com/Shinox-lab/dashboard/internal/platform/metrics"
	"github.com/Shinox-lab/dashboard/internal/shared/logging"
)

func main() {
	// Load .env so local runs honour configuration tweaks.
	if err := godotenv.Overload(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, ".env load warning: %v\n", err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logFile, logger, logWriter, err := logging.Setup(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: true,
		Directory: cfg.Logging.Directory,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup error: %v\n", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	slog.SetDefault(logger)
	slog.Info("logging initialized", slog.String("directory", cfg.Logging.Directory), slog.String("level", cfg.Logging.Level), slog.String("format", cfg.Logging.Format))
	slog.Info("kafka config resolved", slog.Any("brokers", cfg.Kafka.Brokers), slog.String("group", cfg.Kafka.GroupID), slog.Any("topics", cfg.Kafka.Topics))

	if err := run(cfg, logWriter); err != nil {
		slog.Error("relay stopped", slog.Any("error", err))
		if logFile != nil {
			_ = logFile.Close()
		}
		os.Exit(1)
	}
}

func run(cfg *config.Config, logWriter io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	registry := infrastructure.NewClientRegistry(m)
	relay := usecase.NewFanoutRelay(registry, usecase.FanoutConfig{
		SendTimeout: cfg.Relay.SendTimeout,
		Concurrency: cfg.Relay.FanoutConcurrency,
	}, m)

	source := broker.NewKafkaSource(broker.SourceConfig{
		Brokers:     cfg.Kafka.Brokers,
		GroupID:     cfg.Kafka.GroupID,
		StartOffset: cfg.Kafka.StartOffset,
		DialTimeout: cfg.Kafka.DialTimeout,
	})
	topics := usecase.NewTopicManager(source, relay, usecase.TopicManagerConfig{
		Policy:              cfg.Relay.Policy(),
		ReconnectBackoff:    cfg.Relay.ReconnectBackoff,
		MaxReconnectBackoff: cfg.Relay.MaxReconnectBackoff,
		OnFatal: func(topic string, err error) {
			slog.Error("upstream lost, shutting down", slog.String("topic", topic), slog.Any("error", err))
			stop()
		},
	}, m)

	startCtx, cancelStart := context.WithTimeout(ctx, cfg.Kafka.DialTimeout)
	err := topics.Start(startCtx, cfg.Kafka.Topics)
	cancelStart()
	if err != nil {
		_ = topics.Close(context.Background())
		return fmt.Errorf("start kafka feeds: %w", err)
	}

	sessions := usecase.NewSessions(registry, topics, relay, usecase.SessionConfig{
		NotifySubscribeFailure: cfg.Relay.NotifySubscribeFailure,
		SubscribeTimeout:       cfg.Relay.SubscribeTimeout,
	}, m)
	status := usecase.NewStatusUseCase(registry, topics, source.Address())

	e := echo.New()
	e.HideBanner = true
	e.Logger.SetOutput(logWriter)
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	transport.Register(ctx, e, transport.Routes{
		Sessions: sessions,
		Status:   status,
		Client: infrastructure.ClientOptions{
			SendBuffer:   cfg.Relay.SendBuffer,
			WriteTimeout: cfg.Relay.WriteTimeout,
		},
		StaticIndex: cfg.Server.StaticIndex,
		Metrics:     m.Handler(),
	})

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.String("address", cfg.Server.Address()))
		if err := e.Start(cfg.Server.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
		stop()
	}
	slog.Info("shutting down")

	graceCtx, cancelGrace := context.WithTimeout(context.Background(), cfg.Relay.ShutdownGrace)
	defer cancelGrace()
	if err := e.Shutdown(graceCtx); err != nil {
		slog.Warn("http server shutdown", slog.Any("error", err))
	}
	sessions.Shutdown(graceCtx, registry.CloseAll)
	if err := topics.Close(graceCtx); err != nil {
		slog.Warn("kafka feeds did not stop in time", slog.Any("error", err))
	}
	return runErr
}
