package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"squadbot/pkg/channel"
	"squadbot/pkg/channel/telegram"
	"squadbot/pkg/config"
	"squadbot/pkg/gateway"
	"squadbot/pkg/logger"
	"squadbot/pkg/telemetry"

	"github.com/spf13/cobra"
)

const (
	telegramChannelName = "telegram"
	shutdownTimeout     = 5 * time.Second
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run channel gateway mode",
	Long:  "Runs Squadbot as a channel gateway with health, readiness and status endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, path, err := loadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.gateway")

		adapters, err := enabledAdapters(cfg, log)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdownTracing, err := telemetry.Setup(runCtx, cfg.Telemetry, appLogger)
		if err != nil {
			log.Error("Failed to initialize tracing", "error", err)
			return
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				log.Warn("Trace shutdown failed", "error", err)
			}
		}()

		runtime, err := gateway.BuildRuntime(runCtx, cfg, appLogger)
		if err != nil {
			log.Error("Failed to assemble request pipeline", "error", err)
			return
		}
		defer runtime.Close()

		svc, err := gateway.NewService(cfg, path, runtime, adapters, appLogger)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return
		}

		log.Info("Gateway started",
			"channels", enabledChannelNames(adapters),
			"intent_provider", cfg.Intent.Provider,
			"directory_driver", cfg.Directory.Driver,
			"routing_watch", cfg.Routing.Watch,
		)
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Gateway runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 1)

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", telegramChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
