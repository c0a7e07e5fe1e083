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

	"metricbridge/pkg/channel"
	"metricbridge/pkg/channel/httpapi"
	"metricbridge/pkg/channel/stdio"
	"metricbridge/pkg/config"
	"metricbridge/pkg/gateway"
	"metricbridge/pkg/logger"
	"metricbridge/pkg/metrickit/replay"
	"metricbridge/pkg/platform"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge gateway",
	Long:  "Runs the metrics bridge behind the configured channels with health and readiness endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.serve")

		version, err := cfg.OSVersion()
		if err != nil {
			log.Error("Platform version invalid", "error", err)
			return
		}
		probe := platform.Static(version)

		manager, err := replay.New(cfg.Replay.Dir, probe, appLogger)
		if err != nil {
			log.Error("Failed to load replay reports", "dir", cfg.Replay.Dir, "error", err)
			return
		}

		adapters, err := enabledAdapters(cfg, appLogger)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := gateway.NewService(cfg, manager, probe, adapters, appLogger)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return
		}

		log.Info("Gateway started",
			"channels", enabledChannelNames(adapters),
			"os_version", version.String(),
			"past_metric_reports", len(manager.PastPayloads()),
			"past_diagnostic_reports", len(manager.PastDiagnosticPayloads()),
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
	rootCmd.AddCommand(serveCmd)
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 2)

	if cfg.Channels.HTTP.Enabled {
		adapter, err := httpapi.NewAdapter(cfg.Channels.HTTP, log)
		if err != nil {
			return nil, fmt.Errorf("configure http channel: %w", err)
		}
		adapters = append(adapters, adapter)
	}

	if cfg.Channels.Stdio.Enabled {
		adapter, err := stdio.NewAdapter(os.Stdin, os.Stdout, log)
		if err != nil {
			return nil, fmt.Errorf("configure stdio channel: %w", err)
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
