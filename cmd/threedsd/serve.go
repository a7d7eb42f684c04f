package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alovak/threeds-flow/internal/sdksim"
	"github.com/alovak/threeds-flow/threeds"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

func NewServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the threeds HTTP service",
		Long: `Loads configuration from the optional YAML file, .env and the environment,
then serves the transaction API until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := threeds.LoadConfig(configPath)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))

			var opts []threeds.AppOption
			if cfg.Simulator {
				sim := sdksim.NewProvider([]byte(cfg.Provider.SessionTokenKey), "/sim")
				opts = append(opts,
					threeds.WithSDK(sdksim.NewSDK(nil)),
					threeds.WithRoutes("/sim", sim.AppendRoutes),
				)
			}

			app := threeds.NewApp(logger, cfg, opts...)
			if err := app.Start(); err != nil {
				return fmt.Errorf("starting app: %w", err)
			}

			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			<-c

			app.Shutdown()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	return cmd
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
