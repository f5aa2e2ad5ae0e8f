package main

import (
	"context"
	"fmt"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/doubtline/internal/app"
	"github.com/vovakirdan/doubtline/internal/config"
	"github.com/vovakirdan/doubtline/internal/log"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the realtime server",
	RunE: func(*cobra.Command, []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.UpdateFrom(config.Config{Addr: serveAddr})
		return runServer(cfg, logger)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address")
	rootCmd.AddCommand(serveCmd)
}

// loadConfig resolves configuration and builds the logger it asks for.
func loadConfig() (config.Config, *zerolog.Logger, error) {
	bootstrap := log.New("info")
	cfg, path, err := config.Load(bootstrap, configPath)
	if err != nil {
		return cfg, bootstrap, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := log.New(cfg.LogLevel)
	logger.Debug().Str("path", path).Msg("config loaded")
	return cfg, logger, nil
}

func runServer(cfg config.Config, logger *zerolog.Logger) error {
	application, err := app.New(&cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	logger.Info().Str("addr", cfg.Addr).Str("version", version).Msg("starting doubtline server")

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"doubtline": func(context.Context) error {
				logger.Info().Msg("graceful shutdown initiated")
				cancel()
				return <-done
			},
		},
	)

	select {
	case err := <-done:
		// The server stopped on its own, e.g. the address was taken.
		if err != nil {
			return fmt.Errorf("server exited with error: %w", err)
		}
		return nil
	case code := <-wait:
		if code != 0 {
			return fmt.Errorf("shutdown finished with exit code %d", code)
		}
		logger.Info().Msg("server stopped")
		return nil
	}
}
