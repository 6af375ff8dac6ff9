package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/logging"
	"github.com/BioHazard786/meshcall/internal/metrics"
	"github.com/BioHazard786/meshcall/internal/server"
	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/BioHazard786/meshcall/internal/version"
)

var (
	flagAddr           string
	flagAllowedOrigins string
)

var rootCmd = &cobra.Command{
	Use:     "meshcall-relay",
	Short:   "Signaling relay for meshcall rooms",
	Version: version.Version,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadRelay(config.RelayOptions{
			ListenAddr:     flagAddr,
			AllowedOrigins: flagAllowedOrigins,
		})
		if err != nil {
			return err
		}
		os.Exit(serve(cfg))
		return nil
	},
}

func serve(cfg *config.Relay) int {
	logger := slog.Default()
	m := metrics.New()

	// 1. Create the Hub and run its event loop
	hub := signaling.NewHub(signaling.Options{
		SendQueue:         cfg.SendQueue,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		MessagesPerSecond: cfg.MessagesPerSecond,
		Burst:             cfg.Burst,
		PingInterval:      cfg.PingInterval,
		Logger:            logger,
		Metrics:           m,
	})
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	// 2. Register /health, /metrics and /ws
	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: server.NewMux(hub, server.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			Metrics:        m,
			Logger:         logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 3. Start the server
	go func() {
		logger.Info("relay listening", "addr", cfg.ListenAddr, "version", version.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("relay stopped", "error", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"relay": func(ctx context.Context) error {
				logger.Info("shutting down relay")
				err := srv.Shutdown(ctx)
				stopHub()
				select {
				case <-hub.Done():
				case <-ctx.Done():
					return ctx.Err()
				}
				return err
			},
		},
	)
	return <-wait
}

func main() {
	logging.Init(slog.LevelInfo)

	rootCmd.SilenceUsage = true
	rootCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (default :8080, or :$PORT)")
	rootCmd.Flags().StringVar(&flagAllowedOrigins, "allowed-origins", "", "Comma-separated browser origins allowed to connect (default all)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
