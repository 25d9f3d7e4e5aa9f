package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/boristopalov/slicewise/pkg/algostore"
	"github.com/boristopalov/slicewise/pkg/config"
	"github.com/boristopalov/slicewise/pkg/experiment"
	"github.com/boristopalov/slicewise/pkg/luarunner"
	"github.com/boristopalov/slicewise/pkg/messaging"
	"github.com/boristopalov/slicewise/pkg/server"
	"github.com/boristopalov/slicewise/pkg/session"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "slicewise",
		Short: "SliceWise is a sandbox for playing with multi-armed-bandit algorithms against synthetic reward environments.",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServer,
	}

	for _, envFile := range []string{
		".env",
		"../../.env",
	} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	rootCmd.AddCommand(serveCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		cancel()
	}()

	algos, err := algostore.Open(cfg.AlgoDir, algostore.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open algorithm store: %w", err)
	}
	defer algos.Close()

	broker := messaging.NewBroker()
	store := session.NewStore(
		session.WithTTL(cfg.SessionTTL),
		session.WithBroker(broker),
		session.WithLogger(logger),
	)
	runner := experiment.NewRunner(
		experiment.WithResolver(luarunner.NewResolver(algos)),
		experiment.WithLogger(logger),
	)

	srv := server.New(store, runner,
		server.WithAlgoStore(algos),
		server.WithBroker(broker),
		server.WithLogger(logger),
	)

	if cfg.SweepInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					if n := store.Sweep(now); n > 0 {
						logger.Info("swept expired sessions", "count", n)
					}
				}
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr)
		errChan <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
