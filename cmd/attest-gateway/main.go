package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davidahmann/attest/internal/config"
	"github.com/davidahmann/attest/internal/logging"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := runFn(ctx, os.Args[1:], os.Getenv, listenAndServe, newGateway); err != nil {
		fatalf("server error: %v", err)
	}
}

var runFn = run
var fatalf = log.Fatalf

type envFn func(string) string
type listenFn func(ctx context.Context, server *http.Server) error
type gatewayFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*http.Server, func(), error)

func run(ctx context.Context, args []string, getenv envFn, listen listenFn, factory gatewayFactory) error {
	fs := flag.NewFlagSet("attest-gateway", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to attest config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfgFile := firstNonEmpty(*configPath, getenv("ATTEST_CONFIG_PATH"))

	var cfg config.Config
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	cfg.ListenAddr = firstNonEmpty(getenv("ATTEST_LISTEN_ADDR"), cfg.ListenAddr, ":8080")
	cfg.UnitsDir = firstNonEmpty(getenv("ATTEST_UNITS_DIR"), cfg.UnitsDir, "units")
	cfg.Auth.DevToken = firstNonEmpty(getenv("ATTEST_DEV_TOKEN"), cfg.Auth.DevToken)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	server, cleanup, err := factory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("attest-gateway listening", zap.String("addr", cfg.ListenAddr))
	if err := listen(ctx, server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// listenAndServe serves until ctx ends, then shuts down gracefully.
func listenAndServe(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
