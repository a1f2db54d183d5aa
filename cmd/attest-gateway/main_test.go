package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/davidahmann/attest/internal/config"
	"go.uber.org/zap"
)

func noGateway(t *testing.T, check func(config.Config)) gatewayFactory {
	return func(_ context.Context, cfg config.Config, _ *zap.Logger) (*http.Server, func(), error) {
		if check != nil {
			check(cfg)
		}
		return &http.Server{Addr: cfg.ListenAddr}, func() {}, nil
	}
}

func closedListen(context.Context, *http.Server) error { return http.ErrServerClosed }

func TestRunDefaults(t *testing.T) {
	factory := noGateway(t, func(cfg config.Config) {
		if cfg.ListenAddr != ":8080" {
			t.Fatalf("expected default addr, got %s", cfg.ListenAddr)
		}
		if cfg.UnitsDir != "units" {
			t.Fatalf("expected default units dir, got %s", cfg.UnitsDir)
		}
		if cfg.Auth.DevToken != "" {
			t.Fatalf("expected empty dev token")
		}
	})
	getenv := func(string) string { return "" }
	if err := run(context.Background(), nil, getenv, closedListen, factory); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunEnvOverrides(t *testing.T) {
	env := map[string]string{
		"ATTEST_LISTEN_ADDR": "127.0.0.1:1234",
		"ATTEST_UNITS_DIR":   "/srv/units",
		"ATTEST_DEV_TOKEN":   "dev",
	}
	factory := noGateway(t, func(cfg config.Config) {
		if cfg.ListenAddr != "127.0.0.1:1234" || cfg.UnitsDir != "/srv/units" || cfg.Auth.DevToken != "dev" {
			t.Fatalf("env overrides not applied: %+v", cfg)
		}
	})
	getenv := func(key string) string { return env[key] }
	if err := run(context.Background(), nil, getenv, closedListen, factory); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunError(t *testing.T) {
	listenErr := errors.New("listen failed")
	listen := func(context.Context, *http.Server) error { return listenErr }
	getenv := func(string) string { return "" }

	if err := run(context.Background(), nil, getenv, listen, noGateway(t, nil)); !errors.Is(err, listenErr) {
		t.Fatalf("expected listen error, got %v", err)
	}

	factoryErr := errors.New("no ledger")
	failing := func(context.Context, config.Config, *zap.Logger) (*http.Server, func(), error) {
		return nil, nil, factoryErr
	}
	if err := run(context.Background(), nil, getenv, closedListen, failing); !errors.Is(err, factoryErr) {
		t.Fatalf("expected factory error, got %v", err)
	}
}

func TestRunLoadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "attest.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":9999\"\nunits_dir: \"./units\"\nlog:\n  format: console\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	factory := noGateway(t, func(cfg config.Config) {
		if cfg.ListenAddr != ":9999" {
			t.Fatalf("expected addr from config, got %s", cfg.ListenAddr)
		}
		if cfg.UnitsDir != "./units" {
			t.Fatalf("expected units dir from config, got %s", cfg.UnitsDir)
		}
	})
	getenv := func(key string) string {
		if key == "ATTEST_CONFIG_PATH" {
			return path
		}
		return ""
	}
	if err := run(context.Background(), nil, getenv, closedListen, factory); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "attest.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":9999\"\nunits_dir: u\nlog:\n  level: loud\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	getenv := func(string) string { return "" }
	if err := run(context.Background(), []string{"-config", path}, getenv, closedListen, noGateway(t, nil)); err == nil {
		t.Fatalf("expected log level error")
	}
	if err := run(context.Background(), []string{"-config", filepath.Join(dir, "missing.yaml")}, getenv, closedListen, noGateway(t, nil)); err == nil {
		t.Fatalf("expected missing config error")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "a", "b"); got != "a" {
		t.Fatalf("expected a, got %s", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Fatalf("expected empty, got %s", got)
	}
}

func TestListenAndServeInvalidAddr(t *testing.T) {
	err := listenAndServe(context.Background(), &http.Server{Addr: "127.0.0.1"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := listenAndServe(ctx, &http.Server{Addr: "127.0.0.1:0"}); err != nil && !errors.Is(err, http.ErrServerClosed) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMainNoError(t *testing.T) {
	oldRun := runFn
	oldFatal := fatalf
	defer func() {
		runFn = oldRun
		fatalf = oldFatal
	}()

	runFn = func(context.Context, []string, envFn, listenFn, gatewayFactory) error {
		return nil
	}

	called := false
	fatalf = func(string, ...any) {
		called = true
	}

	main()
	if called {
		t.Fatalf("unexpected fatal call")
	}
}

func TestMainError(t *testing.T) {
	oldRun := runFn
	oldFatal := fatalf
	defer func() {
		runFn = oldRun
		fatalf = oldFatal
	}()

	runFn = func(context.Context, []string, envFn, listenFn, gatewayFactory) error {
		return errors.New("boom")
	}

	called := false
	fatalf = func(string, ...any) {
		called = true
	}

	main()
	if !called {
		t.Fatalf("expected fatal call")
	}
}
