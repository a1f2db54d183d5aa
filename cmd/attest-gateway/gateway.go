package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/davidahmann/attest/internal/api"
	"github.com/davidahmann/attest/internal/auth"
	"github.com/davidahmann/attest/internal/config"
	"github.com/davidahmann/attest/internal/crypto"
	"github.com/davidahmann/attest/internal/engine"
	"github.com/davidahmann/attest/internal/ledger"
	"github.com/davidahmann/attest/internal/ledger/pgstore"
	"github.com/davidahmann/attest/internal/ledger/sqlstore"
	"github.com/davidahmann/attest/internal/objects"
	"github.com/davidahmann/attest/internal/policy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// newGateway assembles the HTTP server from cfg. The returned cleanup stops
// background workers and closes the ledger.
func newGateway(ctx context.Context, cfg config.Config, logger *zap.Logger) (*http.Server, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*http.Server, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	store, closeStore, err := openStore(cfg.DB)
	if err != nil {
		return fail(fmt.Errorf("open ledger: %w", err))
	}
	closers = append(closers, closeStore)

	objs, err := openObjects(cfg.ObjectsDir)
	if err != nil {
		return fail(fmt.Errorf("open object store: %w", err))
	}

	loaded, err := policy.LoadDir(cfg.UnitsDir)
	if err != nil {
		return fail(fmt.Errorf("load units: %w", err))
	}
	registry, err := policy.NewRegistry(policy.Units(loaded)...)
	if err != nil {
		return fail(err)
	}
	if err := api.PublishUnits(objs, store, registry.List()...); err != nil {
		return fail(fmt.Errorf("publish units: %w", err))
	}
	logger.Info("units loaded", zap.Int("count", registry.Len()), zap.String("dir", cfg.UnitsDir))

	keys, err := loadKeys(cfg.SigningKey, store)
	if err != nil {
		return fail(err)
	}

	sink, stopSink := buildSink(cfg.Sinks, store, logger)
	closers = append(closers, stopSink)

	reg := prometheus.NewRegistry()
	opts := []engine.Option{
		engine.WithSink(sink),
		engine.WithLogger(logger),
		engine.WithMetrics(engine.NewMetrics(reg)),
		engine.WithParallelRules(cfg.Engine.ParallelRules),
	}
	var cardSigner ledger.Signer
	if keys != nil {
		opts = append(opts, engine.WithSigner(keys))
		cardSigner = keys
	}
	if cfg.Mode != nil {
		opts = append(opts, engine.WithDefaultMode(*cfg.Mode))
	}
	eng := engine.New(registry, opts...)

	authenticator, err := buildAuth(cfg.Auth)
	if err != nil {
		return fail(err)
	}

	h := &api.Handler{
		Auth:    authenticator,
		Engine:  eng,
		Units:   registry,
		Store:   store,
		Objects: objs,
		Signer:  cardSigner,
		Card: api.CardSettings{
			Host:           cfg.Card.Host,
			Realm:          cfg.Card.Realm,
			RegistryBase:   cfg.Card.RegistryBase,
			PortableScheme: cfg.Card.PortableScheme,
		},
		Limiter: buildLimiter(cfg.RateLimit),
		Logger:  logger,
	}
	if keys != nil {
		h.Keys = keys
	}

	if cfg.WatchUnits {
		watchCtx, cancel := context.WithCancel(ctx)
		closers = append(closers, cancel)
		go func() {
			err := policy.Watch(watchCtx, cfg.UnitsDir, registry, logger,
				policy.OnReload(func(loaded []policy.LoadedUnit) {
					if err := api.PublishUnits(objs, store, policy.Units(loaded)...); err != nil {
						logger.Warn("publish reloaded units", zap.Error(err))
					}
				}))
			if err != nil && watchCtx.Err() == nil {
				logger.Error("unit watcher stopped", zap.Error(err))
			}
		}()
	}

	mux := http.NewServeMux()
	metrics := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	if cfg.MetricsAddr != "" && cfg.MetricsAddr != cfg.ListenAddr {
		metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
		closers = append(closers, func() { _ = metricsServer.Close() })
	} else {
		mux.Handle("/metrics", metrics)
	}
	mux.Handle("/", api.NewRouter(h))

	return &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}, cleanup, nil
}

func openStore(cfg config.DBConfig) (ledger.Store, func(), error) {
	switch cfg.Driver {
	case "", "memory":
		return ledger.NewInMemoryStore(), func() {}, nil
	case "sqlite":
		s, err := sqlstore.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := ledger.Migrate(s.DB(), ledger.DBSQLite); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		s, err := pgstore.OpenPostgres(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := ledger.Migrate(s.DB(), ledger.DBPostgres); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}
}

func openObjects(dir string) (objects.Store, error) {
	if dir == "" {
		return objects.NewMemoryStore(), nil
	}
	return objects.NewFSStore(dir)
}

// loadKeys returns nil when no signing key is configured; receipts are then
// left unsigned.
func loadKeys(cfg config.SigningKeyConfig, store ledger.Store) (*crypto.KeyManager, error) {
	if cfg.PrivateKeyPath == "" && !cfg.GenerateIfMissing {
		return nil, nil
	}
	km := crypto.NewKeyManager(crypto.KeyConfig{
		KeyID:             cfg.KeyID,
		PrivateKeyPath:    cfg.PrivateKeyPath,
		GenerateIfMissing: cfg.GenerateIfMissing,
	})
	signer, err := km.LoadOrGenerate()
	if err != nil {
		return nil, err
	}
	if err := store.PutKey(ledger.KeyRecord{
		KeyID:     signer.KeyID(),
		PublicKey: signer.PublicKey(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return nil, fmt.Errorf("record signing key: %w", err)
	}
	return km, nil
}

func buildSink(cfg config.SinksConfig, store ledger.Store, logger *zap.Logger) (ledger.Sink, func()) {
	sinks := ledger.MultiSink{ledger.NewStoreSink(store)}
	if cfg.Dir != "" {
		sinks = append(sinks, ledger.NewFileSink(cfg.Dir))
	}
	var client *redis.Client
	if cfg.Redis.Addr != "" {
		client = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		sinks = append(sinks, ledger.NewReliableSink(
			ledger.NewRedisSink(client, cfg.Redis.Stream, cfg.Redis.MaxLen),
			ledger.ReliableOptions{Name: "redis-receipts"},
		))
	}
	closeRedis := func() {
		if client != nil {
			_ = client.Close()
		}
	}

	if cfg.AsyncBuffer == 0 {
		return sinks, closeRedis
	}
	async := ledger.NewAsyncSink(sinks, cfg.AsyncBuffer, logger)
	return async, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := async.Stop(ctx); err != nil {
			logger.Warn("receipt queue not drained", zap.Error(err))
		}
		closeRedis()
	}
}

func buildAuth(cfg config.AuthConfig) (*auth.MultiAuthenticator, error) {
	a := &auth.MultiAuthenticator{DevToken: cfg.DevToken}
	if cfg.JWTPublicKeyPath != "" {
		pub, err := auth.LoadJWTPublicKey(cfg.JWTPublicKeyPath)
		if err != nil {
			return nil, err
		}
		a.JWT = auth.NewJWTAuthenticator(pub, cfg.JWTIssuer)
	}
	return a, nil
}

func buildLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	if cfg.RPS <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
	}
	return rate.NewLimiter(rate.Limit(cfg.RPS), burst)
}
