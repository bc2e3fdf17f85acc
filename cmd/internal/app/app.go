// Package app wires the userauth server runtime: config, logging, storage,
// metrics and HTTP routes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"userauth/cmd/identity"
	authapi "userauth/cmd/internal/auth/api"
	"userauth/cmd/internal/auth/session"
)

const (
	backendMemory   = "memory"
	backendMongo    = "mongo"
	backendPostgres = "postgres"

	shutdownTimeout = 10 * time.Second
)

// App is the userauth server runtime. It owns the user store connection and
// the HTTP server wiring.
type App struct {
	cfg Config
	log Logger

	backend string
	store   identity.Store
	close   func(ctx context.Context) error

	metrics *Metrics
	auth    *authapi.Handler
}

// New constructs a fully wired App from config and logger.
// Database connections are opened here; call Run or Close to release them.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	sec, err := LoadSecurityConfig()
	if err != nil {
		return nil, err
	}
	authCfg, err := authapi.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	st, closeFn, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := build(cfg, log, st, sec, authCfg)
	if err != nil {
		_ = closeFn(context.Background())
		return nil, err
	}
	a.close = closeFn
	return a, nil
}

func build(cfg Config, log Logger, st identity.Store, sec securityConfig, authCfg authapi.Config) (*App, error) {
	creds, err := identity.NewCredentials(st, sec.Password)
	if err != nil {
		return nil, err
	}
	tokens, err := session.NewJWTManager(sec.Token)
	if err != nil {
		return nil, err
	}
	sessions := session.NewService(st, tokens)

	metrics := NewMetrics()
	auth, err := authapi.NewHandler(log, authCfg, creds, sessions,
		authapi.WithEventCounter(metrics.AuthEvents()),
	)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:     cfg,
		log:     log,
		backend: cfg.Backend(),
		store:   st,
		close:   func(context.Context) error { return nil },
		metrics: metrics,
		auth:    auth,
	}, nil
}

// Handler returns the fully wrapped root handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a)
	return WithRecover(WithSecurityHeaders(WithRequestLogging(mux, a.log)), a.log)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "backend", a.backend)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		_ = a.Close(context.Background())
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

// Close releases the store connection. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	if a.close == nil {
		return nil
	}
	fn := a.close
	a.close = nil
	return fn(ctx)
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStore picks the user store: Mongo when a Mongo URI is set, else Postgres
// when a database URL is set, else the in-memory dev store.
func newStore(ctx context.Context, cfg Config, log Logger) (identity.Store, func(context.Context) error, error) {
	switch cfg.Backend() {
	case backendMongo:
		return newMongoStore(ctx, cfg, log)
	case backendPostgres:
		return newPostgresStore(ctx, cfg, log)
	default:
		log.Info("db.disabled.inmemory_store")
		return identity.NewMemoryStore(), func(context.Context) error { return nil }, nil
	}
}

func newMongoStore(ctx context.Context, cfg Config, log Logger) (identity.Store, func(context.Context) error, error) {
	client, err := NewMongoClient(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	closeFn := func(ctx context.Context) error { return client.Disconnect(ctx) }

	st := identity.NewMongoStore(client,
		identity.WithMongoDatabase(cfg.MongoDB),
		identity.WithMongoCollection(cfg.MongoCollection),
	)

	ictx, cancel := context.WithTimeout(ctx, dbConnectTimeout)
	defer cancel()
	if err := st.EnsureIndexes(ictx); err != nil {
		_ = closeFn(context.Background())
		return nil, nil, fmt.Errorf("mongo indexes: %w", err)
	}

	log.Info("db.enabled.mongo_store", "database", cfg.MongoDB, "collection", cfg.MongoCollection)
	return st, closeFn, nil
}

func newPostgresStore(ctx context.Context, cfg Config, log Logger) (identity.Store, func(context.Context) error, error) {
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres connect: %w", err)
	}
	closeFn := poolCloser(pool)

	st, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		_ = closeFn(context.Background())
		return nil, nil, err
	}

	sctx, cancel := context.WithTimeout(ctx, dbConnectTimeout)
	defer cancel()
	if err := st.EnsureSchema(sctx); err != nil {
		_ = closeFn(context.Background())
		return nil, nil, fmt.Errorf("postgres schema: %w", err)
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return st, closeFn, nil
}

// The app owns the pool; the store never closes it.
func poolCloser(pool *pgxpool.Pool) func(context.Context) error {
	return func(context.Context) error {
		pool.Close()
		return nil
	}
}
