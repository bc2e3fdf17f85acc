package app

import (
	"context"
	"net/http"
	"time"
)

const readyTimeout = 2 * time.Second

func registerHTTP(mux *http.ServeMux, a *App) {
	mux.Handle("/healthz", a.metrics.Instrument("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})))

	mux.Handle("/readyz", a.metrics.Instrument("/readyz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.ReadinessRequireDB && a.backend == backendMemory {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := a.store.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			a.log.Info("readyz.db.not_ready", "backend", a.backend, "err", err)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})))

	mux.Handle("/metrics", a.metrics.Handler())

	// Auth routes are registered on a sub-mux so each gets its own route label.
	auth := http.NewServeMux()
	a.auth.Register(auth)
	for _, route := range authRoutes {
		mux.Handle(route, a.metrics.Instrument(route, auth))
	}
}

var authRoutes = []string{
	"/api/users",
	"/api/users/login",
	"/api/users/logout",
	"/api/users/logoutAll",
	"/api/users/password",
}
