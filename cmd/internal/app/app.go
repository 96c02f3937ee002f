// Package app wires the gatekeeper server runtime: config, logging, store
// selection, HTTP routes, metrics and tracing.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"gatekeeper/cmd/identity"
	authapi "gatekeeper/cmd/internal/auth/api"
	"gatekeeper/cmd/internal/auth/session"
	"gatekeeper/cmd/security/password"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Deps carries the per-package configs resolved at startup.
type Deps struct {
	Session  session.Config
	Password password.Config
	Auth     authapi.Config
}

// LoadDeps reads every package config from the environment.
func LoadDeps() (Deps, error) {
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return Deps{}, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return Deps{}, err
	}
	authCfg, err := authapi.LoadConfigFromEnv()
	if err != nil {
		return Deps{}, err
	}
	return Deps{Session: sessCfg, Password: pwCfg, Auth: authCfg}, nil
}

// App is the gatekeeper server runtime.
type App struct {
	cfg Config
	log Logger

	store    storeHandle
	registry *prometheus.Registry
	handler  http.Handler
}

// New opens the configured store and wires registration, sessions and the HTTP surface.
func New(ctx context.Context, cfg Config, deps Deps, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := build(cfg, deps, log, st)
	if err != nil {
		_ = st.Close(ctx)
		return nil, err
	}
	return a, nil
}

func build(cfg Config, deps Deps, log Logger, st storeHandle) (*App, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	registrar, err := identity.NewRegistrar(st, deps.Password)
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewService(deps.Session, st, deps.Password, session.WithLogger(log))
	if err != nil {
		return nil, err
	}

	authMetrics, err := authapi.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("app: auth metrics: %w", err)
	}
	httpMetrics, err := NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("app: http metrics: %w", err)
	}

	opts := []authapi.HandlerOption{authapi.WithMetrics(authMetrics)}
	if st.audit != nil {
		opts = append(opts, authapi.WithAuditRecorder(st.audit))
	}
	auth, err := authapi.NewHandler(log, deps.Auth, registrar, sessions, opts...)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	registerHTTP(mux, log, cfg, st, st.backend, registry, auth)

	// Outermost first: request id, logging, recovery, metrics, headers, CORS.
	var h http.Handler = mux
	h = WithCORS(h, cfg, log)
	h = WithSecurityHeaders(h)
	h = WithHTTPMetrics(h, httpMetrics)
	h = WithRecovery(h, log)
	h = WithRequestLogging(h, log)
	h = WithRequestID(h)

	return &App{
		cfg:      cfg,
		log:      log,
		store:    st,
		registry: registry,
		handler:  h,
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
// The store is closed before Run returns.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", runtimeBaseURL(a.cfg.HTTPAddr),
		"store", a.store.backend,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if runErr == nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			runErr = err
		}
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return runErr
}

// Close releases the store without running the server.
func (a *App) Close(ctx context.Context) error {
	return a.store.Close(ctx)
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
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
