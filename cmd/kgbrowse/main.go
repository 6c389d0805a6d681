package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/kgbrowse/internal/config"
	"github.com/kailas-cloud/kgbrowse/internal/db"
	"github.com/kailas-cloud/kgbrowse/internal/db/memory"
	dbRedis "github.com/kailas-cloud/kgbrowse/internal/db/redis"
	logpkg "github.com/kailas-cloud/kgbrowse/internal/logger"
	"github.com/kailas-cloud/kgbrowse/internal/metrics"
	"github.com/kailas-cloud/kgbrowse/internal/repository/prefs"
	"github.com/kailas-cloud/kgbrowse/internal/repository/reqcache"
	chiTransport "github.com/kailas-cloud/kgbrowse/internal/transport/chi"
	"github.com/kailas-cloud/kgbrowse/internal/transport/keycloak"
	"github.com/kailas-cloud/kgbrowse/internal/transport/kgapi"
	"github.com/kailas-cloud/kgbrowse/internal/usecase/auth"
	healthuc "github.com/kailas-cloud/kgbrowse/internal/usecase/health"
	"github.com/kailas-cloud/kgbrowse/internal/usecase/session"
	"github.com/kailas-cloud/kgbrowse/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting kgbrowse server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("kg_url", cfg.KG.BaseURL),
		zap.Bool("login_enabled", cfg.Auth.URL != ""),
	)

	store, err := openStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register engine metrics explicitly (no init())
	metrics.RegisterEngineMetrics()

	prefsRepo := prefs.New(store, cfg.Cache.KeyPrefix)
	cache := reqcache.New(store, reqcache.Options{
		TTL:           time.Duration(cfg.Cache.TTLSec) * time.Second,
		Prefix:        cfg.Cache.KeyPrefix,
		Total:         metrics.RequestCacheTotal,
		Invalidations: metrics.RequestCacheInvalidationsTotal,
		Logger:        logger,
	})
	client := kgapi.NewClient(&kgapi.Config{
		BaseURL: cfg.KG.BaseURL,
		Timeout: time.Duration(cfg.KG.TimeoutSec) * time.Second,
		Logger:  logger,
	})

	sessions, err := session.NewManager(cfg.Sessions.MaxSessions,
		newSessionFactory(cfg, client, cache, prefsRepo, logger), metrics.SessionsActive)
	if err != nil {
		logger.Fatal("Failed to create session manager", zap.Error(err))
	}

	healthSvc := healthuc.New(store, client)

	server := chiTransport.NewServer(sessions, healthSvc, cfg.AppURL, logger).
		WithPreferences(prefsRepo)

	r := newRouter(logger, cfg.CookieSecure)
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

func openStore(cfg config.DatabaseConfig) (db.Store, error) {
	switch cfg.Driver {
	case config.DriverRedis, config.DriverValkey:
		return dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Addrs,
			Password: cfg.Password,
		})
	case config.DriverMemory:
		return memory.NewStore(cfg.MemoryCapacity)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// newSessionFactory wires one tab: its own auth machine, a KG client carrying that
// machine's token and a request cache namespaced by the session id.
func newSessionFactory(
	cfg config.Config,
	client *kgapi.Client,
	cache *reqcache.Cache,
	prefsRepo *prefs.Repository,
	logger *zap.Logger,
) session.Factory {
	return func(id, browserID string) (*session.Session, error) {
		sessLogger := logger.With(zap.String("session", id))
		provider := keycloak.NewProvider(keycloak.Config{
			URL:          cfg.Auth.URL,
			Realm:        cfg.Auth.Realm,
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			RedirectURL:  cfg.Auth.RedirectURL,
			Scopes:       cfg.Auth.Scopes,
			Logger:       sessLogger,
		})
		machine := auth.New(provider, auth.Options{
			LoginRequired: cfg.Auth.LoginRequired,
			RefreshLeeway: time.Duration(cfg.Auth.RefreshLeewaySec) * time.Second,
			Transitions:   metrics.AuthTransitionsTotal,
			Logger:        sessLogger,
		})
		backend := reqcache.NewBackend(client.WithTokenSource(machine.Token), cache.WithNamespace(id))

		return session.New(id, browserID, session.Config{
			DefaultGroup: cfg.KG.DefaultGroup,
			HitsPerPage:  cfg.KG.HitsPerPage,
		}, session.Deps{
			Backend:    backend,
			Auth:       machine,
			Prefs:      prefsRepo,
			Logger:     sessLogger,
			Superseded: metrics.SupersededResponsesTotal,
		}), nil
	}
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(chiTransport.ErrorResponse{
						Code:    chiTransport.CodeInternalError,
						Message: "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// newRouter installs the shared middleware chain. The browser id is resolved before the
// request logger is built so every log line carries it.
func newRouter(logger *zap.Logger, cookieSecure bool) chi.Router {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(chiTransport.BrowserIDMiddleware(cookieSecure))
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware())
	return r
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(
				zap.String("request_id", requestID),
				zap.String("browser_id", chiTransport.BrowserIDFromContext(r.Context())),
			)
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("session", chi.URLParam(r, "session")),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
