package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/geocoin/engine/internal/api"
	"github.com/geocoin/engine/internal/config"
	"github.com/geocoin/engine/internal/mapview"
	"github.com/geocoin/engine/internal/metrics"
	"github.com/geocoin/engine/internal/session"
	"github.com/geocoin/engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	backing, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("store setup failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Map view hub ---
	hub := mapview.NewHub()
	go hub.Run()

	st := store.NewFailFastStore(backing, cfg.StoreTimeout,
		store.WithLogger(logger),
		store.OnDegrade(func(err error) {
			metrics.StoreDegraded.Set(1)
			hub.Warn("Saving is unavailable; progress will be lost when the server stops.")
		}),
	)

	// --- Session ---
	sess, err := session.New(ctx, cfg.Session(), st, hub, logger)
	if err != nil {
		slog.Error("session load failed", "err", err)
		os.Exit(1)
	}
	if err := sess.Start(ctx); err != nil {
		slog.Warn("initial neighborhood incomplete", "err", err)
	}
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		sess.Run(ctx)
	}()

	h := api.NewHandler(ctx, sess)
	defer h.Close()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for the map front-end.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"geocoin","degraded":%t}`, st.Degraded())
	})

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", hub.HandleWS)
		h.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("geocoin listening", "port", cfg.Port, "slot", cfg.SaveSlot)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down geocoin...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	<-loopDone
	slog.Info("geocoin stopped")
}

// openStore picks the persistence backend: Postgres when DATABASE_URL is
// set (with a Redis read-through cache when REDIS_URL is also set), Redis
// alone when only REDIS_URL is set, memory otherwise.
func openStore(ctx context.Context, cfg config.Config) (store.Store, []func(), error) {
	var cleanup []func()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		var st store.Store = store.NewPostgresStore(pool, cfg.SaveSlot)
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.SaveSlot, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
		}
		return st, cleanup, nil
	}

	if rdb != nil {
		slog.Info("using Redis store")
		return store.NewRedisStore(rdb, cfg.SaveSlot), cleanup, nil
	}

	slog.Warn("DATABASE_URL and REDIS_URL not set, using in-memory store (data will not persist)")
	return store.NewMemoryStore(), cleanup, nil
}
