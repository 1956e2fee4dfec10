package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/avolkov-dev/genrelay/internal/adapter/fluxpix"
	grhttp "github.com/avolkov-dev/genrelay/internal/adapter/http"
	grnats "github.com/avolkov-dev/genrelay/internal/adapter/nats"
	grotel "github.com/avolkov-dev/genrelay/internal/adapter/otel"
	"github.com/avolkov-dev/genrelay/internal/adapter/postgres"
	"github.com/avolkov-dev/genrelay/internal/adapter/ristretto"
	_ "github.com/avolkov-dev/genrelay/internal/adapter/stubgen" // register stub provider backend
	"github.com/avolkov-dev/genrelay/internal/config"
	"github.com/avolkov-dev/genrelay/internal/logger"
	"github.com/avolkov-dev/genrelay/internal/port/provider"
	"github.com/avolkov-dev/genrelay/internal/resilience"
	"github.com/avolkov-dev/genrelay/internal/service"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"workers", cfg.Worker.Count,
		"max_attempts", cfg.Worker.MaxAttempts,
	)

	ctx := context.Background()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	queue, err := grnats.Connect(ctx, cfg.NATS)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	priceCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer priceCache.Close()

	// --- Metrics ---

	var metrics *grotel.Metrics
	if cfg.Metrics.Enabled {
		shutdown, err := grotel.InitMetrics(ctx, cfg.Logging.Service, cfg.Metrics.Endpoint)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()

		metrics, err = grotel.NewMetrics()
		if err != nil {
			return fmt.Errorf("metric instruments: %w", err)
		}
		log.Info("metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	}

	// --- Providers ---

	providers, err := buildProviders(cfg)
	if err != nil {
		return err
	}
	log.Info("providers configured", "models", len(providers), "backends", provider.Available())

	// --- Services ---

	store := postgres.NewStore(pool)
	ledger := postgres.NewLedger(pool)

	pricingSvc := service.NewPricingService(store, priceCache, cfg.Cache.PriceTTL)
	admissionSvc := service.NewAdmissionService(store, ledger, queue, pricingSvc, metrics, log)
	accountSvc := service.NewAccountService(store, log)
	workerSvc := service.NewWorkerService(store, ledger, queue, providers, cfg.Worker, metrics, log)

	if err := workerSvc.Start(ctx); err != nil {
		return fmt.Errorf("workers: %w", err)
	}
	defer workerSvc.Stop()

	// --- HTTP ---

	handlers := &grhttp.Handlers{
		Admission: admissionSvc,
		Accounts:  accountSvc,
		Pricing:   pricingSvc,
		Store:     store,
		Queue:     queue,
		DB:        pool,
	}

	r := chi.NewRouter()
	r.Use(grhttp.RequestID)
	r.Use(grhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	if cfg.Metrics.Enabled {
		r.Use(grotel.HTTPMiddleware(cfg.Logging.Service))
	}

	grhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down")

	// Stop accepting HTTP first, then let in-flight queue handlers finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}

	workerSvc.Stop()
	if err := queue.Drain(); err != nil {
		log.Error("queue drain failed", "error", err)
	}
	return nil
}

// buildProviders instantiates one provider per configured model reference.
func buildProviders(cfg *config.Config) (map[string]provider.Provider, error) {
	providers := make(map[string]provider.Provider, len(cfg.Providers))
	for model, pcfg := range cfg.Providers {
		prov, err := provider.New(pcfg.Backend, pcfg.Options)
		if err != nil {
			return nil, fmt.Errorf("provider for %s: %w", model, err)
		}
		if fp, ok := prov.(*fluxpix.Provider); ok {
			fp.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
		}
		providers[model] = prov
	}
	return providers, nil
}
