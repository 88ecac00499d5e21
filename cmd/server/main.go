package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/domain"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matching"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/pool"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/routing"
	"github.com/example/ride-dispatch/internal/service"
	"github.com/example/ride-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// driver pool and surge cache: redis in production, memory locally
	var (
		drvPool    pool.Pool
		surgeStore pricing.SurgeStore
	)
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		drvPool = pool.NewRedisPool(rc)
		surgeStore = pricing.NewRedisSurgeStore(rc, 0)
	} else {
		drvPool = pool.NewMemoryPool()
		surgeStore = pricing.NewMemorySurgeStore()
		logger.Warn("REDIS_ADDR not set, using in-process pool")
	}

	var store storage.RideStore
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if os.Getenv("MIGRATE") == "true" {
			runMigrations(cfg.PGDSN, logger)
		}
		store = pg
	} else {
		store = storage.NewMemoryStore()
		logger.Warn("PG_DSN not set, rides held in memory only")
	}

	var router routing.Client
	if cfg.OSRMEndpoint != "" {
		router = routing.NewCache(routing.NewOSRMClient(cfg.OSRMEndpoint), cfg.RouteCacheTTL)
	}
	router = routing.NewFallback(router, cfg.RequireRoute, logger)

	var (
		locPub service.LocationPublisher
		events *ingest.RideEventProducer
	)
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.LocationTopic)
		defer kp.Close()
		locPub = kp
		events = ingest.NewRideEventProducer(cfg.KafkaBrokers, cfg.RideEventTopic)
		defer events.Close()
	}

	wsReg := dispatch.NewWSRegistry(logger)
	tokens := dispatch.NewTokenRegistry()
	offers := dispatch.NewPushDispatcher(cfg.PushEndpoint, wsReg)
	if cfg.FCMEndpoint != "" {
		offers.Next = dispatch.NewFCMDispatcher(cfg.FCMEndpoint, cfg.FCMServerKey, tokens.Get)
	}

	matchCfg := matching.Config{
		OfferTTL:       cfg.OfferTTL,
		MaxSweeps:      cfg.MaxSweeps,
		SweepBackoff:   cfg.SweepBackoff,
		BackoffJitter:  cfg.BackoffJitter,
		InitialRadiusM: cfg.InitialRadiusM,
		MaxRadiusM:     cfg.MaxRadiusM,
		RadiusStepM:    cfg.RadiusStepM,
		RideLockTTL:    cfg.RideLockTTL,
	}
	var matchEvents matching.EventPublisher
	if events != nil {
		matchEvents = events
	}
	coordinator := matching.NewCoordinator(drvPool, store, offers, matchEvents, matchCfg, logger)

	var gateway payments.Gateway = payments.NopGateway{}
	if os.Getenv("STRIPE_API_KEY") != "" {
		gateway = payments.NewStripeClient()
	}

	engine := pricing.NewEngine(surgeStore)
	var svcEvents service.EventPublisher
	if events != nil {
		svcEvents = events
	}
	rides := service.NewRideService(store, drvPool, engine, router, coordinator, gateway, svcEvents, locPub, logger)
	loadPromos(rides.Promos(), cfg.PromoCodes, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(rides, drvPool, wsReg, tokens, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	coordinator.Wait()
}

// loadPromos registers CODE:CURRENCY:DISCOUNT entries from the environment.
func loadPromos(book *pricing.PromoBook, entries []string, logger *slog.Logger) {
	for _, e := range entries {
		parts := strings.SplitN(e, ":", 3)
		if len(parts) != 3 {
			logger.Warn("skipping malformed promo entry", "entry", e)
			continue
		}
		discount, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || discount <= 0 {
			logger.Warn("skipping promo with bad discount", "entry", e)
			continue
		}
		book.Register(pricing.Promo{
			Code:     parts[0],
			Currency: domain.Currency(parts[1]),
			Discount: discount,
		})
	}
}

func runMigrations(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
	if err != nil {
		logger.Error("migration read error", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
	}
}
