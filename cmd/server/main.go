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
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/geo"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/route"
	"github.com/example/ride-dispatch/internal/scheduler"
	"github.com/example/ride-dispatch/internal/settlement"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/surge"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis backs the geo index and surge counters when configured;
	// in-process fallbacks keep local runs dependency-free.
	var rc *redis.Client
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
	}

	var geoIndex geo.Index
	var surgeEngine surge.Engine
	if rc != nil {
		geoIndex = geo.NewRedisIndex(rc, cfg.RedisGeoKey)
		surgeEngine = surge.NewRedisEngine(rc, cfg.SurgeTTL)
	} else {
		geoIndex = geo.NewMemoryIndex()
		surgeEngine = surge.NewMemoryEngine(cfg.SurgeTTL)
	}

	store, closer, err := buildStore(cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer()
	}

	var planner route.Planner = &route.FallbackPlanner{Logger: logger}
	if cfg.OSRMEndpoint != "" {
		planner = &route.CachedPlanner{
			Inner: &route.FallbackPlanner{Inner: route.NewOSRMClient(cfg.OSRMEndpoint), Logger: logger},
			Cache: route.NewCache(cfg.SurgeTTL),
		}
	}

	wsreg := notify.NewWSRegistry(logger)
	var notifier notify.Notifier = wsreg
	if cfg.PushEndpoint != "" {
		notifier = notify.NewWebhookNotifier(cfg.PushEndpoint, cfg.PushKey, wsreg)
	}

	var settler settlement.Settlement = &settlement.Nop{Logger: logger}
	if cfg.StripeAPIKey != "" {
		settler = settlement.NewStripeSettlement(cfg.StripeAPIKey, cfg.StripeCurrency)
	}

	sched := scheduler.New()
	defer sched.Stop()

	coord := dispatch.New(&dispatch.Coordinator{
		Rides:      store,
		Drivers:    store,
		Geo:        geoIndex,
		Surge:      surgeEngine,
		Notifier:   notifier,
		Settlement: settler,
		Sched:      sched,
		Planner:    planner,
		Fares: pricing.Config{
			BaseFare:    cfg.BaseFare,
			PerKmRate:   cfg.PerKmRate,
			PerMinRate:  cfg.PerMinRate,
			MinimumFare: cfg.MinimumFare,
		},
		Cfg: dispatch.Config{
			SearchRadiusKm: cfg.SearchRadiusKm,
			CandidateLimit: cfg.CandidateLimit,
			OfferTimeout:   cfg.OfferTimeout,
			NoShowWait:     cfg.NoShowWait,
		},
		Logger: logger,
	})

	api := httpapi.NewServer(coord, wsreg, logger)

	// Match triggers flow through Kafka when brokers are configured, keeping
	// per-ride order via key partitioning; otherwise an in-process bus with
	// the same ordering guarantee carries them.
	if len(cfg.KafkaBrokers) > 0 {
		bus := events.NewKafkaBus(cfg.KafkaBrokers, cfg.RideTopic)
		defer bus.Close()
		coord.SetBus(bus)

		consumer := events.NewConsumer(cfg.KafkaBrokers, cfg.RideTopic, cfg.ConsumerGroup,
			coord.HandleMatchTrigger, logger)
		defer consumer.Close()
		go consumer.Run(ctx)

		locations := events.NewLocationProducer(cfg.KafkaBrokers, cfg.LocationTopic)
		defer locations.Close()
		api.Locations = locations
	} else {
		bus := events.NewMemoryBus(coord.HandleMatchTrigger)
		defer bus.Close()
		coord.SetBus(bus)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("dispatch api listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}

// buildStore prefers Postgres and falls back to the in-memory store for
// local runs. Migrations only run when explicitly requested.
func buildStore(cfg config.ServerConfig, logger *slog.Logger) (store interface {
	storage.RideStore
	storage.DriverStore
}, closer func() error, err error) {
	if cfg.PGDSN == "" {
		logger.Info("no PG_DSN set, using in-memory storage")
		return storage.NewMemoryStore(), nil, nil
	}

	if cfg.RunMigrations {
		if err := runMigrations(cfg.PGDSN); err != nil {
			return nil, nil, err
		}
		logger.Info("migrations applied")
	}

	ps, err := storage.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	return ps, ps.Close, nil
}

func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
