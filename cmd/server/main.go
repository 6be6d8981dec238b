package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-monitor/internal/auth"
	"github.com/ukydev/fleet-monitor/internal/config"
	"github.com/ukydev/fleet-monitor/internal/db"
	"github.com/ukydev/fleet-monitor/internal/fleet"
	"github.com/ukydev/fleet-monitor/internal/handlers"
	"github.com/ukydev/fleet-monitor/internal/live"
	"github.com/ukydev/fleet-monitor/internal/location"
	"github.com/ukydev/fleet-monitor/internal/middleware"
	"github.com/ukydev/fleet-monitor/internal/query"
	"github.com/ukydev/fleet-monitor/internal/registry"
	"github.com/ukydev/fleet-monitor/internal/telemetry"
	"github.com/ukydev/fleet-monitor/internal/trips"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// app is the wired server.
type app struct {
	registry   *registry.Service
	router     http.Handler
	hub        *live.Hub
	subscriber *telemetry.Subscriber
	limiter    *middleware.RateLimitMiddleware
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	cfg.ConfigureLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("Server exited")
	}
	log.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	clock := fleet.SystemClock{}

	store, err := openStore(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}()

	a, err := newApp(cfg, store, clock)
	if err != nil {
		return err
	}

	if cfg.SeedFile != "" {
		res, err := a.registry.LoadSeedFile(ctx, cfg.SeedFile)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"file":     cfg.SeedFile,
			"vehicles": res.Vehicles,
			"drivers":  res.Drivers,
			"skipped":  res.Skipped,
		}).Info("Seed file loaded")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.hub.Run(gctx)
	})
	g.Go(func() error {
		log.WithFields(log.Fields{"port": cfg.Port, "store": cfg.StoreDriver}).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})
	if a.subscriber != nil {
		g.Go(func() error {
			return a.subscriber.Run(gctx)
		})
	}
	if cfg.RateLimitRequests > 0 {
		g.Go(func() error {
			sweepRateLimiter(gctx, a.limiter, cfg.RateLimitWindowSeconds)
			return nil
		})
	}

	return g.Wait()
}

// openStore connects the configured backend and prepares its schema.
func openStore(ctx context.Context, cfg *config.Config, clock fleet.Clock) (db.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		store := db.NewMongoStore(client, cfg.MongoDB, clock)
		if err := store.EnsureIndexes(ctx); err != nil {
			store.Close(context.Background())
			return nil, err
		}
		log.WithField("database", cfg.MongoDB).Info("Connected to MongoDB")
		return store, nil

	case config.StorePostgres:
		conn, err := db.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store := db.NewPostgresStore(conn, clock)
		if err := store.Migrate(ctx); err != nil {
			store.Close(context.Background())
			return nil, err
		}
		log.Info("Connected to PostgreSQL")
		return store, nil

	default:
		log.Warn("Using in-memory store; state is lost on restart")
		return db.NewMemoryStore(clock), nil
	}
}

// newApp wires the services, the live hub and the HTTP router.
func newApp(cfg *config.Config, store db.Store, clock fleet.Clock) (*app, error) {
	authService, err := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return nil, err
	}
	if authService.UsesDefaultSecret() {
		log.Warn("JWT_SECRET is not set; using the development secret")
	}

	hub := live.NewHub(cfg.CORSAllowedOrigins)
	reg := registry.NewService(store, clock, hub)
	engine := trips.NewEngine(store, clock, hub)
	ingestor := location.NewIngestor(store, clock, hub)
	reads := query.NewService(store, clock, cfg.DashboardRecentTrips)
	limiter := middleware.NewRateLimitMiddleware()

	a := &app{
		registry: reg,
		hub:      hub,
		limiter:  limiter,
		router: handlers.NewRouter(handlers.RouterConfig{
			Trips:                  engine,
			Registry:               reg,
			Location:               ingestor,
			Query:                  reads,
			Feed:                   hub,
			Auth:                   middleware.NewAuthMiddleware(authService),
			RateLimiter:            limiter,
			RateLimitRequests:      cfg.RateLimitRequests,
			RateLimitWindowSeconds: cfg.RateLimitWindowSeconds,
			AllowedOrigins:         cfg.CORSAllowedOrigins,
		}),
	}

	if cfg.MQTTBrokerURL != "" {
		a.subscriber, err = telemetry.NewSubscriber(telemetry.Config{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topic:     cfg.MQTTTopic,
			QoS:       1,
		}, ingestor)
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

func sweepRateLimiter(ctx context.Context, limiter *middleware.RateLimitMiddleware, windowSeconds int) {
	ticker := time.NewTicker(time.Duration(windowSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Sweep(windowSeconds); n > 0 {
				log.WithField("clients", n).Debug("Swept idle rate limit entries")
			}
		}
	}
}
