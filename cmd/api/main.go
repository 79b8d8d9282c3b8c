package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"subforge/internal/config"
	"subforge/internal/httpapi"
	"subforge/internal/httpapi/handlers"
	"subforge/internal/outputs"
	"subforge/internal/pkg/logger"
	"subforge/internal/pkg/shutdown"
	"subforge/internal/render"
	"subforge/internal/render/httpchannel"
	"subforge/internal/render/redischannel"
	"subforge/internal/renders"
	"subforge/internal/repositories"
	"subforge/internal/storage"
)

func main() {
	cfg, err := config.Load(os.Getenv("SUBFORGE_CONFIG"))
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}

	log := logger.New(cfg.Logger("subforge-api"))
	log.Info("starting subforge API",
		"transport", cfg.Render.Transport,
		"storage", cfg.Storage.Provider,
	)

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)
	checks := map[string]handlers.Pinger{}

	log.Info("connecting to PostgreSQL")
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		log.LogFatal("failed to connect to PostgreSQL", err)
	}
	shutdownMgr.RegisterSimple("postgres", pool.Close)
	if err := pool.Ping(ctx); err != nil {
		log.LogFatal("failed to ping PostgreSQL", err)
	}
	if err := repositories.EnsureSchema(ctx, pool); err != nil {
		log.LogFatal("failed to prepare schema", err)
	}
	checks["postgres"] = pool
	log.Info("PostgreSQL connected")

	journal := repositories.NewRenderRepository(pool)
	assets := repositories.NewAssetRepository(pool)
	n, err := journal.FailPending(ctx, cfg.Render.InstanceID, cfg.OrphanAfter(), "api restarted before the render finished")
	if err != nil {
		log.LogFatal("failed to settle orphaned renders", err)
	} else if n > 0 {
		log.Warn("orphaned renders marked failed", "count", n, "instance_id", cfg.Render.InstanceID)
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		log.Info("connecting to Redis")
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		shutdownMgr.Register("redis", func(ctx context.Context) error {
			return rdb.Close()
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.LogFatal("failed to ping Redis", err)
		}
		log.Info("Redis connected")
	}

	var (
		channel render.Channel
		events  *redischannel.Channel
	)
	switch cfg.Render.Transport {
	case config.TransportHTTP:
		hc := httpchannel.New(cfg.Render.HTTPBaseURL, &http.Client{Timeout: 15 * time.Second})
		channel = hc
		checks["renderer"] = hc
	default:
		events = redischannel.New(rdb, redischannel.Config{
			QueueName:     cfg.Render.QueueName,
			EventsChannel: cfg.Render.EventsChannel,
			CancelChannel: cfg.Render.CancelChannel,
		}, log)
		channel = events
		checks["redis"] = events
	}

	log.Info("initializing storage provider")
	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	coord := render.NewCoordinator(channel, render.Config{
		StallTimeout: cfg.StallTimeout(),
		Log:          log,
	})
	publisher := outputs.NewPublisher(sp, assets, outputs.Config{
		LocalRoot:    cfg.Storage.LocalRoot,
		CleanupLocal: cfg.Storage.CleanupLocal,
	}, log)
	svc := renders.New(coord, journal, assets, publisher, renders.Config{
		Owner:          cfg.Render.InstanceID,
		PublishTimeout: cfg.PublishTimeout(),
		Log:            log,
	})
	shutdownMgr.Register("renders", svc.Close)
	shutdownMgr.RegisterSimple("render-coordinator", coord.Close)

	if events != nil {
		listenCtx, stopListening := context.WithCancel(ctx)
		ready := make(chan struct{})
		listenDone := make(chan struct{})
		go func() {
			defer close(listenDone)
			if err := events.Listen(listenCtx, coord.Deliver, ready); err != nil {
				log.LogFatal("render event listener failed", err)
			}
		}()
		select {
		case <-ready:
		case <-time.After(10 * time.Second):
			log.Warn("render event subscription not confirmed yet")
		}
		shutdownMgr.Register("render-events", func(ctx context.Context) error {
			stopListening()
			select {
			case <-listenDone:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	h := handlers.New(handlers.Deps{
		Renders: svc,
		Assets:  assets,
		SP:      sp,
		Checks:  checks,
		Log:     log,
	})
	router := httpapi.NewRouter(h, httpapi.Options{CORSAllowedOrigins: cfg.HTTP.CORSAllowedOrigins})

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait(ctx)
}
