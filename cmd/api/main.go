package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vinzhub-gamestate/internal/activity"
	"vinzhub-gamestate/internal/cache"
	"vinzhub-gamestate/internal/config"
	"vinzhub-gamestate/internal/flush"
	"vinzhub-gamestate/internal/handler"
	"vinzhub-gamestate/internal/logger"
	"vinzhub-gamestate/internal/repository"
	"vinzhub-gamestate/internal/router"
	"vinzhub-gamestate/internal/service"
	"vinzhub-gamestate/internal/session"
	"vinzhub-gamestate/internal/state"
)

var log = logger.NewLogger("Main")

func main() {
	// Load configuration
	cfg := config.MustLoad()
	logger.SetDefaultLevel(logger.ParseLevel(cfg.App.LogLevel))
	log.SetLevel(logger.ParseLevel(cfg.App.LogLevel))
	log.Infof("Starting %s %s (%s)", cfg.App.Name, cfg.App.Version, cfg.App.Environment)

	store, err := openStore(cfg.Store)
	if err != nil {
		log.Fatalf("Failed to initialize %s store: %v", cfg.Store.Type, err)
	}
	log.Infof("%s store initialized", cfg.Store.Type)

	snapshots, err := openSnapshots(cfg.Cache)
	if err != nil {
		log.Fatalf("Failed to initialize %s snapshot cache: %v", cfg.Cache.Type, err)
	}
	log.Infof("%s snapshot cache initialized", cfg.Cache.Type)

	sink, reader, err := openActivitySink(cfg.Activity)
	if err != nil {
		log.Fatalf("Failed to initialize activity log: %v", err)
	}
	batcher := activity.NewBatcher(sink, activity.BatcherConfig{
		BatchSize:     cfg.Activity.BatchSize,
		FlushInterval: cfg.Activity.FlushInterval,
	})
	batcher.Start()

	// Core state engine
	resident := state.New(state.Options{})
	lifecycle := session.New(resident, store, snapshots, flush.NewOrchestrator(store), session.Options{
		InactivityThreshold: cfg.Session.InactivityThreshold,
		SweepParallelism:    cfg.Session.SweepParallelism,
		Peers:               []session.PeerFlusher{batcher},
		Activity:            batcher,
	})

	scheduler := service.NewScheduler(lifecycle, service.SchedulerConfig{
		SweepInterval: cfg.Session.SweepInterval,
		RetryInterval: cfg.Session.RetryInterval,
		SweepTimeout:  cfg.Session.SweepTimeout,
		StaleBatch:    cfg.Session.StaleBatch,
	})
	scheduler.Start()

	// HTTP
	r := router.New(router.Config{
		Handler: handler.New(cfg.App.Version,
			handler.Dependency{Name: "store", Pinger: store},
			handler.Dependency{Name: "snapshots", Pinger: snapshots},
		),
		AdminHandler: handler.NewAdminHandler(handler.AdminConfig{
			Cache:     resident,
			Store:     store,
			Lifecycle: lifecycle,
			Activity:  reader,
			Batcher:   batcher,
			StoreType: cfg.Store.Type,
		}),
		AdminKey: cfg.App.AdminKey,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Infof("Server listening on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infof("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Server shutdown error: %v", err)
	}

	// The scheduler runs a last retry sweep so dirty users reach the store.
	scheduler.Stop()
	if n := resident.DirtyCount(); n > 0 {
		log.Warnf("%d users still dirty at shutdown; their snapshots carry the pending work", n)
	}

	if err := batcher.Stop(); err != nil {
		log.Errorf("Activity log shutdown error: %v", err)
	}
	if err := snapshots.Close(); err != nil {
		log.Errorf("Snapshot cache close error: %v", err)
	}
	if err := store.Close(); err != nil {
		log.Errorf("Store close error: %v", err)
	}

	log.Infof("Server stopped")
	fmt.Println("Goodbye!")
}

func openStore(cfg config.StoreConfig) (repository.Store, error) {
	if cfg.Type == "memory" {
		log.Warnf("Memory store selected; state is lost on restart")
		return repository.NewMemoryStore(), nil
	}
	return repository.NewSQLStore(repository.SQLConfig{
		Dialect:         cfg.Type,
		DSN:             cfg.DSN(),
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: 5 * time.Minute,
	})
}

func openSnapshots(cfg config.CacheConfig) (cache.SnapshotCache, error) {
	if cfg.Type == "redis" {
		return cache.NewRedisSnapshotCache(cache.RedisSnapshotConfig{
			Addr:      cfg.RedisAddress(),
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
			TTL:       cfg.TTL,
		})
	}
	return cache.NewMemorySnapshotCache(cfg.TTL), nil
}

func openActivitySink(cfg config.ActivityConfig) (activity.Sink, activity.Reader, error) {
	if cfg.MongoURI == "" {
		sink := activity.NewMemorySink()
		return sink, sink, nil
	}
	sink, err := activity.NewMongoSink(cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
	if err != nil {
		return nil, nil, err
	}
	log.Infof("MongoDB activity log initialized")
	return sink, sink, nil
}
