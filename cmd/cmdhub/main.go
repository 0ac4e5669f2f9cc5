// cmd/cmdhub/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/fawad-mazhar/cmdhub/internal/api/routes"
	"github.com/fawad-mazhar/cmdhub/internal/bus"
	"github.com/fawad-mazhar/cmdhub/internal/config"
	"github.com/fawad-mazhar/cmdhub/internal/hub"
	"github.com/fawad-mazhar/cmdhub/internal/logger"
	"github.com/fawad-mazhar/cmdhub/internal/metrics"
	"github.com/fawad-mazhar/cmdhub/internal/storage/leveldb"
	"github.com/fawad-mazhar/cmdhub/internal/storage/postgres"
)

func main() {
	configPath := "config.yaml"
	if p, ok := os.LookupEnv("CMDHUB_CONFIG"); ok {
		configPath = p
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}

	// Metrics registry
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	deps := hub.Deps{Logger: log, Metrics: m}

	// External bus
	if cfg.NATS.URL != "" {
		nc, err := bus.NewNATS(cfg.NATS, log)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer nc.Close()
		deps.Bus = nc
	} else {
		log.Warn("No NATS URL configured, using in-memory bus")
		mem := bus.NewMemory()
		defer mem.Close()
		deps.Bus = mem
	}

	// Entity snapshot store
	if cfg.LevelDB.Path != "" {
		store, err := leveldb.NewStore(cfg.LevelDB)
		if err != nil {
			log.Fatalf("Failed to open snapshot store: %v", err)
		}
		defer store.Close()
		deps.Snapshots = store
	}

	// Event archive
	if cfg.Postgres.URL != "" {
		archive, err := postgres.NewArchive(cfg.Postgres)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer archive.Close()
		if err := archive.EnsureSchema(context.Background()); err != nil {
			log.Fatalf("Failed to prepare event archive: %v", err)
		}
		deps.Archive = archive
	}

	h, err := hub.New(cfg, deps)
	if err != nil {
		log.Fatalf("Failed to create hub: %v", err)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.Start(ctx); err != nil {
		log.Fatalf("Failed to start hub: %v", err)
	}

	server := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     routes.SetupRouter(h, reg, log, time.Duration(cfg.Server.WriteTimeout)*time.Second),
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server stopped")
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Received shutdown signal")
	case <-ctx.Done():
	}

	// Initiate shutdown
	shutdownTimeout := time.Duration(cfg.Hub.ShutdownTimeout) * time.Second
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Error during HTTP server shutdown")
	}
	if err := h.Shutdown(shutdownTimeout); err != nil {
		log.WithError(err).Warn("Error during hub shutdown")
	}

	log.WithFields(logrus.Fields{"alerts": h.Rules().AlertCount()}).Info("Command hub shutdown complete")
}
