package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	grpc_handler "crewfleet.hub/internal/adapters/handler/grpc"
	http_handler "crewfleet.hub/internal/adapters/handler/http"
	"crewfleet.hub/internal/adapters/handler/mqtt"
	nats_sink "crewfleet.hub/internal/adapters/handler/nats"
	redis_adapter "crewfleet.hub/internal/adapters/queue/redis"
	"crewfleet.hub/internal/adapters/repository/pg"
	"crewfleet.hub/internal/config"
	"crewfleet.hub/internal/core/logger"
	"crewfleet.hub/internal/core/ports"
	"crewfleet.hub/internal/core/services"
	"crewfleet.hub/internal/core/tracing"
)

const version = "0.1.0"

// sink is an event mirror that can also report its health.
type sink interface {
	ports.EventSink
	services.Pinger
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Initialize structured logger
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting crewfleet manager", "version", version)

	if err := run(cfg); err != nil {
		logger.Error("Manager stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Manager stopped")
}

func run(cfg *config.Config) error {
	base := logger.Get()

	// Initialize tracing
	if cfg.EnableTracing {
		shutdownTracing, err := tracing.Init(context.Background(), tracing.Settings{
			ServiceName: cfg.ServiceName,
			Version:     version,
			Role:        tracing.RoleManager,
			Endpoint:    cfg.OTLPEndpoint,
		})
		if err != nil {
			logger.Error("Failed to initialize tracing", "error", err)
		} else {
			defer func() {
				if err := shutdownTracing(context.Background()); err != nil {
					logger.Error("Failed to shutdown tracing", "error", err)
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Core services
	catalog := config.NewCatalogFile(cfg.CatalogPath, base)
	registry := services.NewServiceRegistry(base)

	forwarder := services.NewForwarder(catalog, registry, &http.Client{
		Transport: tracing.HTTPTransport(http.DefaultTransport),
	}, services.ForwarderConfig{
		FallbackHost:   cfg.FallbackHost,
		BasePort:       cfg.BasePort,
		ExecuteTimeout: cfg.ExecuteTimeout,
		ActionTimeout:  cfg.ActionTimeout,
	}, base)
	forwarder.SetObserver(http_handler.RecordForward)

	store := services.NewAgentStore()
	hub := http_handler.NewHub(store.List, base)
	dashboard := services.NewDashboardService(store, hub, base)
	dashboard.SetObserver(http_handler.RecordDashboardAction)
	if cfg.SeedDemoAgents {
		dashboard.SeedDefaults()
	}

	healthService := services.NewHealthService(registry, hub.Count, version)

	// Optional audit trail
	var auditor ports.ActionAuditor
	if cfg.DatabaseURL != "" {
		repo, err := pg.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Error("Failed to init postgres, audit disabled", "error", err)
		} else {
			defer repo.Close()
			auditor = repo
			forwarder.SetAuditor(repo)
			dashboard.SetAuditor(repo)
			healthService.WithDatabase(repo.DB())
			logger.Info("Action audit enabled")
		}
	}

	// Optional event mirrors
	for _, s := range connectSinks(cfg) {
		defer s.Close()
		hub.AddSink(s)
		healthService.WithSinks(s)
		logger.Info("Event sink enabled", "sink", s.Name())
	}

	cleaner := services.NewRegistryCleaner(registry, cfg.RegistryCleanupInterval, cfg.RegistryTTL, base)
	cleaner.OnPurge(func(ids []string) {
		http_handler.RecordPurged(ids)
		http_handler.SetRegisteredServices(registry.Count())
	})

	httpServer := http_handler.NewServer(registry, forwarder, dashboard, healthService, hub, http_handler.Options{
		ServiceName:   cfg.ServiceName,
		EnableMetrics: cfg.EnableMetrics,
		Auditor:       auditor,
	}, base)
	grpcServer := grpc_handler.NewServer(registry, base)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return cleaner.Run(gctx)
	})
	g.Go(func() error {
		return httpServer.Run(gctx, ":"+cfg.HTTPPort)
	})
	g.Go(func() error {
		return grpcServer.Run(gctx, ":"+cfg.GRPCPort, cfg.RegistryCleanupInterval)
	})

	return g.Wait()
}

// connectSinks dials every configured broker. A broker that cannot be
// reached is logged and skipped.
func connectSinks(cfg *config.Config) []sink {
	var sinks []sink

	if cfg.RedisURL != "" {
		if p, err := redis_adapter.NewEventPublisher(cfg.RedisURL); err != nil {
			logger.Error("Failed to init redis sink", "error", err)
		} else {
			sinks = append(sinks, p)
		}
	}
	if cfg.MQTTBroker != "" {
		if p, err := mqtt.NewPublisher(cfg.MQTTBroker, logger.Get()); err != nil {
			logger.Error("Failed to init MQTT sink", "error", err)
		} else {
			sinks = append(sinks, p)
		}
	}
	if cfg.NATSURL != "" {
		if p, err := nats_sink.NewPublisher(cfg.NATSURL, logger.Get()); err != nil {
			logger.Error("Failed to init NATS sink", "error", err)
		} else {
			sinks = append(sinks, p)
		}
	}
	return sinks
}
