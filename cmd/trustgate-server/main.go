package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veritas-labs/trustgate/internal/config"
	"github.com/veritas-labs/trustgate/internal/db"
	"github.com/veritas-labs/trustgate/internal/fanout"
	"github.com/veritas-labs/trustgate/internal/httpapi"
	"github.com/veritas-labs/trustgate/internal/ledger"
	ledgerrpc "github.com/veritas-labs/trustgate/internal/ledger/rpc"
	"github.com/veritas-labs/trustgate/internal/trustgate/service"
	sqlitestore "github.com/veritas-labs/trustgate/internal/trustgate/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New(os.Stdout, "trustgate-server ", log.LstdFlags|log.LUTC)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath})
	if err != nil {
		logger.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	writer := db.NewWorker(conn)
	defer writer.Close()

	if cfg.Env == "dev" {
		if err := db.SeedDev(ctx, conn, db.SeedDevOptions{
			KnownDevices: cfg.KnownDeviceList(),
		}); err != nil {
			logger.Fatalf("seed dev: %v", err)
		}
	}

	// Stores
	eventStore := sqlitestore.NewEventStore(conn, writer)
	thresholdStore := sqlitestore.NewThresholdStore(conn, writer, cfg.DefaultTrustThreshold)
	deviceStore := sqlitestore.NewDeviceStore(conn, writer)

	// Ledger adapter; unconfigured means events are accepted locally but
	// never confirmed on-ledger.
	var adapter ledger.Adapter = ledger.Disabled{}
	if cfg.LedgerRPCURL != "" {
		adapter = ledgerrpc.New(cfg.LedgerRPCURL, ledgerrpc.WithTimeout(cfg.LedgerCallTimeout()))
	} else {
		logger.Printf("ledger adapter not configured; running local-only")
	}

	// Services
	hub := fanout.NewHub()
	registry := service.NewDeviceRegistry(deviceStore)
	engine := service.NewTrendEngine(eventStore, adapter, cfg.Lookback(), cfg.DefaultTrustThreshold, logger)
	queue := service.NewChainQueue(adapter, eventStore, hub, service.QueueConfig{}, logger)
	gateway := service.NewGateway(service.GatewayDeps{
		Events:     eventStore,
		Thresholds: thresholdStore,
		Registry:   registry,
		Engine:     engine,
		Queue:      queue,
		Hub:        hub,
		Logger:     logger,
	})

	pruner := service.NewLogPruner(eventStore, service.PrunerConfig{
		RetentionDays: cfg.EventRetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
	}, logger)
	pruner.Start(ctx)

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:           logger,
		Addr:             cfg.HTTPAddr,
		APISecret:        cfg.APISecret,
		Gateway:          gateway,
		Events:           eventStore,
		Thresholds:       thresholdStore,
		Hub:              hub,
		DefaultThreshold: cfg.DefaultTrustThreshold,
	})

	go func() {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.Start(); err != nil {
			logger.Printf("server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	queue.Stop()
	pruner.Stop()
}
