package main

import (
	"context"
	"net/rpc"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wfunc/playersync/audit"
	"github.com/wfunc/playersync/config"
	"github.com/wfunc/playersync/connector"
	"github.com/wfunc/playersync/engine"
	"github.com/wfunc/playersync/logger"
	"github.com/wfunc/playersync/monitor"
	"github.com/wfunc/playersync/persistence"
	"github.com/wfunc/playersync/registry"
	playersync_rpc "github.com/wfunc/playersync/rpc"
	"github.com/wfunc/playersync/server"
	"github.com/wfunc/playersync/timer"
)

func main() {
	// Initialize logger
	logger.Init()

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Database
	pg := cfg.Database.Postgres
	store, err := persistence.NewGormPostgreSQL(
		pg.Host, pg.Port, pg.User, pg.Password, pg.DBName,
		pg.MaxOpenConns, pg.MaxIdleConns,
	)
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	logger.Log.Info("Database connection successful.")

	archive, err := persistence.NewArchiveStore(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	if err != nil {
		logger.Log.Fatalf("Failed to open ops database connection: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.NewRegistry(store)
	sink := audit.NewStoreSink(store)
	eng := engine.NewSyncEngine(store, sink)
	mon := monitor.NewMonitor("playersync")
	mon.StartServer(cfg.Server.MetricsAddress)

	// Periodic jobs
	timers := timer.NewManager()
	retention := time.Duration(cfg.Sync.AuditRetentionDays) * 24 * time.Hour
	timers.Every("audit-retention", 6*time.Hour, func(jobCtx context.Context) {
		pruned, err := archive.PruneAudit(jobCtx, time.Now().Add(-retention))
		if err != nil {
			logger.Log.Errorf("Audit retention failed: %v", err)
			return
		}
		if pruned > 0 {
			logger.Log.Infof("Audit retention pruned %d entries", pruned)
		}
	})
	timers.Every("lock-sweep", time.Minute, func(jobCtx context.Context) {
		swept, err := archive.SweepExpiredLocks(jobCtx,
			time.Now().Add(-engine.ActiveServerTimeout), reg.LiveServerIDs())
		if err != nil {
			logger.Log.Errorf("Lock sweep failed: %v", err)
			return
		}
		if swept > 0 {
			logger.Log.Infof("Lock sweep released %d expired sessions", swept)
		}
	})
	go timers.Run(ctx)

	// Outbound connectors, one per configured game server
	endpoints, err := cfg.Sync.ParseGameServers()
	if err != nil {
		logger.Log.Fatalf("Invalid GAME_SERVERS: %v", err)
	}
	opts := connector.Options{
		ReconnectAttempts: cfg.Sync.ReconnectAttempts,
		ReconnectDelay:    cfg.Sync.ReconnectDelay,
		ReconnectDelayMax: cfg.Sync.ReconnectDelayMax,
		RequestTimeout:    cfg.Sync.RequestTimeout,
	}
	for _, endpoint := range endpoints {
		conn := connector.NewConnector(endpoint.URL, endpoint.Token, eng, reg, mon, opts)
		go conn.Run(ctx)
	}

	// Inbound listener for game servers that dial in
	listener := connector.NewListener(cfg.Server.ListenAddress, eng, reg, mon, opts)
	go func() {
		if err := listener.Start(ctx); err != nil {
			logger.Log.Fatalf("Listener failed: %v", err)
		}
	}()

	// Operator RPC surface
	rpcServer, err := playersync_rpc.NewServer(cfg.Server.RPCAddress)
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	rpc.Register(playersync_rpc.NewSyncService(store, archive))
	go rpcServer.Start()

	// HTTP surface for offline tooling
	httpServer := server.NewHTTPServer(eng, store, cfg.Sync.APIKey)
	logger.Log.Infof("Starting sync service on %s", cfg.Server.HTTPAddress)
	go func() {
		if err := httpServer.Router().Run(cfg.Server.HTTPAddress); err != nil {
			logger.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Block until shutdown signal, then drain
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Log.Info("Shutting down.")

	cancel()
	rpcServer.Stop()
	archive.Close()
	store.Close()
}
