package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentroute/internal/bus"
	"github.com/nextlevelbuilder/agentroute/internal/config"
	"github.com/nextlevelbuilder/agentroute/internal/cron"
	"github.com/nextlevelbuilder/agentroute/internal/gateway"
	"github.com/nextlevelbuilder/agentroute/internal/router"
	"github.com/nextlevelbuilder/agentroute/internal/store"
	"github.com/nextlevelbuilder/agentroute/internal/store/pg"
	"github.com/nextlevelbuilder/agentroute/internal/store/sqlite"
	"github.com/nextlevelbuilder/agentroute/internal/telemetry"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the routing gateway daemon",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
}

// openSessionStore picks the backend: Postgres in managed mode, the
// embedded sqlite database otherwise.
func openSessionStore(cfg *config.RouterConfig) (store.SessionStore, error) {
	if cfg.IsManagedMode() {
		slog.Info("using postgres session store")
		db, err := pg.Open(cfg.Database.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return pg.NewSessionStore(db), nil
	}
	path := config.ExpandHome(cfg.Database.SQLitePath)
	slog.Info("using sqlite session store", "path", path)
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	return sqlite.NewSessionStore(db), nil
}

func runGateway() {
	setupLogging()

	msgBus := bus.NewMemoryBus()
	cfgStore, err := config.NewStore(resolveConfigPath(), msgBus)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := cfgStore.Current()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without traces", "error", err)
	} else {
		defer shutdownTelemetry(context.Background())
	}

	sessionStore, err := openSessionStore(cfg)
	if err != nil {
		slog.Error("failed to open session store", "error", err)
		os.Exit(1)
	}
	defer sessionStore.Close()

	cfgStore.Start()
	defer cfgStore.Stop()

	resolver := router.NewResolver(cfgStore, sessionStore, msgBus)

	scheduler := cron.NewScheduler(cfgStore, sessionStore, msgBus)
	scheduler.Start()
	defer scheduler.Stop()

	srv := gateway.NewServer(cfgStore, msgBus, resolver, sessionStore)
	if err := srv.Start(ctx); err != nil {
		slog.Error("gateway exited", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway stopped")
}
