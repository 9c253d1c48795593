// Command printfleet runs the PrintFleet server: printer telemetry and
// connectivity polling, low-toner alerts and raw TCP print relay.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/printfleet/internal/config"
	"github.com/HerbHall/printfleet/internal/event"
	"github.com/HerbHall/printfleet/internal/inventory"
	"github.com/HerbHall/printfleet/internal/journal"
	"github.com/HerbHall/printfleet/internal/pulse"
	"github.com/HerbHall/printfleet/internal/registry"
	"github.com/HerbHall/printfleet/internal/server"
	"github.com/HerbHall/printfleet/internal/spool"
	"github.com/HerbHall/printfleet/internal/store"
	"github.com/HerbHall/printfleet/internal/version"
	"github.com/HerbHall/printfleet/pkg/plugin"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "backup":
			runBackup(os.Args[2:])
			return
		case "restore":
			runRestore(os.Args[2:])
			return
		case "version":
			fmt.Println(version.Info())
			return
		}
	}

	configPath := flag.String("config", "", "path to configuration file")
	debug := flag.Bool("debug", false, "enable development logging")
	flag.Parse()

	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(*configPath, logger); err != nil {
		logger.Fatal("printfleet exited", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(configPath string, logger *zap.Logger) error {
	logger.Info("PrintFleet server starting", zap.String("version", version.Short()))

	v, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg := config.New(v)

	db, err := store.New(v.GetString("database.path"))
	if err != nil {
		return err
	}
	defer db.Close()

	bus := event.NewBus(logger.Named("events"))

	// Compile-time composition; disabled modules are never registered.
	reg := registry.New(logger)
	for _, p := range []plugin.Plugin{journal.New(), pulse.New(), spool.New()} {
		name := p.Info().Name
		if !cfg.GetBool("plugins." + name + ".enabled") {
			logger.Info("plugin disabled by configuration", zap.String("name", name))
			continue
		}
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	if err := reg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config: cfg.Sub("plugins." + name),
			Logger: logger.Named(name),
			Store:  db,
			Bus:    bus,
		}
	})
	if err != nil {
		return err
	}
	for _, p := range reg.All() {
		if val, ok := p.(plugin.Validator); ok {
			if err := val.ValidateConfig(); err != nil {
				return fmt.Errorf("plugin %q config: %w", p.Info().Name, err)
			}
		}
	}

	if seedPath := v.GetString("fleet.seed_file"); seedPath != "" {
		if err := importSeed(ctx, db, seedPath, logger); err != nil {
			return err
		}
	}

	if err := reg.StartAll(ctx); err != nil {
		return err
	}

	addr := v.GetString("server.host") + ":" + v.GetString("server.port")
	srv := server.New(addr, reg, logger.Named("http"))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	logger.Info("PrintFleet server ready", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Error("server shutdown error", zap.Error(serr))
	}
	reg.StopAll(shutdownCtx)

	logger.Info("PrintFleet server stopped")
	return err
}

// importSeed registers the devices listed in the seed file. Devices whose
// address is already registered are left alone.
func importSeed(ctx context.Context, db plugin.Store, path string, logger *zap.Logger) error {
	seed, err := inventory.LoadSeed(path)
	if err != nil {
		return err
	}
	devices, err := inventory.NewSQLiteRegistry(ctx, db)
	if err != nil {
		return err
	}
	res, err := inventory.Import(ctx, devices, seed)
	if err != nil {
		return fmt.Errorf("import seed %s: %w", path, err)
	}
	logger.Info("seed file imported",
		zap.String("path", path),
		zap.Int("created", res.Created),
		zap.Int("skipped", res.Skipped),
	)
	return nil
}
