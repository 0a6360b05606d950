// Package main — cmd/pibd/main.go
//
// PIB control daemon entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/pibd/config.yaml.
//  2. Initialise structured logger (zap, JSON format).
//  3. Open BoltDB storage; apply the persisted instrument config snapshot
//     over the file defaults (the EEPROM-resume behaviour).
//  4. Start Prometheus metrics server (127.0.0.1:9130).
//  5. Wire the peer link endpoints (the serial device layer bridges them).
//  6. Build the supervisor in Standby.
//  7. Start the operator ground-test socket (if enabled).
//  8. Start the config hot-reload watcher (fsnotify) and SIGHUP handler.
//  9. Run the fixed-cadence tick loop until SIGINT/SIGTERM.
//
// Shutdown sequence:
//  1. Cancel root context (stops metrics, operator socket, watcher).
//  2. Stop the tick loop.
//  3. Close BoltDB.
//  4. Flush logger.
//
// On config validation failure: exit 1 immediately.
//
// Concurrency: the supervisor itself is single-threaded. Every goroutine
// that touches it (operator socket, config reload) takes tickMu, so
// injected commands land between ticks, never during one.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rachuts/pibd/internal/config"
	"github.com/rachuts/pibd/internal/link"
	"github.com/rachuts/pibd/internal/observability"
	"github.com/rachuts/pibd/internal/operator"
	"github.com/rachuts/pibd/internal/storage"
	"github.com/rachuts/pibd/internal/supervisor"
)

func main() {
	// ── Flags ─────────────────────────────────────────────────────────────────
	configPath := flag.String("config", "/etc/pibd/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("pibd %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 1: Load config ───────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Initialise logger ─────────────────────────────────────────────
	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("pibd starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("config", *configPath),
	)

	// ── Root context with cancellation ────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 3: Open BoltDB, resume persisted instrument config ───────────────
	db, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal("BoltDB open failed", zap.Error(err),
			zap.String("path", cfg.Storage.DBPath))
	}
	defer db.Close() //nolint:errcheck
	log.Info("BoltDB opened", zap.String("path", cfg.Storage.DBPath))

	if snap, err := db.LoadProfilerConfig(); err != nil {
		log.Warn("instrument config snapshot unreadable, using file defaults", zap.Error(err))
	} else if snap != nil {
		cfg.Profiler = *snap
		log.Info("resumed instrument config from snapshot",
			zap.Uint16("profile_id", snap.ProfileID))
	}

	// ── Step 4: Prometheus metrics ────────────────────────────────────────────
	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Step 5: Peer links ────────────────────────────────────────────────────
	// The serial device layer (framing, CRC, port I/O) feeds decoded frames
	// into these endpoints and drains the outbound queues; see
	// internal/link. The daemon runs the state machines either way.
	mcbLink := link.NewEndpoint(link.DefaultQueueDepth)
	puLink := link.NewEndpoint(link.DefaultQueueDepth)
	zephyrLink := &link.ZephyrQueue{}

	// ── Step 6: Supervisor ────────────────────────────────────────────────────
	sup := supervisor.New(supervisor.Params{
		Log:     log,
		Config:  cfg,
		MCB:     mcbLink,
		PU:      puLink,
		Zephyr:  zephyrLink,
		Metrics: metrics,
		Store:   db,
	})

	var tickMu sync.Mutex

	// ── Step 7: Operator ground-test socket ───────────────────────────────────
	if cfg.Operator.Enabled {
		ctrl := &lockedController{mu: &tickMu, sup: sup}
		opSrv := operator.NewServer(cfg.Operator.SocketPath, ctrl, log)
		go func() {
			if err := opSrv.ListenAndServe(ctx); err != nil {
				log.Error("operator socket error", zap.Error(err))
			}
		}()
	}

	// ── Step 8: Config hot-reload ─────────────────────────────────────────────
	applyReload := func(newCfg *config.Config) {
		tickMu.Lock()
		defer tickMu.Unlock()
		// Non-destructive subset only: the instrument section. Daemon
		// plumbing (DB path, addresses, tick period) requires a restart.
		preserved := cfg.Profiler.ProfileID
		cfg.Profiler = newCfg.Profiler
		cfg.Profiler.ProfileID = preserved
		log.Info("config hot-reload applied")
	}
	go func() {
		err := config.Watch(ctx, *configPath,
			applyReload,
			func(err error) { log.Error("config hot-reload failed — retaining old config", zap.Error(err)) },
		)
		if err != nil {
			log.Error("config watcher error", zap.Error(err))
		}
	}()

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			applyReload(newCfg)
		}
	}()

	// ── Step 9: Tick loop ─────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Daemon.TickPeriod)
	defer ticker.Stop()

	log.Info("tick loop running", zap.Duration("period", cfg.Daemon.TickPeriod))
	for {
		select {
		case <-ticker.C:
			tickMu.Lock()
			sup.Tick()
			tickMu.Unlock()
		case sig := <-sigCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			cancel()
			log.Info("pibd shutdown complete")
			return
		}
	}
}

// lockedController adapts the supervisor to the operator socket, taking the
// tick mutex so injected commands land between ticks.
type lockedController struct {
	mu  *sync.Mutex
	sup *supervisor.Supervisor
}

func (c *lockedController) Status() supervisor.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sup.Status()
}

func (c *lockedController) Inject(tc supervisor.Telecommand) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sup.HandleTelecommand(tc)
}

func (c *lockedController) RequestMode(mode string) error {
	m, err := operator.ParseMode(mode)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sup.RequestMode(m)
	return nil
}

func (c *lockedController) NotifyShutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sup.NotifyShutdown()
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
