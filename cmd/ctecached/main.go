package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	metrics "github.com/armon/go-metrics"

	"ctecache/internal/catalog"
	"ctecache/internal/logging"
	"ctecache/internal/materialize"
	"ctecache/internal/monitor"
	"ctecache/internal/session"
	"ctecache/pkg/config"
)

var (
	configPath = flag.String("config", "configs/ctecached.yaml", "Path to configuration file")
	nodeID     = flag.String("node-id", "", "Unique node identifier")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *nodeID != "" {
		cfg.Node.ID = *nodeID
	}

	logger, err := logging.InitializeFromConfig(cfg.Node.ID, logging.LogConfig{
		Level:         cfg.Logging.Level,
		EnableConsole: cfg.Logging.EnableConsole,
		EnableFile:    cfg.Logging.EnableFile,
		LogFile:       cfg.Logging.LogFile,
		BufferSize:    cfg.Logging.BufferSize,
		LogDir:        cfg.Logging.LogDir,
		MaxFileSize:   cfg.Logging.MaxFileSize,
		MaxFiles:      cfg.Logging.MaxFiles,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	startupCorrelationID := logging.NewCorrelationID()
	ctx := logging.WithCorrelationID(context.Background(), startupCorrelationID)

	logger.Info(ctx, logging.ComponentMain, logging.ActionStart, "ctecached starting", map[string]interface{}{
		"node_id":     cfg.Node.ID,
		"config_file": *configPath,
		"max_size":    cfg.Materialize.MaxSizeBytes,
		"shard_count": cfg.Materialize.ShardCount,
	})

	if cfg.Metrics.Enabled {
		sink := metrics.NewInmemSink(cfg.Metrics.ReportInterval, 24*time.Hour)
		metricsConf := metrics.DefaultConfig(cfg.Metrics.ServiceName)
		metricsConf.EnableHostname = false
		if _, err := metrics.NewGlobal(metricsConf, sink); err != nil {
			logger.Warn(ctx, logging.ComponentMain, logging.ActionStart, "metrics sink init failed", map[string]interface{}{"error": err.Error()})
		}
	}

	cat := catalog.NewInMemory()
	mon := monitor.NewInMemory()
	mgr := materialize.NewManager(cat, mon, logger, cfg.Materialize.MaxSizeBytes, cfg.Materialize.ShardCount)
	if cfg.Materialize.Enabled {
		mgr.SetReady(true)
		logger.Info(ctx, logging.ComponentMain, logging.ActionReady, "materialization cache ready", nil)
	} else {
		logger.Info(ctx, logging.ComponentMain, logging.ActionReady, "materialization caching disabled by configuration", nil)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go runREPL(ctx, logger, mgr, done)

	select {
	case <-shutdown:
		logger.Info(ctx, logging.ComponentMain, logging.ActionStop, "shutdown signal received", nil)
	case <-done:
		logger.Info(ctx, logging.ComponentMain, logging.ActionStop, "stdin closed, shutting down", nil)
	}

	mgr.SetReady(false)

	entries := 0
	mgr.WalkAll(func(fp materialize.Fingerprint, h *materialize.Handle) { entries++ })
	logger.Info(ctx, logging.ComponentMain, logging.ActionCleanup, "draining materialization cache", map[string]interface{}{
		"entries": entries,
		"bytes":   mgr.CurrentSize(),
	})

	// Background drops run under the configured caching user, not
	// whichever query identity happened to be last.
	drainCtx := session.WithID(ctx, cfg.Materialize.CachingUser)
	if err := mgr.InvalidateAll(drainCtx); err != nil {
		logger.Error(ctx, logging.ComponentMain, logging.ActionStop, "drain on shutdown reported errors", err, nil)
	}
	logger.Info(ctx, logging.ComponentMain, logging.ActionStop, "ctecached stopped", map[string]interface{}{
		"node_id": cfg.Node.ID,
	})
}

// runREPL is a minimal admin surface for exercising the manager by
// hand: put/get/invalidate/stats commands over stdin. Real callers
// (a query planner) are expected to drive materialize.Manager
// directly as a library, not through this process.
func runREPL(ctx context.Context, logger *logging.Logger, mgr *materialize.Manager, done chan struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch strings.ToLower(fields[0]) {
		case "put":
			handlePut(ctx, logger, mgr, fields[1:])
		case "get":
			handleGet(ctx, logger, mgr, fields[1:])
		case "invalidate":
			handleInvalidate(ctx, logger, mgr, fields[1:])
		case "stats":
			fmt.Printf("size=%d/%d pending=%d\n", mgr.CurrentSize(), mgr.MaxSize(), mgr.PendingCount())
		case "list":
			mgr.WalkAll(func(fp materialize.Fingerprint, h *materialize.Handle) {
				fmt.Printf("%s table=%s size=%d committed=%v refs=%d\n",
					fp, h.DataTable(), h.DataSize(), h.Committed(), h.RefCount())
			})
		case "quit", "exit":
			return
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}

func handlePut(ctx context.Context, logger *logging.Logger, mgr *materialize.Manager, args []string) {
	if len(args) != 3 {
		fmt.Println("usage: put <fingerprint> <size-bytes> <runtime-ms>")
		return
	}
	size, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		fmt.Printf("bad size: %v\n", err)
		return
	}
	runtimeMs, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		fmt.Printf("bad runtime: %v\n", err)
		return
	}
	fp := materialize.Fingerprint(args[0])
	h, err := mgr.Put(ctx, fp, size, time.Duration(runtimeMs)*time.Millisecond)
	if err != nil {
		fmt.Printf("put failed: %v\n", err)
		return
	}
	if err := mgr.Commit(ctx, h); err != nil {
		fmt.Printf("commit failed: %v\n", err)
		return
	}
	fmt.Printf("committed %s (table %s)\n", fp, h.DataTable())
}

func handleGet(ctx context.Context, logger *logging.Logger, mgr *materialize.Manager, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: get <fingerprint>")
		return
	}
	fp := materialize.Fingerprint(args[0])
	err := mgr.WithLookup(ctx, fp, func(h *materialize.Handle) error {
		fmt.Printf("hit %s table=%s size=%d accesses=%d\n", fp, h.DataTable(), h.DataSize(), h.AccessCount())
		return nil
	})
	if err != nil {
		fmt.Printf("miss %s: %v\n", fp, err)
	}
}

func handleInvalidate(ctx context.Context, logger *logging.Logger, mgr *materialize.Manager, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: invalidate <fingerprint>")
		return
	}
	fp := materialize.Fingerprint(args[0])
	mgr.Invalidate(ctx, []materialize.Fingerprint{fp})
	fmt.Printf("invalidated %s\n", fp)
}
