// Command razorfs opens a razorfs data engine against a region and WAL
// path, replaying any committed transactions left over from a prior
// session, then reports mount-time stats and exits. It does not speak
// FUSE: wiring a kernel bridge on top of internal/engine is left to a
// separate command, per this engine's own scope.
package main

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/razorfs/razorfs/cfg"
	"github.com/razorfs/razorfs/internal/engine"
	"github.com/razorfs/razorfs/internal/logger"
	"github.com/razorfs/razorfs/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "razorfs:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file (defaults used when empty)")
	regionPath := flag.String("region", "", "override persistence.region-path")
	walPath := flag.String("wal", "", "override wal.path")
	flag.Parse()

	c := cfg.DefaultConfig()
	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}
	if *regionPath != "" {
		c.Persistence.RegionPath = *regionPath
	}
	if *walPath != "" {
		c.WAL.Path = *walPath
	}

	logger.Init(c.Logging.Format, c.Logging.Severity)

	m, err := metrics.New()
	if err != nil {
		logger.Warnf("otel metrics unavailable, falling back to no-op: %v", err)
		m = metrics.NewNoop()
	}

	h, err := engine.Mount(c, engine.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("mounting engine: %w", err)
	}
	defer func() {
		if err := h.Unmount(); err != nil {
			logger.Errorf("unmount: %v", err)
		}
	}()

	stats := h.Stats()
	snap := h.Metrics()
	logger.Infof("mounted region=%s wal=%s nodes=%d arena=%d/%d bytes wal_commits=%d recovery_replayed=%d",
		c.Persistence.RegionPath, c.WAL.Path, stats.NodeCount, stats.ArenaUsedBytes, stats.ArenaCapacityBytes,
		snap.WALCommits, snap.RecoveryReplayed)

	return nil
}
