// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cerndb/hbase-packet-inspector/pkg/capture"
	"github.com/cerndb/hbase-packet-inspector/pkg/config"
	"github.com/cerndb/hbase-packet-inspector/pkg/health"
	"github.com/cerndb/hbase-packet-inspector/pkg/sink"
	"github.com/cerndb/hbase-packet-inspector/pkg/sniffer"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("hbase-packet-inspector", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: hbase-packet-inspector [flags] [capture-file...]\n\n")
		fs.PrintDefaults()
	}

	var (
		portSpec    string
		count       int64
		durationSec int64
		iface       string
		kafkaSpec   string
		dbPath      string
		otlpEP      string
		healthAddr  string
		configPath  string
		verbose     bool
		showVersion bool
	)
	fs.StringVar(&portSpec, "port", "", "RegionServer ports, comma-separated (default 16020,60020)")
	fs.Int64Var(&count, "count", 0, "stop after this many packets (0 = unlimited)")
	fs.Int64Var(&durationSec, "duration", 0, "stop after this many seconds (0 = unlimited)")
	fs.StringVar(&iface, "interface", "", "network interface for live capture")
	fs.StringVar(&kafkaSpec, "kafka", "", "Kafka sink as servers/topic")
	fs.StringVar(&dbPath, "db", "", "SQLite store path (default in-memory)")
	fs.StringVar(&otlpEP, "otlp", "", "OTLP gRPC endpoint for span export")
	fs.StringVar(&healthAddr, "health", "", "address for the stats HTTP endpoint, e.g. :8686")
	fs.StringVar(&configPath, "config", "", "path to YAML configuration file")
	fs.BoolVar(&verbose, "verbose", false, "debug logging and per-event stdout output")
	fs.BoolVar(&showVersion, "version", false, "show version and exit")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 1
	}
	if showVersion {
		fmt.Printf("hbase-packet-inspector %s (commit: %s, built: %s)\n", version, commit, buildDate)
		return 0
	}

	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			return 1
		}
		cfg = loaded
	} else {
		cfg.ApplyEnvOverrides()
	}

	// Flags override the file.
	if portSpec != "" {
		ports, err := config.ParsePorts(portSpec)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		cfg.Ports = ports
	}
	if kafkaSpec != "" {
		k, err := config.ParseKafka(kafkaSpec)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		cfg.Kafka = k
	}
	if count > 0 {
		cfg.Count = count
	}
	if durationSec > 0 {
		cfg.Duration = time.Duration(durationSec) * time.Second
	}
	if iface != "" {
		cfg.Interface = iface
	}
	if dbPath != "" {
		cfg.DB.Path = dbPath
	}
	if otlpEP != "" {
		cfg.OTLP.Endpoint = otlpEP
	}
	if healthAddr != "" {
		cfg.Health.Addr = healthAddr
	}
	if verbose {
		cfg.Verbose = true
		cfg.LogLevel = "debug"
	}
	cfg.Files = fs.Args()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	level := zap.NewAtomicLevelAt(parseLevel(cfg.LogLevel))
	logger, err := newLogger(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("starting hbase-packet-inspector",
		zap.String("version", version),
		zap.Ints("ports", cfg.Ports),
	)

	if err := inspect(cfg, configPath, level, logger); err != nil {
		logger.Error("capture failed", zap.Error(err))
		return 1
	}
	return 0
}

// inspect wires the sinks and drives the capture loop until the source is
// exhausted, a limit is hit, or the process is signalled.
func inspect(cfg *config.Config, configPath string, level zap.AtomicLevel, logger *zap.Logger) error {
	stats := health.NewStats()

	manager := sink.NewManager(stats, logger)
	db, err := sink.NewDB(cfg.DB.Path, logger)
	if err != nil {
		return err
	}
	manager.Add("db", db)
	if cfg.Kafka.Enabled() {
		manager.AddRemote("kafka", sink.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger))
	}
	if cfg.OTLP.Endpoint != "" {
		otlp, err := sink.NewOTLP(cfg.OTLP.Endpoint, logger)
		if err != nil {
			return err
		}
		manager.AddRemote("otlp", otlp)
	}
	if cfg.Verbose {
		manager.Add("stdout", sink.NewStdout())
	}
	defer manager.Close()

	if cfg.Health.Addr != "" {
		hs := health.NewServer(cfg.Health.Addr, version, stats, logger)
		if err := hs.Start(); err != nil {
			return err
		}
		defer hs.Stop()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if configPath != "" {
		watcher := config.NewWatcher(configPath, func(newCfg *config.Config) {
			level.SetLevel(parseLevel(newCfg.LogLevel))
		}, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("config watcher unavailable", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	sn := sniffer.New(cfg.Ports, manager, stats, logger)

	if len(cfg.Files) > 0 {
		for _, path := range cfg.Files {
			if ctx.Err() != nil {
				break
			}
			if cfg.Count > 0 && stats.PacketsSeen.Load() >= cfg.Count {
				break
			}
			h, err := capture.OpenOffline(path)
			if err != nil {
				return err
			}
			logger.Info("reading capture file", zap.String("path", path))
			if err := sn.Run(ctx, h, remaining(cfg, stats)); err != nil {
				return err
			}
		}
	} else {
		iface, err := selectInterface(cfg.Interface, logger)
		if err != nil {
			return err
		}
		h, err := capture.OpenLive(iface, cfg.Ports)
		if err != nil {
			return err
		}
		logger.Info("live capture started",
			zap.String("interface", iface),
			zap.String("filter", capture.BPFFilter(cfg.Ports)),
		)
		if err := sn.Run(ctx, h, remaining(cfg, stats)); err != nil {
			return err
		}
	}

	snap := stats.Snapshot()
	logger.Info("capture finished",
		zap.Int64("packets", snap.PacketsSeen),
		zap.Int64("events", snap.EventsEmitted),
		zap.Int64("sub_events", snap.SubEventsEmitted),
		zap.Int64("decode_errors", snap.DecodeErrors),
	)
	return nil
}

// remaining applies the global packet budget across sequential capture files.
func remaining(cfg *config.Config, stats *health.Stats) sniffer.Limits {
	l := sniffer.Limits{Duration: cfg.Duration}
	if cfg.Count > 0 {
		l.Count = cfg.Count - stats.PacketsSeen.Load()
	}
	return l
}

// selectInterface picks the capture device: the configured one, or the sole
// non-loopback candidate. With several candidates it lists them and asks the
// user to choose with --interface.
func selectInterface(configured string, logger *zap.Logger) (string, error) {
	if configured != "" {
		return configured, nil
	}
	devs, err := capture.Interfaces()
	if err != nil {
		return "", err
	}
	var candidates []capture.Interface
	for _, d := range devs {
		if d.Name == "lo" || strings.HasPrefix(d.Name, "lo0") {
			continue
		}
		candidates = append(candidates, d)
	}
	if len(candidates) == 1 {
		logger.Info("auto-selected interface", zap.String("interface", candidates[0].Name))
		return candidates[0].Name, nil
	}
	fmt.Fprintln(os.Stderr, "Available interfaces:")
	for _, d := range devs {
		desc := d.Description
		if len(d.Addresses) > 0 {
			desc = strings.Join(d.Addresses, ", ")
		}
		fmt.Fprintf(os.Stderr, "  %-16s %s\n", d.Name, desc)
	}
	return "", fmt.Errorf("multiple interfaces available; choose one with --interface")
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func newLogger(level zap.AtomicLevel) (*zap.Logger, error) {
	cfg := zap.Config{
		Level:            level,
		Encoding:         "console",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	return cfg.Build()
}
