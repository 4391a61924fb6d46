// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

// Package cli implements the portsample command line.
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/portsample-ebpf/internal/config"
	"github.com/portsample-ebpf/internal/log"
)

// Version is set at build time with -ldflags "-X ...cli.Version=v1.2.3".
var Version = "dev"

type options struct {
	configPath string
	loader     *config.Loader
}

// flagKeys maps persistent flags to the config keys they override.
var flagKeys = map[string]string{
	"log-level":         "log.level",
	"log-format":        "log.format",
	"log-file":          "log.file.path",
	"interfaces":        "capture.interfaces",
	"workers":           "capture.workers",
	"snaplen":           "capture.snaplen",
	"filter-mode":       "filter.mode",
	"port":              "filter.port",
	"src-port":          "filter.src_port",
	"dst-port":          "filter.dst_port",
	"direction":         "filter.direction",
	"capture-addresses": "filter.capture_addresses",
	"store-backend":     "store.backend",
	"store-capacity":    "store.capacity",
	"poll-interval":     "collector.poll_interval",
	"listen-address":    "http.listen",
	"metrics-path":      "http.metrics_path",
	"records-file":      "records.file.enabled",
	"records-path":      "records.file.path",
}

// NewRootCmd builds the command tree. Flags override environment
// variables, which override the config file.
func NewRootCmd() *cobra.Command {
	o := &options{loader: config.NewLoader()}
	root := &cobra.Command{
		Use:   "portsample",
		Short: "Sample packets that match a port filter",
		Long: `portsample classifies every packet seen on the capture interfaces against a
port filter and records one compact sample (ports, length, direction,
timestamp) per matching packet. Samples are exported as Prometheus metrics
and optionally written to a CSV file or Redis.

Every setting can come from a YAML file (--config, root key "portsample"),
from PORTSAMPLE_* environment variables, or from the flags below.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&o.configPath, "config", "c", "", "config file path (YAML)")
	pf.String("log-level", "info", "log level: "+log.SupportedLevels)
	pf.String("log-format", "text", "log format: "+log.SupportedFormats)
	pf.String("log-file", "", "also write logs to this size-rotated file")
	pf.String("interfaces", "any", "comma-separated interface names; 'any' = all non-loopback")
	pf.Int("workers", 1, "capture workers per interface (AF_PACKET fanout)")
	pf.Int("snaplen", 128, "bytes captured per frame")
	pf.String("filter-mode", config.ModeNone, "filter mode: none, single, directional")
	pf.Int("port", 0, "port matched on either side (single mode)")
	pf.Int("src-port", 0, "expected source port (directional mode)")
	pf.Int("dst-port", 0, "expected destination port (directional mode)")
	pf.Bool("direction", false, "record ingress/egress direction")
	pf.Bool("capture-addresses", false, "record the last octet of source and destination addresses")
	pf.String("store-backend", config.BackendMemory, "sample store: memory or kernel (BPF hash map)")
	pf.Int("store-capacity", 10000, "maximum samples held between polls")
	pf.Duration("poll-interval", time.Second, "interval to drain the sample store")
	pf.String("listen-address", "0.0.0.0:9100", "HTTP listen address for metrics and /filter")
	pf.String("metrics-path", "/metrics", "HTTP path for Prometheus metrics")
	pf.Bool("records-file", false, "write samples to the CSV record file")
	pf.String("records-path", "records/packets", "CSV record file path")
	mustBind(o.loader, pf)

	root.AddCommand(
		newRunCmd(o),
		newReplayCmd(o),
		newMonitorCmd(o),
		newValidateCmd(o),
		newVersionCmd(),
	)
	return root
}

func mustBind(l *config.Loader, fs *pflag.FlagSet) {
	for name, key := range flagKeys {
		if err := l.BindFlag(key, fs.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// load reads the configuration and configures logging from it.
func (o *options) load() (*config.Config, error) {
	cfg, err := o.loader.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	err = log.Configure(log.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File: log.FileOptions{
			Path:       cfg.Log.File.Path,
			MaxSizeMB:  cfg.Log.File.MaxSizeMB,
			MaxBackups: cfg.Log.File.MaxBackups,
			MaxAgeDays: cfg.Log.File.MaxAgeDays,
			Compress:   cfg.Log.File.Compress,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Execute runs the root command with os.Args.
func Execute() error {
	defer log.Close()
	return NewRootCmd().Execute()
}
