// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/portsample-ebpf/internal/collector"
	"github.com/portsample-ebpf/internal/config"
	"github.com/portsample-ebpf/internal/procmon"
)

func newRunCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Capture live traffic and export samples",
		Long: `Open AF_PACKET capture rings on the configured interfaces, sample matching
packets and serve Prometheus metrics. The filter can be replaced at runtime
through PUT /filter or by editing the filter section of the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.load()
			if err != nil {
				return err
			}
			slog.Info("starting portsample",
				"version", Version,
				"interfaces", cfg.Capture.Interfaces,
				"filter", cfg.Filter.Mode,
				"store", cfg.Store.Backend,
				"listen", cfg.HTTP.Listen,
				"poll_interval", cfg.Collector.PollInterval,
			)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			err = collector.Run(ctx, collector.Config{Config: *cfg, WatchFilter: o.loader.WatchFilter})
			if err != nil {
				return err
			}
			slog.Info("shutdown complete")
			return nil
		},
	}
}

func newReplayCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <capture.pcap>",
		Short: "Sample the packets of a pcap or pcapng file",
		Long: `Run every frame of an Ethernet pcap or pcapng file through the engine with
the configured filter. Samples are keyed by capture timestamp and written to
the enabled record sinks.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			sum, err := collector.Replay(ctx, collector.Config{Config: *cfg}, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "packets=%d samples=%d rejected=%d duration=%s\n",
				sum.Packets, sum.Samples, sum.Rejected, sum.Duration.Round(time.Millisecond))
			return nil
		},
	}
}

func newMonitorCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Log memory and disk IO deltas of a process",
		Long: `Find the newest process whose name contains --process and log the change in
virtual memory size and disk read/write bytes every --interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.load()
			if err != nil {
				return err
			}
			if cfg.Monitor.Process == "" {
				return fmt.Errorf("%w: monitor.process is required", config.ErrInvalidConfig)
			}
			if cfg.Monitor.Interval <= 0 {
				return fmt.Errorf("%w: monitor.interval must be > 0, got %v", config.ErrInvalidConfig, cfg.Monitor.Interval)
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return monitor(ctx, cfg.Monitor)
		},
	}
	cmd.Flags().String("process", "", "process name (substring) to monitor")
	cmd.Flags().Duration("interval", time.Second, "sampling interval")
	mustBindLocal(o, cmd, map[string]string{
		"process":  "monitor.process",
		"interval": "monitor.interval",
	})
	return cmd
}

func mustBindLocal(o *options, cmd *cobra.Command, keys map[string]string) {
	for name, key := range keys {
		if err := o.loader.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func monitor(ctx context.Context, cfg config.MonitorConfig) error {
	p, err := procmon.FindProcess(ctx, cfg.Process)
	if err != nil {
		return err
	}
	m := procmon.New(p, cfg.Interval)
	attrs := []any{"pid", m.PID(), "name", m.Name(), "interval", cfg.Interval}
	if ports, err := procmon.ListeningPorts(ctx, p); err == nil && len(ports) > 0 {
		attrs = append(attrs, "listening", ports)
	}
	slog.Info("monitoring process", attrs...)

	err = m.Run(ctx, func(d procmon.Delta) {
		slog.Info("process sample",
			"pid", m.PID(),
			"vms_delta", d.VMS,
			"read_bytes_delta", d.ReadBytes,
			"write_bytes_delta", d.WriteBytes,
		)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newValidateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print the effective settings",
		Long: `Load the config file, environment and flags, validate the result and print
the merged settings as YAML.

Examples:
  portsample validate -c /etc/portsample/portsample.yaml
  PORTSAMPLE_FILTER_MODE=single portsample validate --port 443`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := o.load(); err != nil {
				return err
			}
			out, err := o.loader.Effective()
			if err != nil {
				return fmt.Errorf("render config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "portsample", Version)
		},
	}
}
