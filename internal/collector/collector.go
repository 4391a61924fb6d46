// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/portsample-ebpf/internal/config"
	"github.com/portsample-ebpf/internal/control"
	"github.com/portsample-ebpf/internal/counter"
	"github.com/portsample-ebpf/internal/engine"
	"github.com/portsample-ebpf/internal/records"
	"github.com/portsample-ebpf/internal/source"
	"github.com/portsample-ebpf/internal/store"
	"github.com/portsample-ebpf/internal/types"
)

// Config is read-only after Run() is called and safe for concurrent reads.
// All fields must be initialized before calling Run() and must not be modified.
type Config struct {
	config.Config
	// WatchFilter, when set, is called once with a callback that applies
	// reloaded filter sections.
	WatchFilter func(func(config.FilterConfig, error))
}

type namedSink struct {
	name string
	records.Sink
}

type Collector struct {
	cfg     Config
	store   store.Store
	stats   *counter.Array
	engine  *engine.Engine
	filter  *engine.Filter
	control *control.Controller
	metrics *metrics
	sinks   []namedSink
	probe   *counter.SyscallProbe

	live []*source.Live

	pollMu      sync.Mutex // protects everything below
	prevStats   [types.NumStats]uint64
	prevStore   store.Stats
	prevCapture []source.CaptureStats
	batch       []types.Event
	drained     uint64
}

// newCollector wires the engine, filter and metrics around st. Sources,
// sinks and the syscall probe are attached by the caller.
func newCollector(cfg Config, st store.Store, reg prometheus.Registerer, opts ...engine.Option) (*Collector, error) {
	initial, err := cfg.Filter.EngineConfig()
	if err != nil {
		return nil, err
	}
	stats := counter.NewArray(types.NumStats)
	opts = append([]engine.Option{engine.WithStats(stats), engine.WithTrace(cfg.Log.TraceRate)}, opts...)
	filter := engine.NewFilter(initial)
	c := &Collector{
		cfg:     cfg,
		store:   st,
		stats:   stats,
		engine:  engine.New(opts...),
		filter:  filter,
		control: control.New(filter),
		metrics: newMetrics(),
	}
	c.metrics.register(reg)
	c.metrics.configStoreCapacity.Set(float64(st.Cap()))
	c.metrics.configPollInterval.Set(cfg.Collector.PollInterval.Seconds())
	c.metrics.configSnapLen.Set(float64(cfg.Capture.SnapLen))
	c.setFilterInfo(initial)
	c.control.OnChange(c.setFilterInfo)
	return c, nil
}

func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	st, err := openStore(cfg.Store)
	if err != nil {
		slog.Error("open sample store failed", "backend", cfg.Store.Backend, "err", err)
		return err
	}
	defer st.Close()
	slog.Info("sample store ready", "backend", cfg.Store.Backend, "capacity", st.Cap())

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c, err := newCollector(cfg, st, reg)
	if err != nil {
		return err
	}

	sinks, err := openSinks(ctx, cfg.Records)
	if err != nil {
		return err
	}
	c.sinks = sinks
	defer c.closeSinks()

	if cfg.Syscall.Enabled {
		probe, err := counter.NewSyscallProbe(cfg.Syscall.Symbol)
		if err != nil {
			slog.Error("syscall probe failed", "symbol", cfg.Syscall.Symbol, "err", err)
			return fmt.Errorf("syscall probe: %w", err)
		}
		c.probe = probe
		defer probe.Close()
	}

	if err := c.openLive(); err != nil {
		c.closeLive()
		return err
	}
	defer c.closeLive()
	c.control.OnChange(c.applyPrefilter)

	if cfg.WatchFilter != nil {
		cfg.WatchFilter(func(f config.FilterConfig, err error) {
			if err != nil {
				slog.Warn("ignoring reloaded filter", "err", err)
				return
			}
			if err := c.control.ConfigureFilter(f, "config reload"); err != nil {
				slog.Warn("ignoring reloaded filter", "err", err)
			}
		})
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.HTTP.MetricsPath, promhttp.HandlerFor(
		reg,
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))
	if cfg.HTTP.Control {
		c.control.Register(mux)
	}
	srv := &http.Server{Addr: cfg.HTTP.Listen, Handler: mux}
	slog.Debug("HTTP server starting", "listen", cfg.HTTP.Listen, "metrics_path", cfg.HTTP.MetricsPath, "control", cfg.HTTP.Control)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range c.live {
		g.Go(func() error { return c.capture(gctx, l) })
	}
	g.Go(func() error { return c.pollLoop(gctx) })
	err = g.Wait()

	// Flush what the workers stored before they stopped.
	if ferr := c.poll(context.Background()); ferr != nil {
		slog.Warn("final drain", "err", ferr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	if cfg.Backend == config.BackendKernel {
		k, err := store.NewKernel(cfg.Capacity, cfg.DrainBatch)
		if err != nil {
			return nil, fmt.Errorf("kernel store: %w", err)
		}
		return k, nil
	}
	m, err := store.NewMemory(cfg.Capacity, cfg.Shards)
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}
	return m, nil
}

func openSinks(ctx context.Context, cfg config.RecordsConfig) ([]namedSink, error) {
	var sinks []namedSink
	if cfg.File.Enabled {
		s, err := records.NewFileSink(records.FileConfig{
			Path:       cfg.File.Path,
			Append:     cfg.File.Append,
			MaxSizeMB:  cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAgeDays: cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		})
		if err != nil {
			return nil, fmt.Errorf("record file: %w", err)
		}
		slog.Info("writing records", "path", cfg.File.Path, "append", cfg.File.Append)
		sinks = append(sinks, namedSink{name: "file", Sink: s})
	}
	if cfg.Redis.Enabled {
		s, err := records.NewRedisSink(ctx, records.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			for _, s := range sinks {
				s.Close()
			}
			return nil, fmt.Errorf("record redis: %w", err)
		}
		sinks = append(sinks, namedSink{name: "redis", Sink: s})
	}
	return sinks, nil
}

func (c *Collector) closeSinks() {
	for _, s := range c.sinks {
		if err := s.Close(); err != nil {
			slog.Warn("close record sink", "sink", s.name, "err", err)
		}
	}
}

func (c *Collector) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Collector.PollInterval)
	defer ticker.Stop()
	slog.Debug("poll loop started", "interval", c.cfg.Collector.PollInterval)
	for {
		select {
		case <-ctx.Done():
			slog.Debug("context canceled, exiting poll loop")
			return ctx.Err()
		case <-ticker.C:
			if err := c.poll(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				slog.Error("poll", "err", err)
			}
		}
	}
}

// poll drains the store into metrics and record sinks, then folds the
// engine, store and capture counters into metric deltas.
func (c *Collector) poll(ctx context.Context) error {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()

	drainStart := time.Now()
	c.batch = c.batch[:0]
	n, err := c.store.Drain(func(key uint64, ev types.Event) {
		ev.TimestampNs = key
		c.batch = append(c.batch, ev)
	})
	drainDuration := time.Since(drainStart).Seconds()
	c.metrics.drainDurationSeconds.Set(drainDuration)
	if err != nil {
		return fmt.Errorf("drain sample store: %w", err)
	}
	c.metrics.storeDrained.Set(float64(n))
	c.drained += uint64(n)
	slog.Debug("store drained", "entries", n, "duration_sec", drainDuration)

	for _, ev := range c.batch {
		dir := ev.Direction.String()
		c.metrics.samplesTotal.WithLabelValues(dir).Inc()
		c.metrics.bytesTotal.WithLabelValues(dir).Add(float64(ev.Length))
	}
	if len(c.batch) > 0 {
		for _, s := range c.sinks {
			if err := s.Write(ctx, c.batch); err != nil {
				c.metrics.sinkErrorsTotal.WithLabelValues(s.name).Inc()
				slog.Warn("write records", "sink", s.name, "samples", len(c.batch), "err", err)
			}
		}
	}

	sums := c.readStats()
	c.readStoreStats()
	c.readCaptureStats()
	c.readSyscall()
	c.updateInterfaceStatusMetric()
	slog.Debug("poll done", "samples", n, "packets_seen", sums[types.StatPacketsSeen],
		"emitted", sums[types.StatEmitted], "store_rejected", sums[types.StatStoreRejected])
	return ctx.Err()
}

// readStats folds the engine outcome counters into metric deltas.
func (c *Collector) readStats() [types.NumStats]uint64 {
	var sums [types.NumStats]uint64
	copy(sums[:], c.stats.Snapshot())
	for i := 0; i < types.NumStats; i++ {
		if sums[i] >= c.prevStats[i] {
			delta := float64(sums[i] - c.prevStats[i])
			if i == types.StatPacketsSeen {
				c.metrics.packetsSeenTotal.Add(delta)
			} else if label, ok := outcomeLabels[i]; ok {
				c.metrics.outcomesTotal.WithLabelValues(label).Add(delta)
			}
		}
		c.prevStats[i] = sums[i]
	}
	return sums
}

func (c *Collector) readStoreStats() {
	cur := c.store.Stats()
	c.metrics.storeInsertsTotal.Add(float64(cur.Inserts - c.prevStore.Inserts))
	c.metrics.storeOverwritesTotal.Add(float64(cur.Overwrites - c.prevStore.Overwrites))
	c.metrics.storeRejectedTotal.Add(float64(cur.Rejected - c.prevStore.Rejected))
	c.prevStore = cur
}

func (c *Collector) readSyscall() {
	if c.probe == nil {
		return
	}
	n, err := c.probe.Read()
	if err != nil {
		slog.Debug("read syscall counter", "err", err)
		return
	}
	c.metrics.syscallInvocations.WithLabelValues(c.probe.Symbol()).Set(float64(n))
}

func (c *Collector) setFilterInfo(cfg *engine.Config) {
	f := config.FilterFromEngine(cfg)
	policy := "none"
	if cfg != nil {
		policy = cfg.Policy.String()
	}
	c.metrics.filterInfo.Reset()
	c.metrics.filterInfo.WithLabelValues(f.Mode, policy,
		strconv.FormatBool(f.Direction), strconv.FormatBool(f.CaptureAddresses)).Set(1)
}
