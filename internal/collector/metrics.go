// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package collector

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/portsample-ebpf/internal/types"
)

const (
	InterfaceStatusUp       = 0
	InterfaceStatusDown     = 1
	InterfaceStatusNotFound = 2
)

// outcomeLabels names the engine outcome slots that are exported as
// portsample_engine_packets_total{outcome}. StatPacketsSeen has its own
// counter.
var outcomeLabels = map[int]string{
	types.StatTooShort:         "too_short",
	types.StatIgnoredEtherType: "ignored_ethertype",
	types.StatIgnoredProtocol:  "ignored_protocol",
	types.StatInvalidHeader:    "invalid_header",
	types.StatUnmatched:        "unmatched",
	types.StatEmitted:          "emitted",
	types.StatStoreRejected:    "store_rejected",
}

type metrics struct {
	samplesTotal         *prometheus.CounterVec
	bytesTotal           *prometheus.CounterVec
	packetsSeenTotal     prometheus.Counter
	outcomesTotal        *prometheus.CounterVec
	storeDrained         prometheus.Gauge
	storeInsertsTotal    prometheus.Counter
	storeOverwritesTotal prometheus.Counter
	storeRejectedTotal   prometheus.Counter
	drainDurationSeconds prometheus.Gauge
	sinkErrorsTotal      *prometheus.CounterVec
	capturePacketsTotal  *prometheus.CounterVec
	captureDropsTotal    *prometheus.CounterVec
	captureFreezesTotal  *prometheus.CounterVec
	syscallInvocations   *prometheus.GaugeVec
	interfaceStatus      *prometheus.GaugeVec
	filterInfo           *prometheus.GaugeVec
	configStoreCapacity  prometheus.Gauge
	configPollInterval   prometheus.Gauge
	configSnapLen        prometheus.Gauge
}

func newMetrics() *metrics {
	return &metrics{
		samplesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portsample_samples_total",
				Help: "Samples drained from the store, by direction (none when direction tracking is off).",
			},
			[]string{"direction"},
		),
		bytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portsample_sampled_bytes_total",
				Help: "Sum of packet lengths of drained samples, by direction.",
			},
			[]string{"direction"},
		),
		packetsSeenTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portsample_engine_packets_seen_total",
				Help: "Packets handed to the engine.",
			},
		),
		outcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portsample_engine_packets_total",
				Help: "Engine outcomes: too_short, ignored_ethertype, ignored_protocol, invalid_header, unmatched, emitted. store_rejected additionally counts emitted samples the store refused.",
			},
			[]string{"outcome"},
		),
		storeDrained: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "portsample_store_drained_entries",
				Help: "Entries removed from the sample store in the last poll.",
			},
		),
		storeInsertsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portsample_store_inserts_total",
				Help: "New keys written to the sample store.",
			},
		),
		storeOverwritesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portsample_store_overwrites_total",
				Help: "Upserts that replaced a sample with the same timestamp key.",
			},
		),
		storeRejectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portsample_store_rejected_total",
				Help: "New keys refused because the store was at capacity.",
			},
		),
		drainDurationSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "portsample_store_drain_duration_seconds",
				Help: "Time in seconds to drain the sample store in the last poll.",
			},
		),
		sinkErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portsample_record_sink_errors_total",
				Help: "Failed record sink writes, by sink.",
			},
			[]string{"sink"},
		),
		capturePacketsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portsample_capture_packets_total",
				Help: "Packets accepted by the capture ring after the kernel prefilter, by interface.",
			},
			[]string{"interface"},
		),
		captureDropsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portsample_capture_drops_total",
				Help: "Packets dropped because the capture ring was full, by interface.",
			},
			[]string{"interface"},
		),
		captureFreezesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portsample_capture_queue_freezes_total",
				Help: "Capture ring queue freezes, by interface.",
			},
			[]string{"interface"},
		),
		syscallInvocations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "portsample_syscall_invocations",
				Help: "Invocations of the probed kernel function since the probe was attached.",
			},
			[]string{"symbol"},
		),
		interfaceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "portsample_interface_status",
				Help: "Interface status: 0=up, 1=down, 2=not found. Reported for configured interfaces (explicit list) or all non-loopback (any mode).",
			},
			[]string{"interface"},
		),
		filterInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "portsample_filter_info",
				Help: "Active filter; always 1, labels describe the policy.",
			},
			[]string{"mode", "policy", "direction", "capture_addresses"},
		),
		configStoreCapacity: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "portsample_config_store_capacity",
				Help: "Configured maximum entries in the sample store.",
			},
		),
		configPollInterval: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "portsample_config_poll_interval_seconds",
				Help: "Configured poll interval in seconds.",
			},
		),
		configSnapLen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "portsample_config_snaplen_bytes",
				Help: "Configured capture snap length.",
			},
		),
	}
}

func (m *metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.samplesTotal,
		m.bytesTotal,
		m.packetsSeenTotal,
		m.outcomesTotal,
		m.storeDrained,
		m.storeInsertsTotal,
		m.storeOverwritesTotal,
		m.storeRejectedTotal,
		m.drainDurationSeconds,
		m.sinkErrorsTotal,
		m.capturePacketsTotal,
		m.captureDropsTotal,
		m.captureFreezesTotal,
		m.syscallInvocations,
		m.interfaceStatus,
		m.filterInfo,
		m.configStoreCapacity,
		m.configPollInterval,
		m.configSnapLen,
	)
	slog.Debug("Prometheus metrics registered")
}
