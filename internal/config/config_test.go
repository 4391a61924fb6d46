package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portsample-ebpf/internal/engine"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "portsample.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load("")
	require.NoError(t, err)

	assert.Equal(t, "any", cfg.Capture.Interfaces)
	assert.Equal(t, 1, cfg.Capture.Workers)
	assert.Equal(t, 128, cfg.Capture.SnapLen)
	assert.Equal(t, 100*time.Millisecond, cfg.Capture.PollTimeout)
	assert.Equal(t, ModeNone, cfg.Filter.Mode)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 10000, cfg.Store.Capacity)
	assert.Equal(t, time.Second, cfg.Collector.PollInterval)
	assert.Equal(t, "/metrics", cfg.HTTP.MetricsPath)
	assert.Equal(t, "records/packets", cfg.Records.File.Path)
	assert.Equal(t, time.Hour, cfg.Records.Redis.TTL)
	assert.Equal(t, "__sys_sendmsg", cfg.Syscall.Symbol)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
portsample:
  capture:
    interfaces: eth0,eth1
    workers: 4
  filter:
    mode: directional
    src_port: 1000
    dst_port: 2000
    direction: true
  store:
    backend: kernel
    capacity: 512
  collector:
    poll_interval: 250ms
  records:
    file:
      enabled: true
      append: true
`)
	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)

	assert.Equal(t, "eth0,eth1", cfg.Capture.Interfaces)
	assert.Equal(t, 4, cfg.Capture.Workers)
	assert.Equal(t, FilterConfig{Mode: ModeDirectional, SrcPort: 1000, DstPort: 2000, Direction: true}, cfg.Filter)
	assert.Equal(t, BackendKernel, cfg.Store.Backend)
	assert.Equal(t, 512, cfg.Store.Capacity)
	assert.Equal(t, 250*time.Millisecond, cfg.Collector.PollInterval)
	assert.True(t, cfg.Records.File.Append)
	assert.Equal(t, 128, cfg.Capture.SnapLen, "unset keys keep defaults")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
portsample:
  filter:
    mode: single
    port: 443
`)
	t.Setenv("PORTSAMPLE_FILTER_PORT", "8443")
	t.Setenv("PORTSAMPLE_LOG_LEVEL", "debug")

	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8443, cfg.Filter.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFlagOverridesEnv(t *testing.T) {
	t.Setenv("PORTSAMPLE_STORE_CAPACITY", "50")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("capacity", 10, "")
	require.NoError(t, fs.Parse([]string{"--capacity=77"}))

	l := NewLoader()
	require.NoError(t, l.BindFlag("store.capacity", fs.Lookup("capacity")))
	assert.Error(t, l.BindFlag("store.shards", fs.Lookup("shards")))

	cfg, err := l.Load("")
	require.NoError(t, err)
	assert.Equal(t, 77, cfg.Store.Capacity)
}

func TestLoadInvalid(t *testing.T) {
	tests := map[string]string{
		"single without port":  "filter: {mode: single}",
		"unknown mode":         "filter: {mode: both}",
		"directional half set": "filter: {mode: directional, src_port: 1}",
		"port above 65535":     "filter: {mode: single, port: 70000}",
		"src_port above 65535": "filter: {mode: directional, src_port: 65536, dst_port: 80}",
		"negative dst_port":    "filter: {mode: directional, src_port: 80, dst_port: -1}",
		"unused port too big":  "filter: {mode: none, port: 70000}",
		"zero workers":         "capture: {workers: 0}",
		"tiny snaplen":         "capture: {snaplen: 60}",
		"bad backend":          "store: {backend: disk}",
		"zero capacity":        "store: {capacity: 0}",
		"zero poll":            "collector: {poll_interval: 0s}",
		"relative metrics":     "http: {metrics_path: metrics}",
		"redis without addr":   "records: {redis: {enabled: true, addr: ''}}",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewLoader().Load(writeConfig(t, "portsample:\n  "+body+"\n"))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := NewLoader().Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEffective(t *testing.T) {
	l := NewLoader()
	_, err := l.Load(writeConfig(t, "portsample:\n  filter: {mode: single, port: 53}\n"))
	require.NoError(t, err)

	out, err := l.Effective()
	require.NoError(t, err)
	assert.Contains(t, string(out), "portsample:")
	assert.Contains(t, string(out), "port: 53")
}

func TestFilterConfigRoundTrip(t *testing.T) {
	tests := []FilterConfig{
		{Mode: ModeSingle, Port: 443, CaptureAddresses: true},
		{Mode: ModeDirectional, SrcPort: 1000, DstPort: 2000, Direction: true},
	}
	for _, f := range tests {
		ec, err := f.EngineConfig()
		require.NoError(t, err)
		require.NotNil(t, ec)
		assert.Equal(t, f, FilterFromEngine(ec))
	}

	ec, err := FilterConfig{Mode: "NONE"}.EngineConfig()
	require.NoError(t, err)
	assert.Nil(t, ec)
	assert.Equal(t, FilterConfig{Mode: ModeNone}, FilterFromEngine(nil))
	assert.Equal(t, ModeNone, FilterFromEngine(&engine.Config{}).Mode)

	_, err = FilterConfig{Mode: ModeSingle}.EngineConfig()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFilterConfigEnginePolicy(t *testing.T) {
	ec, err := FilterConfig{Mode: " Single ", Port: 443}.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, engine.SinglePort(443), ec.Policy)
}

func TestWatchFilter(t *testing.T) {
	path := writeConfig(t, "portsample:\n  filter: {mode: single, port: 80}\n")
	l := NewLoader()
	_, err := l.Load(path)
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got []FilterConfig
	)
	l.WatchFilter(func(f FilterConfig, err error) {
		if err != nil {
			return
		}
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	})

	require.NoError(t, os.WriteFile(path, []byte("portsample:\n  filter: {mode: single, port: 8080}\n"), 0o644))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1].Port == 8080
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatchFilterRejectsOutOfRangePort(t *testing.T) {
	path := writeConfig(t, "portsample:\n  filter: {mode: single, port: 80}\n")
	l := NewLoader()
	_, err := l.Load(path)
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		rejected bool
		accepted []int
	)
	l.WatchFilter(func(f FilterConfig, err error) {
		mu.Lock()
		defer mu.Unlock()
		if errors.Is(err, ErrInvalidConfig) {
			rejected = true
		} else if err == nil {
			accepted = append(accepted, f.Port)
		}
	})

	require.NoError(t, os.WriteFile(path, []byte("portsample:\n  filter: {mode: single, port: 70000}\n"), 0o644))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return rejected
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, accepted, 70000&0xffff)
}

func TestLoadEnvPortOutOfRange(t *testing.T) {
	t.Setenv("PORTSAMPLE_FILTER_MODE", "single")
	t.Setenv("PORTSAMPLE_FILTER_PORT", "65979")
	_, err := NewLoader().Load("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestWatchFilterWithoutFile(t *testing.T) {
	l := NewLoader()
	_, err := l.Load("")
	require.NoError(t, err)
	l.WatchFilter(func(FilterConfig, error) { t.Fatal("unexpected reload") })
}
