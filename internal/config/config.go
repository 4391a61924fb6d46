// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

// Package config loads portsample settings with viper. The YAML file uses
// `portsample:` as its root key and every key can be overridden from the
// environment with the PORTSAMPLE_ prefix (portsample.filter.port becomes
// PORTSAMPLE_FILTER_PORT).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const rootKey = "portsample"

// MinSnapLen fits Ethernet, a maximal IPv4 header and a TCP base header.
const MinSnapLen = 14 + 60 + 20

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Capture   CaptureConfig   `mapstructure:"capture"`
	Filter    FilterConfig    `mapstructure:"filter"`
	Store     StoreConfig     `mapstructure:"store"`
	Collector CollectorConfig `mapstructure:"collector"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Records   RecordsConfig   `mapstructure:"records"`
	Syscall   SyscallConfig   `mapstructure:"syscall"`
	Log       LogConfig       `mapstructure:"log"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
}

type CaptureConfig struct {
	Interfaces  string        `mapstructure:"interfaces"`
	Workers     int           `mapstructure:"workers"`
	SnapLen     int           `mapstructure:"snaplen"`
	BufferMB    int           `mapstructure:"buffer_mb"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
	FanoutGroup uint16        `mapstructure:"fanout_group"` // 0 = derived from the pid
}

type StoreConfig struct {
	Backend    string `mapstructure:"backend"` // memory | kernel
	Capacity   int    `mapstructure:"capacity"`
	Shards     int    `mapstructure:"shards"`
	DrainBatch int    `mapstructure:"drain_batch"`
}

type CollectorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type HTTPConfig struct {
	Listen      string `mapstructure:"listen"`
	MetricsPath string `mapstructure:"metrics_path"`
	Control     bool   `mapstructure:"control"`
}

type RecordsConfig struct {
	File  FileRecordsConfig  `mapstructure:"file"`
	Redis RedisRecordsConfig `mapstructure:"redis"`
}

type FileRecordsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	Append     bool   `mapstructure:"append"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type RedisRecordsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Key      string        `mapstructure:"key"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type SyscallConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Symbol  string `mapstructure:"symbol"`
}

type LogConfig struct {
	Level     string        `mapstructure:"level"`
	Format    string        `mapstructure:"format"`
	TraceRate float64       `mapstructure:"trace_rate"` // sampled per-packet debug lines per second, 0 = off
	File      LogFileConfig `mapstructure:"file"`
}

type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type MonitorConfig struct {
	Process  string        `mapstructure:"process"`
	Interval time.Duration `mapstructure:"interval"`
}

type configRoot struct {
	Portsample Config `mapstructure:"portsample"`
}

// Loader owns one viper instance. Flags bound before Load take precedence
// over the environment, which takes precedence over the file.
type Loader struct {
	v *viper.Viper
}

func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return &Loader{v: v}
}

func setDefaults(v *viper.Viper) {
	d := func(key string, val any) { v.SetDefault(rootKey+"."+key, val) }

	d("capture.interfaces", "any")
	d("capture.workers", 1)
	d("capture.snaplen", 128)
	d("capture.buffer_mb", 8)
	d("capture.poll_timeout", "100ms")
	d("capture.fanout_group", 0)

	d("filter.mode", ModeNone)
	d("filter.port", 0)
	d("filter.src_port", 0)
	d("filter.dst_port", 0)
	d("filter.direction", false)
	d("filter.capture_addresses", false)

	d("store.backend", BackendMemory)
	d("store.capacity", 10000)
	d("store.shards", 16)
	d("store.drain_batch", 1024)

	d("collector.poll_interval", "1s")

	d("http.listen", "0.0.0.0:9100")
	d("http.metrics_path", "/metrics")
	d("http.control", true)

	d("records.file.enabled", false)
	d("records.file.path", "records/packets")
	d("records.file.append", false)
	d("records.file.max_size_mb", 100)
	d("records.file.max_backups", 5)
	d("records.file.max_age_days", 0)
	d("records.file.compress", false)

	d("records.redis.enabled", false)
	d("records.redis.addr", "127.0.0.1:6379")
	d("records.redis.password", "")
	d("records.redis.db", 0)
	d("records.redis.key", "portsample:samples")
	d("records.redis.ttl", "1h")

	d("syscall.enabled", false)
	d("syscall.symbol", "__sys_sendmsg")

	d("log.level", "info")
	d("log.format", "text")
	d("log.trace_rate", 0)
	d("log.file.path", "")
	d("log.file.max_size_mb", 100)
	d("log.file.max_backups", 5)
	d("log.file.max_age_days", 30)
	d("log.file.compress", true)

	d("monitor.process", "")
	d("monitor.interval", "1s")
}

// BindFlag makes flag f override key (relative to the root, e.g.
// "filter.port") when it is set on the command line.
func (l *Loader) BindFlag(key string, f *pflag.Flag) error {
	if f == nil {
		return fmt.Errorf("bind %s: no such flag", key)
	}
	return l.v.BindPFlag(rootKey+"."+key, f)
}

// Load reads path, if not empty, and returns the validated config.
func (l *Loader) Load(path string) (*Config, error) {
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	var root configRoot
	if err := l.v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg := root.Portsample
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Effective renders the merged settings as YAML.
func (l *Loader) Effective() ([]byte, error) {
	return yaml.Marshal(l.v.AllSettings())
}

// WatchFilter calls fn with the filter section each time the config file
// changes on disk. Other sections are not reloaded. It is a no-op when no
// file was loaded.
func (l *Loader) WatchFilter(fn func(FilterConfig, error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		var f FilterConfig
		err := l.v.UnmarshalKey(rootKey+".filter", &f)
		if err == nil {
			err = f.Validate()
		}
		fn(f, err)
	})
	l.v.WatchConfig()
}

func (c *Config) Validate() error {
	if err := c.Filter.Validate(); err != nil {
		return err
	}
	switch {
	case c.Capture.Workers < 1:
		return fmt.Errorf("%w: capture.workers must be >= 1, got %d", ErrInvalidConfig, c.Capture.Workers)
	case c.Capture.SnapLen < MinSnapLen:
		return fmt.Errorf("%w: capture.snaplen must be >= %d, got %d", ErrInvalidConfig, MinSnapLen, c.Capture.SnapLen)
	case c.Capture.BufferMB <= 0:
		return fmt.Errorf("%w: capture.buffer_mb must be > 0, got %d", ErrInvalidConfig, c.Capture.BufferMB)
	case c.Store.Capacity <= 0:
		return fmt.Errorf("%w: store.capacity must be > 0, got %d", ErrInvalidConfig, c.Store.Capacity)
	case c.Store.Backend != BackendMemory && c.Store.Backend != BackendKernel:
		return fmt.Errorf("%w: store.backend must be %s or %s, got %q", ErrInvalidConfig, BackendMemory, BackendKernel, c.Store.Backend)
	case c.Collector.PollInterval <= 0:
		return fmt.Errorf("%w: collector.poll_interval must be > 0, got %v", ErrInvalidConfig, c.Collector.PollInterval)
	case !strings.HasPrefix(c.HTTP.MetricsPath, "/"):
		return fmt.Errorf("%w: http.metrics_path must start with /, got %q", ErrInvalidConfig, c.HTTP.MetricsPath)
	case c.Records.File.Enabled && c.Records.File.Path == "":
		return fmt.Errorf("%w: records.file.path is required when the file sink is enabled", ErrInvalidConfig)
	case c.Records.Redis.Enabled && c.Records.Redis.Addr == "":
		return fmt.Errorf("%w: records.redis.addr is required when the redis sink is enabled", ErrInvalidConfig)
	}
	return nil
}

const (
	BackendMemory = "memory"
	BackendKernel = "kernel"
)
