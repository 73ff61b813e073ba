package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// NATSConfig holds the connection settings for the sample transport.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// ClickHouseConfig holds the connection settings for the storage backend.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// EngineConfig tunes the ingest pipeline: worker pool, shard queues,
// accumulator flush triggers and delta sanity limits.
type EngineConfig struct {
	NumWorkers   int    `yaml:"num_workers"`
	QueueSize    int    `yaml:"queue_size"`
	FlushSize    int    `yaml:"flush_size"`
	FlushWindow  string `yaml:"flush_window"`
	DeltaCeiling uint64 `yaml:"delta_ceiling_bytes"`

	FlushWindowDuration time.Duration `yaml:"-"`
}

// WriterConfig tunes the batch writer.
type WriterConfig struct {
	QueueSize     int    `yaml:"queue_size"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval string `yaml:"flush_interval"`
	MaxRetries    int    `yaml:"max_retries"`
	RetryBackoff  string `yaml:"retry_backoff"`

	FlushIntervalDuration time.Duration `yaml:"-"`
	RetryBackoffDuration  time.Duration `yaml:"-"`
}

// SchedulerConfig carries the task schedules, retention cutoffs and the
// bounded timeouts applied around startup cleanup and shutdown drain.
type SchedulerConfig struct {
	HourlyArchive         string `yaml:"hourly_archive"`
	DailyCleanup          string `yaml:"daily_cleanup"`
	WeeklyCleanup         string `yaml:"weekly_cleanup"`
	MetricsRetention      string `yaml:"metrics_retention"`
	HourlyRetention       string `yaml:"hourly_retention"`
	StartupCleanupTimeout string `yaml:"startup_cleanup_timeout"`
	DrainTimeout          string `yaml:"drain_timeout"`

	MetricsRetentionDuration      time.Duration `yaml:"-"`
	HourlyRetentionDuration       time.Duration `yaml:"-"`
	StartupCleanupTimeoutDuration time.Duration `yaml:"-"`
	DrainTimeoutDuration          time.Duration `yaml:"-"`
}

// APIConfig holds the admin API server settings.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// SMTPConfig holds the settings for the email notifier.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// AlerterRule defines a threshold on one pipeline-health metric.
type AlerterRule struct {
	Name      string  `yaml:"name"`
	Metric    string  `yaml:"metric"`
	Operator  string  `yaml:"operator"`
	Threshold float64 `yaml:"threshold"`
}

// AlerterConfig enables periodic pipeline-health checks.
type AlerterConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval string        `yaml:"check_interval"`
	Rules         []AlerterRule `yaml:"rules"`

	CheckIntervalDuration time.Duration `yaml:"-"`
}

// ProbeConfig tunes the sample simulator.
type ProbeConfig struct {
	EndpointID int    `yaml:"endpoint_id"`
	Instances  int    `yaml:"instances"`
	Interval   string `yaml:"interval"`

	IntervalDuration time.Duration `yaml:"-"`
}

// Config is the top-level configuration for the entire application.
type Config struct {
	NATS       NATSConfig       `yaml:"nats"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Engine     EngineConfig     `yaml:"engine"`
	Writer     WriterConfig     `yaml:"writer"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	API        APIConfig        `yaml:"api"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	Alerter    AlerterConfig    `yaml:"alerter"`
	Probe      ProbeConfig      `yaml:"probe"`
}

// LoadConfig reads the configuration from a YAML file, applies defaults and
// validates it.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every field at its default value.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		panic(err) // defaults are always valid
	}
	return cfg
}

func (c *Config) applyDefaults() {
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "tunnelspectra.samples"
	}
	if c.ClickHouse.Host == "" {
		c.ClickHouse.Host = "127.0.0.1"
	}
	if c.ClickHouse.Port == 0 {
		c.ClickHouse.Port = 9000
	}
	if c.ClickHouse.Database == "" {
		c.ClickHouse.Database = "default"
	}
	if c.Engine.NumWorkers <= 0 {
		c.Engine.NumWorkers = 4
	}
	if c.Engine.QueueSize <= 0 {
		c.Engine.QueueSize = 1024
	}
	if c.Engine.FlushSize <= 0 {
		c.Engine.FlushSize = 30
	}
	if c.Engine.FlushWindow == "" {
		c.Engine.FlushWindow = "90s"
	}
	if c.Engine.DeltaCeiling == 0 {
		c.Engine.DeltaCeiling = 10 << 30 // 10 GiB between two samples is never real traffic
	}
	if c.Writer.QueueSize <= 0 {
		c.Writer.QueueSize = 256
	}
	if c.Writer.BatchSize <= 0 {
		c.Writer.BatchSize = 64
	}
	if c.Writer.FlushInterval == "" {
		c.Writer.FlushInterval = "5s"
	}
	if c.Writer.MaxRetries <= 0 {
		c.Writer.MaxRetries = 3
	}
	if c.Writer.RetryBackoff == "" {
		c.Writer.RetryBackoff = "500ms"
	}
	if c.Scheduler.HourlyArchive == "" {
		c.Scheduler.HourlyArchive = "@hourly"
	}
	if c.Scheduler.DailyCleanup == "" {
		c.Scheduler.DailyCleanup = "@daily"
	}
	if c.Scheduler.WeeklyCleanup == "" {
		c.Scheduler.WeeklyCleanup = "@weekly"
	}
	if c.Scheduler.MetricsRetention == "" {
		c.Scheduler.MetricsRetention = "168h" // 7 days
	}
	if c.Scheduler.HourlyRetention == "" {
		c.Scheduler.HourlyRetention = "2160h" // 90 days
	}
	if c.Scheduler.StartupCleanupTimeout == "" {
		c.Scheduler.StartupCleanupTimeout = "30s"
	}
	if c.Scheduler.DrainTimeout == "" {
		c.Scheduler.DrainTimeout = "10s"
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.Alerter.CheckInterval == "" {
		c.Alerter.CheckInterval = "1m"
	}
	if c.Probe.EndpointID <= 0 {
		c.Probe.EndpointID = 1
	}
	if c.Probe.Instances <= 0 {
		c.Probe.Instances = 5
	}
	if c.Probe.Interval == "" {
		c.Probe.Interval = "1s"
	}
}

func (c *Config) validate() error {
	var err error
	parse := func(name, value string) time.Duration {
		if err != nil {
			return 0
		}
		var d time.Duration
		if d, err = time.ParseDuration(value); err != nil {
			err = fmt.Errorf("invalid %s %q: %w", name, value, err)
			return 0
		}
		if d <= 0 {
			err = fmt.Errorf("%s must be a positive duration, got %q", name, value)
			return 0
		}
		return d
	}

	c.Engine.FlushWindowDuration = parse("engine.flush_window", c.Engine.FlushWindow)
	c.Writer.FlushIntervalDuration = parse("writer.flush_interval", c.Writer.FlushInterval)
	c.Writer.RetryBackoffDuration = parse("writer.retry_backoff", c.Writer.RetryBackoff)
	c.Scheduler.MetricsRetentionDuration = parse("scheduler.metrics_retention", c.Scheduler.MetricsRetention)
	c.Scheduler.HourlyRetentionDuration = parse("scheduler.hourly_retention", c.Scheduler.HourlyRetention)
	c.Scheduler.StartupCleanupTimeoutDuration = parse("scheduler.startup_cleanup_timeout", c.Scheduler.StartupCleanupTimeout)
	c.Scheduler.DrainTimeoutDuration = parse("scheduler.drain_timeout", c.Scheduler.DrainTimeout)
	c.Alerter.CheckIntervalDuration = parse("alerter.check_interval", c.Alerter.CheckInterval)
	c.Probe.IntervalDuration = parse("probe.interval", c.Probe.Interval)
	return err
}
