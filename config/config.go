package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/resilience"
)

// Engine defaults.
const (
	DefaultPrefetch          = 32
	DefaultBoundedQueue      = 100000
	DefaultBoundedTTL        = 60 * time.Second
	DefaultTracingEndpoint   = "localhost:4318"
	DefaultMetricsInterval   = 15 * time.Second
	DefaultTracingSampleRate = 1.0
)

// Config is the engine configuration.
//
// Example config.yml:
//
//	name: orders
//	environment: production
//	logging:
//	  level: info
//	  format: json
//	schedulers:
//	  bounded:
//	    max_workers: 32
//	    ttl: 30s
//	stream:
//	  prefetch: 64
//	observability:
//	  tracing: true
//	  endpoint: otel-collector:4318
type Config struct {
	Name        string `yaml:"name" mapstructure:"name" validate:"required"`
	Environment string `yaml:"environment" mapstructure:"environment" validate:"oneof=development staging production"`
	Version     string `yaml:"version" mapstructure:"version"`
	Debug       bool   `yaml:"debug" mapstructure:"debug"`

	Logging       logger.Config       `yaml:"logging" mapstructure:"logging"`
	Schedulers    SchedulersConfig    `yaml:"schedulers" mapstructure:"schedulers"`
	Stream        StreamConfig        `yaml:"stream" mapstructure:"stream"`
	Retry         RetryConfig         `yaml:"retry" mapstructure:"retry"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
}

// SchedulersConfig sizes the shared schedulers.
type SchedulersConfig struct {
	Bounded  BoundedConfig  `yaml:"bounded" mapstructure:"bounded"`
	Parallel ParallelConfig `yaml:"parallel" mapstructure:"parallel"`
}

// BoundedConfig configures the bounded elastic pool used for blocking work.
type BoundedConfig struct {
	MaxWorkers int           `yaml:"max_workers" mapstructure:"max_workers" validate:"gte=1"`
	MaxQueued  int           `yaml:"max_queued" mapstructure:"max_queued" validate:"gte=1"`
	TTL        time.Duration `yaml:"ttl" mapstructure:"ttl" validate:"gte=0"`
}

// ParallelConfig configures the fixed pool used for CPU-bound work.
type ParallelConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers" validate:"gte=1"`
}

// StreamConfig holds engine-wide stream settings.
type StreamConfig struct {
	Prefetch        int  `yaml:"prefetch" mapstructure:"prefetch" validate:"gte=1"`
	AssemblyTracing bool `yaml:"assembly_tracing" mapstructure:"assembly_tracing"`
}

// RetryConfig is the default backoff retry policy.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries" mapstructure:"max_retries" validate:"gte=0"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff" validate:"gt=0"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff" validate:"gtefield=InitialBackoff"`
	Factor         float64       `yaml:"factor" mapstructure:"factor" validate:"gte=1"`
	Jitter         float64       `yaml:"jitter" mapstructure:"jitter" validate:"gte=0,lte=1"`
}

// Policy converts the configuration into a resilience.RetryPolicy using the
// default retry predicate.
func (c RetryConfig) Policy() resilience.RetryPolicy {
	p := resilience.DefaultRetryPolicy()
	p.MaxRetries = c.MaxRetries
	p.InitialBackoff = c.InitialBackoff
	p.MaxBackoff = c.MaxBackoff
	p.BackoffFactor = c.Factor
	p.Jitter = c.Jitter
	return p
}

// ObservabilityConfig enables OpenTelemetry export.
type ObservabilityConfig struct {
	Tracing    bool          `yaml:"tracing" mapstructure:"tracing"`
	Metrics    bool          `yaml:"metrics" mapstructure:"metrics"`
	Endpoint   string        `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure   bool          `yaml:"insecure" mapstructure:"insecure"`
	SampleRate float64       `yaml:"sample_rate" mapstructure:"sample_rate" validate:"gte=0,lte=1"`
	Interval   time.Duration `yaml:"interval" mapstructure:"interval" validate:"gte=0"`
}

// Enabled reports whether any exporter is on.
func (c ObservabilityConfig) Enabled() bool { return c.Tracing || c.Metrics }

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Environment == "development" {
		c.Debug = true
	}
	if c.Logging.ServiceName == "" && c.Name != "" {
		c.Logging.ServiceName = c.Name
	}
	c.Logging.ApplyDefaults()

	cpus := runtime.NumCPU()
	if c.Schedulers.Bounded.MaxWorkers == 0 {
		c.Schedulers.Bounded.MaxWorkers = 10 * cpus
	}
	if c.Schedulers.Bounded.MaxQueued == 0 {
		c.Schedulers.Bounded.MaxQueued = DefaultBoundedQueue
	}
	if c.Schedulers.Bounded.TTL == 0 {
		c.Schedulers.Bounded.TTL = DefaultBoundedTTL
	}
	if c.Schedulers.Parallel.Workers == 0 {
		c.Schedulers.Parallel.Workers = cpus
	}
	if c.Stream.Prefetch == 0 {
		c.Stream.Prefetch = DefaultPrefetch
	}

	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = resilience.DefaultMaxRetries
	}
	if c.Retry.InitialBackoff == 0 {
		c.Retry.InitialBackoff = resilience.DefaultInitialBackoff
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = resilience.DefaultMaxBackoff
	}
	if c.Retry.Factor == 0 {
		c.Retry.Factor = resilience.DefaultBackoffFactor
	}

	if c.Observability.Endpoint == "" {
		c.Observability.Endpoint = DefaultTracingEndpoint
	}
	if c.Observability.SampleRate == 0 {
		c.Observability.SampleRate = DefaultTracingSampleRate
	}
	if c.Observability.Interval == 0 {
		c.Observability.Interval = DefaultMetricsInterval
	}
}

// Validate checks the struct tags and the logging settings.
func (c *Config) Validate() error {
	if err := validateStruct(c); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("config.logging: %w", err)
	}
	return nil
}
