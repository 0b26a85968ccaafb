package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lechuhuuha/memcload/internal/domain"
	"github.com/lechuhuuha/memcload/util"
)

// Cache backends.
const (
	BackendMemcache = "memcache"
	BackendRedis    = "redis"
)

// Dispatcher isolation modes.
const (
	IsolationProcess   = "process"
	IsolationGoroutine = "goroutine"
)

// Report backends.
const (
	ReportNone  = "none"
	ReportFile  = "file"
	ReportMinIO = "minio"
)

// Config models the YAML configuration file.
type Config struct {
	Pattern         string             `yaml:"pattern"`
	ProcessedPrefix string             `yaml:"processedPrefix"`
	DryRun          bool               `yaml:"dryRun"`
	LogFile         string             `yaml:"logFile"`
	Destinations    map[string]string  `yaml:"destinations"`
	Cache           CacheSettings      `yaml:"cache"`
	Pipeline        PipelineSettings   `yaml:"pipeline"`
	Dispatcher      DispatcherSettings `yaml:"dispatcher"`
	DeadLetter      DeadLetterSettings `yaml:"deadLetter"`
	Report          ReportSettings     `yaml:"report"`
	Metrics         MetricsSettings    `yaml:"metrics"`
}

// CacheSettings configures cache clients and write retries.
type CacheSettings struct {
	Backend       string        `yaml:"backend"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"maxRetries"`
	BackoffFactor time.Duration `yaml:"backoffFactor"`
	// PoolSize bounds clients per destination. Zero means one per worker.
	PoolSize     int `yaml:"poolSize"`
	MaxIdleConns int `yaml:"maxIdleConns"`
	RedisDB      int `yaml:"redisDB"`
}

// PipelineSettings tunes the per-file pipeline.
type PipelineSettings struct {
	Workers            int     `yaml:"workers"`
	JobQueueSize       int     `yaml:"jobQueueSize"`
	BatchSize          int     `yaml:"batchSize"`
	Mode               string  `yaml:"mode"`
	ErrorRateThreshold float64 `yaml:"errorRateThreshold"`
}

// DispatcherSettings controls file fan-out.
type DispatcherSettings struct {
	Processes int    `yaml:"processes"`
	Isolation string `yaml:"isolation"`
}

// DeadLetterSettings selects where undeliverable records are recorded.
type DeadLetterSettings struct {
	Dir   string        `yaml:"dir"`
	Kafka KafkaSettings `yaml:"kafka"`
}

// KafkaSettings captures Kafka dead-letter topic configuration.
type KafkaSettings struct {
	Brokers        []string      `yaml:"brokers"`
	Topic          string        `yaml:"topic"`
	BatchSize      int           `yaml:"batchSize"`
	BatchTimeout   time.Duration `yaml:"batchTimeout"`
	RequireAllAcks bool          `yaml:"requireAllAcks"`
}

// ReportSettings selects where run reports are stored.
type ReportSettings struct {
	Backend string        `yaml:"backend"`
	Dir     string        `yaml:"dir"`
	MinIO   MinIOSettings `yaml:"minio"`
}

// MinIOSettings configures the report bucket.
type MinIOSettings struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
	Prefix    string `yaml:"prefix"`
}

// MetricsSettings configures the metrics endpoint and Pushgateway.
type MetricsSettings struct {
	Addr        string `yaml:"addr"`
	PushGateway string `yaml:"pushGateway"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load parses a YAML configuration file from disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Pattern) == "" {
		c.Pattern = util.DefaultPattern
	}
	if c.ProcessedPrefix == "" {
		c.ProcessedPrefix = "."
	}
	if c.Destinations == nil {
		c.Destinations = map[string]string{
			"idfa": util.DefaultIdfaAddr,
			"gaid": util.DefaultGaidAddr,
			"adid": util.DefaultAdidAddr,
			"dvid": util.DefaultDvidAddr,
		}
	}
	c.Cache.applyDefaults()
	c.Pipeline.applyDefaults()
	c.Dispatcher.applyDefaults()
	c.DeadLetter.Kafka.applyDefaults()
	c.Report.applyDefaults()
}

func (c *CacheSettings) applyDefaults() {
	if strings.TrimSpace(c.Backend) == "" {
		c.Backend = BackendMemcache
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = 300 * time.Millisecond
	}
}

func (p *PipelineSettings) applyDefaults() {
	if p.Workers == 0 {
		p.Workers = 4
	}
	if p.JobQueueSize == 0 {
		p.JobQueueSize = 10000
	}
	if p.BatchSize == 0 {
		p.BatchSize = 5000
	}
	if strings.TrimSpace(p.Mode) == "" {
		p.Mode = domain.ModeBatch.String()
	}
	if p.ErrorRateThreshold == 0 {
		p.ErrorRateThreshold = 0.01
	}
}

func (d *DispatcherSettings) applyDefaults() {
	if strings.TrimSpace(d.Isolation) == "" {
		d.Isolation = IsolationProcess
	}
}

func (k *KafkaSettings) applyDefaults() {
	if strings.TrimSpace(k.Topic) == "" {
		k.Topic = "memcload-deadletter"
	}
	if k.BatchSize == 0 {
		k.BatchSize = 100
	}
	if k.BatchTimeout == 0 {
		k.BatchTimeout = time.Second
	}
}

func (r *ReportSettings) applyDefaults() {
	if strings.TrimSpace(r.Backend) == "" {
		r.Backend = ReportNone
	}
	if strings.TrimSpace(r.Dir) == "" {
		r.Dir = "reports"
	}
}

// Validate rejects values that defaults cannot repair.
func (c *Config) Validate() error {
	if _, err := domain.ParseWriteMode(c.Pipeline.Mode); err != nil {
		return fmt.Errorf("pipeline.mode: %w", err)
	}
	switch c.Cache.Backend {
	case BackendMemcache, BackendRedis:
	default:
		return fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend)
	}
	switch c.Dispatcher.Isolation {
	case IsolationProcess, IsolationGoroutine:
	default:
		return fmt.Errorf("dispatcher.isolation: unknown mode %q", c.Dispatcher.Isolation)
	}
	switch c.Report.Backend {
	case ReportNone, ReportFile, ReportMinIO:
	default:
		return fmt.Errorf("report.backend: unknown backend %q", c.Report.Backend)
	}
	if c.Pipeline.Workers < 0 || c.Pipeline.BatchSize < 0 || c.Pipeline.JobQueueSize < 0 {
		return fmt.Errorf("pipeline: sizes must not be negative")
	}
	if c.Pipeline.ErrorRateThreshold < 0 || c.Pipeline.ErrorRateThreshold > 1 {
		return fmt.Errorf("pipeline.errorRateThreshold: %v out of range [0,1]", c.Pipeline.ErrorRateThreshold)
	}
	return nil
}

// WriteMode returns the parsed pipeline mode.
func (c *Config) WriteMode() domain.WriteMode {
	mode, err := domain.ParseWriteMode(c.Pipeline.Mode)
	if err != nil {
		return domain.ModeBatch
	}
	return mode
}

// DestinationMap builds the read-only device type to address map.
func (c *Config) DestinationMap() domain.Destinations {
	return domain.NewDestinations(c.Destinations)
}
