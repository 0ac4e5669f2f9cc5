// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	NATS     NATSConfig     `yaml:"nats"`
	LevelDB  LevelDBConfig  `yaml:"leveldb"`
	Postgres PostgresConfig `yaml:"postgres"`
	Log      LogConfig      `yaml:"log"`
	Hub      HubConfig      `yaml:"hub"`
	Pool     PoolConfig     `yaml:"pool"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`
	WriteTimeout int    `yaml:"writeTimeout"`
}

// NATSConfig holds the external bus configuration. An empty URL runs the hub on an in-memory bus.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	MaxReconnects int           `yaml:"maxReconnects"`
	ReconnectWait time.Duration `yaml:"reconnectWait"`
}

// LevelDBConfig holds the entity snapshot store configuration. An empty path disables it.
type LevelDBConfig struct {
	Path             string        `yaml:"path"`
	TTL              time.Duration `yaml:"ttl"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// PostgresConfig holds the event archive configuration. An empty URL disables it.
type PostgresConfig struct {
	URL             string        `yaml:"-"`
	ArchiveInterval time.Duration `yaml:"archiveInterval"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"` // stdout, stderr or file

	// Rotation settings, used when Output is "file"
	FilePath   string `yaml:"filePath"`
	MaxSize    int    `yaml:"maxSize"` // MB
	MaxBackups int    `yaml:"maxBackups"`
	MaxAge     int    `yaml:"maxAge"` // days
	Compress   bool   `yaml:"compress"`
}

// HubConfig holds the coordinator's cadences and bounds
type HubConfig struct {
	EventLogCapacity  int           `yaml:"eventLogCapacity"`
	AnalyticsInterval time.Duration `yaml:"analyticsInterval"`
	AnalyticsMetric   string        `yaml:"analyticsMetric"`
	TelemetryInterval time.Duration `yaml:"telemetryInterval"`
	QueueCapacity     int           `yaml:"queueCapacity"`
	DrainInterval     time.Duration `yaml:"drainInterval"`
	BatchSize         int           `yaml:"batchSize"`
	OutboundChannel   string        `yaml:"outboundChannel"`
	InboundChannels   []string      `yaml:"inboundChannels"`
	ShutdownTimeout   int           `yaml:"shutdownTimeout"`
}

// ResourceConfig declares one execution resource
type ResourceConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Capacity int    `yaml:"capacity"`
}

// PoolConfig holds execution pool configuration. A zero RateLimit disables rate limiting.
type PoolConfig struct {
	Resources []ResourceConfig `yaml:"resources"`
	RateLimit float64          `yaml:"rateLimit"`
	Burst     int              `yaml:"burst"`
}

// Default configuration values
const (
	DefaultServerPort         = "8080"
	DefaultServerReadTimeout  = 30
	DefaultServerWriteTimeout = 30
	DefaultNATSName           = "cmdhub"
	DefaultNATSMaxReconnects  = 10
	DefaultNATSReconnectWait  = 2 * time.Second
	DefaultLevelDBTTL         = 24 * time.Hour
	DefaultSnapshotInterval   = 30 * time.Second
	DefaultArchiveInterval    = 10 * time.Second
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultLogOutput          = "stdout"
	DefaultLogMaxSize         = 100
	DefaultLogMaxBackups      = 5
	DefaultLogMaxAge          = 30
	DefaultEventLogCapacity   = 1000
	DefaultAnalyticsInterval  = time.Second
	DefaultAnalyticsMetric    = "load"
	DefaultTelemetryInterval  = time.Second
	DefaultQueueCapacity      = 1000
	DefaultDrainInterval      = 100 * time.Millisecond
	DefaultBatchSize          = 10
	DefaultOutboundChannel    = "cmdhub.events"
	DefaultShutdownTimeout    = 30
	DefaultResourceCapacity   = 2
)

// DefaultInboundChannels are the bus channels bridged into the event log
var DefaultInboundChannels = []string{
	"system-status",
	"predictive-alert",
	"maintenance-request",
	"operations",
}

// DefaultResources mirrors the three compute cores of the reference deployment
var DefaultResources = []ResourceConfig{
	{ID: "compute-1", Name: "Compute Core 1", Capacity: DefaultResourceCapacity},
	{ID: "compute-2", Name: "Compute Core 2", Capacity: DefaultResourceCapacity},
	{ID: "compute-3", Name: "Compute Core 3", Capacity: DefaultResourceCapacity},
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration retrieves an environment variable as a duration or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orDuration(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}

// Default returns a configuration populated only with defaults
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads the YAML file at configPath (a missing file means defaults) and applies
// CMDHUB_* environment overrides
func Load(configPath string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config.applyDefaults()
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	c.Server.Port = orString(c.Server.Port, DefaultServerPort)
	c.Server.ReadTimeout = orInt(c.Server.ReadTimeout, DefaultServerReadTimeout)
	c.Server.WriteTimeout = orInt(c.Server.WriteTimeout, DefaultServerWriteTimeout)

	c.NATS.Name = orString(c.NATS.Name, DefaultNATSName)
	c.NATS.MaxReconnects = orInt(c.NATS.MaxReconnects, DefaultNATSMaxReconnects)
	c.NATS.ReconnectWait = orDuration(c.NATS.ReconnectWait, DefaultNATSReconnectWait)

	c.LevelDB.TTL = orDuration(c.LevelDB.TTL, DefaultLevelDBTTL)
	c.LevelDB.SnapshotInterval = orDuration(c.LevelDB.SnapshotInterval, DefaultSnapshotInterval)
	c.Postgres.ArchiveInterval = orDuration(c.Postgres.ArchiveInterval, DefaultArchiveInterval)

	c.Log.Level = orString(c.Log.Level, DefaultLogLevel)
	c.Log.Format = orString(c.Log.Format, DefaultLogFormat)
	c.Log.Output = orString(c.Log.Output, DefaultLogOutput)
	c.Log.MaxSize = orInt(c.Log.MaxSize, DefaultLogMaxSize)
	c.Log.MaxBackups = orInt(c.Log.MaxBackups, DefaultLogMaxBackups)
	c.Log.MaxAge = orInt(c.Log.MaxAge, DefaultLogMaxAge)

	c.Hub.EventLogCapacity = orInt(c.Hub.EventLogCapacity, DefaultEventLogCapacity)
	c.Hub.AnalyticsInterval = orDuration(c.Hub.AnalyticsInterval, DefaultAnalyticsInterval)
	c.Hub.AnalyticsMetric = orString(c.Hub.AnalyticsMetric, DefaultAnalyticsMetric)
	c.Hub.TelemetryInterval = orDuration(c.Hub.TelemetryInterval, DefaultTelemetryInterval)
	c.Hub.QueueCapacity = orInt(c.Hub.QueueCapacity, DefaultQueueCapacity)
	c.Hub.DrainInterval = orDuration(c.Hub.DrainInterval, DefaultDrainInterval)
	c.Hub.BatchSize = orInt(c.Hub.BatchSize, DefaultBatchSize)
	c.Hub.OutboundChannel = orString(c.Hub.OutboundChannel, DefaultOutboundChannel)
	c.Hub.ShutdownTimeout = orInt(c.Hub.ShutdownTimeout, DefaultShutdownTimeout)
	if len(c.Hub.InboundChannels) == 0 {
		c.Hub.InboundChannels = append([]string(nil), DefaultInboundChannels...)
	}

	if len(c.Pool.Resources) == 0 {
		c.Pool.Resources = append([]ResourceConfig(nil), DefaultResources...)
	}
	for i := range c.Pool.Resources {
		r := &c.Pool.Resources[i]
		r.Capacity = orInt(r.Capacity, DefaultResourceCapacity)
		r.Name = orString(r.Name, r.ID)
	}
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("CMDHUB_SERVER_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvInt("CMDHUB_SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvInt("CMDHUB_SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)

	c.NATS.URL = getEnv("CMDHUB_NATS_URL", c.NATS.URL)
	c.LevelDB.Path = getEnv("CMDHUB_LEVELDB_PATH", c.LevelDB.Path)
	c.Postgres.URL = getEnv("CMDHUB_POSTGRES_URL", c.Postgres.URL)

	c.Log.Level = getEnv("CMDHUB_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("CMDHUB_LOG_FORMAT", c.Log.Format)
	c.Log.Output = getEnv("CMDHUB_LOG_OUTPUT", c.Log.Output)
	c.Log.FilePath = getEnv("CMDHUB_LOG_FILE", c.Log.FilePath)

	c.Hub.AnalyticsInterval = getEnvDuration("CMDHUB_ANALYTICS_INTERVAL", c.Hub.AnalyticsInterval)
	c.Hub.TelemetryInterval = getEnvDuration("CMDHUB_TELEMETRY_INTERVAL", c.Hub.TelemetryInterval)
	c.Hub.DrainInterval = getEnvDuration("CMDHUB_DRAIN_INTERVAL", c.Hub.DrainInterval)
	c.Hub.BatchSize = getEnvInt("CMDHUB_BATCH_SIZE", c.Hub.BatchSize)
	if channels := getEnv("CMDHUB_INBOUND_CHANNELS", ""); channels != "" {
		c.Hub.InboundChannels = strings.Split(channels, ",")
	}
}

// Validate rejects configurations the hub cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Hub.EventLogCapacity <= 0 {
		errs = append(errs, fmt.Errorf("hub.eventLogCapacity must be positive"))
	}
	if c.Hub.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("hub.queueCapacity must be positive"))
	}
	if c.Hub.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("hub.batchSize must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"hub.analyticsInterval": c.Hub.AnalyticsInterval,
		"hub.telemetryInterval": c.Hub.TelemetryInterval,
		"hub.drainInterval":     c.Hub.DrainInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	seen := make(map[string]bool)
	for _, r := range c.Pool.Resources {
		if r.ID == "" {
			errs = append(errs, fmt.Errorf("pool resource without id"))
			continue
		}
		if seen[r.ID] {
			errs = append(errs, fmt.Errorf("duplicate pool resource %s", r.ID))
		}
		seen[r.ID] = true
		if r.Capacity <= 0 {
			errs = append(errs, fmt.Errorf("pool resource %s: capacity must be positive", r.ID))
		}
	}
	if c.Pool.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("pool.rateLimit must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
