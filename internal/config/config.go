package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8050"`

	Kafka     KafkaConfig     `envPrefix:"KAFKA_"`
	InfluxDB  InfluxDBConfig  `envPrefix:"INFLUXDB_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	Topology  TopologyConfig  `envPrefix:"TOPOLOGY_"`
	Window    WindowConfig    `envPrefix:"WINDOW_"`
	Processor ProcessorConfig `envPrefix:"PROCESSOR_"`
}

// KafkaConfig holds Kafka-related configuration
type KafkaConfig struct {
	Enabled       bool          `env:"ENABLED" envDefault:"true"`
	Brokers       []string      `env:"BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	Topic         string        `env:"TOPIC" envDefault:"BroadcastTopic"`
	GroupID       string        `env:"GROUP_ID" envDefault:"smart-grid-reconciler"`
	ConsumerCount int           `env:"CONSUMER_COUNT" envDefault:"1"`
	BatchSize     int           `env:"BATCH_SIZE" envDefault:"500"`
	BatchTimeout  time.Duration `env:"BATCH_TIMEOUT" envDefault:"1s"`
}

// InfluxDBConfig holds InfluxDB-related configuration
type InfluxDBConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"false"`
	URL     string `env:"URL" envDefault:"http://localhost:8086"`
	Org     string `env:"ORG" envDefault:"grid"`
	Token   string `env:"TOKEN"`
	Bucket  string `env:"BUCKET" envDefault:"grid-reconciliation"`
}

// RedisConfig holds the snapshot cache configuration
type RedisConfig struct {
	Enabled  bool          `env:"ENABLED" envDefault:"false"`
	URL      string        `env:"URL" envDefault:"redis://localhost:6379"`
	Password string        `env:"PASSWORD"`
	TTL      time.Duration `env:"TTL" envDefault:"2m"`
}

// TopologyConfig points at the static meter catalog and hierarchy tables.
// Either File (YAML) or both CatalogFile and HierarchyFile (CSV) are used.
type TopologyConfig struct {
	File          string `env:"FILE"`
	CatalogFile   string `env:"CATALOG_FILE" envDefault:"meters.csv"`
	HierarchyFile string `env:"HIERARCHY_FILE" envDefault:"parent_child.csv"`
	// Zone of the device timestamps, which carry no offset
	TimeZone string `env:"TIME_ZONE" envDefault:"Local"`
}

// WindowConfig holds aggregation window configuration
type WindowConfig struct {
	Length time.Duration `env:"LENGTH" envDefault:"15m"`
	Slack  time.Duration `env:"SLACK" envDefault:"1m"`
	Anchor string        `env:"ANCHOR" envDefault:"latest"`
	// Zero means twice the window plus slack
	Retention time.Duration `env:"RETENTION"`
}

// ProcessorConfig holds processor-related configuration
type ProcessorConfig struct {
	WorkerCount int           `env:"WORKER_COUNT" envDefault:"4"`
	QueueSize   int           `env:"QUEUE_SIZE" envDefault:"10000"`
	Interval    time.Duration `env:"INTERVAL" envDefault:"5s"`
	// Scope roots reconciled on every tick; empty means every hierarchy root
	ScopeRoots     []int64       `env:"SCOPE_ROOTS" envSeparator:","`
	PublishTimeout time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"3s"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	for i := range cfg.Kafka.Brokers {
		cfg.Kafka.Brokers[i] = strings.TrimSpace(cfg.Kafka.Brokers[i])
	}
	if cfg.Window.Retention == 0 {
		cfg.Window.Retention = 2*cfg.Window.Length + cfg.Window.Slack
	}

	return cfg, nil
}

// Location resolves the device time zone
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Topology.TimeZone)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Brokers[0] == "" {
			return fmt.Errorf("at least one kafka broker must be configured")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic cannot be empty")
		}
		if c.Kafka.ConsumerCount <= 0 {
			return fmt.Errorf("kafka consumer count must be greater than 0")
		}
		if c.Kafka.BatchSize <= 0 {
			return fmt.Errorf("kafka batch size must be greater than 0")
		}
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		return fmt.Errorf("influxdb url and bucket are required when influxdb is enabled")
	}

	if c.Redis.Enabled && c.Redis.TTL < time.Second {
		return fmt.Errorf("redis TTL must be at least 1 second")
	}

	if c.Topology.File == "" && (c.Topology.CatalogFile == "" || c.Topology.HierarchyFile == "") {
		return fmt.Errorf("either a topology file or both catalog and hierarchy files must be configured")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid time zone %q: %w", c.Topology.TimeZone, err)
	}

	if c.Window.Length < time.Minute {
		return fmt.Errorf("window length must be at least 1 minute")
	}
	if c.Window.Slack < 0 {
		return fmt.Errorf("window slack cannot be negative")
	}
	if c.Window.Anchor != "latest" && c.Window.Anchor != "wallclock" {
		return fmt.Errorf("window anchor must be 'latest' or 'wallclock', got %q", c.Window.Anchor)
	}
	if c.Window.Retention < c.Window.Length+c.Window.Slack {
		return fmt.Errorf("retention %s is shorter than the window", c.Window.Retention)
	}

	if c.Processor.WorkerCount <= 0 {
		return fmt.Errorf("processor worker count must be greater than 0")
	}
	if c.Processor.QueueSize <= 0 {
		return fmt.Errorf("processor queue size must be greater than 0")
	}
	if c.Processor.Interval < 100*time.Millisecond {
		return fmt.Errorf("processor interval must be at least 100ms")
	}

	return nil
}
