// Package config provides configuration management for the huddle CLI.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/AshkanYarmoradi/go-huddle"
)

// ConfigFileName is the default config file name
const ConfigFileName = "huddle.yaml"

// Environment variables that override file values.
const (
	EnvDatabaseURL   = "HUDDLE_DATABASE_URL"
	EnvRedisAddr     = "HUDDLE_REDIS_ADDR"
	EnvPublisherMode = "HUDDLE_PUBLISHER_MODE"
	EnvLogLevel      = "HUDDLE_LOG_LEVEL"
)

// Database drivers accepted by the CLI.
const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverMemory   = "memory"
	DriverRedis    = "redis"

	// Payload codecs
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// Config represents the huddle CLI configuration
type Config struct {
	// Version of the config file format
	Version string `yaml:"version"`

	Project    ProjectConfig    `yaml:"project"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	EventStore EventStoreConfig `yaml:"eventstore"`
	Publisher  PublisherConfig  `yaml:"publisher"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ProjectConfig contains project-level settings
type ProjectConfig struct {
	Name string `yaml:"name"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	// Driver is one of postgres (lib/pq), pgx, memory or redis
	Driver string `yaml:"driver"`

	URL            string `yaml:"url,omitempty"`
	Schema         string `yaml:"schema"`
	MaxConnections int    `yaml:"max_connections"`
}

// RedisConfig contains settings for the redis driver
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// EventStoreConfig contains repository settings
type EventStoreConfig struct {
	SnapshotFrequency int    `yaml:"snapshot_frequency"`
	Codec             string `yaml:"codec"`
}

// PublisherConfig selects the publishing strategy and its subscribers.
// A subscriber is enabled when its address is set.
type PublisherConfig struct {
	Mode    string        `yaml:"mode"`
	Workers int           `yaml:"workers"`
	Buffer  int           `yaml:"buffer"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	NATS    NATSConfig    `yaml:"nats"`
	Webhook WebhookConfig `yaml:"webhook"`
	SNS     SNSConfig     `yaml:"sns"`
}

// KafkaConfig configures the kafka subscriber
type KafkaConfig struct {
	Brokers []string `yaml:"brokers,omitempty"`
	Topic   string   `yaml:"topic,omitempty"`
}

// NATSConfig configures the nats subscriber
type NATSConfig struct {
	URL     string `yaml:"url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// WebhookConfig configures the webhook subscriber
type WebhookConfig struct {
	URL     string        `yaml:"url,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// SNSConfig configures the sns subscriber
type SNSConfig struct {
	TopicARN string `yaml:"topic_arn,omitempty"`
	Region   string `yaml:"region,omitempty"`
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// TracingConfig toggles span export
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Project: ProjectConfig{
			Name: "huddle",
		},
		Database: DatabaseConfig{
			Driver:         DriverMemory,
			Schema:         "huddle",
			MaxConnections: 10,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "huddle",
		},
		EventStore: EventStoreConfig{
			SnapshotFrequency: huddle.SnapshotFrequency,
			Codec:             CodecJSON,
		},
		Publisher: PublisherConfig{
			Mode:    string(huddle.PublisherSync),
			Workers: 4,
			Buffer:  64,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// Load loads configuration from the specified directory
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile loads configuration from a specific file path. Values missing
// from the file keep their defaults and ${VAR} references are expanded.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// LoadDotEnv loads the given .env files into the process environment.
// Variables already set win. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides file values with HUDDLE_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv(EnvPublisherMode); v != "" {
		c.Publisher.Mode = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
}

// Save saves the configuration to the specified directory
func (c *Config) Save(dir string) error {
	return c.SaveFile(filepath.Join(dir, ConfigFileName))
}

// SaveFile saves the configuration to a specific file path
func (c *Config) SaveFile(path string) error {
	data, err := GenerateYAML(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(data), 0644)
}

// Exists checks if a config file exists in the directory
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// FindConfig searches for a config file starting from dir and going up
func FindConfig(dir string) (string, *Config, error) {
	current := dir
	for {
		configPath := filepath.Join(current, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			cfg, err := LoadFile(configPath)
			if err != nil {
				return "", nil, err
			}
			return current, cfg, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", nil, os.ErrNotExist
		}
		current = parent
	}
}

// Validate validates the configuration
func (c *Config) Validate() []string {
	var problems []string

	if c.Project.Name == "" {
		problems = append(problems, "project.name is required")
	}

	switch c.Database.Driver {
	case DriverPostgres, DriverPgx:
		if c.Database.URL == "" {
			problems = append(problems, "database.url is required for the "+c.Database.Driver+" driver")
		}
	case DriverRedis:
		if c.Redis.Addr == "" {
			problems = append(problems, "redis.addr is required for the redis driver")
		}
	case DriverMemory:
	case "":
		problems = append(problems, "database.driver is required")
	default:
		problems = append(problems, "database.driver must be one of postgres, pgx, memory, redis")
	}

	if c.EventStore.SnapshotFrequency < 1 {
		problems = append(problems, "eventstore.snapshot_frequency must be at least 1")
	}
	if c.EventStore.Codec != CodecJSON && c.EventStore.Codec != CodecMsgpack {
		problems = append(problems, "eventstore.codec must be json or msgpack")
	}

	if _, err := huddle.ParsePublisherMode(c.Publisher.Mode); err != nil {
		problems = append(problems, "publisher.mode must be sync or async")
	}
	if c.Publisher.Workers < 0 {
		problems = append(problems, "publisher.workers must not be negative")
	}
	if len(c.Publisher.Kafka.Brokers) > 0 && c.Publisher.Kafka.Topic == "" {
		problems = append(problems, "publisher.kafka.topic is required when brokers are set")
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		problems = append(problems, "logging.level "+strconv.Quote(c.Logging.Level)+" is not a valid level")
	}
	if c.Logging.Encoding != "json" && c.Logging.Encoding != "console" {
		problems = append(problems, "logging.encoding must be json or console")
	}

	return problems
}

// NewLogger builds a zap.Logger writing to w. Unknown levels fall back to info.
func (l LoggingConfig) NewLogger(w io.Writer) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(l.Encoding) {
	case "console":
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	default:
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(w)), level)
	return zap.New(core)
}

const yamlHeader = `# huddle configuration file
#
# ${VAR} references are expanded when the file is loaded.
# HUDDLE_DATABASE_URL, HUDDLE_REDIS_ADDR, HUDDLE_PUBLISHER_MODE and
# HUDDLE_LOG_LEVEL override the values below.

`

// GenerateYAML renders the configuration with a descriptive header.
func GenerateYAML(cfg *Config) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return yamlHeader + string(data), nil
}
