package config

import (
	"fmt"
	"strings"
	"time"
)

// Config represents the complete warden configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Cluster    ClusterConfig    `mapstructure:"cluster"`
	Liveness   LivenessConfig   `mapstructure:"liveness"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Heartbeat  HeartbeatConfig  `mapstructure:"heartbeat"`
	Events     EventsConfig     `mapstructure:"events"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Daemon     DaemonConfig     `mapstructure:"daemon"`
}

// ServerConfig represents the API listener configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	HTTPPort     int           `mapstructure:"http_port"`
	GRPCPort     int           `mapstructure:"grpc_port"` // 0 disables the gRPC health service
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BodyLimit    int           `mapstructure:"body_limit"` // bytes
}

// StorageConfig selects and configures the store backend
type StorageConfig struct {
	Backend    string     `mapstructure:"backend"` // bolt, sqlite, etcd
	DataDir    string     `mapstructure:"data_dir"`
	SQLitePath string     `mapstructure:"sqlite_path"` // default <data_dir>/warden.sqlite
	Etcd       EtcdConfig `mapstructure:"etcd"`
}

// EtcdConfig represents etcd connection settings
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Prefix      string        `mapstructure:"prefix"`
}

// ClusterConfig enables raft replication of the bolt store
type ClusterConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	NodeID    string `mapstructure:"node_id"`
	BindAddr  string `mapstructure:"bind_addr"`
	Bootstrap bool   `mapstructure:"bootstrap"`
}

// LivenessConfig holds the staleness window
type LivenessConfig struct {
	Window time.Duration `mapstructure:"window"`
}

// ReconcilerConfig controls the background offline sweep
type ReconcilerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// AuthConfig represents admin API authentication
type AuthConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Issuer    string        `mapstructure:"issuer"`
}

// HeartbeatConfig limits heartbeat ingestion per node
type HeartbeatConfig struct {
	Rate  float64 `mapstructure:"rate"` // requests per second per node
	Burst int     `mapstructure:"burst"`
}

// EventsConfig selects where lifecycle events are forwarded
type EventsConfig struct {
	Sink          string `mapstructure:"sink"` // none, nats, redis, kafka
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`

	// Redis-specific options
	RedisStream   string `mapstructure:"redis_stream"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Kafka-specific options
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// MetricsConfig represents prometheus exposition settings
type MetricsConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	CollectInterval time.Duration `mapstructure:"collect_interval"`
}

// DaemonConfig is read by `warden daemon` on the managed host
type DaemonConfig struct {
	APIURL              string        `mapstructure:"api_url"`
	NodeID              string        `mapstructure:"node_id"`
	APIKey              string        `mapstructure:"api_key"`
	Interval            time.Duration `mapstructure:"interval"`
	Runtime             string        `mapstructure:"runtime"` // none, containerd, docker
	ContainerdSocket    string        `mapstructure:"containerd_socket"`
	ContainerdNamespace string        `mapstructure:"containerd_namespace"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}
	if err := c.Cluster.Validate(c.Storage.Backend); err != nil {
		return fmt.Errorf("cluster config: %w", err)
	}
	if c.Liveness.Window <= 0 {
		return fmt.Errorf("liveness config: window must be positive")
	}
	if c.Reconciler.Enabled && c.Reconciler.Interval <= 0 {
		return fmt.Errorf("reconciler config: interval must be positive")
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}
	if err := c.Heartbeat.Validate(); err != nil {
		return fmt.Errorf("heartbeat config: %w", err)
	}
	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates server configuration
func (c *ServerConfig) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc_port: %d", c.GRPCPort)
	}
	if c.HTTPPort == c.GRPCPort {
		return fmt.Errorf("http_port and grpc_port cannot be the same")
	}
	return nil
}

// Validate validates storage configuration
func (c *StorageConfig) Validate() error {
	switch strings.ToLower(c.Backend) {
	case "bolt", "sqlite":
		if c.DataDir == "" {
			return fmt.Errorf("data_dir is required")
		}
	case "etcd":
		if len(c.Etcd.Endpoints) == 0 {
			return fmt.Errorf("etcd.endpoints is required for the etcd backend")
		}
	default:
		return fmt.Errorf("unsupported backend %q (supported: bolt, sqlite, etcd)", c.Backend)
	}
	return nil
}

// Validate validates cluster configuration
func (c *ClusterConfig) Validate(backend string) error {
	if !c.Enabled {
		return nil
	}
	if strings.ToLower(backend) != "bolt" {
		return fmt.Errorf("raft replication requires the bolt backend, got %q", backend)
	}
	if c.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if c.BindAddr == "" {
		return fmt.Errorf("bind_addr is required")
	}
	return nil
}

// Validate validates auth configuration
func (c *AuthConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("jwt_secret must be at least 32 characters")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be positive")
	}
	return nil
}

// Validate validates heartbeat rate limiting
func (c *HeartbeatConfig) Validate() error {
	if c.Rate <= 0 {
		return fmt.Errorf("rate must be positive")
	}
	if c.Burst < 1 {
		return fmt.Errorf("burst must be at least 1")
	}
	return nil
}

// Validate validates the event sink selection
func (c *EventsConfig) Validate() error {
	switch strings.ToLower(c.Sink) {
	case "", "none":
	case "nats", "redis":
		if c.URL == "" {
			return fmt.Errorf("url is required for the %s sink", c.Sink)
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("kafka_brokers is required for the kafka sink")
		}
	default:
		return fmt.Errorf("unsupported sink %q (supported: none, nats, redis, kafka)", c.Sink)
	}
	return nil
}

// Validate validates logging configuration
func (c *LoggingConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid level: %s", c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("invalid format: %s", c.Format)
	}
	return nil
}
