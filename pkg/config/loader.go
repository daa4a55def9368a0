package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// WARDEN_LIVENESS_WINDOW=10m
const EnvPrefix = "WARDEN"

// Load loads configuration from file, environment and defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("warden")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/warden")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return parseConfig(v)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.http_port", d.Server.HTTPPort)
	v.SetDefault("server.grpc_port", d.Server.GRPCPort)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.body_limit", d.Server.BodyLimit)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.data_dir", d.Storage.DataDir)
	v.SetDefault("storage.sqlite_path", "")
	v.SetDefault("storage.etcd.endpoints", d.Storage.Etcd.Endpoints)
	v.SetDefault("storage.etcd.dial_timeout", d.Storage.Etcd.DialTimeout)
	v.SetDefault("storage.etcd.prefix", d.Storage.Etcd.Prefix)

	v.SetDefault("cluster.enabled", d.Cluster.Enabled)
	v.SetDefault("cluster.node_id", d.Cluster.NodeID)
	v.SetDefault("cluster.bind_addr", d.Cluster.BindAddr)
	v.SetDefault("cluster.bootstrap", d.Cluster.Bootstrap)

	v.SetDefault("liveness.window", d.Liveness.Window)

	v.SetDefault("reconciler.enabled", d.Reconciler.Enabled)
	v.SetDefault("reconciler.interval", d.Reconciler.Interval)

	v.SetDefault("auth.enabled", d.Auth.Enabled)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)
	v.SetDefault("auth.issuer", d.Auth.Issuer)

	v.SetDefault("heartbeat.rate", d.Heartbeat.Rate)
	v.SetDefault("heartbeat.burst", d.Heartbeat.Burst)

	v.SetDefault("events.sink", d.Events.Sink)
	v.SetDefault("events.url", "")
	v.SetDefault("events.subject_prefix", d.Events.SubjectPrefix)
	v.SetDefault("events.redis_stream", d.Events.RedisStream)
	v.SetDefault("events.redis_password", "")
	v.SetDefault("events.redis_db", 0)
	v.SetDefault("events.kafka_brokers", []string{})

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.collect_interval", d.Metrics.CollectInterval)

	v.SetDefault("daemon.api_url", d.Daemon.APIURL)
	v.SetDefault("daemon.node_id", "")
	v.SetDefault("daemon.api_key", "")
	v.SetDefault("daemon.interval", d.Daemon.Interval)
	v.SetDefault("daemon.runtime", d.Daemon.Runtime)
	v.SetDefault("daemon.containerd_socket", d.Daemon.ContainerdSocket)
	v.SetDefault("daemon.containerd_namespace", d.Daemon.ContainerdNamespace)
}

// parseConfig parses viper config into Config struct
func parseConfig(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			HTTPPort:     8080,
			GRPCPort:     8081,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			BodyLimit:    1 << 20,
		},
		Storage: StorageConfig{
			Backend: "bolt",
			DataDir: "./data",
			Etcd: EtcdConfig{
				Endpoints:   []string{"http://localhost:2379"},
				DialTimeout: 5 * time.Second,
				Prefix:      "/warden/",
			},
		},
		Cluster: ClusterConfig{
			NodeID:    "warden-1",
			BindAddr:  "127.0.0.1:7946",
			Bootstrap: true,
		},
		Liveness: LivenessConfig{
			Window: 30 * time.Minute,
		},
		Reconciler: ReconcilerConfig{
			Interval: time.Minute,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
			Issuer:   "warden",
		},
		Heartbeat: HeartbeatConfig{
			Rate:  1,
			Burst: 5,
		},
		Events: EventsConfig{
			Sink:          "none",
			SubjectPrefix: "warden",
			RedisStream:   "warden-events",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			CollectInterval: 15 * time.Second,
		},
		Daemon: DaemonConfig{
			APIURL:              "http://localhost:8080",
			Interval:            time.Minute,
			Runtime:             "none",
			ContainerdSocket:    "/run/containerd/containerd.sock",
			ContainerdNamespace: "default",
		},
	}
}
