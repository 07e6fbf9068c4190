package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for avatarforge.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"       toml:"server"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store" toml:"object_store"`
	Parts       PartsConfig       `mapstructure:"parts"        toml:"parts"`
	Cache       CacheConfig       `mapstructure:"cache"        toml:"cache"`
	Queue       QueueConfig       `mapstructure:"queue"        toml:"queue"`
	Breaker     BreakerConfig     `mapstructure:"breaker"      toml:"breaker"`
	Retry       RetryConfig       `mapstructure:"retry"        toml:"retry"`
	Tracing     TracingConfig     `mapstructure:"tracing"      toml:"tracing"`
	Metrics     MetricsConfig     `mapstructure:"metrics"      toml:"metrics"`
}

// ServerConfig holds the core HTTP server settings.
type ServerConfig struct {
	BindAddress  string `mapstructure:"bind_address"  toml:"bind_address"`
	Port         int    `mapstructure:"port"          toml:"port"`
	LogLevel     string `mapstructure:"log_level"     toml:"log_level"`
	DataDir      string `mapstructure:"data_dir"      toml:"data_dir"`
	TLSEnabled   bool   `mapstructure:"tls_enabled"   toml:"tls_enabled"`
	CertFile     string `mapstructure:"cert_file"     toml:"cert_file"`
	KeyFile      string `mapstructure:"key_file"      toml:"key_file"`
	ReadTimeout  int    `mapstructure:"read_timeout"  toml:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout" toml:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"  toml:"idle_timeout"`
	MaxBodySize  int64  `mapstructure:"max_body_size" toml:"max_body_size"`
}

// ObjectStoreConfig describes the DO Spaces (S3-compatible) object store
// used for rendered avatars and the source of item/part sprites.
type ObjectStoreConfig struct {
	Endpoint      string `mapstructure:"endpoint"       toml:"endpoint"`       // DO_ENDPOINT
	SpaceEndpoint string `mapstructure:"space_endpoint" toml:"space_endpoint"` // DO_SPACE_ENDPOINT, CDN host for item sprites
	SpaceID       string `mapstructure:"space_id"       toml:"space_id"`       // DO_SPACE_ID, access key ID
	SpaceKeyRef   string `mapstructure:"space_key_ref"  toml:"space_key_ref"`  // vault reference resolving DO_SPACE_KEY
	SpaceName     string `mapstructure:"space_name"     toml:"space_name"`     // DO_SPACE_NAME, bucket
	Region        string `mapstructure:"region"         toml:"region"`
	UseTLS        bool   `mapstructure:"use_tls"        toml:"use_tls"`
}

// PartsConfig controls the part-image loader.
type PartsConfig struct {
	BaseDir          string `mapstructure:"base_dir"          toml:"base_dir"`          // body bases + local cache root
	MemoryMaxEntries int    `mapstructure:"memory_max_entries" toml:"memory_max_entries"`
	MemoryMaxBytes   int64  `mapstructure:"memory_max_bytes"  toml:"memory_max_bytes"`
	FetchConcurrency int64  `mapstructure:"fetch_concurrency" toml:"fetch_concurrency"`
}

// CacheConfig controls the three-tier result cache.
type CacheConfig struct {
	MemoryTTLSeconds  int   `mapstructure:"memory_ttl_seconds"  toml:"memory_ttl_seconds"`
	MemoryMaxEntries  int   `mapstructure:"memory_max_entries"  toml:"memory_max_entries"`
	MemoryMaxBytes    int64 `mapstructure:"memory_max_bytes"    toml:"memory_max_bytes"`
	DiskRoot          string `mapstructure:"disk_root"          toml:"disk_root"`
	DiskRetentionDays int   `mapstructure:"disk_retention_days" toml:"disk_retention_days"`
}

// QueueConfig controls the render coordinator's bounded queue and worker pool.
type QueueConfig struct {
	Capacity          int `mapstructure:"capacity"            toml:"capacity"`
	Workers           int `mapstructure:"workers"             toml:"workers"`
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds" toml:"job_timeout_seconds"`
}

// BreakerConfig controls the shared circuit breaker registry (cdn, objectstore).
type BreakerConfig struct {
	FailureThreshold    int `mapstructure:"failure_threshold"     toml:"failure_threshold"`
	ResetTimeoutSeconds int `mapstructure:"reset_timeout_seconds" toml:"reset_timeout_seconds"`
	HalfOpenMax         int `mapstructure:"half_open_max_calls"   toml:"half_open_max_calls"`
}

// RetryConfig controls the exponential backoff applied to render attempts.
type RetryConfig struct {
	MaxAttempts        int `mapstructure:"max_attempts"          toml:"max_attempts"`
	InitialIntervalMs  int `mapstructure:"initial_interval_ms"   toml:"initial_interval_ms"`
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`     // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`     // e.g. "localhost:4317"
	ServiceName string  `mapstructure:"service_name" toml:"service_name"` // defaults to "avatarforge"
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`  // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`     // skip TLS for dev
}

// MetricsConfig controls the Prometheus text-exposition endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"   toml:"enabled"`
	Namespace string `mapstructure:"namespace" toml:"namespace"`
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (AVATARFORGE_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.avatarforge/avatarforge.toml
//  4. ./avatarforge.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	setViperDefaults(v)

	v.SetEnvPrefix("AVATARFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".avatarforge"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("avatarforge")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)
	cfg.Parts.BaseDir = expandHome(cfg.Parts.BaseDir)
	cfg.Cache.DiskRoot = expandHome(cfg.Cache.DiskRoot)

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// applyEnvOverrides maps a deployment's conventional environment
// variables (PORT, DO_ENDPOINT, DO_SPACE_ENDPOINT, DO_SPACE_ID,
// DO_SPACE_KEY, DO_SPACE_NAME) onto the config, taking precedence over
// the AVATARFORGE_-prefixed viper overlay.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err != nil {
			return fmt.Errorf("parsing PORT=%q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("DO_ENDPOINT"); v != "" {
		cfg.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("DO_SPACE_ENDPOINT"); v != "" {
		cfg.ObjectStore.SpaceEndpoint = v
	}
	if v := os.Getenv("DO_SPACE_ID"); v != "" {
		cfg.ObjectStore.SpaceID = v
	}
	if v := os.Getenv("DO_SPACE_KEY"); v != "" {
		cfg.ObjectStore.SpaceKeyRef = "env:DO_SPACE_KEY"
	}
	if v := os.Getenv("DO_SPACE_NAME"); v != "" {
		cfg.ObjectStore.SpaceName = v
	}
	return nil
}

// InitConfig writes the default configuration file to ~/.avatarforge/avatarforge.toml.
// If the file already exists it is not overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".avatarforge")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := DefaultConfig()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ExportConfig writes the current config to the given path in TOML format.
func ExportConfig(path string) error {
	cfg := Get()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ImportConfig reads a TOML config file and merges it into the current config.
// The imported config is also persisted to the active config file so changes
// survive restarts.
func ImportConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return err
	}
	set(cfg)

	if dest := ConfigFilePath(); dest != "" {
		out, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config for persistence: %w", err)
		}
		if err := os.WriteFile(dest, out, 0o600); err != nil {
			return fmt.Errorf("persisting imported config: %w", err)
		}
	}

	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every known key with viper so that env var binding
// works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.bind_address", d.Server.BindAddress)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.tls_enabled", d.Server.TLSEnabled)
	v.SetDefault("server.cert_file", d.Server.CertFile)
	v.SetDefault("server.key_file", d.Server.KeyFile)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)

	v.SetDefault("object_store.endpoint", d.ObjectStore.Endpoint)
	v.SetDefault("object_store.space_endpoint", d.ObjectStore.SpaceEndpoint)
	v.SetDefault("object_store.space_id", d.ObjectStore.SpaceID)
	v.SetDefault("object_store.space_key_ref", d.ObjectStore.SpaceKeyRef)
	v.SetDefault("object_store.space_name", d.ObjectStore.SpaceName)
	v.SetDefault("object_store.region", d.ObjectStore.Region)
	v.SetDefault("object_store.use_tls", d.ObjectStore.UseTLS)

	v.SetDefault("parts.base_dir", d.Parts.BaseDir)
	v.SetDefault("parts.memory_max_entries", d.Parts.MemoryMaxEntries)
	v.SetDefault("parts.memory_max_bytes", d.Parts.MemoryMaxBytes)
	v.SetDefault("parts.fetch_concurrency", d.Parts.FetchConcurrency)

	v.SetDefault("cache.memory_ttl_seconds", d.Cache.MemoryTTLSeconds)
	v.SetDefault("cache.memory_max_entries", d.Cache.MemoryMaxEntries)
	v.SetDefault("cache.memory_max_bytes", d.Cache.MemoryMaxBytes)
	v.SetDefault("cache.disk_root", d.Cache.DiskRoot)
	v.SetDefault("cache.disk_retention_days", d.Cache.DiskRetentionDays)

	v.SetDefault("queue.capacity", d.Queue.Capacity)
	v.SetDefault("queue.workers", d.Queue.Workers)
	v.SetDefault("queue.job_timeout_seconds", d.Queue.JobTimeoutSeconds)

	v.SetDefault("breaker.failure_threshold", d.Breaker.FailureThreshold)
	v.SetDefault("breaker.reset_timeout_seconds", d.Breaker.ResetTimeoutSeconds)
	v.SetDefault("breaker.half_open_max_calls", d.Breaker.HalfOpenMax)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_interval_ms", d.Retry.InitialIntervalMs)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
