package config

// DefaultBindAddress is the default bind address (all interfaces; the
// service sits behind a CDN/load balancer in production).
const DefaultBindAddress = "0.0.0.0"

// DefaultPort is the default HTTP listen port.
const DefaultPort = 8080

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.avatarforge"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "avatarforge.toml"

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 10

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
const DefaultWriteTimeout = 30

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultMaxBodySize is the default maximum request body size in bytes (1 MB).
const DefaultMaxBodySize = 1 << 20

// DefaultPartsMemoryMaxEntries bounds the part-image memory cache by entry count.
const DefaultPartsMemoryMaxEntries = 512

// DefaultPartsMemoryMaxBytes bounds the part-image memory cache by size (64 MB).
const DefaultPartsMemoryMaxBytes = 64 << 20

// DefaultFetchConcurrency is the weighted-semaphore limit on concurrent part fetches.
const DefaultFetchConcurrency = 10

// DefaultCacheMemoryTTLSeconds is the result cache's memory-tier TTL (1 hour).
const DefaultCacheMemoryTTLSeconds = 3600

// DefaultCacheMemoryMaxEntries bounds the result memory cache by entry count.
const DefaultCacheMemoryMaxEntries = 50

// DefaultCacheMemoryMaxBytes bounds the result memory cache by size (50 MiB).
const DefaultCacheMemoryMaxBytes = 50 << 20

// DefaultCacheDiskRetentionDays is the disk-tier sweeper's retention window.
const DefaultCacheDiskRetentionDays = 7

// DefaultQueueCapacity is the render coordinator's bounded queue capacity.
const DefaultQueueCapacity = 1000

// DefaultQueueWorkers is the render coordinator's worker pool size (W).
const DefaultQueueWorkers = 3

// DefaultJobTimeoutSeconds is the per-render-job timeout.
const DefaultJobTimeoutSeconds = 30

// DefaultCBFailureThreshold is the number of consecutive failures before opening the circuit.
const DefaultCBFailureThreshold = 5

// DefaultCBResetTimeoutSeconds is the circuit breaker reset timeout.
const DefaultCBResetTimeoutSeconds = 60

// DefaultCBHalfOpenMax is the number of probe calls allowed in the half-open state.
const DefaultCBHalfOpenMax = 1

// DefaultRetryMaxAttempts is the maximum number of render attempts.
const DefaultRetryMaxAttempts = 3

// DefaultRetryInitialIntervalMs is the initial exponential backoff interval.
const DefaultRetryInitialIntervalMs = 2000

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "otlp-grpc"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "avatarforge"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// DefaultMetricsNamespace is the Prometheus metric namespace prefix.
const DefaultMetricsNamespace = "avatarforge"

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// ValidTracingExporters lists the allowed tracing exporter values.
var ValidTracingExporters = []string{"stdout", "otlp-grpc", "otlp-http"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:  DefaultBindAddress,
			Port:         DefaultPort,
			LogLevel:     DefaultLogLevel,
			DataDir:      DefaultDataDir,
			TLSEnabled:   false,
			CertFile:     "",
			KeyFile:      "",
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:      "",
			SpaceEndpoint: "",
			SpaceID:       "",
			SpaceKeyRef:   "keyring://avatarforge/do-space-key",
			SpaceName:     "",
			Region:        "nyc3",
			UseTLS:        true,
		},
		Parts: PartsConfig{
			BaseDir:          "~/.avatarforge/parts",
			MemoryMaxEntries: DefaultPartsMemoryMaxEntries,
			MemoryMaxBytes:   DefaultPartsMemoryMaxBytes,
			FetchConcurrency: DefaultFetchConcurrency,
		},
		Cache: CacheConfig{
			MemoryTTLSeconds:  DefaultCacheMemoryTTLSeconds,
			MemoryMaxEntries:  DefaultCacheMemoryMaxEntries,
			MemoryMaxBytes:    DefaultCacheMemoryMaxBytes,
			DiskRoot:          "~/.avatarforge/avatars",
			DiskRetentionDays: DefaultCacheDiskRetentionDays,
		},
		Queue: QueueConfig{
			Capacity:          DefaultQueueCapacity,
			Workers:           DefaultQueueWorkers,
			JobTimeoutSeconds: DefaultJobTimeoutSeconds,
		},
		Breaker: BreakerConfig{
			FailureThreshold:    DefaultCBFailureThreshold,
			ResetTimeoutSeconds: DefaultCBResetTimeoutSeconds,
			HalfOpenMax:         DefaultCBHalfOpenMax,
		},
		Retry: RetryConfig{
			MaxAttempts:       DefaultRetryMaxAttempts,
			InitialIntervalMs: DefaultRetryInitialIntervalMs,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
			Insecure:    false,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: DefaultMetricsNamespace,
		},
	}
}
