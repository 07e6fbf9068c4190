package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.TLSEnabled {
		if cfg.Server.CertFile == "" {
			errs = append(errs, "server.cert_file must be set when tls_enabled is true")
		}
		if cfg.Server.KeyFile == "" {
			errs = append(errs, "server.key_file must be set when tls_enabled is true")
		}
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}
	if cfg.Server.MaxBodySize < 0 {
		errs = append(errs, fmt.Sprintf("server.max_body_size must be non-negative, got %d", cfg.Server.MaxBodySize))
	}

	if cfg.ObjectStore.SpaceName == "" {
		errs = append(errs, "object_store.space_name must not be empty")
	}
	if cfg.ObjectStore.SpaceEndpoint == "" {
		errs = append(errs, "object_store.space_endpoint must not be empty")
	}
	if cfg.ObjectStore.SpaceKeyRef == "" {
		errs = append(errs, "object_store.space_key_ref must not be empty")
	}

	if cfg.Parts.BaseDir == "" {
		errs = append(errs, "parts.base_dir must not be empty")
	}
	if cfg.Parts.MemoryMaxEntries < 1 {
		errs = append(errs, fmt.Sprintf("parts.memory_max_entries must be at least 1, got %d", cfg.Parts.MemoryMaxEntries))
	}
	if cfg.Parts.MemoryMaxBytes < 0 {
		errs = append(errs, fmt.Sprintf("parts.memory_max_bytes must be non-negative, got %d", cfg.Parts.MemoryMaxBytes))
	}
	if cfg.Parts.FetchConcurrency < 1 {
		errs = append(errs, fmt.Sprintf("parts.fetch_concurrency must be at least 1, got %d", cfg.Parts.FetchConcurrency))
	}

	if cfg.Cache.MemoryTTLSeconds < 0 {
		errs = append(errs, fmt.Sprintf("cache.memory_ttl_seconds must be non-negative, got %d", cfg.Cache.MemoryTTLSeconds))
	}
	if cfg.Cache.MemoryMaxEntries < 1 {
		errs = append(errs, fmt.Sprintf("cache.memory_max_entries must be at least 1, got %d", cfg.Cache.MemoryMaxEntries))
	}
	if cfg.Cache.MemoryMaxBytes < 0 {
		errs = append(errs, fmt.Sprintf("cache.memory_max_bytes must be non-negative, got %d", cfg.Cache.MemoryMaxBytes))
	}
	if cfg.Cache.DiskRoot == "" {
		errs = append(errs, "cache.disk_root must not be empty")
	}
	if cfg.Cache.DiskRetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("cache.disk_retention_days must be at least 1, got %d", cfg.Cache.DiskRetentionDays))
	}

	if cfg.Queue.Capacity < 1 {
		errs = append(errs, fmt.Sprintf("queue.capacity must be at least 1, got %d", cfg.Queue.Capacity))
	}
	if cfg.Queue.Workers < 1 {
		errs = append(errs, fmt.Sprintf("queue.workers must be at least 1, got %d", cfg.Queue.Workers))
	}
	if cfg.Queue.JobTimeoutSeconds < 1 {
		errs = append(errs, fmt.Sprintf("queue.job_timeout_seconds must be at least 1, got %d", cfg.Queue.JobTimeoutSeconds))
	}

	if cfg.Breaker.FailureThreshold < 1 {
		errs = append(errs, fmt.Sprintf("breaker.failure_threshold must be at least 1, got %d", cfg.Breaker.FailureThreshold))
	}
	if cfg.Breaker.ResetTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Sprintf("breaker.reset_timeout_seconds must be positive, got %d", cfg.Breaker.ResetTimeoutSeconds))
	}
	if cfg.Breaker.HalfOpenMax < 1 {
		errs = append(errs, fmt.Sprintf("breaker.half_open_max_calls must be at least 1, got %d", cfg.Breaker.HalfOpenMax))
	}

	if cfg.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("retry.max_attempts must be at least 1, got %d", cfg.Retry.MaxAttempts))
	}
	if cfg.Retry.InitialIntervalMs < 0 {
		errs = append(errs, fmt.Sprintf("retry.initial_interval_ms must be non-negative, got %d", cfg.Retry.InitialIntervalMs))
	}

	if cfg.Tracing.Enabled {
		if !isValidEnum(cfg.Tracing.Exporter, ValidTracingExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", ValidTracingExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %f", cfg.Tracing.SampleRate))
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Namespace == "" {
		errs = append(errs, "metrics.namespace must not be empty when metrics is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
