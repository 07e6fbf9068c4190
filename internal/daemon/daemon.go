package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/avatarforge/internal/breaker"
	"github.com/allaspectsdev/avatarforge/internal/cache"
	"github.com/allaspectsdev/avatarforge/internal/config"
	"github.com/allaspectsdev/avatarforge/internal/handler"
	"github.com/allaspectsdev/avatarforge/internal/metrics"
	"github.com/allaspectsdev/avatarforge/internal/objectstore"
	"github.com/allaspectsdev/avatarforge/internal/part"
	"github.com/allaspectsdev/avatarforge/internal/render"
	"github.com/allaspectsdev/avatarforge/internal/tracing"
	"github.com/allaspectsdev/avatarforge/internal/userstore"
	"github.com/allaspectsdev/avatarforge/internal/vault"
	"github.com/allaspectsdev/avatarforge/internal/version"
)

// breakerDependencies lists the named circuit breakers the metrics
// sampler reports on; the part loader and render coordinator key their
// own breakers with these same names.
var breakerDependencies = []string{"cdn", "objectstore", "render"}

// Run is the main daemon orchestrator. It initialises every subsystem
// (user store, object store client, part loader, result cache, render
// coordinator, request handler) and blocks until a shutdown signal is
// received.
func Run(cfg *config.Config, foreground bool) error {
	// 1. Set up zerolog logger.
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	zerolog.SetGlobalLevel(logLevel)

	writers := []io.Writer{}

	logPath := filepath.Join(dataDir, "avatarforge.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()
	writers = append(writers, logFile)

	if foreground {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
		writers = append(writers, consoleWriter)
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "avatarforge").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("avatarforge starting")

	// 2. Check if already running.
	if IsRunning(dataDir) {
		return fmt.Errorf("avatarforge is already running (PID file exists at %s)", filepath.Join(dataDir, pidFilename))
	}

	// 3. Open the user store.
	dbPath := filepath.Join(dataDir, "avatarforge.db")
	users, err := userstore.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening user store: %w", err)
	}
	defer users.Close()

	log.Info().Str("db_path", dbPath).Msg("user store opened")

	// 4. Create metrics collector.
	collector := metrics.NewCollector()

	// 5. Write PID file.
	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	// 6. Start config watcher.
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}

	var watcher *config.Watcher
	if _, statErr := os.Stat(configFile); statErr == nil {
		w, watchErr := config.Watch(configFile)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			watcher = w
			defer watcher.Close()
			watcher.OnChange(func(old, newCfg *config.Config) {
				log.Info().Msg("configuration reloaded")
				newLevel := parseLogLevel(newCfg.Server.LogLevel)
				zerolog.SetGlobalLevel(newLevel)
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	if cfg.Tracing.Enabled {
		tracingShutdown, err := tracing.Init(
			context.Background(),
			cfg.Tracing.ServiceName,
			version.Version,
			cfg.Tracing.Exporter,
			cfg.Tracing.Endpoint,
			cfg.Tracing.SampleRate,
			cfg.Tracing.Insecure,
		)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialise tracing; continuing without it")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tracingShutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("tracer shutdown error")
				}
			}()
			log.Info().Str("exporter", cfg.Tracing.Exporter).Msg("tracing initialised")
		}
	}

	// ---------------------------------------------------------------
	// 7. Wire up the render stack: object store, part loader, result
	//    cache, breaker registry, render coordinator, request handler.
	// ---------------------------------------------------------------

	breakers := breaker.NewRegistry(
		cfg.Breaker.FailureThreshold,
		time.Duration(cfg.Breaker.ResetTimeoutSeconds)*time.Second,
		cfg.Breaker.HalfOpenMax,
	)

	v := vault.New()
	secretKey, err := v.ResolveKeyRef(cfg.ObjectStore.SpaceKeyRef)
	if err != nil {
		return fmt.Errorf("resolving object store credentials: %w", err)
	}

	store := objectstore.New(objectstore.Config{
		Endpoint:        cfg.ObjectStore.Endpoint,
		Bucket:          cfg.ObjectStore.SpaceName,
		AccessKeyID:     cfg.ObjectStore.SpaceID,
		SecretAccessKey: secretKey,
		Region:          cfg.ObjectStore.Region,
		CircuitBreaker:  breakers.Get("objectstore"),
	})

	partsDir := expandHome(cfg.Parts.BaseDir)
	parts, err := part.New(part.Config{
		DiskRoot:         partsDir,
		CDNBase:          cfg.ObjectStore.SpaceEndpoint,
		MemoryEntries:    cfg.Parts.MemoryMaxEntries,
		MemoryBytes:      cfg.Parts.MemoryMaxBytes,
		FetchConcurrency: cfg.Parts.FetchConcurrency,
		CircuitBreaker:   breakers.Get("cdn"),
		Metrics:          collector,
		Logger:           log.Logger,
	})
	if err != nil {
		return fmt.Errorf("creating part loader: %w", err)
	}

	cacheRoot := expandHome(cfg.Cache.DiskRoot)
	results, err := cache.New(cache.Config{
		DiskRoot:      cacheRoot,
		Store:         store,
		MemoryEntries: cfg.Cache.MemoryMaxEntries,
		MemoryBytes:   int(cfg.Cache.MemoryMaxBytes),
		MemoryTTL:     time.Duration(cfg.Cache.MemoryTTLSeconds) * time.Second,
		DiskRetention: time.Duration(cfg.Cache.DiskRetentionDays) * 24 * time.Hour,
		Logger:        log.Logger,
	})
	if err != nil {
		return fmt.Errorf("creating result cache: %w", err)
	}

	renderer := &handler.Renderer{
		Parts:   parts,
		Users:   users,
		Results: results,
		Store:   store,
		BaseDir: partsDir,
		Log:     log.Logger,
	}

	coordinator := render.New(render.Config{
		Render:               renderer.Render,
		Workers:              cfg.Queue.Workers,
		QueueCapacity:        cfg.Queue.Capacity,
		JobTimeout:           time.Duration(cfg.Queue.JobTimeoutSeconds) * time.Second,
		MaxAttempts:          cfg.Retry.MaxAttempts,
		RetryInitialInterval: time.Duration(cfg.Retry.InitialIntervalMs) * time.Millisecond,
		Breakers:             breakers,
		Logger:               log.Logger,
	})
	defer coordinator.Stop()

	events := make(chan render.Event, 64)
	coordinator.Subscribe(events)
	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		consumeRenderEvents(events, collector, coordinator)
	}()

	svc := &handler.Service{
		Users:       users,
		Results:     results,
		Store:       store,
		Coordinator: coordinator,
		Metrics:     collector,
		Log:         log.Logger,
	}

	api := handler.NewAPI(svc, breakers, log.Logger)

	// 8. Start periodic cache sweeping and circuit breaker sampling.
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	sweepDone := results.StartSweeper(sweepCtx)

	breakerSampleDone := make(chan struct{})
	go func() {
		defer close(breakerSampleDone)
		sampleBreakerState(sweepCtx, breakers, collector)
	}()

	// 9. Start the HTTP server.
	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      api,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.Server.TLSEnabled {
			log.Info().Str("addr", addr).Msg("server starting (TLS)")
			if err := httpServer.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("server: %w", err)
			}
		} else {
			log.Info().Str("addr", addr).Msg("server starting")
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("server: %w", err)
			}
		}
	}()

	// 10. Start the metrics server, if enabled.
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port+1)
		metricsServer = metrics.NewServer(collector, metricsAddr)

		go func() {
			if err := metricsServer.Start(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()

		log.Info().Str("addr", metricsAddr).Msg("metrics server starting")
	}

	scheme := "http"
	if cfg.Server.TLSEnabled {
		scheme = "https"
	}
	log.Info().
		Int("port", cfg.Server.Port).
		Bool("tls", cfg.Server.TLSEnabled).
		Msg("avatarforge is ready")
	if foreground {
		fmt.Printf("\n  avatarforge is running!\n")
		fmt.Printf("  Server: %s://localhost:%d\n\n", scheme, cfg.Server.Port)
	}

	// 11. Wait for shutdown signal or fatal error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		return err
	}

	// 12. Graceful shutdown with 30-second timeout.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down servers...")

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics server shutdown error")
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	// 13. Clean up — wait for background goroutines before closing the
	// store. In-flight renders get the remainder of the 30s shutdown
	// budget to land in the caches; whatever is still running after
	// that is cancelled.
	sweepCancel()
	<-sweepDone
	<-breakerSampleDone
	coordinator.Drain(shutdownCtx)
	coordinator.CancelAll()
	coordinator.Stop()
	close(events)
	<-eventsDone
	users.Close()
	if err := RemovePID(dataDir); err != nil {
		log.Error().Err(err).Msg("failed to remove PID file during shutdown")
	}

	log.Info().Msg("avatarforge stopped")
	return nil
}

// consumeRenderEvents drains the coordinator's event stream into the
// metrics collector: the event kinds are the quanta the collector
// increments on, plus a queue depth sample after every event.
func consumeRenderEvents(events <-chan render.Event, collector *metrics.Collector, coordinator *render.Coordinator) {
	for e := range events {
		priority := e.Priority.String()
		switch e.Kind {
		case render.EventJobStarted:
			collector.IncrementActiveRenders()
		case render.EventJobRetried:
			// The job stays active across a retry; only terminal
			// events decrement the gauge.
			collector.RecordRenderRetried(priority)
		case render.EventJobSucceeded:
			collector.DecrementActiveRenders()
			collector.RecordRenderSucceeded(priority, 0)
		case render.EventJobFailed:
			collector.DecrementActiveRenders()
			collector.RecordRenderFailed(priority, 0)
		case render.EventJobCancelled:
			// Only running jobs publish Cancelled (queued jobs are
			// finished directly by CancelAll without events), so the
			// matching Started increment always precedes this.
			collector.DecrementActiveRenders()
			collector.RecordRenderCancelled(priority)
		}
		collector.SetQueueDepth(coordinator.QueueLen())
	}
}

// sampleBreakerState periodically snapshots each dependency's circuit
// breaker state into the metrics collector; the registry has no push
// notifications, so a light poll is the simplest way to keep the
// avatarforge_circuit_state gauge current.
func sampleBreakerState(ctx context.Context, breakers *breaker.Registry, collector *metrics.Collector) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range breakerDependencies {
				collector.SetCircuitState(name, float64(breakers.State(name)))
			}
		}
	}
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := expandHome(config.Get().Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("avatarforge does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("avatarforge is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to avatarforge (PID %d)\n", pid)

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}

	return nil
}

// Status checks if the daemon is running and prints a summary.
func Status() error {
	cfg := config.Get()
	dataDir := expandHome(cfg.Server.DataDir)

	if !IsRunning(dataDir) {
		fmt.Println("avatarforge is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("avatarforge is running (PID %d)\n", pid)

	statsURL := fmt.Sprintf("http://localhost:%d/api/stats", cfg.Server.Port+1)
	client := &http.Client{Timeout: 3 * time.Second}

	resp, err := client.Get(statsURL)
	if err != nil {
		fmt.Println("  (metrics server unreachable)")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	var stats metrics.Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil
	}

	fmt.Printf("\n  Uptime:            %s\n", stats.Uptime)
	fmt.Printf("  Renders succeeded: %d\n", stats.RendersSucceeded)
	fmt.Printf("  Renders failed:    %d\n", stats.RendersFailed)
	fmt.Printf("  Renders retried:   %d\n", stats.RendersRetried)
	fmt.Printf("  Cache hit rate:    %.1f%% (%d hits / %d misses)\n", stats.CacheHitRate, stats.CacheHits, stats.CacheMisses)
	fmt.Printf("  Active renders:    %d\n", stats.ActiveRenders)

	return nil
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
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
