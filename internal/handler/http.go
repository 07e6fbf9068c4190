package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/allaspectsdev/avatarforge/internal/breaker"
	"github.com/allaspectsdev/avatarforge/internal/tracing"
)

// API is the chi-routed HTTP surface, wrapping a Service with request
// logging, ID generation, and status mapping.
type API struct {
	svc       *Service
	breakers  *breaker.Registry
	log       zerolog.Logger
	startedAt time.Time
}

// NewAPI builds the HTTP router for the avatar service.
func NewAPI(svc *Service, breakers *breaker.Registry, log zerolog.Logger) http.Handler {
	api := &API{svc: svc, breakers: breakers, log: log, startedAt: time.Now()}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(tracing.HTTPMiddleware)

	r.Get("/", api.handleLiveness)
	r.Get("/health", api.handleHealth)
	r.Get("/avatar/{type}/{username}", api.handleAvatar)
	r.Get("/clear-cache", api.handleClearCache)
	r.Get("/queue/stats", api.handleQueueStats)
	r.Post("/queue/pause", api.handleQueuePause)
	r.Post("/queue/resume", api.handleQueueResume)
	return r
}

func (a *API) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("avatarforge: ok"))
}

// handleAvatar is the core avatar handler: it strips a trailing
// ".webp" off the username path segment, attaches a per-request ID
// and logger, and maps the Service's Response to an HTTP status.
func (a *API) handleAvatar(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.New().String()

	rawType := chi.URLParam(r, "type")
	username := trimWebpSuffix(chi.URLParam(r, "username"))

	logger := a.log.With().
		Str("request_id", requestID).
		Str("type", rawType).
		Str("username", username).
		Logger()

	resp := a.svc.GetAvatar(r.Context(), rawType, username)

	switch resp.Kind {
	case ResponseBytes:
		w.Header().Set("Content-Type", resp.ContentType)
		if resp.CacheTier != "" {
			w.Header().Set("X-Cache", cacheHeaderValue(resp.CacheTier))
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(resp.Body)
	case ResponseRedirect:
		http.Redirect(w, r, resp.RedirectURL, http.StatusTemporaryRedirect)
	case ResponseNotFound:
		writeJSONError(w, http.StatusNotFound, "user not found")
	case ResponseError:
		a.writeErrorResponse(w, resp.Err)
	}

	logger.Info().
		Dur("latency", time.Since(start)).
		Int("status", responseStatus(resp)).
		Msg("avatar request handled")
}

func trimWebpSuffix(s string) string {
	const suffix = ".webp"
	if len(s) > len(suffix) && s[len(s)-len(suffix):] == suffix {
		return s[:len(s)-len(suffix)]
	}
	return s
}

func cacheHeaderValue(tier string) string {
	if tier == "miss" || tier == "" {
		return "MISS"
	}
	return "HIT"
}

func responseStatus(resp *Response) int {
	switch resp.Kind {
	case ResponseBytes:
		return http.StatusOK
	case ResponseRedirect:
		return http.StatusTemporaryRedirect
	case ResponseNotFound:
		return http.StatusNotFound
	default:
		return statusForErr(resp.Err)
	}
}

func statusForErr(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrOverloaded):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrDependencyOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeErrorResponse(w http.ResponseWriter, err error) {
	status := statusForErr(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSONError(w, status, err.Error())
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": message,
		},
	})
	_, _ = w.Write(data)
}

// handleHealth reports uptime, queue depth and breaker states: 200 when
// the cdn and objectstore breakers are closed and the render breaker is
// not open, 503 otherwise.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	cdnState := a.breakers.State("cdn")
	objectStoreState := a.breakers.State("objectstore")
	renderState := a.breakers.State("render")

	healthy := cdnState == breaker.Closed && objectStoreState == breaker.Closed && renderState != breaker.Open

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"uptime_seconds": int(time.Since(a.startedAt).Seconds()),
		"queue_depth":    a.svc.Coordinator.QueueLen(),
		"breakers": map[string]string{
			"cdn":         cdnState.String(),
			"objectstore": objectStoreState.String(),
			"render":      renderState.String(),
		},
	})
}

// handleClearCache purges the memory and disk result-cache tiers (remote
// objects are kept) and cancels
// every in-flight render job; attached waiters receive ErrCacheCleared
// exactly once.
func (a *API) handleClearCache(w http.ResponseWriter, r *http.Request) {
	err := a.svc.Results.PurgeAll()
	a.svc.Coordinator.CancelAll()

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		a.log.Error().Err(err).Msg("cache purge failed")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
}

// handleQueueStats reports jobs waiting to start, jobs currently
// running, and lifetime completed/failed counts since the daemon
// started.
func (a *API) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"waiting":   a.svc.Coordinator.QueueLen(),
		"active":    0,
		"completed": 0,
		"failed":    0,
		"paused":    a.svc.Coordinator.Paused(),
	}
	if a.svc.Metrics != nil {
		s := a.svc.Metrics.Stats()
		stats["active"] = s.ActiveRenders
		stats["completed"] = s.RendersSucceeded
		stats["failed"] = s.RendersFailed
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(stats)
}

// handleQueuePause and handleQueueResume gate worker dispatch: while
// paused, Submit keeps enqueuing up to capacity but no new job starts.
// Renders already running finish normally, so single-flight waiters
// attached to them are never stranded.
func (a *API) handleQueuePause(w http.ResponseWriter, r *http.Request) {
	a.svc.Coordinator.Pause()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "paused": true})
}

func (a *API) handleQueueResume(w http.ResponseWriter, r *http.Request) {
	a.svc.Coordinator.Resume()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "paused": false})
}
