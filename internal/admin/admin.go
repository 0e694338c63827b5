package admin

import (
	"errors"
	"net/http"
	"time"

	"chat_offline_gateway/internal/cache"
	"chat_offline_gateway/internal/connectivity"
	"chat_offline_gateway/internal/gateway"
	"chat_offline_gateway/internal/lifecycle"
	"chat_offline_gateway/internal/queue"
	"chat_offline_gateway/internal/syncer"
)

type HandlerConfig struct {
	Lifecycle   *lifecycle.Manager
	Syncer      *syncer.Coordinator
	Probe       *connectivity.Probe
	Queue       queue.Queue
	Cache       cache.Store
	Metrics     http.Handler
	Auth        *Authenticator
	RateLimiter *RateLimiter
}

type handler struct {
	lifecycle   *lifecycle.Manager
	syncer      *syncer.Coordinator
	probe       *connectivity.Probe
	queue       queue.Queue
	cache       cache.Store
	metrics     http.Handler
	auth        *Authenticator
	rateLimiter *RateLimiter
	mux         *http.ServeMux
}

// NewHandler builds the loopback admin surface: health, status, the
// explicit sync trigger, manual install, queue purge, and metrics.
func NewHandler(cfg HandlerConfig) http.Handler {
	h := &handler{
		lifecycle:   cfg.Lifecycle,
		syncer:      cfg.Syncer,
		probe:       cfg.Probe,
		queue:       cfg.Queue,
		cache:       cfg.Cache,
		metrics:     cfg.Metrics,
		auth:        cfg.Auth,
		rateLimiter: cfg.RateLimiter,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/status", h.handleStatus)
	mux.HandleFunc("/sync", h.handleSync)
	mux.HandleFunc("/install", h.handleInstall)
	mux.HandleFunc("/queue/purge", h.handlePurge)
	if cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics)
	}
	h.mux = mux
	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(gateway.RequestIDHeader)
	if requestID == "" {
		requestID = gateway.NewRequestID()
		if requestID == "" {
			requestID = time.Now().UTC().Format("20060102150405.000000000")
		}
	}
	w.Header().Set(gateway.RequestIDHeader, requestID)

	if h.rateLimiter != nil && !h.rateLimiter.Allow(r.RemoteAddr) {
		writeError(w, requestID, http.StatusTooManyRequests, "rate_limited")
		return
	}

	// /healthz stays open so liveness checks need no credentials.
	if r.URL.Path != "/healthz" && h.auth != nil {
		if err := h.auth.Authenticate(r); err != nil {
			status := http.StatusUnauthorized
			message := "unauthorized"
			var authErr *AuthError
			if errors.As(err, &authErr) {
				status = authErr.Status
				message = authErr.Message
			}
			writeError(w, requestID, status, message)
			return
		}
	}

	h.mux.ServeHTTP(w, r)
}
