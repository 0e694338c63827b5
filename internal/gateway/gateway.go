package gateway

import (
	"net/http"
	"sync/atomic"
	"time"

	"chat_offline_gateway/internal/cache"
	"chat_offline_gateway/internal/obs"
	"chat_offline_gateway/internal/policy"
	"chat_offline_gateway/internal/queue"
	"chat_offline_gateway/internal/router"
	"chat_offline_gateway/internal/upstream"
)

// VersionSource reports the active cache generation. Before the first
// activation it reports "" and the gateway forwards without caching.
type VersionSource interface {
	ActiveVersion() string
}

type Handler struct {
	Cache     cache.Store
	Queue     queue.Queue
	Upstream  *upstream.Client
	Versions  VersionSource
	Coalescer *cache.Coalescer
	Metrics   *obs.Metrics
	Fallback  []byte

	router atomic.Pointer[router.Router]
}

func New(r *router.Router, store cache.Store, q queue.Queue, client *upstream.Client, versions VersionSource) *Handler {
	h := &Handler{
		Cache:     store,
		Queue:     q,
		Upstream:  client,
		Versions:  versions,
		Coalescer: cache.NewCoalescer(0),
		Metrics:   obs.DefaultMetrics(),
		Fallback:  policy.DefaultFallbackConfig(),
	}
	h.router.Store(r)
	return h
}

// SetRouter swaps the classification tables in place. In-flight
// requests finish against the tables they started with; new requests
// see the new manifest immediately.
func (h *Handler) SetRouter(r *router.Router) {
	if h == nil || r == nil {
		return
	}
	h.router.Store(r)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Upstream == nil {
		http.Error(w, "gateway not ready", http.StatusServiceUnavailable)
		return
	}
	rt := h.router.Load()
	if rt == nil {
		http.Error(w, "gateway not ready", http.StatusServiceUnavailable)
		return
	}

	start := time.Now()
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = NewRequestID()
	}
	class := rt.Classify(r)

	version := ""
	if h.Versions != nil {
		version = h.Versions.ActiveVersion()
	}

	rctx := &obs.RequestContext{
		RequestID: requestID,
		Method:    r.Method,
		Path:      r.URL.Path,
		Class:     class.String(),
		Version:   version,
	}

	switch {
	case class == policy.ClassSend:
		h.serveSend(w, r, rctx)
	case version == "" && class != policy.ClassBypass:
		// No generation activated yet: plain forwarding until the
		// lifecycle manager takes ownership.
		rctx.Class = policy.ClassBypass.String()
		h.serveBypass(w, r, rctx)
	case class == policy.ClassStatic:
		h.serveStatic(w, r, version, rctx)
	case class == policy.ClassAPI:
		h.serveNetworkFirst(w, r, policy.ClassAPI, version, rctx)
	case class == policy.ClassDynamic:
		h.serveNetworkFirst(w, r, policy.ClassDynamic, version, rctx)
	default:
		h.serveBypass(w, r, rctx)
	}

	rctx.Duration = time.Since(start)
	obs.Log(rctx.Entry("gateway", "request"))
	h.Metrics.ObserveRequest(rctx.Class, rctx.Outcome, rctx.Duration)
}
