package gateway

import (
	"net/http"
	"time"

	"chat_offline_gateway/internal/cache"
	"chat_offline_gateway/internal/obs"
	"chat_offline_gateway/internal/policy"
	"chat_offline_gateway/internal/upstream"
)

func requestTarget(r *http.Request) string {
	target := r.URL.Path
	if target == "" {
		target = "/"
	}
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return target
}

func (h *Handler) cacheGet(namespace, key string) (cache.Record, bool) {
	if h.Cache == nil {
		return cache.Record{}, false
	}
	rec, ok := h.Cache.Get(namespace, key)
	result := "miss"
	if ok {
		result = "hit"
	}
	h.Metrics.RecordCacheOp("get", result)
	return rec, ok
}

// cachePut never fails the request: a full or broken store just means
// the next read goes to the network again.
func (h *Handler) cachePut(namespace, key string, res upstream.Result) cache.Record {
	rec := cache.Record{
		Status:   res.Status,
		Header:   res.Header,
		Body:     res.Body,
		StoredAt: time.Now().UTC(),
	}
	if h.Cache == nil {
		return rec
	}
	if err := h.Cache.Put(namespace, key, rec); err != nil {
		h.Metrics.RecordCacheOp("put", "fail")
		obs.Log(obs.LogEntry{Level: "warn", Component: "gateway", Event: "cache_put_failed", Namespace: namespace, Error: err.Error()})
		return rec
	}
	h.Metrics.RecordCacheOp("put", "ok")
	return rec
}

func (h *Handler) writeRecord(w http.ResponseWriter, rec cache.Record, requestID, cacheStatus string) {
	copyHeaders(w.Header(), rec.Header)
	w.Header().Set(RequestIDHeader, requestID)
	w.Header().Set(CacheStatusHeader, cacheStatus)
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}

func (h *Handler) writeResult(w http.ResponseWriter, res upstream.Result, requestID string) {
	copyHeaders(w.Header(), res.Header)
	w.Header().Set(RequestIDHeader, requestID)
	w.WriteHeader(res.Status)
	_, _ = w.Write(res.Body)
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// Cache-first: a hit never touches the network. Concurrent misses for
// the same asset coalesce into one upstream fetch.
func (h *Handler) serveStatic(w http.ResponseWriter, r *http.Request, version string, rctx *obs.RequestContext) {
	namespace := policy.Namespace(policy.ClassStatic, version)
	target := requestTarget(r)
	key := cache.BuildKey(r.Method, target)

	if rec, ok := h.cacheGet(namespace, key); ok {
		rctx.Outcome = "hit"
		rctx.Status = rec.Status
		h.writeRecord(w, rec, rctx.RequestID, "hit")
		return
	}

	flightKey := namespace + "|" + key
	flight, leader, tracked := h.Coalescer.Start(flightKey)
	if tracked && !leader {
		rec, ok, _, waited := h.Coalescer.Wait(flight, h.Upstream.Timeout())
		if waited && ok {
			rctx.Outcome = "coalesced"
			rctx.Status = rec.Status
			h.writeRecord(w, rec, rctx.RequestID, "coalesced")
			return
		}
		// Leader failed or wait timed out; fetch independently.
	}

	res, err := h.Upstream.Do(r.Context(), http.MethodGet, target, r.Header, nil)
	networkDown := err != nil || upstream.IsConnectivityStatus(res.Status)

	if err == nil && res.OK() {
		rec := h.cachePut(namespace, key, res)
		if tracked && leader {
			h.Coalescer.Finish(flightKey, flight, rec, true, nil)
		}
		rctx.Outcome = "miss_fetched"
		rctx.Status = res.Status
		h.writeResult(w, res, rctx.RequestID)
		return
	}
	if tracked && leader {
		h.Coalescer.Finish(flightKey, flight, cache.Record{}, false, err)
	}
	if !networkDown {
		// Reachable upstream said no; not ours to mask.
		rctx.Outcome = "passthrough"
		rctx.Status = res.Status
		h.writeResult(w, res, rctx.RequestID)
		return
	}

	category := "unreachable"
	if err != nil {
		category, _ = upstream.ClassifyError(err)
	}
	h.Metrics.RecordUpstreamError(category)
	rctx.Outcome = "error_offline"
	rctx.Status = http.StatusServiceUnavailable
	rctx.ErrorCategory = category
	WriteGatewayError(w, rctx.RequestID, http.StatusServiceUnavailable, "offline_no_cache", "asset unavailable offline")
}

// Network-first with stale fallback. The API class additionally
// synthesizes a default config payload when there is nothing cached,
// so a config read never hard-fails; the dynamic class propagates.
func (h *Handler) serveNetworkFirst(w http.ResponseWriter, r *http.Request, class policy.RouteClass, version string, rctx *obs.RequestContext) {
	namespace := policy.Namespace(class, version)
	target := requestTarget(r)
	key := cache.BuildKey(r.Method, target)

	res, err := h.Upstream.Do(r.Context(), http.MethodGet, target, r.Header, nil)
	if err == nil && res.OK() {
		h.cachePut(namespace, key, res)
		rctx.Outcome = "network"
		rctx.Status = res.Status
		h.writeResult(w, res, rctx.RequestID)
		return
	}
	if err == nil && !upstream.IsConnectivityStatus(res.Status) {
		rctx.Outcome = "passthrough"
		rctx.Status = res.Status
		h.writeResult(w, res, rctx.RequestID)
		return
	}

	category := "unreachable"
	if err != nil {
		category, _ = upstream.ClassifyError(err)
	}
	h.Metrics.RecordUpstreamError(category)
	rctx.ErrorCategory = category

	if rec, ok := h.cacheGet(namespace, key); ok {
		rctx.Outcome = "fallback_stale"
		rctx.Status = rec.Status
		h.writeRecord(w, rec, rctx.RequestID, "stale")
		return
	}
	if class == policy.ClassAPI && len(h.Fallback) > 0 {
		rctx.Outcome = "fallback_default"
		rctx.Status = http.StatusOK
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(RequestIDHeader, rctx.RequestID)
		w.Header().Set(CacheStatusHeader, "default")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(h.Fallback)
		return
	}

	rctx.Outcome = "error_offline"
	if err == nil {
		// The connectivity-class response itself is the most honest
		// thing we can propagate.
		rctx.Status = res.Status
		h.writeResult(w, res, rctx.RequestID)
		return
	}
	status := http.StatusBadGateway
	errCategory := "upstream_connect_failed"
	if category == "timeout" {
		status = http.StatusGatewayTimeout
		errCategory = "upstream_timeout"
	}
	rctx.Status = status
	WriteGatewayError(w, rctx.RequestID, status, errCategory, "upstream unreachable")
}

func (h *Handler) serveBypass(w http.ResponseWriter, r *http.Request, rctx *obs.RequestContext) {
	body, err := readBody(r)
	if err != nil {
		rctx.Outcome = "error"
		rctx.Status = http.StatusBadRequest
		WriteGatewayError(w, rctx.RequestID, http.StatusBadRequest, "body_read_failed", "failed to read request body")
		return
	}

	res, err := h.Upstream.Do(r.Context(), r.Method, requestTarget(r), r.Header, body)
	if err != nil {
		category, _ := upstream.ClassifyError(err)
		h.Metrics.RecordUpstreamError(category)
		rctx.Outcome = "error_offline"
		rctx.ErrorCategory = category
		status := http.StatusBadGateway
		errCategory := "upstream_connect_failed"
		if category == "timeout" {
			status = http.StatusGatewayTimeout
			errCategory = "upstream_timeout"
		}
		rctx.Status = status
		WriteGatewayError(w, rctx.RequestID, status, errCategory, "upstream unreachable")
		return
	}
	rctx.Outcome = "bypass"
	rctx.Status = res.Status
	h.writeResult(w, res, rctx.RequestID)
}
