package admin

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"chat_offline_gateway/internal/gateway"
	"chat_offline_gateway/internal/syncer"
)

type statusResponse struct {
	State      string   `json:"state"`
	Version    string   `json:"version"`
	Online     bool     `json:"online"`
	SyncState  string   `json:"sync_state"`
	QueueDepth int      `json:"queue_depth"`
	Namespaces []string `json:"namespaces"`
}

type syncResponse struct {
	Triggered bool          `json:"triggered"`
	Report    syncer.Report `json:"report"`
}

type purgeRequest struct {
	BeforeMS int64 `json:"before_ms"`
}

type purgeResponse struct {
	Purged int `json:"purged"`
}

func (h *handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, requestID(r, w), http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, requestID(r, w), http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := statusResponse{Namespaces: []string{}}
	if h.lifecycle != nil {
		resp.State = h.lifecycle.State().String()
		resp.Version = h.lifecycle.ActiveVersion()
	}
	if h.probe != nil {
		resp.Online = h.probe.Online()
	}
	if h.syncer != nil {
		resp.SyncState = h.syncer.State().String()
	}
	if h.queue != nil {
		if depth, err := h.queue.Depth(); err == nil {
			resp.QueueDepth = depth
		}
	}
	if h.cache != nil {
		if names, err := h.cache.ListNamespaces(); err == nil {
			resp.Namespaces = names
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSync is the explicit retry trigger: one drain pass, or a
// dropped no-op when a pass is already running.
func (h *handler) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, requestID(r, w), http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.syncer == nil {
		writeError(w, requestID(r, w), http.StatusServiceUnavailable, "syncer unavailable")
		return
	}
	report, triggered := h.syncer.Trigger(r.Context(), "manual")
	status := http.StatusOK
	if !triggered {
		status = http.StatusConflict
	}
	writeJSON(w, status, syncResponse{Triggered: triggered, Report: report})
}

func (h *handler) handleInstall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, requestID(r, w), http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.lifecycle == nil {
		writeError(w, requestID(r, w), http.StatusServiceUnavailable, "lifecycle unavailable")
		return
	}
	if err := h.lifecycle.Install(r.Context()); err != nil {
		writeError(w, requestID(r, w), http.StatusBadGateway, err.Error())
		return
	}
	if err := h.lifecycle.Activate(); err != nil {
		writeError(w, requestID(r, w), http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"version": h.lifecycle.ActiveVersion()})
}

func (h *handler) handlePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, requestID(r, w), http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.queue == nil {
		writeError(w, requestID(r, w), http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	// An empty body means "everything before now".
	var req purgeRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, requestID(r, w), http.StatusBadRequest, "invalid purge request")
			return
		}
	}
	before := time.Now()
	if req.BeforeMS > 0 {
		before = time.UnixMilli(req.BeforeMS)
	}
	purged, err := h.queue.Purge(before)
	if err != nil {
		writeError(w, requestID(r, w), http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, purgeResponse{Purged: purged})
}

func requestID(r *http.Request, w http.ResponseWriter) string {
	if id := w.Header().Get(gateway.RequestIDHeader); id != "" {
		return id
	}
	return r.Header.Get(gateway.RequestIDHeader)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, requestID string, status int, message string) {
	writeJSON(w, status, map[string]any{
		"status":     status,
		"request_id": requestID,
		"error":      message,
	})
}
