package gateway

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"chat_offline_gateway/internal/obs"
	"chat_offline_gateway/internal/queue"
	"chat_offline_gateway/internal/upstream"
)

// Request bodies are buffered whole so a failed send can be captured
// verbatim into the outbox.
const maxSendBodyBytes = 4 * 1024 * 1024

// DegradedResponse is the success-shaped body returned when a send is
// queued instead of delivered. The session id is minted locally and
// never collides with a server-assigned id.
type DegradedResponse struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
	Offline   bool   `json:"offline"`
}

const degradedContent = "Message accepted for delivery. It will be sent when the connection is restored."

func NewOfflineSessionID() string {
	return "offline-" + uuid.NewString()
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxSendBodyBytes))
}

// captureHeader flattens the request headers into the durable queue
// schema. Hop-by-hop and transport-managed headers are not replayable
// and are dropped.
func captureHeader(src http.Header) map[string]string {
	out := make(map[string]string, len(src))
	for name, values := range src {
		switch http.CanonicalHeaderKey(name) {
		case "Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade", "Content-Length", "Host":
			continue
		}
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	return out
}

// serveSend is the offline interceptor: attempt the send, pass any
// reachable-server verdict through unmodified, and only on a
// network-class failure capture the request into the outbox and answer
// with a degraded success. A failed enqueue is a real failure; the
// caller must never be told "accepted" when nothing was stored.
func (h *Handler) serveSend(w http.ResponseWriter, r *http.Request, rctx *obs.RequestContext) {
	body, err := readBody(r)
	if err != nil {
		rctx.Outcome = "error"
		rctx.Status = http.StatusBadRequest
		WriteGatewayError(w, rctx.RequestID, http.StatusBadRequest, "body_read_failed", "failed to read request body")
		return
	}

	target := requestTarget(r)
	res, err := h.Upstream.Do(r.Context(), r.Method, target, r.Header, body)
	if err == nil && !upstream.IsConnectivityStatus(res.Status) {
		outcome := "sent"
		if !res.OK() {
			// Server reachable but rejected; retrying would not help.
			outcome = "rejected"
		}
		rctx.Outcome = outcome
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

	var payload json.RawMessage
	if len(body) > 0 {
		payload = body
	}
	queued := queue.Request{
		ID:         queue.NewID(),
		URL:        h.Upstream.Resolve(target),
		Method:     r.Method,
		Header:     captureHeader(r.Header),
		Body:       payload,
		EnqueuedAt: queue.NowMillis(),
	}
	if h.Queue == nil {
		rctx.Outcome = "error"
		rctx.Status = http.StatusBadGateway
		WriteGatewayError(w, rctx.RequestID, http.StatusBadGateway, "queue_unavailable", "outbox unavailable")
		return
	}
	if err := h.Queue.Enqueue(queued); err != nil {
		obs.Log(obs.LogEntry{Level: "error", Component: "gateway", Event: "enqueue_failed", RequestID: rctx.RequestID, QueueID: queued.ID, Error: err.Error()})
		rctx.Outcome = "error"
		rctx.Status = http.StatusBadGateway
		WriteGatewayError(w, rctx.RequestID, http.StatusBadGateway, "queue_unavailable", "message could not be stored for later delivery")
		return
	}
	h.Metrics.RecordEnqueue()
	if depth, err := h.Queue.Depth(); err == nil {
		h.Metrics.SetQueueDepth(depth)
	}
	obs.Log(obs.LogEntry{
		Component:     "gateway",
		Event:         "send_queued",
		RequestID:     rctx.RequestID,
		QueueID:       queued.ID,
		Path:          r.URL.Path,
		ErrorCategory: category,
		Headers:       obs.RedactHeaders(queued.Header),
	})

	rctx.Outcome = "queued"
	rctx.Status = http.StatusAccepted
	rctx.QueueID = queued.ID
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(RequestIDHeader, rctx.RequestID)
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(DegradedResponse{
		Content:   degradedContent,
		SessionID: NewOfflineSessionID(),
		Offline:   true,
	})
}
