package integration

import (
	"net/http"
	"strings"
	"testing"
)

// Scenario C, first half: a send that dies on the network is captured
// exactly once and answered with a degraded success.
func TestOfflineSendIsQueuedWithDegradedResponse(t *testing.T) {
	h := newHarness(t)
	h.upstream.SetOffline(true)

	if h.queueDepth(t) != 0 {
		t.Fatalf("queue not empty at start")
	}
	resp := h.post(t, "/api/chat/messages", `{"content":"hello"}`)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.Code)
	}

	degraded := decodeDegraded(t, resp)
	if !degraded.Offline {
		t.Fatalf("offline flag missing: %+v", degraded)
	}
	if !strings.HasPrefix(degraded.SessionID, "offline-") {
		t.Fatalf("session id %q is not locally generated", degraded.SessionID)
	}
	if degraded.Content == "" {
		t.Fatalf("content empty")
	}

	if h.queueDepth(t) != 1 {
		t.Fatalf("queue depth = %d, want exactly 1", h.queueDepth(t))
	}
	all, err := h.queue.ListAll()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	captured := all[0]
	if captured.Method != http.MethodPost || string(captured.Body) != `{"content":"hello"}` {
		t.Fatalf("captured = %+v", captured)
	}
	if !strings.HasSuffix(captured.URL, "/api/chat/messages") {
		t.Fatalf("captured url = %q", captured.URL)
	}
	if captured.Header["Content-Type"] != "application/json" {
		t.Fatalf("captured headers = %v", captured.Header)
	}
	if degraded.SessionID == captured.ID {
		t.Fatalf("session id must be distinct from the queue id")
	}
}

// A reachable server that rejects the send is a real failure, not an
// offline condition; nothing may be queued.
func TestRejectedSendIsNotQueued(t *testing.T) {
	h := newHarness(t)
	h.upstream.SetResponse("/api/chat/messages", http.StatusUnprocessableEntity, `{"error":"too long"}`)

	resp := h.post(t, "/api/chat/messages", `{"content":"x"}`)
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want the server's verdict", resp.Code)
	}
	if resp.Body.String() != `{"error":"too long"}` {
		t.Fatalf("body = %q, want the server's body", resp.Body.String())
	}
	if h.queueDepth(t) != 0 {
		t.Fatalf("rejected send was queued")
	}
}

// A successful send passes the real response through unmodified.
func TestOnlineSendPassesThrough(t *testing.T) {
	h := newHarness(t)
	h.upstream.SetResponse("/api/chat/messages", http.StatusCreated, `{"session_id":"srv-1","content":"ack"}`)

	resp := h.post(t, "/api/chat/messages", `{"content":"hi"}`)
	if resp.Code != http.StatusCreated || resp.Body.String() != `{"session_id":"srv-1","content":"ack"}` {
		t.Fatalf("resp = %d %q", resp.Code, resp.Body.String())
	}
	if h.queueDepth(t) != 0 {
		t.Fatalf("successful send was queued")
	}
	bodies := h.upstream.CapturedBodies("/api/chat/messages")
	if len(bodies) != 1 || string(bodies[0]) != `{"content":"hi"}` {
		t.Fatalf("upstream saw %q", bodies)
	}
}

// When the durable store itself cannot accept the message, the caller
// gets a real failure, never a false "accepted".
func TestEnqueueFailureIsARealError(t *testing.T) {
	h := newHarness(t)
	h.upstream.SetOffline(true)
	// A closed queue refuses every write.
	if err := h.queue.Close(); err != nil {
		t.Fatalf("close queue: %v", err)
	}

	resp := h.post(t, "/api/chat/messages", `{"content":"will be lost"}`)
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.Code)
	}
	if strings.Contains(resp.Body.String(), `"offline":true`) {
		t.Fatalf("degraded success returned for a lost message: %s", resp.Body.String())
	}
}

// Non-GET traffic outside the send patterns bypasses both the cache
// and the outbox.
func TestNonSendMutationBypasses(t *testing.T) {
	h := newHarness(t)
	h.upstream.SetResponse("/api/telemetry", http.StatusNoContent, "")

	resp := h.post(t, "/api/telemetry", `{"event":"open"}`)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("status = %d", resp.Code)
	}

	h.upstream.SetOffline(true)
	offline := h.post(t, "/api/telemetry", `{"event":"open"}`)
	if offline.Code != http.StatusBadGateway && offline.Code != http.StatusGatewayTimeout {
		t.Fatalf("offline bypass = %d, want a hard error", offline.Code)
	}
	if h.queueDepth(t) != 0 {
		t.Fatalf("bypass traffic was queued")
	}
}
