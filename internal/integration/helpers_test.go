package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"chat_offline_gateway/internal/cache"
	"chat_offline_gateway/internal/event"
	"chat_offline_gateway/internal/gateway"
	"chat_offline_gateway/internal/lifecycle"
	"chat_offline_gateway/internal/obs"
	"chat_offline_gateway/internal/policy"
	"chat_offline_gateway/internal/queue"
	"chat_offline_gateway/internal/router"
	"chat_offline_gateway/internal/syncer"
	"chat_offline_gateway/internal/testutil"
	"chat_offline_gateway/internal/upstream"
)

const testFetchTimeout = 500 * time.Millisecond

func testRouting() policy.Routing {
	return policy.Routing{
		Manifest:     []string{"/", "/widget-frame.html"},
		CacheableAPI: []string{"/api/config", "/api/health"},
		SendPaths:    []string{"/api/chat"},
	}
}

type harness struct {
	upstream *testutil.Upstream
	store    *cache.LevelStore
	queue    *queue.LevelQueue
	client   *upstream.Client
	manager  *lifecycle.Manager
	syncer   *syncer.Coordinator
	handler  *gateway.Handler
	metrics  *obs.Metrics
	hub      *event.Hub
}

// newHarness wires the full offline stack against a scripted upstream
// and durable stores in a temp dir, installed and activated at
// generation v1.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := newIdleHarness(t)
	if err := h.manager.Upgrade(context.Background()); err != nil {
		t.Fatalf("install v1: %v", err)
	}
	return h
}

// newIdleHarness wires everything but leaves the lifecycle at idle;
// for tests that exercise install themselves.
func newIdleHarness(t *testing.T) *harness {
	t.Helper()
	srv := testutil.StartUpstream(t)

	store, err := cache.OpenLevelStore(filepath.Join(t.TempDir(), "cache"), 0)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	outbox, err := queue.OpenLevelQueue(filepath.Join(t.TempDir(), "queue"))
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { _ = outbox.Close() })

	client, err := upstream.New(srv.URL(), testFetchTimeout)
	if err != nil {
		t.Fatalf("new upstream client: %v", err)
	}

	metrics := obs.NewMetrics()
	hub := event.NewHub(event.DefaultBuffer)
	t.Cleanup(hub.Close)

	manager := lifecycle.NewManager(lifecycle.Config{
		Store:         store,
		Upstream:      client,
		Hub:           hub,
		Metrics:       metrics,
		Routing:       testRouting(),
		PinnedVersion: "v1",
	})
	coordinator := syncer.New(syncer.Config{
		Queue:    outbox,
		Upstream: client,
		Hub:      hub,
		Metrics:  metrics,
	})

	handler := gateway.New(router.New(testRouting()), store, outbox, client, manager)
	handler.Metrics = metrics

	return &harness{
		upstream: srv,
		store:    store,
		queue:    outbox,
		client:   client,
		manager:  manager,
		syncer:   coordinator,
		handler:  handler,
		metrics:  metrics,
		hub:      hub,
	}
}

func (h *harness) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func (h *harness) post(t *testing.T, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) postWithAuth(t *testing.T, path string, body string, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authorization)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) queueDepth(t *testing.T) int {
	t.Helper()
	depth, err := h.queue.Depth()
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	return depth
}

func decodeDegraded(t *testing.T, rec *httptest.ResponseRecorder) gateway.DegradedResponse {
	t.Helper()
	var resp gateway.DegradedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode degraded response %q: %v", rec.Body.String(), err)
	}
	return resp
}
