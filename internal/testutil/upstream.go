package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type scriptedResponse struct {
	status int
	header http.Header
	body   []byte
}

// Upstream is a scriptable stand-in for the chat API. Paths answer
// with configured bodies, per-path hit counters record traffic, and
// SetOffline makes every request die mid-connection the way a lost
// network does, so clients observe a transport error rather than an
// HTTP status.
type Upstream struct {
	server *httptest.Server

	mu        sync.Mutex
	responses map[string]scriptedResponse
	hits      map[string]int
	captured  map[string][][]byte
	offline   bool
}

func StartUpstream(t *testing.T) *Upstream {
	t.Helper()
	u := &Upstream{
		responses: make(map[string]scriptedResponse),
		hits:      make(map[string]int),
		captured:  make(map[string][][]byte),
	}
	u.server = httptest.NewServer(http.HandlerFunc(u.handle))
	t.Cleanup(u.Close)
	return u
}

func (u *Upstream) handle(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
	}

	u.mu.Lock()
	u.hits[r.URL.Path]++
	offline := u.offline
	// An offline request died on a dead connection; it was never
	// delivered, so it must not count as a captured body.
	if r.Method != http.MethodGet && !offline {
		u.captured[r.URL.Path] = append(u.captured[r.URL.Path], body)
	}
	resp, scripted := u.responses[r.URL.Path]
	u.mu.Unlock()

	if offline {
		// Drop the connection without a response: the client sees a
		// network-class error, not a status code.
		hijacker, ok := w.(http.Hijacker)
		if !ok {
			panic("testutil: response writer does not support hijacking")
		}
		conn, _, err := hijacker.Hijack()
		if err != nil {
			return
		}
		_ = conn.Close()
		return
	}

	if !scripted {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok:" + r.URL.Path))
		return
	}
	for name, values := range resp.header {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.WriteHeader(resp.status)
	_, _ = w.Write(resp.body)
}

func (u *Upstream) URL() string {
	return u.server.URL
}

func (u *Upstream) Close() {
	u.server.Close()
}

func (u *Upstream) SetOffline(offline bool) {
	u.mu.Lock()
	u.offline = offline
	u.mu.Unlock()
}

func (u *Upstream) SetResponse(path string, status int, body string) {
	u.SetResponseHeader(path, status, body, nil)
}

func (u *Upstream) SetResponseHeader(path string, status int, body string, header http.Header) {
	u.mu.Lock()
	u.responses[path] = scriptedResponse{status: status, header: header, body: []byte(body)}
	u.mu.Unlock()
}

// Hits reports how many requests reached the given path.
func (u *Upstream) Hits(path string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits[path]
}

// CapturedBodies returns the non-GET request bodies seen on a path,
// in arrival order.
func (u *Upstream) CapturedBodies(path string) [][]byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([][]byte, len(u.captured[path]))
	copy(out, u.captured[path])
	return out
}
