package lifecycle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"chat_offline_gateway/internal/cache"
	"chat_offline_gateway/internal/event"
	"chat_offline_gateway/internal/policy"
	"chat_offline_gateway/internal/upstream"
)

func newManager(t *testing.T, store cache.Store, baseURL string, manifest []string, pinned string) *Manager {
	t.Helper()
	client, err := upstream.New(baseURL, time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return NewManager(Config{
		Store:         store,
		Upstream:      client,
		Routing:       policy.Routing{Manifest: manifest},
		PinnedVersion: pinned,
	})
}

func TestInstallPopulatesStaticNamespace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("asset:" + r.URL.Path))
	}))
	defer srv.Close()

	store := cache.NewMemoryStore(0)
	m := newManager(t, store, srv.URL, []string{"/", "/widget-frame.html"}, "v1")

	if err := m.Install(context.Background()); err != nil {
		t.Fatalf("install: %v", err)
	}
	if err := m.Activate(); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if m.State() != StateActive || m.ActiveVersion() != "v1" {
		t.Fatalf("state = %s version = %s", m.State(), m.ActiveVersion())
	}

	for _, path := range []string{"/", "/widget-frame.html"} {
		rec, ok := store.Get("static-v1", cache.BuildKey(http.MethodGet, path))
		if !ok {
			t.Fatalf("manifest item %s not cached", path)
		}
		if string(rec.Body) != "asset:"+path {
			t.Fatalf("cached body for %s = %q", path, rec.Body)
		}
	}
}

func TestFailedInstallLeavesPreviousGenerationActive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.js" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	store := cache.NewMemoryStore(0)
	m := newManager(t, store, srv.URL, []string{"/"}, "v1")
	if err := m.Install(context.Background()); err != nil {
		t.Fatalf("install v1: %v", err)
	}
	if err := m.Activate(); err != nil {
		t.Fatalf("activate v1: %v", err)
	}

	m.SetRouting(policy.Routing{Manifest: []string{"/", "/broken.js"}}, "v2")
	if err := m.Install(context.Background()); err == nil {
		t.Fatalf("install v2 must fail on a missing manifest item")
	}

	if m.ActiveVersion() != "v1" || m.State() != StateActive {
		t.Fatalf("failed install changed active generation: %s %s", m.ActiveVersion(), m.State())
	}
	if _, ok := store.Get("static-v1", cache.BuildKey(http.MethodGet, "/")); !ok {
		t.Fatalf("old generation cache destroyed by failed install")
	}
}

func TestActivateDeletesStaleNamespaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	store := cache.NewMemoryStore(0)
	m := newManager(t, store, srv.URL, []string{"/"}, "v1")
	if err := m.Install(context.Background()); err != nil {
		t.Fatalf("install v1: %v", err)
	}
	if err := m.Activate(); err != nil {
		t.Fatalf("activate v1: %v", err)
	}

	m.SetRouting(policy.Routing{Manifest: []string{"/"}}, "v2")
	if err := m.Upgrade(context.Background()); err != nil {
		t.Fatalf("upgrade to v2: %v", err)
	}

	names, err := store.ListNamespaces()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == "static-v1" {
			t.Fatalf("stale namespace survived activation: %v", names)
		}
	}
	if _, ok := store.Get("static-v2", cache.BuildKey(http.MethodGet, "/")); !ok {
		t.Fatalf("new generation not populated: %v", names)
	}
	if m.ActiveVersion() != "v2" {
		t.Fatalf("active = %s, want v2", m.ActiveVersion())
	}
}

func TestVersionDerivesFromManifest(t *testing.T) {
	store := cache.NewMemoryStore(0)
	m := newManager(t, store, "http://127.0.0.1:0", []string{"/", "/a.js"}, "")
	v1 := m.Version()
	if v1 == "" || v1[0] != 'v' {
		t.Fatalf("version = %q", v1)
	}
	if again := m.Version(); again != v1 {
		t.Fatalf("version not stable: %q vs %q", v1, again)
	}
	m.SetRouting(policy.Routing{Manifest: []string{"/", "/b.js"}}, "")
	if v2 := m.Version(); v2 == v1 {
		t.Fatalf("manifest change must change the version")
	}
}

func TestUpgradeIsNoOpForActiveVersion(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := cache.NewMemoryStore(0)
	m := newManager(t, store, srv.URL, []string{"/"}, "v1")
	if err := m.Upgrade(context.Background()); err != nil {
		t.Fatalf("first upgrade: %v", err)
	}
	fetched := hits
	if err := m.Upgrade(context.Background()); err != nil {
		t.Fatalf("second upgrade: %v", err)
	}
	if hits != fetched {
		t.Fatalf("no-op upgrade refetched the manifest")
	}
}

func TestLifecycleEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hub := event.NewHub(8)
	defer hub.Close()
	msgs, cancel := hub.Subscribe()
	defer cancel()

	client, err := upstream.New(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	m := NewManager(Config{
		Store:         cache.NewMemoryStore(0),
		Upstream:      client,
		Hub:           hub,
		Routing:       policy.Routing{Manifest: []string{"/"}},
		PinnedVersion: "v1",
	})
	if err := m.Upgrade(context.Background()); err != nil {
		t.Fatalf("upgrade: %v", err)
	}

	installed := <-msgs
	if installed.Type != event.TypeLifecycle || installed.Event != event.Installed {
		t.Fatalf("first event = %+v", installed)
	}
	activated := <-msgs
	if activated.Event != event.Activated {
		t.Fatalf("second event = %+v", activated)
	}
}
