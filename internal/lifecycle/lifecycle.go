package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chat_offline_gateway/internal/cache"
	"chat_offline_gateway/internal/event"
	"chat_offline_gateway/internal/obs"
	"chat_offline_gateway/internal/policy"
	"chat_offline_gateway/internal/upstream"
)

type State int32

const (
	StateIdle State = iota + 1
	StateInstalling
	StateActivating
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	default:
		return "idle"
	}
}

type Config struct {
	Store    cache.Store
	Upstream *upstream.Client
	Hub      *event.Hub
	Metrics  *obs.Metrics
	Routing  policy.Routing

	// PinnedVersion overrides the manifest-derived generation name.
	PinnedVersion string
}

// Manager owns the cache generations. Install populates a fresh static
// namespace from the manifest all-or-nothing; Activate deletes every
// namespace outside the new generation's expected set and then flips
// the active version the gateway reads. A failed install leaves the
// previous generation serving untouched.
type Manager struct {
	store    cache.Store
	upstream *upstream.Client
	hub      *event.Hub
	metrics  *obs.Metrics

	mu      sync.Mutex
	routing policy.Routing
	pinned  string

	state  atomic.Int32
	active atomic.Value
}

func NewManager(cfg Config) *Manager {
	m := &Manager{
		store:    cfg.Store,
		upstream: cfg.Upstream,
		hub:      cfg.Hub,
		metrics:  cfg.Metrics,
		routing:  cfg.Routing,
		pinned:   cfg.PinnedVersion,
	}
	m.state.Store(int32(StateIdle))
	m.active.Store("")
	return m
}

func (m *Manager) State() State {
	if m == nil {
		return StateIdle
	}
	return State(m.state.Load())
}

// ActiveVersion satisfies the gateway's VersionSource: "" until the
// first activation completes.
func (m *Manager) ActiveVersion() string {
	if m == nil {
		return ""
	}
	version, _ := m.active.Load().(string)
	return version
}

// Version derives the generation name from the manifest content, so a
// manifest edit is a new generation and an unchanged manifest is not.
func (m *Manager) Version() string {
	if m == nil {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return versionOf(m.routing, m.pinned)
}

func versionOf(routing policy.Routing, pinned string) string {
	if pinned != "" {
		return pinned
	}
	sum := sha256.Sum256([]byte(strings.Join(routing.Manifest, "\n")))
	return "v" + hex.EncodeToString(sum[:])[:8]
}

// SetRouting swaps the manifest and pattern tables used by future
// installs; the caller decides whether the resulting version change
// warrants an Upgrade.
func (m *Manager) SetRouting(routing policy.Routing, pinned string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.routing = routing
	m.pinned = pinned
	m.mu.Unlock()
}

// Upgrade runs Install then Activate for the current manifest version.
// Calling it for the already-active version is a cheap no-op.
func (m *Manager) Upgrade(ctx context.Context) error {
	version := m.Version()
	if version == m.ActiveVersion() {
		return nil
	}
	if err := m.Install(ctx); err != nil {
		return err
	}
	return m.Activate()
}

// Install fetches every manifest asset into static-<version>. Any
// fetch or store failure fails the whole install; the previous
// generation stays active and its caches are not touched.
func (m *Manager) Install(ctx context.Context) error {
	if m == nil || m.store == nil || m.upstream == nil {
		return fmt.Errorf("lifecycle: manager not configured")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	previous := State(m.state.Load())
	m.state.Store(int32(StateInstalling))
	version := versionOf(m.routing, m.pinned)
	namespace := policy.Namespace(policy.ClassStatic, version)
	started := time.Now()

	for _, path := range m.routing.Manifest {
		if err := m.installOne(ctx, namespace, path); err != nil {
			m.state.Store(int32(previous))
			m.metrics.RecordInstall("fail")
			obs.Log(obs.LogEntry{Level: "error", Component: "lifecycle", Event: "install_failed", Path: path, Version: version, Error: err.Error()})
			return err
		}
	}

	m.metrics.RecordInstall("ok")
	obs.Log(obs.LogEntry{Component: "lifecycle", Event: "installed", Version: version, DurationMS: time.Since(started).Milliseconds()})
	m.hub.Publish(event.Message{Type: event.TypeLifecycle, Event: event.Installed, Payload: map[string]string{"version": version}})
	m.state.Store(int32(StateActivating))
	return nil
}

func (m *Manager) installOne(ctx context.Context, namespace, path string) error {
	res, err := m.upstream.Do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return fmt.Errorf("lifecycle: fetch %s: %w", path, err)
	}
	if !res.OK() {
		return fmt.Errorf("lifecycle: fetch %s: status %d", path, res.Status)
	}
	rec := cache.Record{
		Status:   res.Status,
		Header:   res.Header,
		Body:     res.Body,
		StoredAt: time.Now().UTC(),
	}
	if err := m.store.Put(namespace, cache.BuildKey(http.MethodGet, path), rec); err != nil {
		return fmt.Errorf("lifecycle: store %s: %w", path, err)
	}
	return nil
}

// Activate deletes every namespace not in the new generation's
// expected set, then flips the active version. It must only run after
// Install confirmed 100% manifest coverage.
func (m *Manager) Activate() error {
	if m == nil || m.store == nil {
		return fmt.Errorf("lifecycle: manager not configured")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if State(m.state.Load()) != StateActivating {
		return fmt.Errorf("lifecycle: activate before install completed")
	}
	version := versionOf(m.routing, m.pinned)

	expected := make(map[string]bool)
	for _, name := range policy.ExpectedNamespaces(version) {
		expected[name] = true
	}
	names, err := m.store.ListNamespaces()
	if err != nil {
		m.state.Store(int32(StateIdle))
		return fmt.Errorf("lifecycle: list namespaces: %w", err)
	}
	for _, name := range names {
		if expected[name] {
			continue
		}
		if err := m.store.DeleteNamespace(name); err != nil {
			// A stale namespace that will not die is wasted disk, not
			// a reason to keep serving the old generation.
			obs.Log(obs.LogEntry{Level: "warn", Component: "lifecycle", Event: "stale_namespace_delete_failed", Namespace: name, Error: err.Error()})
			continue
		}
		obs.Log(obs.LogEntry{Component: "lifecycle", Event: "stale_namespace_deleted", Namespace: name, Version: version})
	}

	m.active.Store(version)
	m.state.Store(int32(StateActive))
	m.metrics.SetGenerationInfo(version)
	obs.Log(obs.LogEntry{Component: "lifecycle", Event: "activated", Version: version})
	m.hub.Publish(event.Message{Type: event.TypeLifecycle, Event: event.Activated, Payload: map[string]string{"version": version}})
	return nil
}
