package cache

import (
	"sort"
	"sync"
)

type MemoryStore struct {
	mu             sync.RWMutex
	namespaces     map[string]map[string]Record
	maxObjectBytes int64
}

func NewMemoryStore(maxObjectBytes int64) *MemoryStore {
	if maxObjectBytes <= 0 {
		maxObjectBytes = DefaultMaxObjectBytes
	}
	return &MemoryStore{
		namespaces:     make(map[string]map[string]Record),
		maxObjectBytes: maxObjectBytes,
	}
}

func (m *MemoryStore) Get(namespace, key string) (Record, bool) {
	if m == nil {
		return Record{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		return Record{}, false
	}
	rec, ok := ns[key]
	return rec, ok
}

func (m *MemoryStore) Put(namespace, key string, rec Record) error {
	if m == nil {
		return ErrClosed
	}
	if m.maxObjectBytes > 0 && int64(len(rec.Body)) > m.maxObjectBytes {
		return ErrQuota
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = make(map[string]Record)
		m.namespaces[namespace] = ns
	}
	ns[key] = rec
	return nil
}

func (m *MemoryStore) DeleteNamespace(namespace string) error {
	if m == nil {
		return ErrClosed
	}
	m.mu.Lock()
	delete(m.namespaces, namespace)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ListNamespaces() ([]string, error) {
	if m == nil {
		return nil, ErrClosed
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.namespaces))
	for name := range m.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
