package cache

import (
	"errors"
	"net/http"
	"time"
)

const DefaultMaxObjectBytes int64 = 25 * 1024 * 1024

var (
	ErrQuota  = errors.New("cache: record exceeds max object bytes")
	ErrClosed = errors.New("cache: store closed")
)

type Record struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

type Store interface {
	Get(namespace, key string) (Record, bool)
	Put(namespace, key string, rec Record) error
	DeleteNamespace(namespace string) error
	ListNamespaces() ([]string, error)
	Close() error
}
