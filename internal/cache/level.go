package cache

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Row layout: "c:<namespace>:<key>" holds the JSON record,
// "n:<namespace>" marks the namespace as existing. Namespace names
// never contain ':'.
type LevelStore struct {
	db             *leveldb.DB
	maxObjectBytes int64
}

var syncWrite = &opt.WriteOptions{Sync: true}

func OpenLevelStore(path string, maxObjectBytes int64) (*LevelStore, error) {
	if maxObjectBytes <= 0 {
		maxObjectBytes = DefaultMaxObjectBytes
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	return &LevelStore{db: db, maxObjectBytes: maxObjectBytes}, nil
}

func (s *LevelStore) Get(namespace, key string) (Record, bool) {
	if s == nil || s.db == nil {
		return Record{}, false
	}
	raw, err := s.db.Get(recordKey(namespace, key), nil)
	if err != nil {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false
	}
	return rec, true
}

func (s *LevelStore) Put(namespace, key string, rec Record) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if namespace == "" || strings.Contains(namespace, ":") {
		return fmt.Errorf("cache: invalid namespace %q", namespace)
	}
	if s.maxObjectBytes > 0 && int64(len(rec.Body)) > s.maxObjectBytes {
		return ErrQuota
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cache: encode record: %w", err)
	}
	batch := new(leveldb.Batch)
	batch.Put(recordKey(namespace, key), raw)
	batch.Put(namespaceKey(namespace), []byte{1})
	if err := s.db.Write(batch, syncWrite); err != nil {
		return fmt.Errorf("cache: write %s: %w", namespace, err)
	}
	return nil
}

func (s *LevelStore) DeleteNamespace(namespace string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	batch := new(leveldb.Batch)
	it := s.db.NewIterator(util.BytesPrefix(recordPrefix(namespace)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return fmt.Errorf("cache: scan %s: %w", namespace, err)
	}
	batch.Delete(namespaceKey(namespace))
	if err := s.db.Write(batch, syncWrite); err != nil {
		return fmt.Errorf("cache: delete %s: %w", namespace, err)
	}
	return nil
}

func (s *LevelStore) ListNamespaces() ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	it := s.db.NewIterator(util.BytesPrefix([]byte("n:")), nil)
	defer it.Release()
	names := []string{}
	for it.Next() {
		names = append(names, strings.TrimPrefix(string(it.Key()), "n:"))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("cache: list namespaces: %w", err)
	}
	return names, nil
}

func (s *LevelStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func recordKey(namespace, key string) []byte {
	return []byte("c:" + namespace + ":" + key)
}

func recordPrefix(namespace string) []byte {
	return []byte("c:" + namespace + ":")
}

func namespaceKey(namespace string) []byte {
	return []byte("n:" + namespace)
}
