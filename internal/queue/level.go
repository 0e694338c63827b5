package queue

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Row layout: "s:<seq>" holds the JSON record where <seq> is a
// big-endian hex counter, so iteration order is insertion order.
// "d:<id>" maps a record id to its sequence row for removal and
// attempt updates. The counter resumes from the highest existing row
// on open, so ids and ordering survive restarts.
type LevelQueue struct {
	db *leveldb.DB

	mu      sync.Mutex
	nextSeq uint64
}

var syncWrite = &opt.WriteOptions{Sync: true}

func OpenLevelQueue(path string) (*LevelQueue, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("queue: open %s: %w", path, err)
	}
	q := &LevelQueue{db: db}
	if err := q.loadSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return q, nil
}

func (q *LevelQueue) loadSeq() error {
	it := q.db.NewIterator(util.BytesPrefix([]byte("s:")), nil)
	defer it.Release()
	var last uint64
	for it.Next() {
		seq, err := parseSeqKey(it.Key())
		if err != nil {
			continue
		}
		if seq >= last {
			last = seq + 1
		}
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("queue: scan: %w", err)
	}
	q.nextSeq = last
	return nil
}

func (q *LevelQueue) Enqueue(req Request) error {
	if q == nil || q.db == nil {
		return ErrClosed
	}
	if req.ID == "" || req.URL == "" || req.Method == "" {
		return ErrInvalid
	}
	if req.EnqueuedAt == 0 {
		req.EnqueuedAt = NowMillis()
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("queue: encode %s: %w", req.ID, err)
	}

	q.mu.Lock()
	seq := q.nextSeq
	q.nextSeq++
	q.mu.Unlock()

	key := seqKey(seq)
	batch := new(leveldb.Batch)
	batch.Put(key, raw)
	batch.Put(idKey(req.ID), key)
	if err := q.db.Write(batch, syncWrite); err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", req.ID, err)
	}
	return nil
}

func (q *LevelQueue) ListAll() ([]Request, error) {
	if q == nil || q.db == nil {
		return nil, ErrClosed
	}
	it := q.db.NewIterator(util.BytesPrefix([]byte("s:")), nil)
	defer it.Release()
	out := []Request{}
	for it.Next() {
		var req Request
		if err := json.Unmarshal(it.Value(), &req); err != nil {
			continue
		}
		out = append(out, req)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("queue: list: %w", err)
	}
	return out, nil
}

// Remove is idempotent: removing an id that is already gone is a
// success, so duplicate drainers cannot fail each other.
func (q *LevelQueue) Remove(id string) error {
	if q == nil || q.db == nil {
		return ErrClosed
	}
	key, err := q.db.Get(idKey(id), nil)
	if err == leveldb.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("queue: lookup %s: %w", id, err)
	}
	batch := new(leveldb.Batch)
	batch.Delete(key)
	batch.Delete(idKey(id))
	if err := q.db.Write(batch, syncWrite); err != nil {
		return fmt.Errorf("queue: remove %s: %w", id, err)
	}
	return nil
}

// IncrementAttempt on an id another drainer already removed is a
// no-op, not an error.
func (q *LevelQueue) IncrementAttempt(id string) error {
	if q == nil || q.db == nil {
		return ErrClosed
	}
	key, err := q.db.Get(idKey(id), nil)
	if err == leveldb.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("queue: lookup %s: %w", id, err)
	}
	raw, err := q.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("queue: read %s: %w", id, err)
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("queue: decode %s: %w", id, err)
	}
	req.Attempts++
	updated, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("queue: encode %s: %w", id, err)
	}
	if err := q.db.Put(key, updated, syncWrite); err != nil {
		return fmt.Errorf("queue: update %s: %w", id, err)
	}
	return nil
}

func (q *LevelQueue) Depth() (int, error) {
	if q == nil || q.db == nil {
		return 0, ErrClosed
	}
	it := q.db.NewIterator(util.BytesPrefix([]byte("s:")), nil)
	defer it.Release()
	n := 0
	for it.Next() {
		n++
	}
	if err := it.Error(); err != nil {
		return 0, fmt.Errorf("queue: depth: %w", err)
	}
	return n, nil
}

func (q *LevelQueue) Purge(before time.Time) (int, error) {
	if q == nil || q.db == nil {
		return 0, ErrClosed
	}
	cutoff := before.UnixMilli()
	it := q.db.NewIterator(util.BytesPrefix([]byte("s:")), nil)
	batch := new(leveldb.Batch)
	purged := 0
	for it.Next() {
		var req Request
		if err := json.Unmarshal(it.Value(), &req); err != nil {
			continue
		}
		if req.EnqueuedAt >= cutoff {
			continue
		}
		batch.Delete(append([]byte(nil), it.Key()...))
		batch.Delete(idKey(req.ID))
		purged++
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return 0, fmt.Errorf("queue: purge scan: %w", err)
	}
	if purged == 0 {
		return 0, nil
	}
	if err := q.db.Write(batch, syncWrite); err != nil {
		return 0, fmt.Errorf("queue: purge: %w", err)
	}
	return purged, nil
}

func (q *LevelQueue) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}

func seqKey(seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	key := make([]byte, 2, 2+16)
	copy(key, "s:")
	dst := make([]byte, 16)
	hex.Encode(dst, buf[:])
	return append(key, dst...)
}

func parseSeqKey(key []byte) (uint64, error) {
	if len(key) != 18 {
		return 0, fmt.Errorf("queue: bad seq key %q", key)
	}
	var buf [8]byte
	if _, err := hex.Decode(buf[:], key[2:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func idKey(id string) []byte {
	return []byte("d:" + id)
}
