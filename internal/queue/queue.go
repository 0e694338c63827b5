package queue

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrClosed  = errors.New("queue: closed")
	ErrInvalid = errors.New("queue: invalid request")
)

// Request is the durable outbox record. Bodies are JSON by the chat
// API contract; the stored schema embeds them verbatim. Attempts is
// the only field ever mutated after enqueue.
type Request struct {
	ID         string            `json:"id"`
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	Header     map[string]string `json:"headers"`
	Body       json.RawMessage   `json:"body"`
	EnqueuedAt int64             `json:"enqueued_at"`
	Attempts   int               `json:"attempts"`
}

// Queue owns its records until a replay succeeds and removes them.
// Duplicate replays by independent drainers are tolerated: Remove is
// idempotent and delivery is at-least-once.
type Queue interface {
	Enqueue(req Request) error
	ListAll() ([]Request, error)
	Remove(id string) error
	IncrementAttempt(id string) error
	Depth() (int, error)
	Purge(before time.Time) (int, error)
	Close() error
}

func NewID() string {
	return uuid.NewString()
}

func NowMillis() int64 {
	return time.Now().UnixMilli()
}
