package event

import "sync"

const (
	TypeLifecycle    = "lifecycle"
	TypeSync         = "sync"
	TypeConnectivity = "connectivity"
)

const (
	Installed     = "installed"
	Activated     = "activated"
	SyncStarted   = "started"
	SyncCompleted = "completed"
	Online        = "online"
	Offline       = "offline"
)

// Message is the typed signal the gateway sends its host context.
type Message struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

const DefaultBuffer = 16

// Hub fans messages out to subscribers without ever blocking a
// publisher: when a subscriber's buffer is full, its oldest message
// is dropped to make room.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Message
	nextID int
	buffer int
	closed bool
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{subs: make(map[int]chan Message), buffer: buffer}
}

func (h *Hub) Subscribe() (<-chan Message, func()) {
	if h == nil {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	ch := make(chan Message, h.buffer)
	h.subs[id] = ch
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (h *Hub) Publish(msg Message) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- msg:
			default:
			}
		}
	}
}

func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
