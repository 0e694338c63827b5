package cache

import (
	"sync"
	"time"
)

const DefaultMaxFlights = 1000

// Coalescer collapses concurrent fetches for the same record into a
// single network attempt; followers wait for the leader's result.
type Flight struct {
	done      chan struct{}
	result    Record
	ok        bool
	err       error
	startedAt time.Time
}

type Coalescer struct {
	mu         sync.Mutex
	flights    map[string]*Flight
	maxFlights int
}

func NewCoalescer(maxFlights int) *Coalescer {
	if maxFlights <= 0 {
		maxFlights = DefaultMaxFlights
	}
	return &Coalescer{flights: make(map[string]*Flight), maxFlights: maxFlights}
}

func (c *Coalescer) Start(key string) (*Flight, bool, bool) {
	if c == nil || key == "" {
		return nil, false, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.flights[key]; ok {
		return existing, false, true
	}
	if c.maxFlights > 0 && len(c.flights) >= c.maxFlights {
		return nil, false, false
	}
	flight := &Flight{done: make(chan struct{}), startedAt: time.Now()}
	c.flights[key] = flight
	return flight, true, true
}

func (c *Coalescer) Finish(key string, flight *Flight, rec Record, ok bool, err error) {
	if c == nil || flight == nil {
		return
	}
	c.mu.Lock()
	if current, exists := c.flights[key]; exists && current == flight {
		delete(c.flights, key)
	}
	c.mu.Unlock()
	flight.result = rec
	flight.ok = ok
	flight.err = err
	close(flight.done)
}

func (c *Coalescer) Wait(flight *Flight, timeout time.Duration) (Record, bool, error, bool) {
	if flight == nil || timeout <= 0 {
		return Record{}, false, nil, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-flight.done:
		return flight.result, flight.ok, flight.err, true
	case <-timer.C:
		return Record{}, false, nil, false
	}
}
