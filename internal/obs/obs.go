package obs

import "time"

// RequestContext accumulates per-request facts as a request moves
// through classification, cache, network and queue; the gateway logs
// it once at the end.
type RequestContext struct {
	RequestID     string
	Method        string
	Path          string
	Class         string
	Outcome       string
	Status        int
	Duration      time.Duration
	Version       string
	QueueID       string
	ErrorCategory string
}

func (c RequestContext) Entry(component, event string) LogEntry {
	return LogEntry{
		Component:     component,
		Event:         event,
		RequestID:     c.RequestID,
		Method:        c.Method,
		Path:          c.Path,
		Class:         c.Class,
		Outcome:       c.Outcome,
		Status:        c.Status,
		DurationMS:    c.Duration.Milliseconds(),
		Version:       c.Version,
		QueueID:       c.QueueID,
		ErrorCategory: c.ErrorCategory,
	}
}
