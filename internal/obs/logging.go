package obs

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

var (
	logMu  sync.Mutex
	logOut io.Writer = os.Stdout
)

// SetOutput redirects the JSON log stream; tests capture it into a
// buffer. Returns the previous writer.
func SetOutput(w io.Writer) io.Writer {
	logMu.Lock()
	defer logMu.Unlock()
	previous := logOut
	if w == nil {
		w = os.Stdout
	}
	logOut = w
	return previous
}

type LogEntry struct {
	Timestamp     string `json:"ts"`
	Level         string `json:"level"`
	Component     string `json:"component"`
	Event         string `json:"event"`
	RequestID     string `json:"request_id,omitempty"`
	Method        string `json:"method,omitempty"`
	Path          string `json:"path,omitempty"`
	Class         string `json:"class,omitempty"`
	Outcome       string `json:"outcome,omitempty"`
	Status        int    `json:"status,omitempty"`
	DurationMS    int64  `json:"duration_ms,omitempty"`
	Namespace     string `json:"namespace,omitempty"`
	Version       string `json:"version,omitempty"`
	QueueID       string `json:"queue_id,omitempty"`
	QueueDepth    int    `json:"queue_depth,omitempty"`
	Attempts      int    `json:"attempts,omitempty"`
	ErrorCategory string `json:"error_category,omitempty"`
	Error         string `json:"error,omitempty"`

	Headers map[string]string `json:"headers,omitempty"`
}

func Log(entry LogEntry) {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if entry.Level == "" {
		entry.Level = "info"
	}
	data, err := json.Marshal(entry)
	logMu.Lock()
	defer logMu.Unlock()
	if err != nil {
		_, _ = fmt.Fprintf(logOut, "log_marshal_error component=%s event=%s error=%v\n", entry.Component, entry.Event, err)
		return
	}
	_, _ = logOut.Write(append(data, '\n'))
}

func LogError(component, event string, err error) {
	entry := LogEntry{Level: "error", Component: component, Event: event}
	if err != nil {
		entry.Error = err.Error()
	}
	Log(entry)
}

// RedactHeaders copies a header map with credential values masked;
// safe to log.
func RedactHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		out[name] = RedactHeaderValue(name, value)
	}
	return out
}

func RedactHeaderValue(name, value string) string {
	if name == "" {
		return value
	}
	if isSensitiveHeader(name) {
		return "[redacted]"
	}
	return value
}

func isSensitiveHeader(name string) bool {
	switch strings.ToLower(name) {
	case "authorization", "cookie", "set-cookie", "x-api-key", "proxy-authorization":
		return true
	default:
		return false
	}
}
