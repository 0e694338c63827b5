package policy

import "time"

type RouteClass int

const (
	ClassBypass RouteClass = iota
	ClassStatic
	ClassAPI
	ClassDynamic
	ClassSend
)

func (c RouteClass) String() string {
	switch c {
	case ClassStatic:
		return "static"
	case ClassAPI:
		return "api"
	case ClassDynamic:
		return "dynamic"
	case ClassSend:
		return "send"
	default:
		return "bypass"
	}
}

// Routing holds the fixed classification tables: exact asset paths
// cached at install time, prefix-matched read-only API endpoints, and
// prefix-matched chat-send endpoints.
type Routing struct {
	Manifest     []string
	CacheableAPI []string
	SendPaths    []string
}

type Policy struct {
	FetchTimeout   time.Duration
	Routing        Routing
	FallbackConfig []byte
	MaxObjectBytes int64
}

const (
	DefaultFetchTimeout = 5 * time.Second
)

func DefaultRouting() Routing {
	return Routing{
		Manifest:     []string{"/", "/widget-frame.html", "/widget.js", "/widget.css"},
		CacheableAPI: []string{"/api/config", "/api/health"},
		SendPaths:    []string{"/api/chat"},
	}
}

// Served when a cacheable API read has neither network nor cache; the
// caller must never see an empty config.
func DefaultFallbackConfig() []byte {
	return []byte(`{"enabled":true,"bot_name":"Assistant","locale":"en","history_enabled":false,"uploads_enabled":false}`)
}

func Default() Policy {
	return Policy{
		FetchTimeout:   DefaultFetchTimeout,
		Routing:        DefaultRouting(),
		FallbackConfig: DefaultFallbackConfig(),
	}
}

// Namespace names are "<class>-<version>"; versions never contain ':'
// so names stay valid cache namespaces.
func Namespace(class RouteClass, version string) string {
	return class.String() + "-" + version
}

func ExpectedNamespaces(version string) []string {
	return []string{
		Namespace(ClassStatic, version),
		Namespace(ClassAPI, version),
		Namespace(ClassDynamic, version),
	}
}
