package router

import (
	"net/http"
	"strings"

	"chat_offline_gateway/internal/policy"
)

type Router struct {
	manifest map[string]bool
	api      []string
	send     []string
}

func New(routing policy.Routing) *Router {
	manifest := make(map[string]bool, len(routing.Manifest))
	for _, path := range routing.Manifest {
		manifest[path] = true
	}
	return &Router{
		manifest: manifest,
		api:      append([]string(nil), routing.CacheableAPI...),
		send:     append([]string(nil), routing.SendPaths...),
	}
}

// Classify binds a request to exactly one route class, first match
// wins: manifest assets, then cacheable API reads, then dynamic. Only
// GET participates in caching; non-GET either matches a send endpoint
// or bypasses the cache machinery entirely.
func (r *Router) Classify(req *http.Request) policy.RouteClass {
	if r == nil || req == nil {
		return policy.ClassBypass
	}
	path := req.URL.Path
	if path == "" {
		path = "/"
	}

	if req.Method != http.MethodGet {
		for _, prefix := range r.send {
			if strings.HasPrefix(path, prefix) {
				return policy.ClassSend
			}
		}
		return policy.ClassBypass
	}

	if r.manifest[path] {
		return policy.ClassStatic
	}
	for _, prefix := range r.api {
		if strings.HasPrefix(path, prefix) {
			return policy.ClassAPI
		}
	}
	return policy.ClassDynamic
}
