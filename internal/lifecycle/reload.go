package lifecycle

import (
	"context"
	"fmt"

	"chat_offline_gateway/internal/policy"
	"chat_offline_gateway/internal/router"
)

// RouterSink receives freshly built classification tables once a new
// generation is serving.
type RouterSink interface {
	SetRouter(*router.Router)
}

// Reloader applies a reloaded routing config as one unit: hand the
// tables to the lifecycle manager, install and activate the new
// generation when the version moved, then swap the gateway's
// classification tables. The swap happens last so classification and
// cache content never disagree; a failed install leaves both the
// active generation and the old tables serving.
type Reloader struct {
	manager *Manager
	sink    RouterSink
}

func NewReloader(manager *Manager, sink RouterSink) *Reloader {
	return &Reloader{manager: manager, sink: sink}
}

func (r *Reloader) Apply(ctx context.Context, routing policy.Routing, pinned string) error {
	if r == nil || r.manager == nil {
		return fmt.Errorf("lifecycle: reloader not configured")
	}
	r.manager.SetRouting(routing, pinned)
	if err := r.manager.Upgrade(ctx); err != nil {
		return err
	}
	if r.sink != nil {
		r.sink.SetRouter(router.New(routing))
	}
	return nil
}
