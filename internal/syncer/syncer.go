package syncer

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"chat_offline_gateway/internal/event"
	"chat_offline_gateway/internal/obs"
	"chat_offline_gateway/internal/queue"
	"chat_offline_gateway/internal/upstream"
)

type State int32

const (
	StateIdle State = iota + 1
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateDraining:
		return "draining"
	default:
		return "idle"
	}
}

const (
	DefaultReplayRate  rate.Limit = 20
	DefaultReplayBurst            = 5
)

// Report summarizes one drain pass.
type Report struct {
	Reason    string `json:"reason"`
	Attempted int    `json:"attempted"`
	Replayed  int    `json:"replayed"`
	Rejected  int    `json:"rejected"`
	Failed    int    `json:"failed"`
}

type Config struct {
	Queue       queue.Queue
	Upstream    *upstream.Client
	Hub         *event.Hub
	Metrics     *obs.Metrics
	ReplayRate  rate.Limit
	ReplayBurst int
}

// Coordinator drains the outbox. The draining latch is process-wide
// and never persisted; a fresh process always starts idle. Independent
// coordinators sharing one queue may replay the same entry twice,
// which the at-least-once contract tolerates.
type Coordinator struct {
	queue    queue.Queue
	upstream *upstream.Client
	hub      *event.Hub
	metrics  *obs.Metrics
	limiter  *rate.Limiter
	state    atomic.Int32
}

func New(cfg Config) *Coordinator {
	replayRate := cfg.ReplayRate
	if replayRate <= 0 {
		replayRate = DefaultReplayRate
	}
	burst := cfg.ReplayBurst
	if burst <= 0 {
		burst = DefaultReplayBurst
	}
	c := &Coordinator{
		queue:    cfg.Queue,
		upstream: cfg.Upstream,
		hub:      cfg.Hub,
		metrics:  cfg.Metrics,
		limiter:  rate.NewLimiter(replayRate, burst),
	}
	c.state.Store(int32(StateIdle))
	return c
}

func (c *Coordinator) State() State {
	if c == nil {
		return StateIdle
	}
	return State(c.state.Load())
}

// Trigger runs one drain pass. A trigger arriving while a pass is
// already running is dropped, not queued; the report's second return
// is false in that case. The pass attempts every entry exactly once
// and never loops.
func (c *Coordinator) Trigger(ctx context.Context, reason string) (Report, bool) {
	if c == nil || c.queue == nil || c.upstream == nil {
		return Report{}, false
	}
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateDraining)) {
		obs.Log(obs.LogEntry{Component: "syncer", Event: "trigger_dropped", Outcome: reason})
		return Report{}, false
	}
	defer c.state.Store(int32(StateIdle))
	return c.drain(ctx, reason), true
}

// TriggerAsync fires a pass without blocking the caller; used by the
// connectivity probe's offline-to-online transition.
func (c *Coordinator) TriggerAsync(reason string) {
	go func() {
		_, _ = c.Trigger(context.Background(), reason)
	}()
}

func (c *Coordinator) drain(ctx context.Context, reason string) Report {
	report := Report{Reason: reason}
	c.metrics.RecordSyncPass(reason)
	c.hub.Publish(event.Message{Type: event.TypeSync, Event: event.SyncStarted, Payload: map[string]string{"reason": reason}})
	started := time.Now()

	// Snapshot once: entries enqueued mid-pass belong to the next
	// trigger, not this one.
	pending, err := c.queue.ListAll()
	if err != nil {
		obs.LogError("syncer", "list_failed", err)
		c.hub.Publish(event.Message{Type: event.TypeSync, Event: event.SyncCompleted, Payload: report})
		return report
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := c.limiter.Wait(ctx); err != nil {
			break
		}
		report.Attempted++
		c.replay(ctx, entry, &report)
	}

	depth, derr := c.queue.Depth()
	if derr == nil {
		c.metrics.SetQueueDepth(depth)
	} else {
		// This pass's residue is the best estimate left.
		depth = report.Failed
	}
	obs.Log(obs.LogEntry{
		Component:  "syncer",
		Event:      "pass_completed",
		Outcome:    reason,
		DurationMS: time.Since(started).Milliseconds(),
		QueueDepth: depth,
	})
	c.hub.Publish(event.Message{Type: event.TypeSync, Event: event.SyncCompleted, Payload: report})
	return report
}

// replay attempts one entry. Any reachable-server response settles the
// entry: a 2xx is a delivery, anything else is a final rejection that
// retrying cannot fix. Only network-class failures keep the entry for
// the next pass, and one stuck entry never stops the sweep.
func (c *Coordinator) replay(ctx context.Context, entry queue.Request, report *Report) {
	header := make(http.Header, len(entry.Header))
	for name, value := range entry.Header {
		header.Set(name, value)
	}

	res, err := c.upstream.Do(ctx, entry.Method, entry.URL, header, entry.Body)
	if err != nil || upstream.IsConnectivityStatus(res.Status) {
		category := "unreachable"
		if err != nil {
			category, _ = upstream.ClassifyError(err)
		}
		report.Failed++
		c.metrics.RecordReplay("failed")
		if incErr := c.queue.IncrementAttempt(entry.ID); incErr != nil {
			obs.LogError("syncer", "increment_failed", incErr)
		}
		obs.Log(obs.LogEntry{
			Level:         "warn",
			Component:     "syncer",
			Event:         "replay_failed",
			QueueID:       entry.ID,
			Attempts:      entry.Attempts + 1,
			ErrorCategory: category,
		})
		return
	}

	result := "ok"
	if res.OK() {
		report.Replayed++
	} else {
		result = "rejected"
		report.Rejected++
	}
	c.metrics.RecordReplay(result)
	if err := c.queue.Remove(entry.ID); err != nil {
		obs.LogError("syncer", "remove_failed", err)
		return
	}
	obs.Log(obs.LogEntry{
		Component: "syncer",
		Event:     "replay_" + result,
		QueueID:   entry.ID,
		Status:    res.Status,
		Attempts:  entry.Attempts,
	})
}
