package connectivity

import (
	"context"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"chat_offline_gateway/internal/event"
	"chat_offline_gateway/internal/obs"
	"chat_offline_gateway/internal/upstream"
)

const (
	DefaultPath             = "/api/health"
	DefaultInterval         = 5 * time.Second
	DefaultSuccessThreshold = 1
	DefaultFailureThreshold = 2
)

type Config struct {
	Upstream *upstream.Client
	Hub      *event.Hub
	Metrics  *obs.Metrics

	Path             string
	Interval         time.Duration
	SuccessThreshold int
	FailureThreshold int

	// OnOnline fires once per offline-to-online transition; wired to
	// the sync coordinator's reconnect trigger.
	OnOnline func()
}

// Probe polls the upstream health endpoint and maintains the
// process-wide online/offline bit. The widget host has no browser
// online event to lean on, so reconnects are detected actively.
type Probe struct {
	upstream *upstream.Client
	hub      *event.Hub
	metrics  *obs.Metrics

	path             string
	interval         time.Duration
	successThreshold int
	failureThreshold int
	onOnline         func()

	online       atomic.Bool
	consecutive  int
	stopOnce     sync.Once
	stop         chan struct{}
	done         chan struct{}
}

func NewProbe(cfg Config) *Probe {
	p := &Probe{
		upstream:         cfg.Upstream,
		hub:              cfg.Hub,
		metrics:          cfg.Metrics,
		path:             cfg.Path,
		interval:         cfg.Interval,
		successThreshold: cfg.SuccessThreshold,
		failureThreshold: cfg.FailureThreshold,
		onOnline:         cfg.OnOnline,
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}
	if p.path == "" {
		p.path = DefaultPath
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.successThreshold <= 0 {
		p.successThreshold = DefaultSuccessThreshold
	}
	if p.failureThreshold <= 0 {
		p.failureThreshold = DefaultFailureThreshold
	}
	// Until the first probe lands the process assumes it is online;
	// sends fail into the outbox either way.
	p.online.Store(true)
	return p
}

func (p *Probe) Online() bool {
	if p == nil {
		return true
	}
	return p.online.Load()
}

func (p *Probe) Start() {
	if p == nil {
		return
	}
	go p.loop()
}

func (p *Probe) Stop() {
	if p == nil {
		return
	}
	p.stopOnce.Do(func() {
		close(p.stop)
		<-p.done
	})
}

func (p *Probe) loop() {
	defer close(p.done)
	for {
		// Jitter keeps many widget instances from probing in lockstep.
		wait := p.interval + time.Duration(rand.Int63n(int64(p.interval)/4+1))
		timer := time.NewTimer(wait)
		select {
		case <-p.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
		p.probeOnce()
	}
}

func (p *Probe) probeOnce() {
	defer func() {
		_ = recover()
	}()

	res, err := p.upstream.Do(context.Background(), http.MethodGet, p.path, nil, nil)
	ok := err == nil && !upstream.IsConnectivityStatus(res.Status)
	wasOnline := p.online.Load()

	if ok == wasOnline {
		p.consecutive = 0
		return
	}
	p.consecutive++

	if ok && p.consecutive >= p.successThreshold {
		p.consecutive = 0
		p.online.Store(true)
		p.metrics.SetOnline(true)
		obs.Log(obs.LogEntry{Component: "connectivity", Event: "online"})
		p.hub.Publish(event.Message{Type: event.TypeConnectivity, Event: event.Online})
		if p.onOnline != nil {
			p.onOnline()
		}
		return
	}
	if !ok && p.consecutive >= p.failureThreshold {
		p.consecutive = 0
		p.online.Store(false)
		p.metrics.SetOnline(false)
		category := "unreachable"
		if err != nil {
			category, _ = upstream.ClassifyError(err)
		}
		obs.Log(obs.LogEntry{Level: "warn", Component: "connectivity", Event: "offline", ErrorCategory: category})
		p.hub.Publish(event.Message{Type: event.TypeConnectivity, Event: event.Offline})
	}
}
