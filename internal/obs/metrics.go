package obs

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	upstreamErrors  *prometheus.CounterVec
	cacheOps        *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	queueEnqueued   prometheus.Counter
	syncReplays     *prometheus.CounterVec
	syncPasses      *prometheus.CounterVec
	installs        *prometheus.CounterVec
	generationInfo  *prometheus.GaugeVec
	online          prometheus.Gauge
	mu              sync.Mutex
	lastVersion     string
}

var (
	defaultMetricsMu sync.RWMutex
	defaultMetrics   *Metrics
)

func SetDefaultMetrics(metrics *Metrics) {
	defaultMetricsMu.Lock()
	defaultMetrics = metrics
	defaultMetricsMu.Unlock()
}

func DefaultMetrics() *Metrics {
	defaultMetricsMu.RLock()
	defer defaultMetricsMu.RUnlock()
	return defaultMetrics
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Total gateway requests",
	}, []string{"class", "outcome"})

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "Gateway request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"class"})

	upstreamErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_upstream_errors_total",
		Help: "Total upstream network failures",
	}, []string{"category"})

	cacheOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_cache_operations_total",
		Help: "Total cache store operations",
	}, []string{"op", "result"})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_queue_depth",
		Help: "Pending requests in the outbox queue",
	})

	queueEnqueued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_queue_enqueued_total",
		Help: "Total requests captured into the outbox queue",
	})

	syncReplays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_sync_replays_total",
		Help: "Total replay attempts during drain passes",
	}, []string{"result"})

	syncPasses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_sync_passes_total",
		Help: "Total drain passes",
	}, []string{"reason"})

	installs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_installs_total",
		Help: "Total generation install attempts",
	}, []string{"result"})

	generationInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_generation_info",
		Help: "Active cache generation metadata",
	}, []string{"version"})

	online := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_connectivity_online",
		Help: "Upstream connectivity state (1 online, 0 offline)",
	})

	registry.MustRegister(requests, requestDuration, upstreamErrors, cacheOps, queueDepth, queueEnqueued, syncReplays, syncPasses, installs, generationInfo, online)

	return &Metrics{
		registry:        registry,
		requests:        requests,
		requestDuration: requestDuration,
		upstreamErrors:  upstreamErrors,
		cacheOps:        cacheOps,
		queueDepth:      queueDepth,
		queueEnqueued:   queueEnqueued,
		syncReplays:     syncReplays,
		syncPasses:      syncPasses,
		installs:        installs,
		generationInfo:  generationInfo,
		online:          online,
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(class string, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	if outcome == "" {
		outcome = "unknown"
	}
	m.requests.WithLabelValues(class, outcome).Inc()
	m.requestDuration.WithLabelValues(class).Observe(duration.Seconds())
}

func (m *Metrics) RecordUpstreamError(category string) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	if category == "" {
		category = "unknown"
	}
	m.upstreamErrors.WithLabelValues(category).Inc()
}

func (m *Metrics) RecordCacheOp(op string, result string) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	if result == "" {
		result = "unknown"
	}
	m.cacheOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) RecordEnqueue() {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	m.queueEnqueued.Inc()
}

func (m *Metrics) RecordReplay(result string) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	if result == "" {
		result = "unknown"
	}
	m.syncReplays.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordSyncPass(reason string) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	if reason == "" {
		reason = "manual"
	}
	m.syncPasses.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordInstall(result string) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	if result == "" {
		result = "unknown"
	}
	m.installs.WithLabelValues(result).Inc()
}

func (m *Metrics) SetGenerationInfo(version string) {
	if m == nil || version == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastVersion != "" {
		m.generationInfo.WithLabelValues(m.lastVersion).Set(0)
	}
	m.generationInfo.WithLabelValues(version).Set(1)
	m.lastVersion = version
}

func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	value := 0.0
	if online {
		value = 1.0
	}
	m.online.Set(value)
}
