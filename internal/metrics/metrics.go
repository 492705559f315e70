package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for chat requests.
const (
	OutcomeOK       = "ok"
	OutcomeInvalid  = "invalid"
	OutcomeUpstream = "upstream_error"
	OutcomeStore    = "store_error"
	OutcomeBusy     = "busy"
	OutcomeCanceled = "canceled"
)

type serviceMetrics struct {
	chatRequests    *prometheus.CounterVec
	completionTime  *prometheus.HistogramVec
	trimmedTurns    prometheus.Counter
	sessionsCreated prometheus.Counter
	sessionsEvicted prometheus.Counter
	liveSessions    prometheus.Gauge
	activeWorkers   prometheus.Gauge
	queueRejections prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *serviceMetrics
	registry    = prometheus.NewRegistry()
)

func getMetrics() *serviceMetrics {
	metricsOnce.Do(func() {
		m := &serviceMetrics{
			chatRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "firstaid_chat_requests_total",
					Help: "Chat requests by outcome.",
				},
				[]string{"outcome"},
			),
			completionTime: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "firstaid_completion_duration_seconds",
					Help:    "Completion endpoint round trip time by status.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"status"},
			),
			trimmedTurns: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "firstaid_trimmed_turns_total",
				Help: "Turns dropped by the sliding window.",
			}),
			sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "firstaid_sessions_created_total",
				Help: "Sessions started without a client-supplied id.",
			}),
			sessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "firstaid_sessions_evicted_total",
				Help: "Sessions dropped by capacity or idle eviction.",
			}),
			liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "firstaid_live_sessions",
				Help: "Sessions currently held by the store.",
			}),
			activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "firstaid_session_workers",
				Help: "Per-session workers currently running.",
			}),
			queueRejections: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "firstaid_queue_rejections_total",
				Help: "Requests refused because the session queue was full.",
			}),
		}
		registry.MustRegister(
			m.chatRequests,
			m.completionTime,
			m.trimmedTurns,
			m.sessionsCreated,
			m.sessionsEvicted,
			m.liveSessions,
			m.activeWorkers,
			m.queueRejections,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metricsInst = m
	})
	return metricsInst
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	getMetrics()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func ObserveChat(outcome string) {
	getMetrics().chatRequests.WithLabelValues(outcome).Inc()
}

func ObserveCompletion(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	getMetrics().completionTime.WithLabelValues(status).Observe(d.Seconds())
}

func AddTrimmed(n int) {
	if n > 0 {
		getMetrics().trimmedTurns.Add(float64(n))
	}
}

func IncSessionsCreated() { getMetrics().sessionsCreated.Inc() }

func IncSessionsEvicted() { getMetrics().sessionsEvicted.Inc() }

func SetLiveSessions(n int) { getMetrics().liveSessions.Set(float64(n)) }

func SetActiveWorkers(n int) { getMetrics().activeWorkers.Set(float64(n)) }

func IncQueueRejections() { getMetrics().queueRejections.Inc() }
