package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	ErrorsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobsync_errors_total",
			Help: "Total number of occurred errors.",
		},
		[]string{"type"},
	)
	PollTicksCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobsync_poll_ticks_total",
			Help: "Pipeline poll ticks by outcome.",
		},
		[]string{"result"},
	)
	MergedJobsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobsync_merged_jobs_total",
			Help: "Job records added to the collection by merge mode.",
		},
		[]string{"mode"},
	)
	CacheRequestsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobsync_cache_requests_total",
			Help: "Request cache lookups by result.",
		},
		[]string{"result"},
	)
	RollbacksCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobsync_mutation_rollbacks_total",
			Help: "Optimistic mutations rolled back after a backend failure.",
		},
		[]string{"operation"},
	)
	RequestDuration = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "jobsync_backend_request_duration_seconds",
			Help:       "Duration of backend requests.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"endpoint"},
	)
)

func Register() {
	prometheus.MustRegister(ErrorsCounter)
	prometheus.MustRegister(PollTicksCounter)
	prometheus.MustRegister(MergedJobsCounter)
	prometheus.MustRegister(CacheRequestsCounter)
	prometheus.MustRegister(RollbacksCounter)
	prometheus.MustRegister(RequestDuration)
}

// StartMetricsServer registers the collectors and serves them on address. Empty address disables the server.
func StartMetricsServer(address string) {
	Register()

	if address == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(address, mux); err != nil {
			log.Errorf("metrics server stopped: %v", err)
		}
	}()
}
