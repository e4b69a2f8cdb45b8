package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cslearn_submissions_processed_total",
		Help: "Total number of graded submissions by final status",
	}, []string{"status"})
	RunsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cslearn_test_runs_processed_total",
		Help: "Total number of graded test runs",
	})
	DeferredUpdatesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cslearn_deferred_updates_applied_total",
		Help: "Total number of deferred updates consumed by the sweep",
	}, []string{"target"})
	JudgeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cslearn_judge_request_duration_seconds",
		Help:    "Judge call latency in seconds",
		Buckets: prometheus.DefBuckets,
	})
	JudgeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cslearn_judge_failures_total",
		Help: "Total number of judge calls that failed after all retries",
	})
	Resubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cslearn_resubmitted_total",
		Help: "Total number of submissions re-enqueued by re-evaluation",
	})
	RankingCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cslearn_ranking_cache_total",
		Help: "Ranking page cache lookups by result",
	}, []string{"result"})
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cslearn_events_published_total",
		Help: "Total number of events written to Kafka",
	}, []string{"topic", "status"})
)

func IncSubmission(status string) {
	SubmissionsProcessed.WithLabelValues(status).Inc()
}

func IncDeferredUpdate(target string) {
	DeferredUpdatesApplied.WithLabelValues(target).Inc()
}

func ObserveJudge(seconds float64) {
	JudgeDuration.Observe(seconds)
}

func IncRankingCache(result string) {
	RankingCache.WithLabelValues(result).Inc()
}

func IncEvent(topic, status string) {
	EventsPublished.WithLabelValues(topic, status).Inc()
}
