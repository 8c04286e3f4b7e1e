package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestCounter counts HTTP requests by status code, method, and route.
	RequestCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainiq_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"status", "method", "path"},
	)

	// RequestDuration measures HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainiq_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status", "method", "path"},
	)

	// RequestInProgress counts HTTP requests currently being processed.
	RequestInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainiq_http_requests_in_progress",
			Help: "Number of HTTP requests currently being processed",
		},
		[]string{"method", "path"},
	)

	// AttemptsRecorded counts persisted quiz attempts by source (api, play).
	AttemptsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainiq_quiz_attempts_recorded_total",
			Help: "Total number of quiz attempts persisted",
		},
		[]string{"source", "perfect"},
	)

	// ProgressionConflicts counts answers rejected by the session store version check.
	ProgressionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainiq_progression_conflicts_total",
			Help: "Progression updates rejected because the state changed concurrently",
		},
	)

	// ChainSubmissions counts reward-contract submission attempts by outcome.
	ChainSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainiq_chain_submissions_total",
			Help: "Reward contract submission attempts by outcome",
		},
		[]string{"method", "outcome"},
	)

	// LeaderboardDuration measures leaderboard aggregation time.
	LeaderboardDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainiq_leaderboard_compute_seconds",
			Help:    "Leaderboard aggregation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
