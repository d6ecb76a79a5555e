// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Frames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facecheck_frames_total",
		Help: "Camera frames processed by session workers.",
	})
	FrameReadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facecheck_frame_read_errors_total",
		Help: "Failed camera reads.",
	})
	Detections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facecheck_detections_total",
		Help: "Faces returned by the face service.",
	})
	DetectErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facecheck_detect_errors_total",
		Help: "Failed face service calls from workers.",
	})
	MatchDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facecheck_match_decisions_total",
		Help: "Match engine decisions by outcome.",
	}, []string{"outcome"})
	LedgerWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facecheck_ledger_writes_total",
		Help: "Attendance ledger writes by outcome; storage failures are labelled error.",
	}, []string{"method", "outcome"})
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "facecheck_active_workers",
		Help: "Session workers currently running in this process.",
	})
	FrameSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "facecheck_frame_seconds",
		Help:    "Time to detect, match and record one frame.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	})
	SchedulerFlips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facecheck_scheduler_flips_total",
		Help: "Sessions started or stopped by the scheduler.",
	}, []string{"to"})
)
