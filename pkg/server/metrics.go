package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slicewise_sessions_started_total",
		Help: "Play sessions created.",
	})
	stepsTaken = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slicewise_session_steps_total",
		Help: "Play steps accepted (terminal no-ops excluded).",
	})
	plotsRun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slicewise_plots_total",
		Help: "Batch plot simulations run.",
	})
	algorithmsUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slicewise_algorithm_uploads_total",
		Help: "Custom algorithms accepted into the store.",
	})
)
