// Package metrics exposes Prometheus instrumentation for the camera worker
// and capture pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tethernode_commands_total",
		Help: "Camera commands executed by the worker, by command name and outcome.",
	}, []string{"command", "outcome"})

	commandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tethernode_command_duration_seconds",
		Help:    "Wall-clock duration of camera commands.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"command"})

	framesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tethernode_preview_frames_total",
		Help: "Live-view preview frames fetched from the camera.",
	})

	capturesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tethernode_captures_total",
		Help: "Captured images downloaded and saved to the library.",
	})

	disconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tethernode_disconnects_total",
		Help: "Camera sessions terminated by an I/O disconnect fault.",
	})
)

// ObserveCommand records one executed worker command.
func ObserveCommand(name string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	commandsTotal.WithLabelValues(name, outcome).Inc()
	commandDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// IncFrames counts one fetched preview frame.
func IncFrames() { framesTotal.Inc() }

// IncCaptures counts one saved capture.
func IncCaptures() { capturesTotal.Inc() }

// IncDisconnects counts one terminal session disconnect.
func IncDisconnects() { disconnectsTotal.Inc() }

// Handler returns the HTTP handler serving the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
