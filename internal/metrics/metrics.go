// Package metrics provides Prometheus metrics for the track cache and archive builder.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels stay low-cardinality: no track ids or archive keys.

var (
	// TranscodesTotal counts finished track attempts by result (ok, resolve_error, transcode_error, commit_error).
	TranscodesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunecache_transcodes_total",
		Help: "Total number of finished track transcode attempts, by result.",
	}, []string{"result"})

	// ArchiveBuildsTotal counts finished archive builds by result.
	ArchiveBuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunecache_archive_builds_total",
		Help: "Total number of finished archive builds, by result.",
	}, []string{"result"})

	// AdmissionRejectionsTotal counts tracks refused for exceeding the length limit.
	AdmissionRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunecache_admission_rejections_total",
		Help: "Total number of track requests rejected for exceeding the maximum length.",
	})

	// InFlight tracks running background work by kind (track, archive).
	InFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tunecache_inflight",
		Help: "Current number of in-flight background jobs, by kind.",
	}, []string{"kind"})

	// TranscodeDuration observes the wall time of successful track attempts.
	TranscodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tunecache_transcode_duration_seconds",
		Help:    "Duration of successful track transcode attempts.",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
	})
)

func RecordTranscode(result string, d time.Duration) {
	TranscodesTotal.WithLabelValues(result).Inc()
	if result == "ok" {
		TranscodeDuration.Observe(d.Seconds())
	}
}

func RecordArchiveBuild(result string) {
	ArchiveBuildsTotal.WithLabelValues(result).Inc()
}

func RecordAdmissionRejection() {
	AdmissionRejectionsTotal.Inc()
}

// TrackInFlight increments the gauge for kind and returns a func that decrements it.
func TrackInFlight(kind string) func() {
	g := InFlight.WithLabelValues(kind)
	g.Inc()
	return g.Dec
}
