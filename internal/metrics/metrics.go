// Package metrics exports the outcome of the last run in the Prometheus
// text format, for node_exporter's textfile collector.
//
// Metrics:
//   - spacebak_last_run_success: 1 if the last run wrote an archive
//   - spacebak_last_run_timestamp_seconds: when the last run finished
//   - spacebak_last_run_duration_seconds: how long the last run took
//   - spacebak_last_run_error: 1 for the kind of error the last run hit
//   - spacebak_last_run_deletions: archives deleted by reason
//   - spacebak_last_run_freed_bytes: bytes released by deletions
//   - spacebak_archives: archives in the output directory
//   - spacebak_archives_bytes: combined size of those archives
//   - spacebak_needed_bytes: free space required before writing
//   - spacebak_free_bytes: free space on the output filesystem
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcdonaldj/spacebak/internal/inventory"
	"github.com/mcdonaldj/spacebak/internal/retention"
)

const namespace = "spacebak"

var errorKinds = []retention.Kind{
	retention.KindConfig,
	retention.KindScan,
	retention.KindStat,
	retention.KindDelete,
	retention.KindSpace,
	retention.KindWrite,
	retention.KindLocked,
	retention.KindUnknown,
}

// Recorder holds the gauges for one run.
type Recorder struct {
	registry *prometheus.Registry

	success   prometheus.Gauge
	timestamp prometheus.Gauge
	duration  prometheus.Gauge
	errors    *prometheus.GaugeVec
	deletions *prometheus.GaugeVec
	freed     prometheus.Gauge

	archives      prometheus.Gauge
	archivesBytes prometheus.Gauge
	needed        prometheus.Gauge
	free          prometheus.Gauge
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry:  prometheus.NewRegistry(),
		success:   gauge("last_run_success", "Whether the last run wrote an archive"),
		timestamp: gauge("last_run_timestamp_seconds", "Unix time the last run finished"),
		duration:  gauge("last_run_duration_seconds", "Duration of the last run"),
		errors: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_error",
				Help:      "Set to 1 for the kind of error that ended the last run",
			},
			[]string{"kind"},
		),
		deletions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_deletions",
				Help:      "Archives deleted by the last run",
			},
			[]string{"reason"},
		),
		freed:         gauge("last_run_freed_bytes", "Bytes released by deletions in the last run"),
		archives:      gauge("archives", "Archives in the output directory"),
		archivesBytes: gauge("archives_bytes", "Combined size of the archives in the output directory"),
		needed:        gauge("needed_bytes", "Free space required before writing an archive"),
		free:          gauge("free_bytes", "Free space on the output filesystem"),
	}

	r.registry.MustRegister(
		r.success,
		r.timestamp,
		r.duration,
		r.errors,
		r.deletions,
		r.freed,
		r.archives,
		r.archivesBytes,
		r.needed,
		r.free,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Observe sets every gauge from a finished run. snap is the inventory after
// the run; res may be nil when the run never started.
func (r *Recorder) Observe(res *retention.Result, snap inventory.Snapshot, err error) {
	failed := retention.KindOf(err)
	for _, k := range errorKinds {
		v := 0.0
		if err != nil && k == failed {
			v = 1
		}
		r.errors.WithLabelValues(k.String()).Set(v)
	}

	if err == nil && res != nil && res.Archive != nil {
		r.success.Set(1)
	} else {
		r.success.Set(0)
	}

	r.archives.Set(float64(snap.Count()))
	r.archivesBytes.Set(float64(snap.TotalSize()))

	if res == nil {
		return
	}
	if !res.Finished.IsZero() {
		r.timestamp.Set(float64(res.Finished.Unix()))
		r.duration.Set(res.Finished.Sub(res.Started).Seconds())
	}
	r.deletions.WithLabelValues(retention.ReasonCount).Set(float64(res.DeletedFor(retention.ReasonCount)))
	r.deletions.WithLabelValues(retention.ReasonSpace).Set(float64(res.DeletedFor(retention.ReasonSpace)))
	r.freed.Set(float64(res.Freed()))
	r.needed.Set(float64(res.Needed))

	free := res.After.Free
	if res.After.Total == 0 {
		free = res.Before.Free
	}
	r.free.Set(float64(free))
}

// WriteTextfile writes all metrics to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
