// Package metrics exposes prometheus counters for uploads, fallbacks and reconciliation.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "imghost"

type Metrics struct {
	registry *prometheus.Registry

	uploads        *prometheus.CounterVec
	uploadFailures prometheus.Counter
	bytesWritten   *prometheus.CounterVec
	fallbacks      prometheus.Counter
	orphans        prometheus.Gauge
	migrated       prometheus.Counter
	migrateErrors  prometheus.Counter
	deleted        prometheus.Counter
	configVersion  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Images stored, by backend.",
		}, []string{"storage"}),
		uploadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_failures_total",
			Help:      "Uploaded files that could not be stored.",
		}),
		bytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Bytes written, by backend.",
		}, []string{"storage"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_fallbacks_total",
			Help:      "Remote writes that fell back to local storage.",
		}),
		orphans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orphans",
			Help:      "Unindexed local files seen by the last scan.",
		}),
		migrated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrated_total",
			Help:      "Orphaned files added to the index.",
		}),
		migrateErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrate_errors_total",
			Help:      "Orphaned files that could not be indexed.",
		}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deleted_total",
			Help:      "Index rows removed by deletes and prunes.",
		}),
		configVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "config_version",
			Help:      "Version of the active configuration snapshot.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.uploads,
		m.uploadFailures,
		m.bytesWritten,
		m.fallbacks,
		m.orphans,
		m.migrated,
		m.migrateErrors,
		m.deleted,
		m.configVersion,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Uploaded(storage string, size int64) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(storage).Inc()
	m.bytesWritten.WithLabelValues(storage).Add(float64(size))
}

func (m *Metrics) UploadFailed() {
	if m != nil {
		m.uploadFailures.Inc()
	}
}

func (m *Metrics) Fallback() {
	if m != nil {
		m.fallbacks.Inc()
	}
}

func (m *Metrics) OrphansSeen(count int) {
	if m != nil {
		m.orphans.Set(float64(count))
	}
}

func (m *Metrics) Migrated(ok, failed int) {
	if m == nil {
		return
	}
	m.migrated.Add(float64(ok))
	m.migrateErrors.Add(float64(failed))
}

func (m *Metrics) Deleted(count int) {
	if m != nil {
		m.deleted.Add(float64(count))
	}
}

func (m *Metrics) ConfigVersion(version uint64) {
	if m != nil {
		m.configVersion.Set(float64(version))
	}
}
