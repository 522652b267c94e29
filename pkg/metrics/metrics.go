// Package metrics records Prometheus metrics for the download, validation
// and install stages. Every method is safe to call on a nil *Metrics so
// components can run without instrumentation.
package metrics

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "model_installer"

// Metrics holds the pipeline collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	downloadsTotal     *prometheus.CounterVec
	downloadBytes      prometheus.Counter
	downloadDuration   prometheus.Histogram
	downloadsInFlight  prometheus.Gauge
	validationsTotal   *prometheus.CounterVec
	validationFindings *prometheus.CounterVec
	installsTotal      *prometheus.CounterVec
	installedBytes     prometheus.Histogram
	pipelineRuns       *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry, so
// several instances can coexist in one process.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		downloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Downloads by final status.",
		}, []string{"status"}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Bytes written to temporary download files.",
		}),
		downloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Wall time of completed downloads.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		downloadsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "downloads_in_flight",
			Help:      "Downloads currently transferring.",
		}),
		validationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Validation runs by verdict.",
		}, []string{"result"}),
		validationFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_findings_total",
			Help:      "Validation errors by severity.",
		}, []string{"severity"}),
		installsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "installs_total",
			Help:      "Installations by outcome.",
		}, []string{"status"}),
		installedBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "installed_file_size_bytes",
			Help:      "Size of installed model files.",
			// 1MB up to 256GB
			Buckets: prometheus.ExponentialBuckets(1<<20, 4, 10),
		}),
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Install-by-name runs by the stage they ended in.",
		}, []string{"stage", "result"}),
	}
	m.registry.MustRegister(
		m.downloadsTotal,
		m.downloadBytes,
		m.downloadDuration,
		m.downloadsInFlight,
		m.validationsTotal,
		m.validationFindings,
		m.installsTotal,
		m.installedBytes,
		m.pipelineRuns,
	)
	return m
}

// Registry returns the registry backing m, for exposing over HTTP.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// DownloadStarted marks a transfer as in flight.
func (m *Metrics) DownloadStarted() {
	if m == nil {
		return
	}
	m.downloadsInFlight.Inc()
}

// DownloadFinished records the terminal status of a transfer.
func (m *Metrics) DownloadFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.downloadsInFlight.Dec()
	m.downloadsTotal.WithLabelValues(status).Inc()
	if status == "completed" {
		m.downloadDuration.Observe(elapsed.Seconds())
	}
}

// BytesDownloaded adds n transferred bytes.
func (m *Metrics) BytesDownloaded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.downloadBytes.Add(float64(n))
}

// ValidationFinished records one validation run and the severity of each
// error it produced.
func (m *Metrics) ValidationFinished(valid bool, severities []string) {
	if m == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.validationsTotal.WithLabelValues(result).Inc()
	for _, s := range severities {
		m.validationFindings.WithLabelValues(s).Inc()
	}
}

// InstallFinished records an install attempt. size is ignored on failure.
func (m *Metrics) InstallFinished(err error, size int64) {
	if m == nil {
		return
	}
	if err != nil {
		m.installsTotal.WithLabelValues("failed").Inc()
		return
	}
	m.installsTotal.WithLabelValues("installed").Inc()
	m.installedBytes.Observe(float64(size))
}

// PipelineFinished records the stage a pipeline run ended in. Successful
// runs end in "install".
func (m *Metrics) PipelineFinished(stage string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.pipelineRuns.WithLabelValues(stage, result).Inc()
}

// WriteText writes every metric in the Prometheus text exposition format.
func (m *Metrics) WriteText(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
