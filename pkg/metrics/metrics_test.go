package metrics

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.DownloadStarted()
	m.DownloadFinished("failed", time.Second)
	m.BytesDownloaded(10)
	m.ValidationFinished(false, []string{"critical"})
	m.InstallFinished(nil, 1)
	m.PipelineFinished("download", errors.New("boom"))
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.WriteText(&bytes.Buffer{}))
}

func TestDownloadCounters(t *testing.T) {
	m := New()

	m.DownloadStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.downloadsInFlight))
	m.BytesDownloaded(512)
	m.BytesDownloaded(-3)
	m.DownloadFinished("completed", 2*time.Second)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.downloadsInFlight))
	assert.Equal(t, 512.0, testutil.ToFloat64(m.downloadBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.downloadsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.downloadDuration))
}

func TestValidationAndInstallCounters(t *testing.T) {
	m := New()

	m.ValidationFinished(false, []string{"critical", "high", "high"})
	m.ValidationFinished(true, nil)
	m.InstallFinished(errors.New("disk"), 0)
	m.InstallFinished(nil, 4<<20)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.validationsTotal.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.validationsTotal.WithLabelValues("valid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.validationFindings.WithLabelValues("high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.installsTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.installsTotal.WithLabelValues("installed")))
}

func TestPipelineRuns(t *testing.T) {
	m := New()
	m.PipelineFinished("validate", errors.New("invalid"))
	m.PipelineFinished("install", nil)
	m.PipelineFinished("install", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.pipelineRuns.WithLabelValues("validate", "failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pipelineRuns.WithLabelValues("install", "success")))
}

func TestGatherAndWriteText(t *testing.T) {
	m := New()
	m.InstallFinished(nil, 1<<20)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}
	installs, ok := byName["model_installer_installs_total"]
	require.True(t, ok)
	assert.Equal(t, dto.MetricType_COUNTER, installs.GetType())
	require.Len(t, installs.GetMetric(), 1)
	assert.Equal(t, 1.0, installs.GetMetric()[0].GetCounter().GetValue())

	var buf bytes.Buffer
	require.NoError(t, m.WriteText(&buf))
	assert.Contains(t, buf.String(), `model_installer_installs_total{status="installed"} 1`)
	assert.Contains(t, buf.String(), "# TYPE model_installer_installed_file_size_bytes histogram")
}
