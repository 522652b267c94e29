package download

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusDownloading, true},
		{StatusQueued, StatusVerifying, false},
		{StatusQueued, StatusFailed, true},
		{StatusDownloading, StatusVerifying, true},
		{StatusDownloading, StatusCompleted, false},
		{StatusDownloading, StatusPaused, true},
		{StatusDownloading, StatusQueued, false},
		{StatusPaused, StatusDownloading, true},
		{StatusPaused, StatusCancelled, true},
		{StatusVerifying, StatusCompleted, true},
		{StatusVerifying, StatusInstalling, true},
		{StatusVerifying, StatusDownloading, false},
		{StatusInstalling, StatusCompleted, true},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusDownloading, false},
		{StatusCancelled, StatusFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestStatusText(t *testing.T) {
	for s := StatusQueued; s <= StatusPaused; s++ {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var got Status
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, s, got)
	}
	var s Status
	assert.Error(t, s.UnmarshalText([]byte("exploded")))
	assert.Equal(t, "Status(42)", Status(42).String())

	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusPaused.IsTerminal())
}

func TestProgressTransitionRejectsBackwards(t *testing.T) {
	p := newProgress("m1", "a.gguf", time.Now())
	require.NoError(t, p.transition(StatusDownloading))
	require.NoError(t, p.transition(StatusVerifying))
	err := p.transition(StatusDownloading)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, StatusVerifying, p.Status)
}

func TestProgressAdvance(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := newProgress("m1", "a.gguf", start)
	p.TotalBytes = 1000

	p.advance(250, start.Add(time.Second))
	assert.Equal(t, int64(250), p.DownloadedBytes)
	assert.InDelta(t, 25.0, p.Percent, 0.001)
	assert.InDelta(t, 250.0, p.SpeedBps, 0.001)
	require.NotNil(t, p.ETA)
	assert.Equal(t, 3*time.Second, *p.ETA)

	p.advance(750, start.Add(2*time.Second))
	assert.InDelta(t, 100.0, p.Percent, 0.001)
	assert.Equal(t, time.Duration(0), *p.ETA)
}

func TestProgressSpeedIgnoresResumedBytes(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := newProgress("m1", "a.gguf", start)
	p.resumeAt(600)
	p.TotalBytes = 1000
	assert.True(t, p.Resumed)

	p.advance(100, start.Add(time.Second))
	assert.Equal(t, int64(700), p.DownloadedBytes)
	assert.InDelta(t, 100.0, p.SpeedBps, 0.001)
	assert.Equal(t, 3*time.Second, *p.ETA)
}

func TestProgressUnknownTotal(t *testing.T) {
	start := time.Now()
	p := newProgress("m1", "a.gguf", start)
	p.advance(100, start.Add(time.Second))
	assert.Zero(t, p.Percent)
	assert.Nil(t, p.ETA)
}

func readMessages(t *testing.T, buf *bytes.Buffer) []Message {
	t.Helper()
	var msgs []Message
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var m Message
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		msgs = append(msgs, m)
	}
	return msgs
}

func TestJSONReporterThrottles(t *testing.T) {
	var buf bytes.Buffer
	report := NewJSONReporter(&buf)

	p := Progress{ID: "m1", Status: StatusDownloading, TotalBytes: 10 << 20}
	report(p)
	for i := 1; i <= 10; i++ {
		p.DownloadedBytes = int64(i) * 1024
		report(p)
	}
	p.Status = StatusVerifying
	report(p)

	msgs := readMessages(t, &buf)
	require.Len(t, msgs, 2, "chunks inside the interval are dropped, status changes are not")
	assert.Equal(t, "downloading", msgs[0].Status)
	assert.Equal(t, "verifying", msgs[1].Status)
	assert.Equal(t, "m1", msgs[1].ID)
	assert.Equal(t, int64(10*1024), msgs[1].Downloaded)
}

func TestJSONReporterReportsLargeJumps(t *testing.T) {
	var buf bytes.Buffer
	report := NewJSONReporter(&buf)

	p := Progress{ID: "m1", Status: StatusDownloading, TotalBytes: 10 << 20}
	report(p)
	p.DownloadedBytes = MinBytesForUpdate
	report(p)
	p.DownloadedBytes = p.TotalBytes
	report(p)

	assert.Len(t, readMessages(t, &buf), 3)
}

func TestWriteHelpers(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSuccess(&buf, "done"))
	require.NoError(t, WriteWarning(&buf, "careful"))
	require.NoError(t, WriteError(&buf, "broken"))
	require.NoError(t, WriteSuccess(nil, "ignored"))

	msgs := readMessages(t, &buf)
	require.Len(t, msgs, 3)
	assert.Equal(t, Message{Type: "success", Message: "done"}, msgs[0])
	assert.Equal(t, "warning", msgs[1].Type)
	assert.Equal(t, "broken", msgs[2].Message)
}
