package download

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/burncloud/model-installer/pkg/checksum"
	"github.com/burncloud/model-installer/pkg/errkind"
	"github.com/burncloud/model-installer/pkg/install"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var modelBytes = bytes.Repeat([]byte("0123456789abcdef"), 8*1024) // 128KiB

// requestLog counts requests by method.
type requestLog struct {
	mu      sync.Mutex
	methods []string
	ranges  []string
	agents  []string
}

func (l *requestLog) record(r *http.Request) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.methods = append(l.methods, r.Method)
	l.ranges = append(l.ranges, r.Header.Get("Range"))
	l.agents = append(l.agents, r.Header.Get("User-Agent"))
}

func (l *requestLog) count(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.methods {
		if m == method {
			n++
		}
	}
	return n
}

// serveModel serves content with HEAD and Range support.
func serveModel(t *testing.T, content []byte) (*httptest.Server, *requestLog) {
	t.Helper()
	log := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.record(r)
		http.ServeContent(w, r, "model.gguf", time.Time{}, bytes.NewReader(content))
	}))
	t.Cleanup(srv.Close)
	return srv, log
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), opts...)
	require.NoError(t, err)
	return m
}

func sha256Of(b []byte) string {
	return checksum.Bytes(b, checksum.SHA256)
}

func TestFreeDiskSpace(t *testing.T) {
	free, err := FreeDiskSpace(t.TempDir())
	require.NoError(t, err)
	assert.Positive(t, free)
}

func TestNewManagerCreatesLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "models")
	m, err := NewManager(root)
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(root, "temp"))
	assert.DirExists(t, filepath.Join(root, "installed"))
	assert.Equal(t, DefaultMaxConcurrent, m.MaxConcurrent())
	assert.Equal(t, filepath.Join(root, "temp", "abc.tmp"), m.TempPath("abc"))

	_, err = NewManager("")
	assert.ErrorIs(t, err, errkind.ErrConfiguration)
}

func TestWithMaxConcurrent(t *testing.T) {
	assert.Equal(t, 7, newTestManager(t, WithMaxConcurrent(7)).MaxConcurrent())
	assert.Equal(t, DefaultMaxConcurrent, newTestManager(t, WithMaxConcurrent(0)).MaxConcurrent())
}

func TestDownloadSuccess(t *testing.T) {
	srv, _ := serveModel(t, modelBytes)

	var mu sync.Mutex
	var statuses []Status
	m := newTestManager(t, WithProgressFunc(func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		if len(statuses) == 0 || statuses[len(statuses)-1] != p.Status {
			statuses = append(statuses, p.Status)
		}
	}))

	p, err := m.Download(t.Context(), "m1", "llama.gguf", srv.URL+"/llama.gguf", strings.ToUpper(sha256Of(modelBytes)), checksum.SHA256)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, int64(len(modelBytes)), p.DownloadedBytes)
	assert.Equal(t, int64(len(modelBytes)), p.TotalBytes)
	assert.Equal(t, 100.0, p.Percent)
	assert.Empty(t, p.Error)
	assert.False(t, p.Resumed)

	data, err := os.ReadFile(filepath.Join(m.Root(), "llama.gguf"))
	require.NoError(t, err)
	assert.Equal(t, modelBytes, data)
	assert.NoFileExists(t, m.TempPath("m1"))

	assert.Equal(t, []Status{StatusDownloading, StatusVerifying, StatusCompleted}, statuses)
}

func TestDownloadWithoutChecksumSkipsVerification(t *testing.T) {
	srv, _ := serveModel(t, []byte("tiny"))
	m := newTestManager(t)

	p, err := m.Download(t.Context(), "m1", "tiny.bin", srv.URL, "", checksum.SHA256)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.FileExists(t, filepath.Join(m.Root(), "tiny.bin"))
}

func TestDownloadChecksumMismatch(t *testing.T) {
	srv, _ := serveModel(t, modelBytes)
	m := newTestManager(t)

	p, err := m.Download(t.Context(), "m1", "llama.gguf", srv.URL, sha256Of([]byte("something else")), checksum.SHA256)
	require.Error(t, err)

	var mismatch *checksum.MismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, sha256Of(modelBytes), mismatch.Actual)
	assert.ErrorIs(t, err, errkind.ErrIntegrity)

	assert.Equal(t, StatusFailed, p.Status)
	assert.NotEmpty(t, p.Error)
	assert.NoFileExists(t, filepath.Join(m.Root(), "llama.gguf"), "a corrupt download is never moved into place")
	assert.NoFileExists(t, m.TempPath("m1"))
}

func TestDownloadInsufficientSpace(t *testing.T) {
	srv, reqs := serveModel(t, modelBytes)
	m := newTestManager(t, WithDiskSpaceFunc(func(string) (uint64, error) { return 1024, nil }))

	p, err := m.Download(t.Context(), "m1", "llama.gguf", srv.URL, sha256Of(modelBytes), checksum.SHA256)
	require.Error(t, err)

	var space *InsufficientSpaceError
	require.True(t, errors.As(err, &space))
	assert.Equal(t, uint64(len(modelBytes)), space.Required)
	assert.Equal(t, uint64(1024), space.Available)
	assert.ErrorIs(t, err, errkind.ErrCapacity)
	assert.Contains(t, err.Error(), "128KiB")

	assert.Equal(t, StatusFailed, p.Status)
	assert.Equal(t, 0, reqs.count(http.MethodGet), "no body transfer starts")
	assert.NoFileExists(t, m.TempPath("m1"))
}

func TestDownloadDiskSpaceQueryFailure(t *testing.T) {
	srv, _ := serveModel(t, modelBytes)
	m := newTestManager(t, WithDiskSpaceFunc(func(string) (uint64, error) { return 0, os.ErrPermission }))

	_, err := m.Download(t.Context(), "m1", "llama.gguf", srv.URL, "", checksum.SHA256)
	assert.ErrorIs(t, err, errkind.ErrIO)
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestDownloadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	m := newTestManager(t)

	p, err := m.Download(t.Context(), "m1", "llama.gguf", srv.URL, "", checksum.SHA256)
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.ErrorIs(t, err, errkind.ErrTransport)
	assert.Equal(t, StatusFailed, p.Status)
}

func TestDownloadConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestManager(t).Download(t.Context(), "m1", "x.gguf", url, "", checksum.SHA256)
	assert.ErrorIs(t, err, errkind.ErrTransport)
}

func TestDownloadRejectsBadInput(t *testing.T) {
	m := newTestManager(t)
	tests := []struct {
		name, id, file, url string
	}{
		{"relative url", "m1", "a.gguf", "/just/a/path"},
		{"ftp url", "m1", "a.gguf", "ftp://example.com/a.gguf"},
		{"garbage url", "m1", "a.gguf", "http://[::1"},
		{"traversal name", "m1", "../a.gguf", "http://example.com/a.gguf"},
		{"empty id", "", "a.gguf", "http://example.com/a.gguf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := m.Download(t.Context(), tt.id, tt.file, tt.url, "", checksum.SHA256)
			assert.ErrorIs(t, err, errkind.ErrConfiguration)
			assert.Equal(t, StatusFailed, p.Status)
		})
	}

	_, err := m.Download(t.Context(), "m1", "a.gguf", "ftp://example.com/a.gguf", "", checksum.SHA256)
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestDownloadUnknownLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.(http.Flusher).Flush() // forces chunked encoding
		w.Write(modelBytes)
	}))
	defer srv.Close()

	// The capacity check is skipped when the size is unknown.
	m := newTestManager(t, WithDiskSpaceFunc(func(string) (uint64, error) { return 0, nil }))
	p, err := m.Download(t.Context(), "m1", "llama.gguf", srv.URL, sha256Of(modelBytes), checksum.SHA256)
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.TotalBytes)
	assert.Equal(t, int64(len(modelBytes)), p.DownloadedBytes)
}

func TestDownloadResumesPartialFile(t *testing.T) {
	srv, reqs := serveModel(t, modelBytes)
	m := newTestManager(t)

	half := len(modelBytes) / 2
	require.NoError(t, os.WriteFile(m.TempPath("m1"), modelBytes[:half], 0o644))

	p, err := m.Download(t.Context(), "m1", "llama.gguf", srv.URL, sha256Of(modelBytes), checksum.SHA256)
	require.NoError(t, err)
	assert.True(t, p.Resumed)
	assert.Equal(t, int64(len(modelBytes)), p.DownloadedBytes)

	data, err := os.ReadFile(filepath.Join(m.Root(), "llama.gguf"))
	require.NoError(t, err)
	assert.Equal(t, modelBytes, data)
	assert.Contains(t, reqs.ranges, "bytes=65536-")
}

func TestDownloadRestartsWhenRangeIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(modelBytes)
	}))
	defer srv.Close()
	m := newTestManager(t)
	require.NoError(t, os.WriteFile(m.TempPath("m1"), []byte("stale partial data"), 0o644))

	p, err := m.Download(t.Context(), "m1", "llama.gguf", srv.URL, sha256Of(modelBytes), checksum.SHA256)
	require.NoError(t, err)
	assert.False(t, p.Resumed)
}

func TestCancelInFlight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		w.Write(modelBytes[:1024])
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	var m *Manager
	var once sync.Once
	m = newTestManager(t, WithProgressFunc(func(p Progress) {
		if p.DownloadedBytes > 0 {
			once.Do(func() { require.NoError(t, m.Cancel(p.ID)) })
		}
	}))

	p, err := m.Download(t.Context(), "m1", "llama.gguf", srv.URL, "", checksum.SHA256)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCancelled, p.Status)
	assert.NoFileExists(t, m.TempPath("m1"))
	assert.NoFileExists(t, filepath.Join(m.Root(), "llama.gguf"))
}

func TestCallerCancellationKeepsPartialFile(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		w.Write(modelBytes[:2048])
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	m := newTestManager(t, WithProgressFunc(func(p Progress) {
		if p.DownloadedBytes >= 2048 {
			cancel()
		}
	}))
	p, err := m.Download(ctx, "m1", "llama.gguf", srv.URL, "", checksum.SHA256)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCancelled, p.Status)

	fi, err := os.Stat(m.TempPath("m1"))
	require.NoError(t, err, "the partial file is kept for a later resume")
	assert.Equal(t, int64(2048), fi.Size())
}

func TestCancelIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.WriteFile(m.TempPath("m1"), []byte("partial"), 0o644))

	require.NoError(t, m.Cancel("m1"))
	assert.NoFileExists(t, m.TempPath("m1"))
	require.NoError(t, m.Cancel("m1"))
	require.NoError(t, m.Cancel("never-started"))
	require.NoError(t, m.Cancel("../weird"))
}

func TestPauseResumeAreAcknowledged(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Pause("m1"))
	assert.True(t, m.pauseRequested("m1"))
	require.NoError(t, m.Resume("m1"))
	assert.False(t, m.pauseRequested("m1"))
}

func TestDownloadThenInstall(t *testing.T) {
	srv, _ := serveModel(t, modelBytes)
	m := newTestManager(t)

	_, err := m.Download(t.Context(), "m1", "llama.gguf", srv.URL, sha256Of(modelBytes), checksum.SHA256)
	require.NoError(t, err)

	rec, err := m.Install(t.Context(), "m1", filepath.Join(m.Root(), "llama.gguf"), install.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, sha256Of(modelBytes), rec.Checksum)

	records, err := m.ListInstalled()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "m1", records[0].ID)
	assert.Equal(t, int64(len(modelBytes)), records[0].FileSize)
	assert.Equal(t, rec.Checksum, records[0].Checksum)

	// Truncating the descriptor hides only that record.
	require.NoError(t, os.WriteFile(filepath.Join(rec.InstallPath, install.DescriptorName), []byte(`{"model_id": "m1"`), 0o644))
	records, err = m.ListInstalled()
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, m.Uninstall("m1"))
	require.NoError(t, m.Uninstall("m1"))
}

func TestDefaultClientSendsUserAgent(t *testing.T) {
	srv, reqs := serveModel(t, []byte("x"))
	m := newTestManager(t, WithUserAgent("burncloud-desktop/2.0"))

	_, err := m.Download(t.Context(), "m1", "x.bin", srv.URL, "", checksum.SHA256)
	require.NoError(t, err)
	require.NotEmpty(t, reqs.agents)
	for _, ua := range reqs.agents {
		assert.Equal(t, "burncloud-desktop/2.0 "+DefaultUserAgent, ua)
	}
}

func TestConcurrentDownloadsOfDistinctIDs(t *testing.T) {
	srv, _ := serveModel(t, modelBytes)
	var emitted atomic.Int64
	m := newTestManager(t, WithProgressFunc(func(Progress) { emitted.Add(1) }))

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Download(t.Context(), id, id+".gguf", srv.URL, sha256Of(modelBytes), checksum.SHA256)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, id := range []string{"a", "b", "c"} {
		assert.FileExists(t, filepath.Join(m.Root(), id+".gguf"))
	}
	assert.Positive(t, emitted.Load())
}
