// Package download fetches model files over HTTP into a managed root
// directory, verifies their checksum and hands them to the installer.
//
// Layout under the root:
//
//	<root>/temp/<id>.tmp   partial transfers
//	<root>/<name>          completed downloads
//	<root>/installed/<id>  installs, see package install
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/burncloud/model-installer/pkg/checksum"
	"github.com/burncloud/model-installer/pkg/errkind"
	"github.com/burncloud/model-installer/pkg/install"
	"github.com/burncloud/model-installer/pkg/logging"
	"github.com/burncloud/model-installer/pkg/metrics"
	"github.com/docker/go-units"
)

const (
	// DefaultMaxConcurrent is the advisory limit on parallel downloads.
	DefaultMaxConcurrent = 3

	tempDirName      = "temp"
	installedDirName = "installed"
	tempSuffix       = ".tmp"
	copyBufferSize   = 32 * 1024
)

// DiskSpaceFunc reports the free bytes on the filesystem holding path.
type DiskSpaceFunc func(path string) (uint64, error)

// Manager downloads, verifies and installs model files under one root.
type Manager struct {
	root          string
	tempDir       string
	client        *http.Client
	maxConcurrent int
	diskSpace     DiskSpaceFunc
	onProgress    ProgressFunc
	log           logging.Logger
	metrics       *metrics.Metrics
	installer     *install.Manager
	now           func() time.Time

	mu     sync.Mutex
	active map[string]context.CancelFunc
	paused map[string]bool
}

type options struct {
	client        *http.Client
	userAgent     string
	headerTimeout time.Duration
	maxConcurrent int
	diskSpace     DiskSpaceFunc
	onProgress    ProgressFunc
	logger        logging.Logger
	metrics       *metrics.Metrics
}

// Option configures a Manager.
type Option func(*options)

// WithHTTPClient replaces the default client. The caller is responsible for
// its timeouts and user agent.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

// WithUserAgent prefixes the default user agent with a product token.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		o.userAgent = ua
	}
}

// WithResponseHeaderTimeout bounds the wait for response headers of the
// default client.
func WithResponseHeaderTimeout(d time.Duration) Option {
	return func(o *options) {
		o.headerTimeout = d
	}
}

// WithMaxConcurrent sets the advisory concurrency limit reported by
// MaxConcurrent. Values below one are ignored.
func WithMaxConcurrent(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithDiskSpaceFunc replaces the free-space query used by the pre-flight
// check.
func WithDiskSpaceFunc(f DiskSpaceFunc) Option {
	return func(o *options) {
		o.diskSpace = f
	}
}

// WithProgressFunc registers a callback for progress snapshots.
func WithProgressFunc(f ProgressFunc) Option {
	return func(o *options) {
		o.onProgress = f
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics records download and install outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// NewManager creates the directory layout under root and returns a Manager.
func NewManager(root string, opts ...Option) (*Manager, error) {
	o := options{
		maxConcurrent: DefaultMaxConcurrent,
		headerTimeout: DefaultResponseHeaderTimeout,
		diskSpace:     FreeDiskSpace,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if root == "" {
		return nil, errkind.Configurationf("download root is empty")
	}

	tempDir := filepath.Join(root, tempDirName)
	installedDir := filepath.Join(root, installedDirName)
	for _, dir := range []string{root, tempDir, installedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errkind.IOError("create download directories", err)
		}
	}

	client := o.client
	if client == nil {
		client = NewHTTPClient(o.userAgent, o.headerTimeout)
	}
	log := logging.Component(o.logger, "download")

	return &Manager{
		root:          root,
		tempDir:       tempDir,
		client:        client,
		maxConcurrent: o.maxConcurrent,
		diskSpace:     o.diskSpace,
		onProgress:    o.onProgress,
		log:           log,
		metrics:       o.metrics,
		installer:     install.NewManager(installedDir, tempDir, install.WithLogger(o.logger), install.WithMetrics(o.metrics)),
		now:           time.Now,
		active:        make(map[string]context.CancelFunc),
		paused:        make(map[string]bool),
	}, nil
}

// Root returns the download root directory.
func (m *Manager) Root() string { return m.root }

// TempDir returns the directory holding partial downloads.
func (m *Manager) TempDir() string { return m.tempDir }

// MaxConcurrent returns the advisory limit on parallel downloads. The
// manager does not enforce it; schedulers built on top do.
func (m *Manager) MaxConcurrent() int { return m.maxConcurrent }

// TempPath returns the partial-download path for id.
func (m *Manager) TempPath(id string) string {
	return filepath.Join(m.tempDir, id+tempSuffix)
}

func (m *Manager) emit(p *Progress) {
	if m.onProgress != nil {
		m.onProgress(*p)
	}
}

// Download fetches rawURL into <root>/<name>, verifying it against expected
// (hex, algorithm t) before the final rename. An empty expected value skips
// the comparison. The returned Progress reflects the final state on both
// success and failure.
//
// A partial file left by an interrupted call for the same id is continued
// with a range request when the server supports it.
func (m *Manager) Download(ctx context.Context, id, name, rawURL, expected string, t checksum.Type) (*Progress, error) {
	p := newProgress(id, name, m.now())
	log := m.log.WithFields(logging.Fields{"id": id, "name": logging.Sanitize(name)})

	m.metrics.DownloadStarted()
	err := m.download(ctx, p, log, rawURL, expected, t)
	m.metrics.DownloadFinished(p.Status.String(), m.now().Sub(p.StartedAt))
	return p, err
}

func (m *Manager) download(ctx context.Context, p *Progress, log logging.Logger, rawURL, expected string, t checksum.Type) error {
	fail := func(err error) error {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			p.Status = StatusCancelled
		} else {
			p.Status = StatusFailed
		}
		p.Error = err.Error()
		log.WithError(err).Warnf("Download %s", p.Status)
		m.emit(p)
		return err
	}

	if err := install.ValidateID(p.ID); err != nil {
		return fail(err)
	}
	if err := install.ValidateID(p.Name); err != nil {
		return fail(errkind.Configurationf("invalid file name %q", p.Name))
	}
	u, err := parseURL(rawURL)
	if err != nil {
		return fail(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.track(p.ID, cancel)
	defer m.untrack(p.ID)

	if err := p.transition(StatusDownloading); err != nil {
		return fail(err)
	}
	m.emit(p)

	tempPath := m.TempPath(p.ID)
	if err := m.preflight(ctx, u, tempPath, log); err != nil {
		return fail(err)
	}
	if err := m.fetch(ctx, p, u, tempPath, log); err != nil {
		return fail(err)
	}

	if err := p.transition(StatusVerifying); err != nil {
		return fail(err)
	}
	m.emit(p)
	if expected == "" {
		log.Warnf("No checksum provided, skipping verification")
	} else if err := checksum.Verify(tempPath, expected, t); err != nil {
		os.Remove(tempPath)
		return fail(err)
	}

	final := filepath.Join(m.root, p.Name)
	if err := os.Rename(tempPath, final); err != nil {
		return fail(errkind.IOError("move download into place", err))
	}
	if err := p.transition(StatusCompleted); err != nil {
		return fail(err)
	}
	p.Percent = 100
	p.ETA = nil
	m.emit(p)
	log.Infof("Downloaded %s to %s", units.HumanSize(float64(p.DownloadedBytes)), final)
	return nil
}

func parseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, logging.Sanitize(raw))
	}
	return u, nil
}

// preflight asks the server for the content length and compares what is
// still to be transferred with the free space of the temp directory. Nothing
// is written before it passes.
func (m *Manager) preflight(ctx context.Context, u *url.URL, tempPath string, log logging.Logger) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.String(), http.NoBody)
	if err != nil {
		return errkind.Configurationf("build request: %v", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return errkind.TransportError("probe download size", err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 || resp.ContentLength < 0 {
		log.Debugf("Size probe returned %s, skipping capacity check", resp.Status)
		return nil
	}

	required := uint64(resp.ContentLength)
	if fi, err := os.Stat(tempPath); err == nil && uint64(fi.Size()) <= required {
		required -= uint64(fi.Size())
	}
	available, err := m.diskSpace(m.tempDir)
	if err != nil {
		return errkind.IOError("query free disk space", err)
	}
	if required > available {
		return &InsufficientSpaceError{Path: m.tempDir, Required: required, Available: available}
	}
	return nil
}

// fetch streams the body into tempPath, continuing an existing partial file
// when the server honors the range request.
func (m *Manager) fetch(ctx context.Context, p *Progress, u *url.URL, tempPath string, log logging.Logger) error {
	var offset int64
	if fi, err := os.Stat(tempPath); err == nil {
		offset = fi.Size()
	}

	resp, err := m.get(ctx, u, offset)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0 {
		// The partial file is stale or already complete; start over.
		resp.Body.Close()
		log.Debugf("Server rejected resume at %d, restarting", offset)
		offset = 0
		if resp, err = m.get(ctx, u, 0); err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flags |= os.O_APPEND
		log.Infof("Resuming download at %s", units.HumanSize(float64(offset)))
	case http.StatusOK:
		flags |= os.O_TRUNC
		offset = 0
	default:
		return &HTTPStatusError{URL: logging.Sanitize(u.String()), StatusCode: resp.StatusCode, Status: resp.Status}
	}

	p.resumeAt(offset)
	if resp.ContentLength >= 0 {
		p.TotalBytes = offset + resp.ContentLength
	}

	f, err := os.OpenFile(tempPath, flags, 0o644)
	if err != nil {
		return errkind.IOError("open temp file", err)
	}
	if err := m.copy(ctx, f, resp.Body, p); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errkind.IOError("close temp file", err)
	}
	return nil
}

func (m *Manager) get(ctx context.Context, u *url.URL, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, errkind.Configurationf("build request: %v", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errkind.TransportError("request download", err)
	}
	return resp, nil
}

// copy moves the body into w chunk by chunk, updating p after each chunk.
// Read failures are transport errors, write failures are I/O errors.
func (m *Manager) copy(ctx context.Context, w io.Writer, r io.Reader, p *Progress) error {
	buf := make([]byte, copyBufferSize)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return errkind.IOError("write temp file", werr)
			}
			p.advance(int64(n), m.now())
			m.metrics.BytesDownloaded(n)
			m.emit(p)
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errkind.TransportError("read response body", rerr)
		}
	}
}

// Install hands a downloaded file to the installation manager.
func (m *Manager) Install(ctx context.Context, id, source string, cfg install.Config) (*install.Record, error) {
	return m.installer.Install(ctx, id, source, cfg)
}

// ListInstalled returns the records of all installed artifacts.
func (m *Manager) ListInstalled() ([]install.Record, error) {
	return m.installer.List()
}

// Uninstall removes an installed artifact. It succeeds if nothing was
// installed.
func (m *Manager) Uninstall(id string) error {
	return m.installer.Uninstall(id)
}

func (m *Manager) track(id string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[id] = cancel
}

func (m *Manager) untrack(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, id)
	delete(m.paused, id)
}

// Pause records a pause request for id. Transfers are not suspended; the
// request is only acknowledged.
func (m *Manager) Pause(id string) error {
	m.mu.Lock()
	m.paused[id] = true
	m.mu.Unlock()
	m.log.WithField("id", id).Infof("Pause requested")
	return nil
}

// Resume clears a pause request for id.
func (m *Manager) Resume(id string) error {
	m.mu.Lock()
	delete(m.paused, id)
	m.mu.Unlock()
	m.log.WithField("id", id).Infof("Resume requested")
	return nil
}

// pauseRequested reports whether Pause was called for id and not yet
// resumed.
func (m *Manager) pauseRequested(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused[id]
}

// Cancel stops an in-flight download of id, if any, and deletes its partial
// file. It always succeeds.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	cancel, running := m.active[id]
	m.mu.Unlock()
	if running {
		cancel()
	}

	if install.ValidateID(id) != nil {
		return nil
	}
	if err := os.Remove(m.TempPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.log.WithError(err).WithField("id", id).Warnf("Failed to remove partial download")
	}
	m.log.WithField("id", id).Infof("Download cancelled")
	return nil
}
