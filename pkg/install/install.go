// Package install places verified model files into their final directory
// and keeps a model.json descriptor next to each one. The descriptors are
// the only record of what is installed.
package install

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/burncloud/model-installer/pkg/checksum"
	"github.com/burncloud/model-installer/pkg/errkind"
	"github.com/burncloud/model-installer/pkg/logging"
	"github.com/burncloud/model-installer/pkg/metrics"
	"github.com/docker/go-units"
	"github.com/moby/sys/atomicwriter"
)

// DescriptorName is the file name of the per-install descriptor.
const DescriptorName = "model.json"

// DefaultVersion is recorded when Config.Version is empty.
const DefaultVersion = "1.0.0"

var (
	// ErrAlreadyInstalled is returned when Config.NoClobber is set and a
	// descriptor already exists.
	ErrAlreadyInstalled = fmt.Errorf("model already installed: %w", errkind.ErrConflict)
	// ErrNotInstalled is returned by Get for unknown ids.
	ErrNotInstalled = fmt.Errorf("model not installed: %w", errkind.ErrNotFound)
)

// SymlinkPair records a link created during installation.
type SymlinkPair struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Metadata groups the files of an install by role.
type Metadata struct {
	ConfigFiles     []string      `json:"config_files"`
	DataFiles       []string      `json:"data_files"`
	ExecutableFiles []string      `json:"executable_files"`
	Documentation   []string      `json:"documentation"`
	Symlinks        []SymlinkPair `json:"symlinks"`
}

// Record is the persisted description of one installed artifact.
type Record struct {
	ID           string        `json:"model_id"`
	InstallPath  string        `json:"install_path"`
	Version      string        `json:"version"`
	InstalledAt  time.Time     `json:"installed_at"`
	FileSize     int64         `json:"file_size"`
	Checksum     string        `json:"checksum"`
	ChecksumType checksum.Type `json:"checksum_type"`
	Dependencies []string      `json:"dependencies"`
	Metadata     Metadata      `json:"metadata"`
}

// Config controls a single installation.
type Config struct {
	// AutoVerify recomputes the SHA-256 of the installed file. When off,
	// Checksum is recorded as given.
	AutoVerify    bool `json:"auto_verify" yaml:"auto_verify"`
	KeepTempFiles bool `json:"keep_temp_files" yaml:"keep_temp_files"`
	CreateSymlink bool `json:"create_symlink" yaml:"create_symlink"`
	// InstallDependencies is reserved; no dependencies are resolved.
	InstallDependencies bool `json:"install_dependencies" yaml:"install_dependencies"`
	// EnableGPU is passed through to consumers of the record untouched.
	EnableGPU         bool   `json:"enable_gpu" yaml:"enable_gpu"`
	CustomInstallPath string `json:"custom_install_path,omitempty" yaml:"custom_install_path"`

	Version   string `json:"version,omitempty" yaml:"version"`
	Checksum  string `json:"checksum,omitempty" yaml:"-"`
	NoClobber bool   `json:"no_clobber,omitempty" yaml:"no_clobber"`
}

// DefaultConfig verifies after install and leaves the source cleanup on.
func DefaultConfig() Config {
	return Config{
		AutoVerify:          true,
		InstallDependencies: true,
	}
}

// Manager installs files under a root directory.
type Manager struct {
	installedDir string
	tempDir      string
	log          logging.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

type options struct {
	logger  logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics records install outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock overrides the install timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// NewManager returns a Manager that installs into installedDir and treats
// files under tempDir as disposable sources.
func NewManager(installedDir, tempDir string, opts ...Option) *Manager {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{
		installedDir: installedDir,
		tempDir:      tempDir,
		log:          logging.Component(o.logger, "install"),
		metrics:      o.metrics,
		now:          o.now,
	}
}

// ValidateID rejects ids that cannot be used as a single directory name.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return errkind.Configurationf("invalid model id %q", id)
	}
	return nil
}

// Install places source into the install directory for id and writes its
// descriptor. The descriptor is written only once the file is in place.
func (m *Manager) Install(ctx context.Context, id, source string, cfg Config) (*Record, error) {
	rec, err := m.install(ctx, id, source, cfg)
	size := int64(0)
	if rec != nil {
		size = rec.FileSize
	}
	m.metrics.InstallFinished(err, size)
	return rec, err
}

func (m *Manager) install(ctx context.Context, id, source string, cfg Config) (*Record, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	log := m.log.WithFields(logging.Fields{"id": id, "source": logging.Sanitize(source)})

	src, err := filepath.Abs(source)
	if err != nil {
		return nil, errkind.IOError("resolve source path", err)
	}
	info, err := os.Stat(src)
	if err != nil {
		return nil, errkind.IOError("stat source", err)
	}
	if !info.Mode().IsRegular() {
		return nil, errkind.Configurationf("install source %s is not a regular file", source)
	}
	// The artifact shares its directory with the descriptor.
	if strings.EqualFold(filepath.Base(src), DescriptorName) {
		return nil, errkind.Configurationf("install source may not be named %s", DescriptorName)
	}

	dir := cfg.CustomInstallPath
	if dir == "" {
		dir = filepath.Join(m.installedDir, id)
	}
	descriptor := filepath.Join(dir, DescriptorName)
	if cfg.NoClobber {
		if _, err := os.Stat(descriptor); err == nil {
			return nil, fmt.Errorf("install %s: %w", id, ErrAlreadyInstalled)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errkind.IOError("create install directory", err)
	}

	target := filepath.Join(dir, filepath.Base(src))
	var md Metadata
	if cfg.CreateSymlink && target != src {
		if err := replaceWithSymlink(src, target); err != nil {
			return nil, errkind.IOError("create symlink", err)
		}
		md.Symlinks = append(md.Symlinks, SymlinkPair{Source: src, Target: target})
	} else if target != src {
		if err := copyFile(ctx, src, target, info.Mode().Perm()); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errkind.IOError("copy model file", err)
		}
	}

	installed, err := os.Stat(target)
	if err != nil {
		return nil, errkind.IOError("stat installed file", err)
	}

	sum := cfg.Checksum
	if cfg.AutoVerify {
		if sum, err = checksum.File(target, checksum.SHA256); err != nil {
			return nil, err
		}
	}

	md.add(classifyMode(target, installed.Mode().Perm()&0o111 != 0), target)
	md.ConfigFiles = append(md.ConfigFiles, descriptor)

	version := cfg.Version
	if version == "" {
		version = DefaultVersion
	}
	rec := &Record{
		ID:           id,
		InstallPath:  dir,
		Version:      version,
		InstalledAt:  m.now().UTC(),
		FileSize:     installed.Size(),
		Checksum:     sum,
		ChecksumType: checksum.SHA256,
		Dependencies: []string{},
		Metadata:     md,
	}
	if err := writeDescriptor(descriptor, rec); err != nil {
		return nil, err
	}

	if !cfg.KeepTempFiles {
		m.removeSource(log, src, cfg.CreateSymlink)
	}

	log.Infof("Installed %s (%s) into %s", filepath.Base(target), units.HumanSize(float64(rec.FileSize)), dir)
	return rec, nil
}

// removeSource deletes src when it lives in the temp directory. Files
// elsewhere belong to the caller and are never touched, and a symlinked
// source stays because the install points at it.
func (m *Manager) removeSource(log logging.Logger, src string, linked bool) {
	if m.tempDir == "" || linked || !within(m.tempDir, src) {
		return
	}
	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warnf("Failed to remove temporary file")
		return
	}
	log.Debugf("Removed temporary file")
}

// within reports whether path is lexically inside dir.
func within(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func replaceWithSymlink(src, target string) error {
	if _, err := os.Lstat(target); err == nil {
		if err := os.Remove(target); err != nil {
			return err
		}
	}
	return os.Symlink(src, target)
}

// copyFile copies src to an .incomplete sibling of dst and renames it into
// place, so an interrupted copy never leaves a truncated model at dst.
func copyFile(ctx context.Context, src, dst string, perm os.FileMode) (retErr error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".incomplete"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			out.Close()
			os.Remove(tmp)
		}
	}()

	if _, err := io.Copy(out, ctxReader{ctx: ctx, r: in}); err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// A symlink left at dst by an earlier install must not be followed.
	if fi, err := os.Lstat(dst); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(dst); err != nil {
			return err
		}
	}
	return os.Rename(tmp, dst)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func writeDescriptor(path string, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}
	if err := atomicwriter.WriteFile(path, data, 0o644); err != nil {
		return errkind.IOError("write descriptor", err)
	}
	return nil
}

func readDescriptor(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		return nil, errors.New("descriptor has no model id")
	}
	return &rec, nil
}

// Get returns the record of one installed artifact.
func (m *Manager) Get(id string) (*Record, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	rec, err := readDescriptor(filepath.Join(m.installedDir, id, DescriptorName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotInstalled)
	}
	if err != nil {
		return nil, errkind.IOError("read descriptor", err)
	}
	return rec, nil
}

// List returns every readable descriptor under the installed directory,
// ordered by id. Entries whose descriptor is missing or malformed are
// skipped.
func (m *Manager) List() ([]Record, error) {
	entries, err := os.ReadDir(m.installedDir)
	if errors.Is(err, os.ErrNotExist) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, errkind.IOError("list installed models", err)
	}

	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec, err := readDescriptor(filepath.Join(m.installedDir, entry.Name(), DescriptorName))
		if err != nil {
			m.log.WithError(err).Debugf("Skipping %s", logging.Sanitize(entry.Name()))
			continue
		}
		records = append(records, *rec)
	}
	slices.SortFunc(records, func(a, b Record) int {
		return strings.Compare(a.ID, b.ID)
	})
	return records, nil
}

// Uninstall removes the install directory of id. Removing an id that is not
// installed succeeds.
func (m *Manager) Uninstall(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(m.installedDir, id)); err != nil {
		return errkind.IOError("remove install directory", err)
	}
	m.log.WithField("id", id).Infof("Uninstalled model")
	return nil
}
