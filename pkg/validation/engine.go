// Package validation inspects a model file on disk and decides whether it is
// safe to install.
//
// A run executes a fixed sequence of checks (existence, metadata, checksum,
// format, malware, permission, dependency, signature), records the outcome
// of each, and derives a verdict from the severity of the errors found:
// any critical error rejects the file, and in strict mode so does any high
// severity error.
package validation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/burncloud/model-installer/pkg/checksum"
	"github.com/burncloud/model-installer/pkg/errkind"
	"github.com/burncloud/model-installer/pkg/format"
	"github.com/burncloud/model-installer/pkg/logging"
	"github.com/burncloud/model-installer/pkg/metrics"
	"github.com/google/uuid"
)

// ErrTimeout is returned when a run exceeds Config.Timeout.
var ErrTimeout = errors.New("validation timed out")

// Engine runs validations. It is safe for concurrent use.
type Engine struct {
	signatures    atomic.Pointer[Signatures]
	log           logging.Logger
	metrics       *metrics.Metrics
	quarantineDir string
}

type options struct {
	signatures    Signatures
	logger        logging.Logger
	metrics       *metrics.Metrics
	quarantineDir string
}

// Option configures an Engine.
type Option func(*options)

// WithSignatures sets the initial trusted-signature table.
func WithSignatures(s Signatures) Option {
	return func(o *options) {
		o.signatures = s
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics records validation outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithQuarantineDir sets where suspicious files are moved when
// Config.QuarantineSuspiciousFiles is on. Without it nothing is moved.
func WithQuarantineDir(dir string) Option {
	return func(o *options) {
		o.quarantineDir = dir
	}
}

// New returns an Engine.
func New(opts ...Option) *Engine {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	e := &Engine{
		log:           logging.Component(o.logger, "validation"),
		metrics:       o.metrics,
		quarantineDir: o.quarantineDir,
	}
	e.SetSignatures(o.signatures)
	return e
}

// SetSignatures replaces the signature table. Runs already in progress keep
// the table they started with.
func (e *Engine) SetSignatures(s Signatures) {
	table := s.clone()
	e.signatures.Store(&table)
}

// ReloadSignatures loads a JSON signature table from path and installs it.
// On error the current table is kept.
func (e *Engine) ReloadSignatures(path string) error {
	table, err := LoadSignatures(path)
	if err != nil {
		return err
	}
	e.SetSignatures(table)
	e.log.Infof("Loaded %d model signatures from %s", len(table), logging.Sanitize(path))
	return nil
}

// QuickValidate runs only the checksum and format checks in non-strict mode
// and reports the verdict.
func (e *Engine) QuickValidate(ctx context.Context, path string) (bool, error) {
	result, err := e.Validate(ctx, path, "", QuickConfig())
	if err != nil {
		return false, err
	}
	return result.Valid, nil
}

// Validate checks the file at path. An empty id is replaced by a random
// one. A missing file is not an error: it produces an invalid Result with a
// critical finding. Errors are returned for I/O failures while reading the
// file and for timeouts.
func (e *Engine) Validate(ctx context.Context, path, id string, cfg Config) (*Result, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	log := e.log.WithFields(logging.Fields{"id": id, "path": logging.Sanitize(path)})
	log.Debugf("Validating model file")

	run := &run{
		engine:     e,
		ctx:        ctx,
		cfg:        cfg,
		log:        log,
		signatures: *e.signatures.Load(),
		result: &Result{
			ID:          id,
			Path:        path,
			ValidatedAt: time.Now(),
		},
	}

	if !run.checkExistence() {
		return run.finish(), nil
	}
	for _, kind := range checkOrder {
		if err := run.ctxErr(); err != nil {
			return nil, err
		}
		if !cfg.enabled(kind) {
			continue
		}
		if err := run.step(kind); err != nil {
			return nil, err
		}
	}
	return run.finish(), nil
}

// run is the state of a single validation.
type run struct {
	engine     *Engine
	ctx        context.Context
	cfg        Config
	log        logging.Logger
	signatures Signatures
	result     *Result
	info       os.FileInfo
	format     format.Format
}

func (r *run) ctxErr() error {
	err := r.ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && r.cfg.Timeout > 0 {
		return fmt.Errorf("%w after %s", ErrTimeout, r.cfg.Timeout)
	}
	return err
}

func (r *run) record(c Check) {
	r.result.Checks = append(r.result.Checks, c)
}

func (r *run) fail(kind CheckKind, typ ErrorType, sev Severity, msg string) {
	r.result.Errors = append(r.result.Errors, Issue{Type: typ, Kind: kind, Message: msg, Severity: sev})
}

func (r *run) warn(kind CheckKind, typ WarningType, msg, recommendation string) {
	r.result.Warnings = append(r.result.Warnings, Warning{Type: typ, Kind: kind, Message: msg, Recommendation: recommendation})
}

func (r *run) checkExistence() bool {
	info, err := os.Stat(r.result.Path)
	if err != nil || !info.Mode().IsRegular() {
		r.record(Check{Kind: CheckExistence, Status: StatusFailed, Message: "file does not exist or is not a regular file"})
		r.fail(CheckExistence, ErrorCorruptedFile, SeverityCritical, fmt.Sprintf("model file not found: %s", r.result.Path))
		return false
	}
	r.info = info
	r.record(Check{Kind: CheckExistence, Status: StatusPassed, Message: "file exists"})
	return true
}

// step dispatches one check kind to its handler.
func (r *run) step(kind CheckKind) error {
	switch kind {
	case CheckMetadata:
		return r.checkMetadata()
	case CheckChecksum:
		return r.checkChecksum()
	case CheckFormat:
		r.checkFormat()
	case CheckMalware:
		r.checkMalware()
	case CheckPermission:
		r.checkPermission()
	case CheckDependency:
		r.record(Check{Kind: CheckDependency, Status: StatusPassed, Message: "no dependencies declared"})
	case CheckSignature:
		r.checkSignature()
	default:
		return fmt.Errorf("unknown check %s", kind)
	}
	return nil
}

func (r *run) finish() *Result {
	res := r.result
	res.Valid = !res.HasSeverity(SeverityCritical) && !(r.cfg.StrictMode && res.HasSeverity(SeverityHigh))
	res.Duration = time.Since(res.ValidatedAt)

	r.engine.metrics.ValidationFinished(res.Valid, res.Severities())
	log := r.log.WithField("duration", res.Duration)
	if res.Valid {
		log.Infof("Validation passed (%s)", res.Summary())
	} else {
		log.Warnf("Validation failed (%s)", res.Summary())
	}
	return res
}

// ctxReader stops reading once the context is done so long digests honor
// the validation timeout.
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

func (r *run) digest(t checksum.Type) (string, error) {
	f, err := os.Open(r.result.Path)
	if err != nil {
		return "", errkind.IOError("open model file", err)
	}
	defer f.Close()

	sum, err := checksum.Reader(ctxReader{ctx: r.ctx, r: f}, t)
	if err != nil {
		if ctxErr := r.ctxErr(); ctxErr != nil {
			return "", ctxErr
		}
		return "", errkind.IOError("read model file", err)
	}
	return sum, nil
}

func fileExt(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}
