// Package pipeline installs models by name: it finds the artifact through a
// discovery service, downloads it, validates it and installs it, aborting
// at the first stage that fails.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/burncloud/model-installer/pkg/catalog"
	"github.com/burncloud/model-installer/pkg/checksum"
	"github.com/burncloud/model-installer/pkg/download"
	"github.com/burncloud/model-installer/pkg/errkind"
	"github.com/burncloud/model-installer/pkg/install"
	"github.com/burncloud/model-installer/pkg/logging"
	"github.com/burncloud/model-installer/pkg/metrics"
	"github.com/burncloud/model-installer/pkg/validation"
	"github.com/google/uuid"
	"github.com/moby/locker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrNotFound is returned when discovery has no artifact matching the
// requested name and version.
var ErrNotFound = fmt.Errorf("model not found: %w", errkind.ErrNotFound)

// ValidationFailedError aborts an install whose downloaded file did not pass
// validation. Result carries the full report.
type ValidationFailedError struct {
	ID     string
	Name   string
	Result *validation.Result
}

func (e *ValidationFailedError) Error() string {
	msg := fmt.Sprintf("validation failed for %s", e.Name)
	if e.Result != nil && len(e.Result.Errors) > 0 {
		msg += ": " + e.Result.Errors[0].Message
	}
	return msg
}

func (e *ValidationFailedError) Is(target error) bool {
	return errkind.Matches(errkind.Policy, target)
}

// Downloader fetches artifacts and installs them. *download.Manager
// implements it.
type Downloader interface {
	Download(ctx context.Context, id, name, rawURL, expected string, t checksum.Type) (*download.Progress, error)
	Install(ctx context.Context, id, source string, cfg install.Config) (*install.Record, error)
	Root() string
	MaxConcurrent() int
}

// Validator checks a downloaded file. *validation.Engine implements it.
type Validator interface {
	Validate(ctx context.Context, path, id string, cfg validation.Config) (*validation.Result, error)
}

// Ref names a model to install. An empty Version takes the first match.
type Ref struct {
	Name    string
	Version string
}

// ParseRef splits "name@version".
func ParseRef(s string) Ref {
	name, version, _ := strings.Cut(strings.TrimSpace(s), "@")
	return Ref{Name: name, Version: version}
}

func (r Ref) String() string {
	if r.Version == "" {
		return r.Name
	}
	return r.Name + "@" + r.Version
}

// Pipeline runs the discover, download, validate and install stages.
type Pipeline struct {
	discoverer catalog.Discoverer
	downloads  Downloader
	validator  Validator
	models     catalog.ModelService
	log        logging.Logger
	metrics    *metrics.Metrics
	validation validation.Config
	install    install.Config

	// locks serializes work on one artifact id; slots bounds the number of
	// artifacts in flight.
	locks *locker.Locker
	slots *semaphore.Weighted
}

type options struct {
	models     catalog.ModelService
	logger     logging.Logger
	metrics    *metrics.Metrics
	validation validation.Config
	install    install.Config
}

// Option configures a Pipeline.
type Option func(*options)

// WithModelService registers the model registry to notify about status
// changes and completed installs.
func WithModelService(s catalog.ModelService) Option {
	return func(o *options) {
		o.models = s
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithValidationConfig replaces validation.DefaultConfig for the validate
// stage. The expected checksum always comes from the discovered artifact.
func WithValidationConfig(c validation.Config) Option {
	return func(o *options) {
		o.validation = c
	}
}

// WithInstallConfig replaces install.DefaultConfig for the install stage.
func WithInstallConfig(c install.Config) Option {
	return func(o *options) {
		o.install = c
	}
}

// New returns a Pipeline. At most downloads.MaxConcurrent() installs run at
// once.
func New(discoverer catalog.Discoverer, downloads Downloader, validator Validator, opts ...Option) *Pipeline {
	o := options{
		validation: validation.DefaultConfig(),
		install:    install.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	limit := downloads.MaxConcurrent()
	if limit < 1 {
		limit = 1
	}
	return &Pipeline{
		discoverer: discoverer,
		downloads:  downloads,
		validator:  validator,
		models:     o.models,
		log:        logging.Component(o.logger, "pipeline"),
		metrics:    o.metrics,
		validation: o.validation,
		install:    o.install,
		locks:      locker.New(),
		slots:      semaphore.NewWeighted(int64(limit)),
	}
}

// Install finds name (at version, if given) and runs it through download,
// validation and installation.
//
// Installs of the same artifact id run one at a time. Waiting for that
// per-id lock does not observe ctx: a second caller stays blocked until the
// first install of the id returns, and only then sees its cancellation.
// Waiting for a concurrency slot does observe ctx.
func (p *Pipeline) Install(ctx context.Context, name, version string) (*install.Record, error) {
	ref := Ref{Name: strings.TrimSpace(name), Version: strings.TrimSpace(version)}
	if ref.Name == "" {
		return nil, errkind.Configurationf("model name is empty")
	}

	model, err := p.discover(ctx, ref)
	if err != nil {
		p.metrics.PipelineFinished(stageDiscover, err)
		return nil, err
	}
	id := artifactID(model)
	log := p.log.WithFields(logging.Fields{
		"id":      id,
		"model":   logging.Sanitize(model.Name),
		"version": logging.Sanitize(model.Version),
	})

	p.locks.Lock(id)
	defer p.locks.Unlock(id)
	if err := ctx.Err(); err != nil {
		p.metrics.PipelineFinished(stageQueue, err)
		return nil, err
	}
	if err := p.slots.Acquire(ctx, 1); err != nil {
		p.metrics.PipelineFinished(stageQueue, err)
		return nil, err
	}
	defer p.slots.Release(1)

	start := time.Now()
	rec, stage, err := p.run(ctx, log, id, model)
	p.metrics.PipelineFinished(stage, err)
	if err != nil {
		p.notifyStatus(ctx, log, id, catalog.StatusError)
		log.WithError(err).Warnf("Install of %s failed during %s", ref, stage)
		return nil, err
	}
	log.Infof("Installed %s to %s in %s", ref, rec.InstallPath, time.Since(start).Round(time.Millisecond))
	return rec, nil
}

const (
	stageDiscover = "discover"
	stageQueue    = "queue"
	stageDownload = "download"
	stageValidate = "validate"
	stageInstall  = "install"
)

func (p *Pipeline) discover(ctx context.Context, ref Ref) (catalog.DiscoveredModel, error) {
	models, err := p.discoverer.Search(ctx, catalog.SearchRequest{Query: ref.Name})
	if err != nil {
		return catalog.DiscoveredModel{}, fmt.Errorf("search for %s: %w", logging.Sanitize(ref.Name), err)
	}
	for _, m := range models {
		if m.Name != ref.Name {
			continue
		}
		if ref.Version == "" || m.Version == ref.Version {
			return m, nil
		}
	}
	return catalog.DiscoveredModel{}, fmt.Errorf("%w: %s", ErrNotFound, logging.Sanitize(ref.String()))
}

// artifactID keys temp files and install directories. Discovered models
// without a usable id get one derived from name and version so that retries
// resume the same partial download.
func artifactID(m catalog.DiscoveredModel) string {
	if m.ID != "" && install.ValidateID(m.ID) == nil {
		return m.ID
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(m.Name+"@"+m.Version)).String()
}

// run executes the stages after discovery and reports the stage it stopped
// in.
func (p *Pipeline) run(ctx context.Context, log logging.Logger, id string, m catalog.DiscoveredModel) (*install.Record, string, error) {
	p.notifyStatus(ctx, log, id, catalog.StatusDownloading)
	if _, err := p.downloads.Download(ctx, id, m.Name, m.DownloadURL, m.Checksum, m.ChecksumType); err != nil {
		return nil, stageDownload, fmt.Errorf("download %s: %w", logging.Sanitize(m.Name), err)
	}

	path := filepath.Join(p.downloads.Root(), m.Name)
	vcfg := p.validation
	vcfg.ExpectedChecksum = m.Checksum
	vcfg.ChecksumType = m.ChecksumType
	result, err := p.validator.Validate(ctx, path, id, vcfg)
	if err != nil {
		return nil, stageValidate, fmt.Errorf("validate %s: %w", logging.Sanitize(m.Name), err)
	}
	if !result.Valid {
		return nil, stageValidate, &ValidationFailedError{ID: id, Name: m.Name, Result: result}
	}
	log.Debugf("Validation: %s", result.Summary())

	icfg := p.install
	if icfg.Version == "" {
		icfg.Version = m.Version
	}
	if !icfg.AutoVerify && icfg.Checksum == "" {
		icfg.Checksum = result.Metadata.SHA256
	}
	rec, err := p.downloads.Install(ctx, id, path, icfg)
	if err != nil {
		return nil, stageInstall, fmt.Errorf("install %s: %w", logging.Sanitize(m.Name), err)
	}

	p.notifyInstall(ctx, log, id, rec.InstallPath)
	p.notifyStatus(ctx, log, id, catalog.StatusInstalled)
	return rec, stageInstall, nil
}

func (p *Pipeline) notifyStatus(ctx context.Context, log logging.Logger, id string, status catalog.Status) {
	if p.models == nil {
		return
	}
	// A cancelled install still reports its final status.
	if err := p.models.UpdateStatus(context.WithoutCancel(ctx), id, status); err != nil {
		log.WithError(err).Warnf("Failed to update model status to %s", status)
	}
}

func (p *Pipeline) notifyInstall(ctx context.Context, log logging.Logger, id, path string) {
	if p.models == nil {
		return
	}
	if _, err := p.models.Install(ctx, id, path); err != nil {
		log.WithError(err).Warnf("Failed to register install")
	}
}

// InstallAll installs refs concurrently, subject to the pipeline's limit.
// The first failure cancels the remaining installs. Records are returned in
// the order of refs; entries for installs that did not finish are nil.
func (p *Pipeline) InstallAll(ctx context.Context, refs []Ref) ([]*install.Record, error) {
	records := make([]*install.Record, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		g.Go(func() error {
			rec, err := p.Install(gctx, ref.Name, ref.Version)
			if err != nil {
				return fmt.Errorf("%s: %w", ref, err)
			}
			records[i] = rec
			return nil
		})
	}
	return records, g.Wait()
}
