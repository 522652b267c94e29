package commands

import (
	"fmt"
	"path"
	"strings"

	"github.com/burncloud/model-installer/pkg/catalog"
	"github.com/burncloud/model-installer/pkg/checksum"
	"github.com/burncloud/model-installer/pkg/download"
	"github.com/burncloud/model-installer/pkg/install"
	"github.com/burncloud/model-installer/pkg/pipeline"
	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type pullFlags struct {
	checksum     string
	checksumType string
	id           string
	version      string
	progress     bool
}

func newPullCmd(a *app) *cobra.Command {
	var flags pullFlags
	cmd := &cobra.Command{
		Use:   "pull NAME URL",
		Short: "Download, validate and install a model from a URL",
		Long: `Download a model file from URL, verify it, validate it and install it.
NAME is the file name the model is stored under.

Examples:
  modelctl pull qwen2-7b.gguf https://example.com/qwen2-7b.gguf --checksum 9f86d0...
  modelctl pull bge.onnx https://example.com/bge.onnx --checksum 5d41... --checksum-type md5`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPull(cmd, a, args[0], args[1], flags)
		},
	}
	cmd.Flags().StringVar(&flags.checksum, "checksum", "", "Expected checksum of the file (hex)")
	cmd.Flags().StringVar(&flags.checksumType, "checksum-type", "sha256", "Checksum algorithm: sha256, sha512 or md5")
	cmd.Flags().StringVar(&flags.id, "id", "", "Artifact id (derived from NAME and version if empty)")
	cmd.Flags().StringVar(&flags.version, "version", install.DefaultVersion, "Version recorded in the install descriptor")
	cmd.Flags().BoolVar(&flags.progress, "progress", false, "Write JSON progress lines to stderr")
	return cmd
}

func runPull(cmd *cobra.Command, a *app, name, rawURL string, flags pullFlags) error {
	t, err := checksum.ParseType(flags.checksumType)
	if err != nil {
		return err
	}
	if name == "" {
		name = path.Base(rawURL)
	}
	sum := strings.TrimSpace(flags.checksum)
	if sum != "" {
		if sum, err = checksum.ParseHex(sum, t); err != nil {
			return err
		}
	}
	model := catalog.DiscoveredModel{
		ID:           flags.id,
		Name:         name,
		Version:      flags.version,
		DownloadURL:  rawURL,
		Checksum:     sum,
		ChecksumType: t,
	}
	if model.Checksum == "" {
		download.WriteWarning(cmd.ErrOrStderr(), "no checksum given, the download will not be verified")
	}
	return installFrom(cmd, a, catalog.Static{model}, pipeline.Ref{Name: name, Version: flags.version}, flags.progress)
}

func newInstallCmd(a *app) *cobra.Command {
	var (
		catalogPath string
		progress    bool
	)
	cmd := &cobra.Command{
		Use:   "install NAME[@VERSION]...",
		Short: "Install models listed in a catalog file",
		Long: `Look up models by name in a JSON catalog file and install them.
Several models are installed concurrently, up to max_concurrent_downloads.

Examples:
  modelctl install qwen2-7b.gguf --catalog catalog.json
  modelctl install qwen2-7b.gguf@2.0 bge.onnx --catalog catalog.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := catalog.LoadStatic(catalogPath)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				return installFrom(cmd, a, models, pipeline.ParseRef(args[0]), progress)
			}
			refs := make([]pipeline.Ref, 0, len(args))
			for _, arg := range args {
				refs = append(refs, pipeline.ParseRef(arg))
			}
			return installAll(cmd, a, models, refs, progress)
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "catalog.json", "JSON catalog of downloadable models")
	cmd.Flags().BoolVar(&progress, "progress", false, "Write JSON progress lines to stderr")
	return cmd
}

func newPipeline(cmd *cobra.Command, a *app, discoverer catalog.Discoverer, progress bool) (*pipeline.Pipeline, error) {
	var opts []download.Option
	if progress {
		opts = append(opts, download.WithProgressFunc(download.NewJSONReporter(cmd.ErrOrStderr())))
	}
	downloads, err := a.downloadManager(opts...)
	if err != nil {
		return nil, err
	}
	validator, err := a.validationEngine()
	if err != nil {
		return nil, err
	}
	return pipeline.New(discoverer, downloads, validator,
		pipeline.WithLogger(a.log),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithValidationConfig(a.cfg.Validation),
		pipeline.WithInstallConfig(a.cfg.Install),
	), nil
}

func installFrom(cmd *cobra.Command, a *app, discoverer catalog.Discoverer, ref pipeline.Ref, progress bool) error {
	p, err := newPipeline(cmd, a, discoverer, progress)
	if err != nil {
		return err
	}
	cmd.Printf("Installing %s\n", ref)
	rec, err := p.Install(cmd.Context(), ref.Name, ref.Version)
	if err != nil {
		return describeFailure(cmd, err, "installing "+ref.String())
	}
	printRecord(cmd, rec)
	return nil
}

func installAll(cmd *cobra.Command, a *app, discoverer catalog.Discoverer, refs []pipeline.Ref, progress bool) error {
	p, err := newPipeline(cmd, a, discoverer, progress)
	if err != nil {
		return err
	}
	records, err := p.InstallAll(cmd.Context(), refs)
	for _, rec := range records {
		if rec != nil {
			printRecord(cmd, rec)
		}
	}
	if err != nil {
		return describeFailure(cmd, err, "installing models")
	}
	return nil
}

func printRecord(cmd *cobra.Command, rec *install.Record) {
	cmd.Printf("Installed %s (%s, %s) to %s\n", rec.ID, rec.Version, units.HumanSize(float64(rec.FileSize)), rec.InstallPath)
}

// describeFailure prints the validation report of a rejected model before
// returning the wrapped error.
func describeFailure(cmd *cobra.Command, err error, message string) error {
	var failed *pipeline.ValidationFailedError
	if errors.As(err, &failed) && failed.Result != nil {
		printResult(cmd, failed.Result)
	}
	return errors.Wrap(err, message)
}

func fmtChecksum(sum string, t checksum.Type) string {
	if sum == "" {
		return "-"
	}
	return fmt.Sprintf("%s:%s", t, sum)
}
