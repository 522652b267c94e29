// Package commands implements the modelctl CLI commands.
package commands

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/burncloud/model-installer/pkg/config"
	"github.com/burncloud/model-installer/pkg/download"
	"github.com/burncloud/model-installer/pkg/errkind"
	"github.com/burncloud/model-installer/pkg/logging"
	"github.com/burncloud/model-installer/pkg/metrics"
	"github.com/burncloud/model-installer/pkg/validation"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// envFiles are read in order; values from earlier files win.
var envFiles = []string{".env.local", ".env"}

// app is the state shared by the commands of one invocation.
type app struct {
	verbose      bool
	logJSON      bool
	configPath   string
	printMetrics bool

	cfg       config.Config
	log       logging.Logger
	metrics   *metrics.Metrics
	downloads *download.Manager
	validator *validation.Engine

	// logOutput defaults to stderr; tests redirect it.
	logOutput io.Writer
}

// NewRootCmd returns the modelctl command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "modelctl",
		Short: "Download, validate and install model files",
		Long: `modelctl downloads model artifacts over HTTP, verifies their checksum,
runs the validation checks and installs them under the download root.

Example:
  modelctl pull qwen2-7b.gguf https://example.com/qwen2-7b.gguf --checksum <sha256>
  modelctl list`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if !a.printMetrics {
				return nil
			}
			return a.metrics.WriteText(cmd.OutOrStdout())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVar(&a.logJSON, "log-json", false, "Output logs in JSON format")
	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "modelctl.yaml", "Path to the YAML configuration file")
	cmd.PersistentFlags().BoolVar(&a.printMetrics, "print-metrics", false, "Print Prometheus metrics after the command")

	cmd.AddCommand(
		newPullCmd(a),
		newInstallCmd(a),
		newValidateCmd(a),
		newChecksumCmd(a),
		newListCmd(a),
		newUninstallCmd(a),
		newCancelCmd(a),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return NewRootCmd().ExecuteContext(ctx)
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, envFiles...)
	if err != nil {
		return errors.Wrap(err, "loading configuration")
	}
	a.cfg = cfg

	level := cfg.LogLevel
	if a.verbose {
		level = "debug"
	}
	out := a.logOutput
	if out == nil {
		out = cmd.ErrOrStderr()
	}
	a.log = logging.Component(logging.New(logging.Options{Level: level, JSON: a.logJSON, Output: out}), "modelctl")
	a.metrics = metrics.New()
	return nil
}

// downloadManager creates the download manager on first use.
func (a *app) downloadManager(opts ...download.Option) (*download.Manager, error) {
	if a.downloads != nil {
		return a.downloads, nil
	}
	opts = append(a.cfg.DownloadOptions(a.log, a.metrics), opts...)
	m, err := download.NewManager(a.cfg.Root, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "initializing download manager")
	}
	a.downloads = m
	return m, nil
}

// validationEngine creates the validation engine on first use.
func (a *app) validationEngine() (*validation.Engine, error) {
	if a.validator != nil {
		return a.validator, nil
	}
	opts, err := a.cfg.ValidationOptions(a.log, a.metrics)
	if err != nil {
		return nil, errors.Wrap(err, "loading signatures")
	}
	a.validator = validation.New(opts...)
	return a.validator, nil
}

// ExitCode maps an error to the process exit status: 2 for usage and
// configuration problems, 3 for failed validation, 1 otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errkind.Of(err) == errkind.Configuration:
		return 2
	case errkind.Of(err) == errkind.Policy:
		return 3
	}
	return 1
}
