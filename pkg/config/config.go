// Package config loads the settings of the model installer from defaults,
// an optional YAML file, .env files and MODELCTL_* environment variables,
// in increasing order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/burncloud/model-installer/pkg/download"
	"github.com/burncloud/model-installer/pkg/errkind"
	"github.com/burncloud/model-installer/pkg/install"
	"github.com/burncloud/model-installer/pkg/logging"
	"github.com/burncloud/model-installer/pkg/metrics"
	"github.com/burncloud/model-installer/pkg/validation"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MODELCTL_"

// Config is the complete installer configuration.
type Config struct {
	// Root is the download root; see package download for its layout.
	Root                   string        `yaml:"root"`
	MaxConcurrentDownloads int           `yaml:"max_concurrent_downloads"`
	ResponseHeaderTimeout  time.Duration `yaml:"response_header_timeout"`
	UserAgent              string        `yaml:"user_agent"`
	// SignaturesFile is a JSON signature table. Empty disables signatures.
	SignaturesFile string `yaml:"signatures_file"`
	// QuarantineDir receives files that fail the malware check when
	// Validation.QuarantineSuspiciousFiles is set. Defaults to
	// <Root>/quarantine.
	QuarantineDir string `yaml:"quarantine_dir"`
	LogLevel      string `yaml:"log_level"`

	Validation validation.Config `yaml:"validation"`
	Install    install.Config    `yaml:"install"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Root:                   defaultRoot(),
		MaxConcurrentDownloads: download.DefaultMaxConcurrent,
		ResponseHeaderTimeout:  download.DefaultResponseHeaderTimeout,
		LogLevel:               "info",
		Validation:             validation.DefaultConfig(),
		Install:                install.DefaultConfig(),
	}
}

func defaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "models"
	}
	return filepath.Join(home, ".burncloud", "models")
}

// Load builds the configuration. path names an optional YAML file; a missing
// file is not an error. envFiles are read with godotenv, earlier files
// taking precedence, and the process environment overrides them all.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}

	dotenv, err := readEnvFiles(envFiles)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errkind.IOError("read config", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(contents))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return errkind.Configurationf("parse config %s: %v", path, err)
	}
	return nil
}

// readEnvFiles merges the existing files among paths. A key set by an
// earlier file is kept.
func readEnvFiles(paths []string) (map[string]string, error) {
	merged := map[string]string{}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		values, err := godotenv.Read(p)
		if err != nil {
			return nil, errkind.Configurationf("load %s: %v", p, err)
		}
		for k, v := range values {
			if _, ok := merged[k]; !ok {
				merged[k] = v
			}
		}
	}
	return merged, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("ROOT", &c.Root)
	integer("MAX_CONCURRENT", &c.MaxConcurrentDownloads)
	duration("RESPONSE_HEADER_TIMEOUT", &c.ResponseHeaderTimeout)
	str("USER_AGENT", &c.UserAgent)
	str("SIGNATURES", &c.SignaturesFile)
	str("QUARANTINE_DIR", &c.QuarantineDir)
	str("LOG_LEVEL", &c.LogLevel)
	boolean("STRICT", &c.Validation.StrictMode)
	boolean("QUARANTINE", &c.Validation.QuarantineSuspiciousFiles)
	duration("VALIDATION_TIMEOUT", &c.Validation.Timeout)
	boolean("KEEP_TEMP_FILES", &c.Install.KeepTempFiles)
	boolean("CREATE_SYMLINK", &c.Install.CreateSymlink)

	if err := errors.Join(errs...); err != nil {
		return errkind.Configurationf("environment: %v", err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Root) == "":
		return errkind.Configurationf("root is empty")
	case c.MaxConcurrentDownloads < 1:
		return errkind.Configurationf("max_concurrent_downloads must be at least 1, got %d", c.MaxConcurrentDownloads)
	case c.ResponseHeaderTimeout < 0:
		return errkind.Configurationf("response_header_timeout is negative")
	case c.Validation.Timeout < 0:
		return errkind.Configurationf("validation timeout is negative")
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return errkind.Configurationf("log_level: %v", err)
		}
	}
	return nil
}

// Quarantine returns the effective quarantine directory.
func (c Config) Quarantine() string {
	if c.QuarantineDir != "" {
		return c.QuarantineDir
	}
	return filepath.Join(c.Root, "quarantine")
}

// DownloadOptions returns the download.Manager options the configuration
// implies.
func (c Config) DownloadOptions(log logging.Logger, m *metrics.Metrics) []download.Option {
	return []download.Option{
		download.WithMaxConcurrent(c.MaxConcurrentDownloads),
		download.WithResponseHeaderTimeout(c.ResponseHeaderTimeout),
		download.WithUserAgent(c.UserAgent),
		download.WithLogger(log),
		download.WithMetrics(m),
	}
}

// ValidationOptions returns the validation.Engine options the configuration
// implies, loading the signature table if one is configured.
func (c Config) ValidationOptions(log logging.Logger, m *metrics.Metrics) ([]validation.Option, error) {
	opts := []validation.Option{
		validation.WithLogger(log),
		validation.WithMetrics(m),
		validation.WithQuarantineDir(c.Quarantine()),
	}
	if c.SignaturesFile != "" {
		sigs, err := validation.LoadSignatures(c.SignaturesFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, validation.WithSignatures(sigs))
	}
	return opts, nil
}

// Marshal returns the YAML encoding of the configuration.
func (c Config) Marshal() ([]byte, error) {
	buf, err := yaml.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return buf, nil
}
