package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/burncloud/model-installer/pkg/download"
	"github.com/burncloud/model-installer/pkg/errkind"
	"github.com/burncloud/model-installer/pkg/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, download.DefaultMaxConcurrent, cfg.MaxConcurrentDownloads)
	assert.Equal(t, validation.DefaultConfig(), cfg.Validation)
	assert.True(t, cfg.Install.AutoVerify)
	assert.Equal(t, filepath.Join(cfg.Root, "quarantine"), cfg.Quarantine())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "modelctl.yaml", `
root: /srv/models
max_concurrent_downloads: 5
response_header_timeout: 45s
user_agent: burncloud-desktop/2.0
log_level: debug
validation:
  enable_malware_scanning: false
  strict_mode: true
  timeout: 2m
install:
  create_symlink: true
  version: "3.1"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/models", cfg.Root)
	assert.Equal(t, 5, cfg.MaxConcurrentDownloads)
	assert.Equal(t, 45*time.Second, cfg.ResponseHeaderTimeout)
	assert.Equal(t, "burncloud-desktop/2.0", cfg.UserAgent)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.Validation.EnableMalwareScanning)
	assert.True(t, cfg.Validation.EnableChecksumVerification, "unset keys keep their defaults")
	assert.True(t, cfg.Validation.StrictMode)
	assert.Equal(t, 2*time.Minute, cfg.Validation.Timeout)
	assert.True(t, cfg.Install.CreateSymlink)
	assert.True(t, cfg.Install.AutoVerify)
	assert.Equal(t, "3.1", cfg.Install.Version)
	assert.Equal(t, "/srv/models/quarantine", cfg.Quarantine())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"unknown.yaml": "rot: /typo\n",
		"broken.yaml":  "root: [unterminated\n",
		"invalid.yaml": "max_concurrent_downloads: 0\n",
	} {
		_, err := Load(writeFile(t, dir, name, content))
		assert.ErrorIs(t, err, errkind.ErrConfiguration, name)
	}
}

func TestLoadEmptyYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, t.TempDir(), "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "modelctl.yaml", "root: /from/yaml\nmax_concurrent_downloads: 2\n")
	envFile := writeFile(t, dir, ".env", "MODELCTL_ROOT=/from/dotenv\nMODELCTL_USER_AGENT=dotenv-agent\nMODELCTL_STRICT=true\n")
	local := writeFile(t, dir, ".env.local", "MODELCTL_USER_AGENT=local-agent\n")

	t.Setenv("MODELCTL_ROOT", "/from/env")
	t.Setenv("MODELCTL_MAX_CONCURRENT", "8")
	t.Setenv("MODELCTL_RESPONSE_HEADER_TIMEOUT", "1m")
	t.Setenv("MODELCTL_KEEP_TEMP_FILES", "1")

	cfg, err := Load(path, local, envFile, filepath.Join(dir, ".env.missing"))
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.Root)
	assert.Equal(t, 8, cfg.MaxConcurrentDownloads)
	assert.Equal(t, time.Minute, cfg.ResponseHeaderTimeout)
	assert.Equal(t, "local-agent", cfg.UserAgent, "earlier env files win")
	assert.True(t, cfg.Validation.StrictMode)
	assert.True(t, cfg.Install.KeepTempFiles)
}

func TestEnvironmentParseErrors(t *testing.T) {
	t.Setenv("MODELCTL_MAX_CONCURRENT", "many")
	t.Setenv("MODELCTL_STRICT", "sometimes")

	_, err := Load("")
	require.ErrorIs(t, err, errkind.ErrConfiguration)
	assert.Contains(t, err.Error(), "MODELCTL_MAX_CONCURRENT")
	assert.Contains(t, err.Error(), "MODELCTL_STRICT")
}

func TestValidate(t *testing.T) {
	tests := map[string]func(*Config){
		"empty root":        func(c *Config) { c.Root = " " },
		"zero concurrency":  func(c *Config) { c.MaxConcurrentDownloads = 0 },
		"negative timeout":  func(c *Config) { c.ResponseHeaderTimeout = -time.Second },
		"negative validate": func(c *Config) { c.Validation.Timeout = -time.Second },
		"bad log level":     func(c *Config) { c.LogLevel = "chatty" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), errkind.ErrConfiguration)
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Root = "/srv/models"
	cfg.Validation.StrictMode = true

	data, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "response_header_timeout: 30s")

	path := writeFile(t, t.TempDir(), "out.yaml", string(data))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidationOptionsLoadsSignatures(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Root = dir
	cfg.SignaturesFile = writeFile(t, dir, "signatures.json", "{not json")

	_, err := cfg.ValidationOptions(nil, nil)
	assert.ErrorIs(t, err, errkind.ErrConfiguration)

	cfg.SignaturesFile = filepath.Join(dir, "absent.json")
	opts, err := cfg.ValidationOptions(nil, nil)
	require.NoError(t, err)
	assert.Len(t, opts, 4)
}

func TestDownloadOptions(t *testing.T) {
	cfg := Default()
	cfg.Root = t.TempDir()
	cfg.MaxConcurrentDownloads = 6

	m, err := download.NewManager(cfg.Root, cfg.DownloadOptions(nil, nil)...)
	require.NoError(t, err)
	assert.Equal(t, 6, m.MaxConcurrent())
}
