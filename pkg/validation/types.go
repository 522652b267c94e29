package validation

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/burncloud/model-installer/pkg/checksum"
	"github.com/burncloud/model-installer/pkg/format"
)

// CheckKind identifies one validation step.
type CheckKind int

const (
	CheckExistence CheckKind = iota
	CheckMetadata
	CheckChecksum
	CheckFormat
	CheckMalware
	CheckPermission
	CheckDependency
	CheckSignature
)

// checkOrder is the fixed order steps run in after existence.
var checkOrder = []CheckKind{
	CheckMetadata,
	CheckChecksum,
	CheckFormat,
	CheckMalware,
	CheckPermission,
	CheckDependency,
	CheckSignature,
}

var checkNames = [...]string{
	CheckExistence:  "file_existence",
	CheckMetadata:   "metadata",
	CheckChecksum:   "checksum",
	CheckFormat:     "format",
	CheckMalware:    "malware_scan",
	CheckPermission: "permission",
	CheckDependency: "dependency",
	CheckSignature:  "signature",
}

func (k CheckKind) String() string {
	if int(k) >= 0 && int(k) < len(checkNames) {
		return checkNames[k]
	}
	return fmt.Sprintf("CheckKind(%d)", int(k))
}

func (k CheckKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *CheckKind) UnmarshalText(b []byte) error {
	for i, name := range checkNames {
		if name == string(b) {
			*k = CheckKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown check %q", b)
}

// CheckStatus is the outcome of one step.
type CheckStatus string

const (
	StatusPassed  CheckStatus = "passed"
	StatusFailed  CheckStatus = "failed"
	StatusWarning CheckStatus = "warning"
	StatusSkipped CheckStatus = "skipped"
)

// Severity orders validation errors. Higher values are worse.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "low":
		*s = SeverityLow
	case "medium":
		*s = SeverityMedium
	case "high":
		*s = SeverityHigh
	case "critical":
		*s = SeverityCritical
	default:
		return fmt.Errorf("unknown severity %q", b)
	}
	return nil
}

// ErrorType classifies a validation error.
type ErrorType string

const (
	ErrorCorruptedFile    ErrorType = "corrupted_file"
	ErrorInvalidFormat    ErrorType = "invalid_format"
	ErrorChecksumMismatch ErrorType = "checksum_mismatch"
	ErrorSecurityRisk     ErrorType = "security_risk"
	ErrorUnsigned         ErrorType = "unsigned"
)

// WarningType classifies a validation warning.
type WarningType string

const (
	WarningCompatibility   WarningType = "compatibility_issue"
	WarningSecurityConcern WarningType = "security_concern"
)

// Check is the record of one executed step.
type Check struct {
	Kind    CheckKind      `json:"kind"`
	Status  CheckStatus    `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Issue is a validation error.
type Issue struct {
	Type     ErrorType `json:"type"`
	Kind     CheckKind `json:"check"`
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
}

// Warning is a non-fatal finding with advice for the operator.
type Warning struct {
	Type           WarningType `json:"type"`
	Kind           CheckKind   `json:"check"`
	Message        string      `json:"message"`
	Recommendation string      `json:"recommendation"`
}

// Metadata describes the validated file.
type Metadata struct {
	Size         int64         `json:"file_size"`
	SHA256       string        `json:"checksum_sha256"`
	FileType     string        `json:"file_type"`
	Format       format.Format `json:"model_format"`
	Permissions  os.FileMode   `json:"permissions"`
	Executable   bool          `json:"is_executable"`
	ModifiedAt   time.Time     `json:"modification_time"`
	Architecture string        `json:"architecture,omitempty"`
	Parameters   string        `json:"parameters,omitempty"`
	Quantization string        `json:"quantization,omitempty"`
	WeightsSize  string        `json:"weights_size,omitempty"`
	// Shards lists every file of a split GGUF model. Empty for single files.
	Shards []string `json:"shards,omitempty"`
}

// Result is the outcome of one validation run.
type Result struct {
	ID          string        `json:"model_id"`
	Path        string        `json:"model_path"`
	Valid       bool          `json:"is_valid"`
	ValidatedAt time.Time     `json:"validation_time"`
	Duration    time.Duration `json:"duration"`
	Checks      []Check       `json:"checks_performed"`
	Errors      []Issue       `json:"errors"`
	Warnings    []Warning     `json:"warnings"`
	Metadata    Metadata      `json:"metadata"`
}

// Check returns the recorded step of the given kind.
func (r *Result) Check(kind CheckKind) (Check, bool) {
	for _, c := range r.Checks {
		if c.Kind == kind {
			return c, true
		}
	}
	return Check{}, false
}

// HasSeverity reports whether any error is at least as severe as s.
func (r *Result) HasSeverity(s Severity) bool {
	for _, e := range r.Errors {
		if e.Severity >= s {
			return true
		}
	}
	return false
}

// Severities lists the severity of every error, in order.
func (r *Result) Severities() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.Severity.String())
	}
	return out
}

// Summary is a one-line description for logs and CLI output.
func (r *Result) Summary() string {
	verdict := "valid"
	if !r.Valid {
		verdict = "invalid"
	}
	return fmt.Sprintf("%s: %d checks, %d errors, %d warnings", verdict, len(r.Checks), len(r.Errors), len(r.Warnings))
}

// Config selects which steps run and how strictly the verdict is computed.
type Config struct {
	EnableChecksumVerification bool          `json:"enable_checksum_verification" yaml:"enable_checksum_verification"`
	EnableMalwareScanning      bool          `json:"enable_malware_scanning" yaml:"enable_malware_scanning"`
	EnableFormatValidation     bool          `json:"enable_format_validation" yaml:"enable_format_validation"`
	EnableDependencyCheck      bool          `json:"enable_dependency_check" yaml:"enable_dependency_check"`
	EnablePermissionCheck      bool          `json:"enable_permission_check" yaml:"enable_permission_check"`
	StrictMode                 bool          `json:"strict_mode" yaml:"strict_mode"`
	Timeout                    time.Duration `json:"timeout" yaml:"timeout"`
	QuarantineSuspiciousFiles  bool          `json:"quarantine_suspicious_files" yaml:"quarantine_suspicious_files"`

	// ExpectedChecksum is compared against the file when set. Otherwise the
	// signature table entry for the file, if any, provides it.
	ExpectedChecksum string        `json:"expected_checksum,omitempty" yaml:"-"`
	ChecksumType     checksum.Type `json:"checksum_type,omitempty" yaml:"-"`
}

// DefaultTimeout bounds a validation run.
const DefaultTimeout = 120 * time.Second

// DefaultConfig enables every check except the dependency check, in
// non-strict mode.
func DefaultConfig() Config {
	return Config{
		EnableChecksumVerification: true,
		EnableMalwareScanning:      true,
		EnableFormatValidation:     true,
		EnableDependencyCheck:      false,
		EnablePermissionCheck:      true,
		StrictMode:                 false,
		Timeout:                    DefaultTimeout,
		QuarantineSuspiciousFiles:  false,
	}
}

// QuickConfig runs only the checksum and format steps, non-strict.
func QuickConfig() Config {
	return Config{
		EnableChecksumVerification: true,
		EnableFormatValidation:     true,
		Timeout:                    DefaultTimeout,
	}
}

// enabled reports whether kind runs under c. Metadata and signature always
// run.
func (c Config) enabled(kind CheckKind) bool {
	switch kind {
	case CheckChecksum:
		return c.EnableChecksumVerification
	case CheckFormat:
		return c.EnableFormatValidation
	case CheckMalware:
		return c.EnableMalwareScanning
	case CheckPermission:
		return c.EnablePermissionCheck
	case CheckDependency:
		return c.EnableDependencyCheck
	}
	return true
}
