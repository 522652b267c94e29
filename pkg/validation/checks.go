package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/burncloud/model-installer/pkg/checksum"
	"github.com/burncloud/model-installer/pkg/errkind"
	"github.com/burncloud/model-installer/pkg/format"
	"github.com/docker/go-units"
)

// suspiciousExtensions are executable or script types that never belong in
// a model download.
var suspiciousExtensions = []string{"exe", "bat", "cmd", "scr", "com"}

func (r *run) checkMetadata() error {
	sum, err := r.digest(checksum.SHA256)
	if err != nil {
		return err
	}
	f, err := format.SniffFile(r.result.Path)
	if err != nil {
		return errkind.IOError("read model header", err)
	}
	r.format = f

	mode := r.info.Mode()
	md := Metadata{
		Size:        r.info.Size(),
		SHA256:      sum,
		FileType:    fileExt(r.result.Path),
		Format:      r.format,
		Permissions: mode.Perm(),
		Executable:  mode.Perm()&0o111 != 0,
		ModifiedAt:  r.info.ModTime(),
	}
	if md.FileType == "" {
		md.FileType = "unknown"
	}

	details, err := format.Inspect(r.result.Path, r.format)
	if err != nil {
		r.log.WithError(err).Debugf("Could not read %s header", r.format)
	}
	md.Architecture = details.Architecture
	md.Parameters = details.Parameters
	md.Quantization = details.Quantization
	md.WeightsSize = details.Size
	if len(details.Shards) > 1 {
		md.Shards = details.Shards
	}

	r.result.Metadata = md
	r.record(Check{
		Kind:    CheckMetadata,
		Status:  StatusPassed,
		Message: "metadata extracted",
		Details: map[string]any{
			"size":   units.HumanSize(float64(md.Size)),
			"sha256": md.SHA256,
			"shards": max(len(md.Shards), 1),
		},
	})
	return nil
}

// expectedChecksum picks the reference digest: the caller's value first,
// then the signature table entry for the file name.
func (r *run) expectedChecksum() (string, checksum.Type, string) {
	if r.cfg.ExpectedChecksum != "" {
		return r.cfg.ExpectedChecksum, r.cfg.ChecksumType, "caller"
	}
	if sig, ok := r.signatures.Lookup(filepath.Base(r.result.Path)); ok && sig.ExpectedChecksum != "" {
		return sig.ExpectedChecksum, sig.ChecksumType, "signature"
	}
	return "", checksum.SHA256, ""
}

func (r *run) checkChecksum() error {
	expected, typ, source := r.expectedChecksum()
	if expected == "" {
		r.record(Check{Kind: CheckChecksum, Status: StatusSkipped, Message: "no expected checksum available"})
		return nil
	}

	actual := r.result.Metadata.SHA256
	if typ != checksum.SHA256 {
		var err error
		if actual, err = r.digest(typ); err != nil {
			return err
		}
	}

	details := map[string]any{
		"type":     typ.String(),
		"expected": expected,
		"actual":   actual,
		"source":   source,
	}
	if !checksum.Equal(actual, expected) {
		r.record(Check{Kind: CheckChecksum, Status: StatusFailed, Message: "checksum mismatch", Details: details})
		r.fail(CheckChecksum, ErrorChecksumMismatch, SeverityHigh, fmt.Sprintf("%s checksum does not match the expected value", typ))
		return nil
	}
	r.record(Check{Kind: CheckChecksum, Status: StatusPassed, Message: "checksum matches", Details: details})
	return nil
}

func (r *run) checkFormat() {
	f := r.format
	switch {
	case f.Known():
		r.record(Check{
			Kind:    CheckFormat,
			Status:  StatusPassed,
			Message: fmt.Sprintf("supported format: %s", f),
			Details: map[string]any{"format": f.String()},
		})
	case r.result.Metadata.Size == 0 && f.Ext == "":
		// Nothing to look at: no extension and no bytes.
		r.record(Check{Kind: CheckFormat, Status: StatusFailed, Message: "unable to detect file format"})
		r.fail(CheckFormat, ErrorInvalidFormat, SeverityMedium, "file format could not be detected")
	default:
		r.record(Check{
			Kind:    CheckFormat,
			Status:  StatusWarning,
			Message: "unknown file format",
			Details: map[string]any{"format": f.String()},
		})
		r.warn(CheckFormat, WarningCompatibility,
			fmt.Sprintf("%s is not a recognized model format", f),
			"make sure the runtime loading this model supports its format")
	}
}

func (r *run) checkMalware() {
	ext := fileExt(r.result.Path)
	if !slices.Contains(suspiciousExtensions, ext) {
		r.record(Check{Kind: CheckMalware, Status: StatusPassed, Message: "no threats detected"})
		return
	}

	details := map[string]any{"extension": ext}
	if r.cfg.QuarantineSuspiciousFiles && r.engine.quarantineDir != "" {
		if dest, err := r.quarantine(); err != nil {
			r.log.WithError(err).Warnf("Failed to quarantine suspicious file")
			details["quarantine_error"] = err.Error()
		} else {
			r.log.Warnf("Moved suspicious file to %s", dest)
			details["quarantined_to"] = dest
		}
	}
	r.record(Check{Kind: CheckMalware, Status: StatusFailed, Message: "suspicious file type detected", Details: details})
	r.fail(CheckMalware, ErrorSecurityRisk, SeverityCritical, fmt.Sprintf("executable file type .%s is not allowed", ext))
}

func (r *run) quarantine() (string, error) {
	if err := os.MkdirAll(r.engine.quarantineDir, 0o700); err != nil {
		return "", err
	}
	dest := filepath.Join(r.engine.quarantineDir, r.result.ID+"-"+filepath.Base(r.result.Path))
	if err := os.Rename(r.result.Path, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (r *run) checkPermission() {
	perm := r.result.Metadata.Permissions
	details := map[string]any{"mode": perm.String()}
	if perm&0o222 == 0 {
		r.record(Check{Kind: CheckPermission, Status: StatusPassed, Message: "file is read-only", Details: details})
		return
	}
	r.record(Check{Kind: CheckPermission, Status: StatusWarning, Message: "file is writable", Details: details})
	r.warn(CheckPermission, WarningSecurityConcern,
		"model file is writable",
		"make installed model files read-only to prevent tampering")
}

func (r *run) checkSignature() {
	name := filepath.Base(r.result.Path)
	sig, ok := r.signatures.Lookup(name)
	if ok {
		r.record(Check{
			Kind:    CheckSignature,
			Status:  StatusPassed,
			Message: "known signature found",
			Details: map[string]any{"provider": sig.Provider, "version": sig.Version, "trusted": sig.Trusted},
		})
		// A listed file always passes; disagreements with the entry are
		// advisory. Content integrity is the checksum check's job.
		if sig.ExpectedSize > 0 && sig.ExpectedSize != r.result.Metadata.Size {
			r.warn(CheckSignature, WarningSecurityConcern,
				fmt.Sprintf("file is %s but the signature records %s",
					units.HumanSize(float64(r.result.Metadata.Size)), units.HumanSize(float64(sig.ExpectedSize))),
				"re-download the model if the publisher has not released a new build")
		}
		return
	}
	if r.cfg.StrictMode {
		r.record(Check{Kind: CheckSignature, Status: StatusFailed, Message: "no known signature found"})
		r.fail(CheckSignature, ErrorUnsigned, SeverityHigh, "file is not in the known signatures table")
		return
	}
	r.record(Check{Kind: CheckSignature, Status: StatusWarning, Message: "no known signature found"})
	r.warn(CheckSignature, WarningSecurityConcern,
		"file is unsigned or its signature cannot be verified",
		"only install models from trusted sources")
}
