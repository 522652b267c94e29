// Package checksum computes and compares content digests of model files.
//
// SHA-256 and SHA-512 go through the go-digest algorithms used by the OCI
// tooling; MD5 is only kept for catalogs that still publish it.
package checksum

import (
	"bytes"
	"crypto/md5"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/burncloud/model-installer/pkg/errkind"
	"github.com/opencontainers/go-digest"
)

// Type is a supported digest algorithm.
type Type int

const (
	SHA256 Type = iota
	MD5
	SHA512
)

// String returns the lowercase name of the algorithm.
func (t Type) String() string {
	switch t {
	case MD5:
		return "md5"
	case SHA256:
		return "sha256"
	case SHA512:
		return "sha512"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// HexLength returns the length of a hex encoded digest of this type.
func (t Type) HexLength() int {
	switch t {
	case MD5:
		return 32
	case SHA512:
		return 128
	default:
		return 64
	}
}

// ParseType parses an algorithm name. Matching ignores case and dashes so
// "SHA-256" and "sha256" are the same. An empty name means SHA-256.
func ParseType(s string) (Type, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "") {
	case "md5":
		return MD5, nil
	case "sha256", "":
		return SHA256, nil
	case "sha512":
		return SHA512, nil
	}
	return 0, errkind.Configurationf("unsupported checksum type %q", s)
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseHex normalizes a user supplied digest of type t to lowercase hex. A
// value of the wrong length or with non-hex characters is a configuration
// error, so a typo is reported before anything is downloaded.
func ParseHex(s string, t Type) (string, error) {
	sum := strings.ToLower(strings.TrimSpace(s))
	if len(sum) != t.HexLength() {
		return "", errkind.Configurationf("%s checksum must be %d hex characters, got %d", t, t.HexLength(), len(sum))
	}
	if _, err := hex.DecodeString(sum); err != nil {
		return "", errkind.Configurationf("%s checksum %q is not hex", t, s)
	}
	return sum, nil
}

func (t Type) algorithm() (digest.Algorithm, bool) {
	switch t {
	case SHA256:
		return digest.SHA256, true
	case SHA512:
		return digest.SHA512, true
	}
	return "", false
}

// Reader digests everything readable from r and returns it as lowercase hex.
func Reader(r io.Reader, t Type) (string, error) {
	if alg, ok := t.algorithm(); ok {
		if !alg.Available() {
			return "", fmt.Errorf("checksum algorithm %s not available", alg)
		}
		d, err := alg.FromReader(r)
		if err != nil {
			return "", err
		}
		return d.Encoded(), nil
	}
	if t != MD5 {
		return "", errkind.Configurationf("unsupported checksum type %s", t)
	}
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Bytes digests an in-memory buffer. It returns "" for an unsupported type,
// which never equals a real digest; use Reader to get the error instead.
func Bytes(b []byte, t Type) string {
	sum, err := Reader(bytes.NewReader(b), t)
	if err != nil {
		return ""
	}
	return sum
}

// File digests the file at path. Open and read failures are returned as IO
// errors.
func File(path string, t Type) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errkind.IOError("open for checksum", err)
	}
	defer f.Close()

	sum, err := Reader(f, t)
	if err != nil {
		return "", errkind.IOError(fmt.Sprintf("compute %s of %s", t, path), err)
	}
	return sum, nil
}

// Equal compares two hex digests ignoring case and surrounding whitespace.
func Equal(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Verify digests the file at path and compares it against expected. A
// mismatch is reported as a *MismatchError.
func Verify(path, expected string, t Type) error {
	actual, err := File(path, t)
	if err != nil {
		return err
	}
	if !Equal(actual, expected) {
		return &MismatchError{Type: t, Expected: strings.ToLower(strings.TrimSpace(expected)), Actual: actual}
	}
	return nil
}

// MismatchError reports a digest that differs from the expected value.
type MismatchError struct {
	Type     Type
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s checksum mismatch: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// Is makes errors.Is(err, errkind.ErrIntegrity) match.
func (e *MismatchError) Is(target error) bool {
	return errkind.Matches(errkind.Integrity, target)
}
