package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/burncloud/model-installer/pkg/checksum"
	"github.com/burncloud/model-installer/pkg/errkind"
)

// Signature is a trusted-publisher record for one model file.
type Signature struct {
	ModelName        string        `json:"model_name"`
	Version          string        `json:"version"`
	Provider         string        `json:"provider"`
	ExpectedSize     int64         `json:"expected_size"`
	ExpectedChecksum string        `json:"expected_checksum"`
	ChecksumType     checksum.Type `json:"checksum_type"`
	Format           string        `json:"format"`
	Trusted          bool          `json:"trusted"`
	SignatureDate    time.Time     `json:"signature_date"`
}

// Signatures maps a model file name to its signature. A table is never
// mutated once handed to an Engine; reloading swaps in a new map.
type Signatures map[string]Signature

// Lookup returns the signature for a file name.
func (s Signatures) Lookup(name string) (Signature, bool) {
	sig, ok := s[name]
	return sig, ok
}

// LoadSignatures reads a JSON signature table. A missing file yields an
// empty table.
func LoadSignatures(path string) (Signatures, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Signatures{}, nil
	}
	if err != nil {
		return nil, errkind.IOError("read signatures", err)
	}

	var table Signatures
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, errkind.Configurationf("parse signatures %s: %v", path, err)
	}
	if table == nil {
		table = Signatures{}
	}
	return table, nil
}

// clone copies the table so callers cannot mutate what an Engine reads.
func (s Signatures) clone() Signatures {
	out := make(Signatures, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// String is used in log fields.
func (s Signatures) String() string {
	return fmt.Sprintf("%d signatures", len(s))
}
