package format

import (
	"regexp"
	"strings"

	parser "github.com/gpustack/gguf-parser-go"
)

// Details is what can be learned from a model file's own header.
type Details struct {
	Architecture string
	Parameters   string
	Quantization string
	Size         string
	// Shards lists every file of a sharded GGUF model, including path.
	Shards []string
}

// Inspect reads the header of a GGUF file. Other formats return empty
// details. A header that cannot be parsed is returned as an error so the
// caller can decide whether it matters.
func Inspect(path string, f Format) (Details, error) {
	if f.Kind != KindGGUF {
		return Details{}, nil
	}

	gguf, err := parser.ParseGGUFFile(path)
	if err != nil {
		return Details{}, err
	}
	meta := gguf.Metadata()

	shards := parser.CompleteShardGGUFFilename(path)
	if len(shards) == 0 {
		shards = []string{path}
	}

	return Details{
		Architecture: strings.TrimSpace(meta.Architecture),
		Parameters:   normalizeUnitString(meta.Parameters.String()),
		Quantization: strings.TrimSpace(meta.FileType.String()),
		Size:         normalizeUnitString(meta.Size.String()),
		Shards:       shards,
	}, nil
}

// spaceBeforeUnit matches "16.78 M" style values.
var spaceBeforeUnit = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s+([A-Za-z]+)`)

// normalizeUnitString turns "256.35 MiB" into "256.35MiB".
func normalizeUnitString(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return spaceBeforeUnit.ReplaceAllString(s, "$1$2")
}
