// Package format identifies the model format of a file from its name and
// leading bytes.
package format

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Kind enumerates the recognized model formats.
type Kind int

const (
	// KindUnknown is any file the sniffer could not place. The observed
	// extension is kept on the Format value.
	KindUnknown Kind = iota
	KindGGUF
	KindGGML
	KindSafeTensors
	KindPyTorch
	KindTensorFlow
	KindONNX
	KindHuggingface
)

// Format is a detected model format. Unknown formats carry the extension
// that was observed, without the leading dot.
type Format struct {
	Kind Kind
	Ext  string
}

var (
	GGUF        = Format{Kind: KindGGUF}
	GGML        = Format{Kind: KindGGML}
	SafeTensors = Format{Kind: KindSafeTensors}
	PyTorch     = Format{Kind: KindPyTorch}
	TensorFlow  = Format{Kind: KindTensorFlow}
	ONNX        = Format{Kind: KindONNX}
	Huggingface = Format{Kind: KindHuggingface}
)

// Unknown returns the unknown format for the given extension.
func Unknown(ext string) Format {
	return Format{Kind: KindUnknown, Ext: strings.TrimPrefix(ext, ".")}
}

var kindNames = map[Kind]string{
	KindGGUF:        "GGUF",
	KindGGML:        "GGML",
	KindSafeTensors: "SafeTensors",
	KindPyTorch:     "PyTorch",
	KindTensorFlow:  "TensorFlow",
	KindONNX:        "ONNX",
	KindHuggingface: "Huggingface",
}

// Known reports whether f is one of the recognized formats.
func (f Format) Known() bool {
	return f.Kind != KindUnknown
}

func (f Format) String() string {
	if name, ok := kindNames[f.Kind]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%s)", f.Ext)
}

func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Format) UnmarshalText(b []byte) error {
	s := string(b)
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			*f = Format{Kind: k}
			return nil
		}
	}
	if strings.HasPrefix(s, "Unknown(") && strings.HasSuffix(s, ")") {
		*f = Unknown(s[len("Unknown(") : len(s)-1])
		return nil
	}
	return fmt.Errorf("unrecognized model format %q", s)
}

// extensions maps lowercase extensions to formats.
var extensions = map[string]Format{
	"gguf":        GGUF,
	"ggml":        GGML,
	"safetensors": SafeTensors,
	"pt":          PyTorch,
	"pth":         PyTorch,
	"pb":          TensorFlow,
	"onnx":        ONNX,
}

// huggingfacePrefixes are the checkpoint names the transformers library
// writes when it saves a model without an explicit format extension.
var huggingfacePrefixes = []string{"pytorch_model", "tf_model", "flax_model"}

// magics maps leading bytes to formats. The legacy GGML family is stored
// little-endian on disk, hence the reversed spellings.
var magics = []struct {
	prefix string
	format Format
}{
	{"GGUF", GGUF},
	{"GGML", GGML},
	{"lmgg", GGML},
	{"fmgg", GGML},
	{"tjgg", GGML},
}

// HeadSize is the number of leading bytes Sniff looks at.
const HeadSize = 16

// maxSafetensorsHeader bounds the JSON header length accepted by the
// safetensors heuristic.
const maxSafetensorsHeader = 100 << 20

// Sniff returns the format of the file at path. The extension decides
// first; when it is not recognized the leading bytes in head are checked
// for a known signature. Sniff does no I/O.
func Sniff(path string, head []byte) Format {
	name := strings.ToLower(filepath.Base(path))
	ext := filepath.Ext(path)
	if f, ok := extensions[strings.ToLower(strings.TrimPrefix(ext, "."))]; ok {
		return f
	}
	for _, prefix := range huggingfacePrefixes {
		if strings.HasPrefix(name, prefix) {
			return Huggingface
		}
	}
	for _, m := range magics {
		if len(head) >= len(m.prefix) && string(head[:len(m.prefix)]) == m.prefix {
			return m.format
		}
	}
	if looksLikeSafetensors(head) {
		return SafeTensors
	}
	return Unknown(ext)
}

// looksLikeSafetensors checks for the little-endian header length followed
// by the opening brace of the JSON header.
func looksLikeSafetensors(head []byte) bool {
	if len(head) < 9 {
		return false
	}
	n := binary.LittleEndian.Uint64(head[:8])
	return n > 1 && n < maxSafetensorsHeader && head[8] == '{'
}

// ReadHead returns up to HeadSize leading bytes of the file at path.
func ReadHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, HeadSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

// SniffFile reads the head of the file at path and sniffs it.
func SniffFile(path string) (Format, error) {
	head, err := ReadHead(path)
	if err != nil {
		return Format{}, err
	}
	return Sniff(path, head), nil
}
