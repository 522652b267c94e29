package format

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func safetensorsHead(headerLen uint64) []byte {
	head := make([]byte, 9)
	binary.LittleEndian.PutUint64(head, headerLen)
	head[8] = '{'
	return head
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		path string
		head []byte
		want Format
	}{
		{"gguf extension", "/models/llama.gguf", nil, GGUF},
		{"extension case ignored", "/models/LLAMA.GGUF", nil, GGUF},
		{"ggml extension", "old.ggml", nil, GGML},
		{"safetensors extension", "model-00001-of-00002.safetensors", nil, SafeTensors},
		{"pt", "weights.pt", nil, PyTorch},
		{"pth", "weights.pth", nil, PyTorch},
		{"pb", "saved_model.pb", nil, TensorFlow},
		{"onnx", "resnet.onnx", nil, ONNX},
		{"transformers checkpoint", "pytorch_model.bin", nil, Huggingface},
		{"sharded transformers checkpoint", "pytorch_model-00001-of-00003.bin", nil, Huggingface},
		{"extension beats magic", "weights.pt", []byte("GGUF\x03\x00"), PyTorch},
		{"gguf magic", "download.tmp", []byte("GGUF\x03\x00\x00\x00"), GGUF},
		{"ggml magic", "blob", []byte("GGML...."), GGML},
		{"legacy ggjt magic", "blob", []byte("tjgg\x01\x00\x00\x00"), GGML},
		{"safetensors header", "blob", safetensorsHead(128), SafeTensors},
		{"unknown extension", "thing.xyz", []byte("hello"), Unknown("xyz")},
		{"unknown keeps case", "thing.XYZ", nil, Unknown("XYZ")},
		{"no extension", "README", []byte("# readme"), Unknown("")},
		{"short head", "blob.dat", []byte("GG"), Unknown("dat")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sniff(tt.path, tt.head); got != tt.want {
				t.Errorf("Sniff(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestSniffIsDeterministic(t *testing.T) {
	head := []byte("GGUF\x03\x00\x00\x00")
	first := Sniff("a.bin", head)
	for i := 0; i < 10; i++ {
		if got := Sniff("a.bin", head); got != first {
			t.Fatalf("Sniff changed result: %v then %v", first, got)
		}
	}
}

func TestFormatString(t *testing.T) {
	if got := Unknown(".xyz").String(); got != "Unknown(xyz)" {
		t.Errorf("Unknown(.xyz).String() = %q", got)
	}
	if got := SafeTensors.String(); got != "SafeTensors" {
		t.Errorf("SafeTensors.String() = %q", got)
	}
	if GGUF.Known() != true || Unknown("x").Known() {
		t.Error("Known() mismatch")
	}
}

func TestFormatTextRoundTrip(t *testing.T) {
	for _, f := range []Format{GGUF, ONNX, Huggingface, Unknown("bin")} {
		b, err := f.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var got Format
		if err := got.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%s): %v", b, err)
		}
		if got != f {
			t.Errorf("round trip of %v gave %v", f, got)
		}
	}
	var f Format
	if err := f.UnmarshalText([]byte("Keras")); err == nil {
		t.Error("expected error for unrecognized format")
	}
}

func TestSniffFile(t *testing.T) {
	dir := t.TempDir()

	model := filepath.Join(dir, "download.part")
	if err := os.WriteFile(model, []byte("GGUF\x03\x00\x00\x00rest"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := SniffFile(model)
	if err != nil {
		t.Fatal(err)
	}
	if got != GGUF {
		t.Errorf("SniffFile() = %v, want GGUF", got)
	}

	empty := filepath.Join(dir, "empty.xyz")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = SniffFile(empty)
	if err != nil {
		t.Fatal(err)
	}
	if got != Unknown("xyz") {
		t.Errorf("SniffFile(empty) = %v", got)
	}

	if _, err := SniffFile(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.gguf")
	if err := os.WriteFile(path, []byte("not a gguf file"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Inspect(path, GGUF); err == nil {
		t.Error("expected parse error for corrupt GGUF")
	}

	details, err := Inspect(path, ONNX)
	if err != nil {
		t.Fatalf("Inspect(non-GGUF) returned %v", err)
	}
	if details.Architecture != "" {
		t.Errorf("unexpected architecture %q", details.Architecture)
	}
}

func TestNormalizeUnitString(t *testing.T) {
	tests := map[string]string{
		"16.78 M":    "16.78M",
		"256.35 MiB": "256.35MiB",
		"409M":       "409M",
		"  ":         "",
	}
	for in, want := range tests {
		if got := normalizeUnitString(in); got != want {
			t.Errorf("normalizeUnitString(%q) = %q, want %q", in, got, want)
		}
	}
}
