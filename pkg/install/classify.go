package install

import (
	"path/filepath"
	"strings"
)

// FileType is the role a file plays inside an install directory.
type FileType int

const (
	// FileTypeData is model weights and anything else not matched below.
	FileTypeData FileType = iota
	FileTypeConfig
	FileTypeDocumentation
	FileTypeExecutable
)

func (ft FileType) String() string {
	switch ft {
	case FileTypeConfig:
		return "config"
	case FileTypeDocumentation:
		return "documentation"
	case FileTypeExecutable:
		return "executable"
	}
	return "data"
}

var (
	configExtensions       = []string{".json", ".yaml", ".yml", ".toml", ".vocab", ".jinja", ".txt"}
	configNames            = []string{"tokenizer.model"}
	documentationPatterns  = []string{"license", "licence", "copying", "notice", "readme"}
	documentationExtension = []string{".md", ".rst", ".html"}
	executableExtensions   = []string{".sh", ".exe", ".bat", ".cmd", ".ps1", ".py"}
)

// Classify decides the role of a file from its name. Executable permission
// bits are not consulted; pass the result of Stat to classifyMode for that.
func Classify(path string) FileType {
	lower := strings.ToLower(filepath.Base(path))
	ext := filepath.Ext(lower)

	for _, e := range executableExtensions {
		if ext == e {
			return FileTypeExecutable
		}
	}
	for _, p := range documentationPatterns {
		if strings.Contains(lower, p) {
			return FileTypeDocumentation
		}
	}
	for _, e := range documentationExtension {
		if ext == e {
			return FileTypeDocumentation
		}
	}
	for _, e := range configExtensions {
		if ext == e {
			return FileTypeConfig
		}
	}
	for _, n := range configNames {
		if lower == n {
			return FileTypeConfig
		}
	}
	return FileTypeData
}

// classifyMode refines Classify with the executable bits of the file.
func classifyMode(path string, executable bool) FileType {
	ft := Classify(path)
	if ft == FileTypeData && executable {
		return FileTypeExecutable
	}
	return ft
}

// add appends path to the list matching its type.
func (m *Metadata) add(ft FileType, path string) {
	switch ft {
	case FileTypeConfig:
		m.ConfigFiles = append(m.ConfigFiles, path)
	case FileTypeDocumentation:
		m.Documentation = append(m.Documentation, path)
	case FileTypeExecutable:
		m.ExecutableFiles = append(m.ExecutableFiles, path)
	default:
		m.DataFiles = append(m.DataFiles, path)
	}
}
