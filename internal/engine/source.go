package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SourceKind says how a backup file is laid out.
type SourceKind string

const (
	SourceArchive  SourceKind = "archive"
	SourceManifest SourceKind = "manifest"
)

// Source is a classified backup path.
type Source struct {
	Path string
	Kind SourceKind
}

// ClassifySource checks a caller-supplied backup path and decides from its
// extension whether it is an archive or a bare manifest.
func ClassifySource(path string) (Source, error) {
	if strings.TrimSpace(path) == "" {
		return Source{}, &InputError{Msg: "backup path is required"}
	}

	kind, err := kindForPath(path)
	if err != nil {
		return Source{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Source{}, &InputError{Msg: fmt.Sprintf("backup file not found: %s", path)}
		}
		return Source{}, fmt.Errorf("checking backup file: %w", err)
	}
	if info.IsDir() {
		return Source{}, &InputError{Msg: fmt.Sprintf("backup path is a directory: %s", path)}
	}

	return Source{Path: path, Kind: kind}, nil
}

func kindForPath(path string) (SourceKind, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".zip":
		return SourceArchive, nil
	case ".json":
		return SourceManifest, nil
	default:
		return "", &InputError{Msg: fmt.Sprintf("unsupported file extension: %s", ext)}
	}
}
