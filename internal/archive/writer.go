// Package archive packs a manifest payload, uploaded assets and a settings
// payload into a single zip container, and reads such containers back.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// Fixed entry names inside an archive.
const (
	ManifestEntry = "manifest.json"
	SettingsEntry = "settings.json"
	UploadsPrefix = "uploads/"
)

// Supported entry compression methods.
const (
	MethodDeflate = "deflate"
	MethodZstd    = "zstd"
)

// WriteOptions configures Write. Missing AssetsDir or SettingsPath are not
// errors; the archive simply omits them.
type WriteOptions struct {
	AssetsDir    string
	SettingsPath string
	Method       string
	Modified     time.Time
}

// WriteReport summarizes a written archive.
type WriteReport struct {
	Path     string
	Size     int64
	Assets   []string
	Skipped  []string
	Settings bool
}

// Write creates the archive at dest. The container is assembled in a
// temporary file beside dest and renamed into place, so dest is either
// complete or untouched.
func Write(dest string, manifestPayload []byte, opts WriteOptions) (*WriteReport, error) {
	method, err := zipMethod(opts.Method)
	if err != nil {
		return nil, err
	}
	modified := opts.Modified
	if modified.IsZero() {
		modified = time.Now()
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".clinicvault-*.zip.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating temporary archive: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	zw := zip.NewWriter(tmp)
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())

	report := &WriteReport{Path: dest}

	if err := writeEntry(zw, ManifestEntry, method, modified, bytes.NewReader(manifestPayload)); err != nil {
		return nil, fmt.Errorf("writing manifest entry: %w", err)
	}

	assets, skipped, err := collectAssets(opts.AssetsDir)
	if err != nil {
		return nil, err
	}
	report.Skipped = skipped
	for _, a := range assets {
		if err := addFile(zw, UploadsPrefix+a.name, a.path, method); err != nil {
			return nil, fmt.Errorf("adding asset %s: %w", a.path, err)
		}
		report.Assets = append(report.Assets, a.name)
	}

	if opts.SettingsPath != "" {
		info, err := os.Stat(opts.SettingsPath)
		switch {
		case err == nil && info.Mode().IsRegular():
			if err := addFile(zw, SettingsEntry, opts.SettingsPath, method); err != nil {
				return nil, fmt.Errorf("adding settings: %w", err)
			}
			report.Settings = true
		case err != nil && !os.IsNotExist(err):
			return nil, fmt.Errorf("checking settings file: %w", err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("syncing archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return nil, fmt.Errorf("moving archive into place: %w", err)
	}
	committed = true

	info, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	report.Size = info.Size()
	return report, nil
}

func zipMethod(name string) (uint16, error) {
	switch strings.ToLower(name) {
	case "", MethodDeflate:
		return zip.Deflate, nil
	case MethodZstd:
		return zstd.ZipMethodWinZip, nil
	default:
		return 0, fmt.Errorf("unsupported compression %q", name)
	}
}

type assetFile struct {
	name string
	path string
}

// collectAssets walks dir in lexical order and returns every regular file
// keyed by its basename. Hidden files and repeated basenames are skipped.
func collectAssets(dir string) ([]assetFile, []string, error) {
	if dir == "" {
		return nil, nil, nil
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("checking assets directory: %w", err)
	}

	var assets []assetFile
	var skipped []string
	seen := make(map[string]bool)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") || seen[name] {
			rel, _ := filepath.Rel(dir, path)
			skipped = append(skipped, filepath.ToSlash(rel))
			return nil
		}
		seen[name] = true
		assets = append(assets, assetFile{name: name, path: path})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walking assets directory: %w", err)
	}
	return assets, skipped, nil
}

func addFile(zw *zip.Writer, name, path string, method uint16) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	stat, err := f.Stat()
	if err != nil {
		return err
	}
	return writeEntry(zw, name, method, stat.ModTime(), f)
}

func writeEntry(zw *zip.Writer, name string, method uint16, modified time.Time, r io.Reader) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   method,
		Modified: modified,
	})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, r)
	return err
}
