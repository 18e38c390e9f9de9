package archive

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/BadgerOps/clinicvault/internal/manifest"
	"github.com/BadgerOps/clinicvault/internal/safety"
)

const (
	maxManifestSize = 512 << 20
	maxSettingsSize = 16 << 20
)

// Entry describes an asset stored in an archive.
type Entry struct {
	Name string
	Size int64
}

// ExtractReport lists what ExtractAssets wrote and what it refused.
type ExtractReport struct {
	Written []string
	Skipped []string
}

// Reader gives access to the parts of an archive. Close releases the
// underlying file.
type Reader struct {
	path string
	file *os.File
	zr   *zip.Reader
}

// Open opens the archive at path and reads its index. A file that is not a
// readable zip container, including a half-written one, yields a
// *manifest.FormatError.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	// An insecure-path error still returns a usable reader. Entry names are
	// never trusted for extraction, so that case is accepted here.
	zr, err := zip.NewReader(f, stat.Size())
	if err != nil && zr == nil {
		_ = f.Close()
		return nil, &manifest.FormatError{Reason: "invalid archive", Err: err}
	}
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	return &Reader{path: path, file: f, zr: zr}, nil
}

// Close releases the archive file.
func (r *Reader) Close() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	return nil
}

// Path returns the archive location.
func (r *Reader) Path() string { return r.path }

func (r *Reader) find(name string) *zip.File {
	for _, f := range r.zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// ManifestPayload returns the raw manifest entry.
func (r *Reader) ManifestPayload() ([]byte, error) {
	f := r.find(ManifestEntry)
	if f == nil {
		return nil, &manifest.FormatError{Reason: "missing manifest"}
	}
	data, err := readEntry(f, maxManifestSize)
	if err != nil {
		return nil, &manifest.FormatError{Reason: "unreadable manifest", Err: err}
	}
	return data, nil
}

// Manifest decodes and validates the manifest entry.
func (r *Reader) Manifest() (*manifest.Manifest, error) {
	payload, err := r.ManifestPayload()
	if err != nil {
		return nil, err
	}
	return manifest.Parse(payload)
}

// Assets lists the non-directory entries under the uploads namespace
// exactly as stored, without applying any name filtering.
func (r *Reader) Assets() []Entry {
	var entries []Entry
	for _, f := range r.zr.File {
		if !strings.HasPrefix(f.Name, UploadsPrefix) || f.FileInfo().IsDir() {
			continue
		}
		entries = append(entries, Entry{Name: f.Name, Size: int64(f.UncompressedSize64)})
	}
	return entries
}

// HasSettings reports whether the archive carries a settings payload.
func (r *Reader) HasSettings() bool {
	return r.find(SettingsEntry) != nil
}

// Settings returns the settings payload, or false when there is none.
func (r *Reader) Settings() ([]byte, bool, error) {
	f := r.find(SettingsEntry)
	if f == nil {
		return nil, false, nil
	}
	data, err := readEntry(f, maxSettingsSize)
	if err != nil {
		return nil, true, &manifest.FormatError{Reason: "unreadable settings", Err: err}
	}
	return data, true, nil
}

// ExtractAssets writes every acceptable uploads entry into dir, keeping
// only the entry's final path component as the filename and overwriting
// existing files. Directory entries are ignored; entries without a usable
// leaf name or whose name starts with a dot are skipped.
func (r *Reader) ExtractAssets(dir string) (*ExtractReport, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating asset directory: %w", err)
	}

	report := &ExtractReport{}
	for _, f := range r.zr.File {
		if !strings.HasPrefix(f.Name, UploadsPrefix) || f.FileInfo().IsDir() {
			continue
		}
		name, ok := safety.AssetName(f.Name)
		if !ok {
			report.Skipped = append(report.Skipped, f.Name)
			continue
		}
		dest, err := safety.SafeJoinUnder(dir, name)
		if err != nil {
			report.Skipped = append(report.Skipped, f.Name)
			continue
		}
		if err := extractFile(f, dest); err != nil {
			return report, fmt.Errorf("extracting %s: %w", f.Name, err)
		}
		report.Written = append(report.Written, name)
	}
	return report, nil
}

func extractFile(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() {
		_ = rc.Close()
	}()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, rc)
	if closeErr := out.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func readEntry(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rc.Close()
	}()
	return safety.ReadAllWithLimit(rc, limit)
}
