package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Format errors live in the manifest package as
// manifest.ErrFormat.
var (
	ErrInput          = errors.New("invalid input")
	ErrStorage        = errors.New("storage failure")
	ErrPartialRestore = errors.New("restore partially applied")
)

// InputError is a caller-fixable problem with the request itself.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

func (e *InputError) Is(target error) bool { return target == ErrInput }

// StorageError wraps a data-store failure. For restores it guarantees the
// database was rolled back to its pre-restore state.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// AssetRestoreError reports file-side failures after the database commit.
// The database result is already in place and the RestoreReport returned
// alongside it is accurate.
type AssetRestoreError struct {
	Failed   []string
	Settings bool
	Err      error
}

func (e *AssetRestoreError) Error() string {
	var parts []string
	if len(e.Failed) > 0 {
		parts = append(parts, fmt.Sprintf("%d asset file(s) not restored (%s)", len(e.Failed), strings.Join(e.Failed, ", ")))
	}
	if e.Settings {
		parts = append(parts, "settings not restored")
	}
	msg := "database restored but " + strings.Join(parts, " and ")
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AssetRestoreError) Unwrap() error { return e.Err }

func (e *AssetRestoreError) Is(target error) bool { return target == ErrPartialRestore }
