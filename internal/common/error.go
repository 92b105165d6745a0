package common

import (
	"fmt"
	"strings"
)

var (
	ErrUnsafePath          = fmt.Errorf("unsafe manifest path")
	ErrDuplicatePath       = fmt.Errorf("duplicate manifest path")
	ErrPathConflict        = fmt.Errorf("manifest path is both a file and a directory")
	ErrHashMismatch        = fmt.Errorf("hash mismatch")
	ErrFileNotFoundError   = fmt.Errorf("file not found")
	ErrRecordNotFoundError = fmt.Errorf("install record not found")
	ErrNotInstalled        = fmt.Errorf("game is not installed")
	ErrExecutableNotFound  = fmt.Errorf("executable not found")
	ErrSyncInProgress      = fmt.Errorf("sync process has already started")
	ErrSyncIncomplete      = fmt.Errorf("sync did not complete")
	ErrInvalidManifest     = fmt.Errorf("invalid manifest")
	ErrNoInstallDirectory  = fmt.Errorf("install directory is not set")
	ErrStoreInInstallDir   = fmt.Errorf("install record store is inside the install directory")
)

// PlanningError is a malformed manifest. The run is aborted before any transfer.
type PlanningError struct {
	Err error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("cannot plan sync: %s", e.Err)
}

func (e *PlanningError) Unwrap() error {
	return e.Err
}

// TransferError is a single file failure. It is collected, never returned by a run.
type TransferError struct {
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("cannot transfer %s: %s", e.Path, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// ReconciliationError is a failure to remove orphans or to persist the install record.
type ReconciliationError struct {
	Orphans []string // Orphan files that could not be removed
	Err     error
}

func (e *ReconciliationError) Error() string {
	if len(e.Orphans) > 0 && e.Err == nil {
		return fmt.Sprintf("cannot remove orphan files: %s", strings.Join(e.Orphans, ", "))
	}

	return fmt.Sprintf("cannot reconcile install: %s", e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}
