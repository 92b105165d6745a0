package entity

import "strings"

// SyncPlan is the set of files one run has to fetch. It is never persisted.
type SyncPlan struct {
	ToFetch    []ManifestFile
	TotalBytes uint64
}

func (p *SyncPlan) Empty() bool {
	return len(p.ToFetch) == 0
}

type TransferOutcome int

const (
	OutcomeSkipped TransferOutcome = iota
	OutcomeFetched
	OutcomeFailed
)

func (o TransferOutcome) String() string {
	return [...]string{"Skipped", "Fetched", "Failed"}[o]
}

type FileFailure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// SyncResult aggregates the per file outcomes of one run.
type SyncResult struct {
	RunID            string        `json:"runId"`
	Planned          int           `json:"planned"`
	FetchedCount     int           `json:"fetchedCount"`
	SkippedCount     int           `json:"skippedCount"`
	Failures         []FileFailure `json:"failures"`
	Cancelled        bool          `json:"cancelled"`
	BytesTransferred uint64        `json:"bytesTransferred"`
	// CommitError is set when every file was fetched but orphan cleanup or the record commit failed.
	CommitError      string        `json:"commitError,omitempty"`
}

/*
Complete reports whether every planned file was fetched and verified.
Only a complete result may be reconciled.
*/
func (r *SyncResult) Complete() bool {
	return len(r.Failures) == 0 && r.FetchedCount == r.Planned
}

func (r *SyncResult) FailedPaths() string {
	paths := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		paths = append(paths, f.Path)
	}

	return strings.Join(paths, ", ")
}
