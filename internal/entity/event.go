package entity

type EventType string

const (
	EventRunStarted   EventType = "run-started"
	EventProgressTick EventType = "progress-tick"
	EventFileFetched  EventType = "file-fetched"
	EventFileError    EventType = "file-error"
	EventRunComplete  EventType = "run-complete"
)

// Event is one entry of the run event stream. Only the fields of its Type are set.
type Event struct {
	Type  EventType `json:"type"`
	RunID string    `json:"runId"`

	TotalFiles   int    `json:"totalFiles,omitempty"`
	TotalBytes   uint64 `json:"totalBytes,omitempty"`
	FetchedFiles int    `json:"fetchedFiles,omitempty"`

	RemainingBytes           uint64 `json:"remainingBytes"`
	DownloadSpeedBytesPerSec uint64 `json:"downloadSpeedBytesPerSec"`

	Path   string `json:"path,omitempty"`
	Reason string `json:"reason,omitempty"`

	Result *SyncResult `json:"result,omitempty"`
}

// EventSink receives run events. Implementations must not block for long.
type EventSink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ev Event)

func (f SinkFunc) Publish(ev Event) {
	f(ev)
}

// RunProgress is the state of the current, or the last, run as seen through its events.
type RunProgress struct {
	Running        bool          `json:"running"`
	RunID          string        `json:"runId,omitempty"`
	TotalFiles     int           `json:"totalFiles"`
	FetchedFiles   int           `json:"fetchedFiles"`
	TotalBytes     uint64        `json:"totalBytes"`
	RemainingBytes uint64        `json:"remainingBytes"`
	Speed          uint64        `json:"downloadSpeedBytesPerSec"`
	Errors         []FileFailure `json:"errors"`
	LastResult     *SyncResult   `json:"lastResult,omitempty"`
}
