package event

import (
	"log/slog"
	"sync"

	"github.com/jgivc/manifestsync/internal/entity"
)

const (
	serviceName          = "event"
	defaultSubscriberBuf = 64
)

/*
Broker fans run events out to subscribers. Publish never blocks: a subscriber that
does not keep up loses events, the progress snapshot is always current.
*/
type Broker struct {
	mu       sync.Mutex
	subs     map[uint64]chan entity.Event
	nextID   uint64
	bufSize  int
	progress entity.RunProgress
	dropped  uint64

	log *slog.Logger
}

func NewBroker(bufSize int, log *slog.Logger) *Broker {
	if bufSize < 1 {
		bufSize = defaultSubscriberBuf
	}

	return &Broker{
		subs:     make(map[uint64]chan entity.Event),
		bufSize:  bufSize,
		progress: entity.RunProgress{Errors: []entity.FileFailure{}},
		log:      log.With(slog.String("service", serviceName)),
	}
}

func (b *Broker) Publish(ev entity.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.apply(ev)

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped++
			b.log.Debug("Subscriber is slow, event dropped", slog.Uint64("subscriber_id", id), slog.String("type", string(ev.Type)))
		}
	}
}

// Subscribe returns a channel of events published from now on. cancel closes it.
func (b *Broker) Subscribe() (<-chan entity.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan entity.Event, b.bufSize)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			delete(b.subs, id)
			close(ch)
		})
	}

	return ch, cancel
}

func (b *Broker) Progress() entity.RunProgress {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.progress
	p.Errors = append([]entity.FileFailure{}, b.progress.Errors...)

	return p
}

func (b *Broker) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.dropped
}

func (b *Broker) apply(ev entity.Event) {
	switch ev.Type {
	case entity.EventRunStarted:
		b.progress = entity.RunProgress{
			Running:        true,
			RunID:          ev.RunID,
			TotalFiles:     ev.TotalFiles,
			TotalBytes:     ev.TotalBytes,
			RemainingBytes: ev.TotalBytes,
			Errors:         []entity.FileFailure{},
			LastResult:     b.progress.LastResult,
		}
	case entity.EventProgressTick:
		b.progress.RemainingBytes = ev.RemainingBytes
		b.progress.Speed = ev.DownloadSpeedBytesPerSec
	case entity.EventFileFetched:
		if ev.FetchedFiles > b.progress.FetchedFiles {
			b.progress.FetchedFiles = ev.FetchedFiles
		}
	case entity.EventFileError:
		b.progress.Errors = append(b.progress.Errors, entity.FileFailure{Path: ev.Path, Reason: ev.Reason})
	case entity.EventRunComplete:
		b.progress.Running = false
		b.progress.LastResult = ev.Result
	}
}
