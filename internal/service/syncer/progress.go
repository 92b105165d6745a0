package syncer

import (
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jgivc/manifestsync/internal/entity"
	"github.com/jonboulle/clockwork"
)

/*
reporter emits a progress tick on every interval while a run transfers. It only reads
the shared counters, so a large file in flight still shows live speed.
*/
type reporter struct {
	clock    clockwork.Clock
	interval time.Duration
	runID    string
	total    uint64
	c        *counters
	sink     entity.EventSink
	log      *slog.Logger

	stop chan struct{}
	done chan struct{}
}

func newReporter(clock clockwork.Clock, interval time.Duration, runID string, total uint64, c *counters, sink entity.EventSink, log *slog.Logger) *reporter {
	return &reporter{
		clock:    clock,
		interval: interval,
		runID:    runID,
		total:    total,
		c:        c,
		sink:     sink,
		log:      log.With(slog.String("item", "Reporter"), slog.String("run_id", runID)),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *reporter) Start() {
	ticker := r.clock.NewTicker(r.interval)

	go func() {
		defer close(r.done)
		defer ticker.Stop()

		for {
			select {
			case <-r.stop:
				return
			case <-ticker.Chan():
				r.tick()
			}
		}
	}()
}

// Stop ends ticking and emits the final tick. Nothing is emitted by the reporter afterwards.
func (r *reporter) Stop() {
	close(r.stop)
	<-r.done

	r.sink.Publish(entity.Event{
		Type:  entity.EventProgressTick,
		RunID: r.runID,
	})
}

func (r *reporter) tick() {
	speed := r.c.sinceTick.Swap(0)
	remaining := r.remaining()

	r.log.Debug("Progress",
		slog.String("remaining", humanize.Bytes(remaining)),
		slog.String("speed", humanize.Bytes(speed)+"/s"),
	)

	r.sink.Publish(entity.Event{
		Type:                     entity.EventProgressTick,
		RunID:                    r.runID,
		RemainingBytes:           remaining,
		DownloadSpeedBytesPerSec: uint64(float64(speed) / r.interval.Seconds()),
	})
}

// remaining never goes negative, bytes of discarded or oversized files can push transferred past total.
func (r *reporter) remaining() uint64 {
	transferred := r.c.transferred.Load()
	if transferred >= r.total {
		return 0
	}

	return r.total - transferred
}
