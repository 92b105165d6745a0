package syncer

import (
	"context"
	"io"
	"time"

	"golang.org/x/time/rate"
)

const maxThrottleBurst = 32 * 1024

// throttledReader paces one stream so it never delivers more than bytesPerSec on average.
type throttledReader struct {
	ctx   context.Context
	r     io.Reader
	lim   *rate.Limiter
	burst int
}

func newThrottledReader(ctx context.Context, r io.Reader, bytesPerSec uint64) io.Reader {
	if bytesPerSec == 0 {
		return r
	}

	burst := maxThrottleBurst
	if bytesPerSec < uint64(burst) {
		burst = int(bytesPerSec)
	}

	lim := rate.NewLimiter(rate.Limit(bytesPerSec), burst)
	// The bucket starts full. Drain it so the first second is paced too.
	lim.AllowN(time.Now(), burst)

	return &throttledReader{
		ctx:   ctx,
		r:     r,
		lim:   lim,
		burst: burst,
	}
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if len(p) > t.burst {
		p = p[:t.burst]
	}

	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.lim.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}

	return n, err
}
