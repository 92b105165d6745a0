package syncer

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThrottledReaderDisabled(t *testing.T) {
	src := strings.NewReader("payload")

	r := newThrottledReader(context.Background(), src, 0)
	require.Same(t, src, r)
}

func TestThrottledReaderPaces(t *testing.T) {
	data := strings.Repeat("z", 400)

	start := time.Now()
	r := newThrottledReader(context.Background(), strings.NewReader(data), 1_000)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, data, string(got))

	// 400 bytes at 1000 B/s with an empty bucket take about 400ms.
	require.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestThrottledReaderSmallReads(t *testing.T) {
	r := newThrottledReader(context.Background(), strings.NewReader(strings.Repeat("z", 100)), 50)

	buf := make([]byte, 1024)
	n, err := r.Read(buf)
	require.NoError(t, err)
	require.LessOrEqual(t, n, 50)
}

func TestThrottledReaderCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	r := newThrottledReader(ctx, strings.NewReader(strings.Repeat("z", 10_000)), 100)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := io.ReadAll(r)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 5*time.Second)
}
