package sim

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Five sources with ample upload feeding one downloader: each transfer is
// bottlenecked by the receiver's fair share, min(20/5, remote upload) = 4.
func TestParallelFanInSharesDownloadCapacity(t *testing.T) {
	h := newHarness(t, "parallel")
	a := h.peer("a", 2*MiB, 20*MiB)

	var transfers []*Transfer
	for i := range 5 {
		remote := h.peer(fmt.Sprintf("r%d", i), 100*MiB, 100*MiB)
		b := h.blockHeldBy(remote, int64(40*MiB))
		transfers = append(transfers, h.request(remote, a, b))
	}

	assert.Equal(t, 5, a.ActiveDownloads(), "all transfers admitted simultaneously")
	for _, tr := range transfers {
		assert.Equal(t, TransferActive, tr.State())
		assert.InDelta(t, 4*MiB, tr.Rate(), 1e-6)
	}
}

// One uploader fanning out to five receivers: each gets 2/5 = 0.4 MiB/s.
func TestParallelFanOutSharesUploadCapacity(t *testing.T) {
	h := newHarness(t, "parallel")
	a := h.peer("a", 2*MiB, 20*MiB)

	var transfers []*Transfer
	for i := range 5 {
		remote := h.peer(fmt.Sprintf("r%d", i), 100*MiB, 100*MiB)
		b := h.blockHeldBy(a, int64(2*MiB))
		transfers = append(transfers, h.request(a, remote, b))
	}

	for _, tr := range transfers {
		assert.InDelta(t, 0.4*MiB, tr.Rate(), 1e-6)
	}
}

// The same fan-out under the single policy serialises: one transfer at a
// time at the full 2 MiB/s, each completing before the next starts.
func TestSingleFanOutSerialises(t *testing.T) {
	h := newHarness(t, "single")
	a := h.peer("a", 2*MiB, 20*MiB)

	var transfers []*Transfer
	for i := range 5 {
		remote := h.peer(fmt.Sprintf("r%d", i), 100*MiB, 100*MiB)
		b := h.blockHeldBy(a, int64(2*MiB))
		transfers = append(transfers, h.request(a, remote, b))
	}

	assert.Equal(t, TransferActive, transfers[0].State())
	assert.InDelta(t, 2*MiB, transfers[0].Rate(), 1e-6)
	for _, tr := range transfers[1:] {
		assert.Equal(t, TransferPending, tr.State())
	}

	h.runUntilIdle()

	// Each 2 MiB block at 2 MiB/s: one completion per second, in request
	// order.
	require.Len(t, h.completions, 5)
	assert.InDeltaSlice(t, []float64{1, 2, 3, 4, 5}, h.completionTimes(), 1e-9)
	for i, ev := range h.completions {
		assert.Same(t, transfers[i], ev.Transfer)
	}
}

func TestEffectiveRateIsEndpointMinimum(t *testing.T) {
	h := newHarness(t, "parallel")
	src := h.peer("src", 10, 100)
	dst := h.peer("dst", 100, 4)

	b := h.blockHeldBy(src, 100)
	tr := h.request(src, dst, b)
	assert.InDelta(t, 4.0, tr.Rate(), 1e-12, "receiver is the bottleneck")
}

// A sibling starting mid-transfer halves the first transfer's rate; the
// remaining bytes must be accrued at the old rate, never re-derived from
// the start time.
func TestReratePreservesAccruedProgress(t *testing.T) {
	h := newHarness(t, "parallel")
	src := h.peer("src", 10, 1000)
	d1 := h.peer("d1", 1000, 1000)
	d2 := h.peer("d2", 1000, 1000)

	b1 := h.blockHeldBy(src, 100)
	b2 := h.blockHeldBy(src, 100)

	tr1 := h.request(src, d1, b1)
	assert.InDelta(t, 10.0, tr1.Rate(), 1e-12)
	h.requestAt(src, d2, b2, 5)

	h.runUntilIdle()

	// tr1 runs at 10 B/s for 5s (50 bytes), then both share 5 B/s. tr1
	// finishes its remaining 50 bytes at t=15; tr2 then speeds back up to
	// 10 B/s and finishes its remaining 50 bytes at t=20.
	require.Len(t, h.completions, 2)
	assert.InDeltaSlice(t, []float64{15, 20}, h.completionTimes(), 1e-9)
}

// Completion exactness: the integral of rate over each transfer's active
// lifetime equals the block size within tolerance. OnCompletion enforces
// this; the harness surfaces any deficit as a test failure.
func TestCompletionExactnessUnderRerating(t *testing.T) {
	h := newHarness(t, "parallel")
	src := h.peer("src", 7, 1000)
	for i := range 4 {
		d := h.peer(fmt.Sprintf("d%d", i), 1000, 3)
		b := h.blockHeldBy(src, int64(50+i*17))
		h.requestAt(src, d, b, float64(i)*1.3)
	}

	h.runUntilIdle()
	require.Len(t, h.completions, 4)
	for _, ev := range h.completions {
		assert.Equal(t, TransferCompleted, ev.Transfer.State())
		assert.Zero(t, ev.Transfer.Remaining())
	}
}
