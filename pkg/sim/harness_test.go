package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

const MiB = float64(1 << 20)

// harness drives a clock/allocator/scheduler trio without a full driver,
// dispatching events and checking the bandwidth-conservation and
// slot-exclusivity invariants after every step.
type harness struct {
	t      *testing.T
	clock  *Clock
	sched  *Scheduler
	policy RatingPolicy
	peers  []*Peer
	blocks int

	completions []Event
}

func newHarness(t *testing.T, policy string) *harness {
	t.Helper()
	pol, err := NewPolicy(policy)
	require.NoError(t, err)
	clock := NewClock()
	alloc := NewAllocator(clock, pol)
	return &harness{
		t:      t,
		clock:  clock,
		sched:  NewScheduler(clock, alloc),
		policy: pol,
	}
}

func (h *harness) peer(id string, upload, download float64) *Peer {
	p := NewPeer(id, upload, download, 1<<40)
	h.peers = append(h.peers, p)
	return p
}

// blockHeldBy mints a fresh block of the given size already held by owner.
func (h *harness) blockHeldBy(owner *Peer, size int64) *Block {
	b := NewBlock(owner, h.blocks, 0, size, 1)
	h.blocks++
	owner.recordBlockHeld(b)
	return b
}

func (h *harness) request(src, dst *Peer, b *Block) *Transfer {
	h.t.Helper()
	tr, err := h.sched.RequestTransfer(BackupTransfer, src, dst, b)
	require.NoError(h.t, err)
	return tr
}

// requestAt schedules the request for a later simulated time.
func (h *harness) requestAt(src, dst *Peer, b *Block, at float64) {
	h.t.Helper()
	_, err := h.clock.Schedule(Event{
		Kind:   TransferRequested,
		Demand: &Demand{Kind: BackupTransfer, Block: b, Dest: dst, Sources: []*Peer{src}},
	}, at)
	require.NoError(h.t, err)
}

// runUntilIdle advances the clock until the queue drains, handling
// requests and completions the way the driver does.
func (h *harness) runUntilIdle() {
	h.t.Helper()
	for {
		ev, err := h.clock.Advance()
		if errors.Is(err, ErrQueueEmpty) {
			return
		}
		require.NoError(h.t, err)
		switch ev.Kind {
		case TransferRequested:
			h.request(ev.Demand.Sources[0], ev.Demand.Dest, ev.Demand.Block)
		case BlockBackupComplete, BlockRecoveryComplete:
			_, err := h.sched.OnCompletion(ev.Transfer)
			require.NoError(h.t, err)
			h.completions = append(h.completions, ev)
		}
		h.checkInvariants()
	}
}

func (h *harness) checkInvariants() {
	h.t.Helper()
	for _, p := range h.peers {
		require.NoError(h.t, p.checkCapacity())
		require.LessOrEqual(h.t, p.StoredBytes()+p.ReservedBytes(), p.StorageCapacity(),
			"peer %s overcommits storage", p.ID())
		if limit := h.policy.SlotLimit(); limit > 0 {
			require.LessOrEqual(h.t, p.ActiveUploads(), limit, "peer %s exceeds upload slots", p.ID())
			require.LessOrEqual(h.t, p.ActiveDownloads(), limit, "peer %s exceeds download slots", p.ID())
		}
	}
}

// completionTimes returns the timestamps of dispatched completions in
// order.
func (h *harness) completionTimes() []float64 {
	times := make([]float64, 0, len(h.completions))
	for _, ev := range h.completions {
		times = append(times, ev.Time)
	}
	return times
}
