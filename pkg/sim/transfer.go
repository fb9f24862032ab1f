package sim

import (
	"fmt"

	"github.com/google/uuid"
)

// TransferKind distinguishes uploads contributing to another peer's
// redundancy target from downloads restoring a peer's own lost data.
type TransferKind int

const (
	BackupTransfer TransferKind = iota
	RecoveryTransfer
)

func (k TransferKind) String() string {
	if k == BackupTransfer {
		return "backup"
	}
	return "recovery"
}

// completionKind maps a transfer kind to the event emitted when it
// finishes.
func (k TransferKind) completionKind() EventKind {
	if k == BackupTransfer {
		return BlockBackupComplete
	}
	return BlockRecoveryComplete
}

type TransferState int

const (
	TransferPending TransferState = iota
	TransferActive
	TransferCompleted
	TransferCancelled
)

func (s TransferState) String() string {
	switch s {
	case TransferPending:
		return "pending"
	case TransferActive:
		return "active"
	case TransferCompleted:
		return "completed"
	case TransferCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Transfer is one block moving from Source to Dest. It is owned
// exclusively by the scheduler; peers hold only references for
// accounting. Remaining bytes are tracked continuously: before any rate
// change the elapsed progress is accrued at the old rate, never re-derived
// from the start time.
type Transfer struct {
	ID     uuid.UUID
	Kind   TransferKind
	Source *Peer
	Dest   *Peer
	Block  *Block

	Requested float64
	Started   float64

	state      TransferState
	rate       float64 // bytes/second, 0 while pending
	remaining  float64 // bytes
	ratedAt    float64 // simulated time progress was last accrued
	completion *Scheduled
}

func newTransfer(kind TransferKind, source, dest *Peer, block *Block, requested float64) *Transfer {
	// IDs are derived, not drawn: identical runs must name identical
	// transfers.
	name := fmt.Sprintf("p2p/transfer/%s/%s/%s/%s/%f", kind, block.ID(), source.ID(), dest.ID(), requested)
	return &Transfer{
		ID:        uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)),
		Kind:      kind,
		Source:    source,
		Dest:      dest,
		Block:     block,
		Requested: requested,
		state:     TransferPending,
		remaining: float64(block.Size()),
	}
}

func (t *Transfer) State() TransferState { return t.state }

func (t *Transfer) Rate() float64 { return t.rate }

func (t *Transfer) Remaining() float64 { return t.remaining }

// accrue applies the progress made at the current rate since the last
// accrual. Must run before every rate change and at completion.
func (t *Transfer) accrue(now float64) {
	if t.state != TransferActive {
		return
	}
	t.remaining -= t.rate * (now - t.ratedAt)
	if t.remaining < 0 {
		t.remaining = 0
	}
	t.ratedAt = now
}

// eta is the projected completion time at the current rate.
func (t *Transfer) eta(now float64) float64 {
	if t.remaining <= 0 {
		return now
	}
	return now + t.remaining/t.rate
}

// exactnessTolerance bounds the bytes a transfer may be short of its block
// size when its completion event fires.
func (t *Transfer) exactnessTolerance() float64 {
	size := float64(t.Block.Size())
	if size < 1 {
		size = 1
	}
	return 1e-6 * size
}
