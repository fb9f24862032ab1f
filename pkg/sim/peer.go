package sim

import (
	"errors"
	"fmt"
	"math"

	"github.com/ipfs/go-cid"
)

// ErrCapacityViolation indicates a peer's committed transfer rate would
// exceed its link capacity. It marks a scheduling bug, not a data problem,
// and aborts the run.
var ErrCapacityViolation = errors.New("peer capacity violated")

// capacitySlack absorbs float rounding when comparing committed rates
// against capacity.
const capacitySlack = 1e-9

// Direction of a transfer relative to one of its endpoints.
type Direction int

const (
	Upload Direction = iota
	Download
)

func (d Direction) String() string {
	if d == Upload {
		return "upload"
	}
	return "download"
}

// Peer is one simulated node: fixed link capacities, finite storage, the
// blocks it holds and its active and pending transfer sets. Peers are
// created at setup and never destroyed mid-run. Only the scheduler and the
// allocator mutate peer state.
type Peer struct {
	id               string
	uploadCapacity   float64 // bytes/second
	downloadCapacity float64 // bytes/second
	storageCapacity  int64
	storedBytes      int64
	reservedBytes    int64

	held map[cid.Cid]int64

	uploads   []*Transfer
	downloads []*Transfer

	pendingUp   []*Transfer
	pendingDown []*Transfer
}

func NewPeer(id string, uploadCapacity, downloadCapacity float64, storageCapacity int64) *Peer {
	return &Peer{
		id:               id,
		uploadCapacity:   uploadCapacity,
		downloadCapacity: downloadCapacity,
		storageCapacity:  storageCapacity,
		held:             map[cid.Cid]int64{},
	}
}

func (p *Peer) ID() string { return p.id }

func (p *Peer) UploadCapacity() float64 { return p.uploadCapacity }

func (p *Peer) DownloadCapacity() float64 { return p.downloadCapacity }

func (p *Peer) StorageCapacity() int64 { return p.storageCapacity }

func (p *Peer) StoredBytes() int64 { return p.storedBytes }

func (p *Peer) ReservedBytes() int64 { return p.reservedBytes }

// FreeStorage is the capacity not yet consumed by held blocks or reserved
// by in-flight incoming transfers.
func (p *Peer) FreeStorage() int64 { return p.storageCapacity - p.storedBytes - p.reservedBytes }

func (p *Peer) ActiveUploads() int { return len(p.uploads) }

func (p *Peer) ActiveDownloads() int { return len(p.downloads) }

func (p *Peer) capacity(d Direction) float64 {
	if d == Upload {
		return p.uploadCapacity
	}
	return p.downloadCapacity
}

func (p *Peer) active(d Direction) []*Transfer {
	if d == Upload {
		return p.uploads
	}
	return p.downloads
}

// AvailableUploadSlots returns how many more outgoing transfers the policy
// admits on this peer; math.MaxInt when the policy has no count bound.
func (p *Peer) AvailableUploadSlots(pol RatingPolicy) int {
	return availableSlots(pol, len(p.uploads))
}

// AvailableDownloadSlots is the incoming counterpart of
// AvailableUploadSlots.
func (p *Peer) AvailableDownloadSlots(pol RatingPolicy) int {
	return availableSlots(pol, len(p.downloads))
}

func availableSlots(pol RatingPolicy, active int) int {
	limit := pol.SlotLimit()
	if limit == 0 {
		return math.MaxInt
	}
	if active >= limit {
		return 0
	}
	return limit - active
}

// committedRate sums the instantaneous rates of active transfers in one
// direction.
func (p *Peer) committedRate(d Direction) float64 {
	var sum float64
	for _, t := range p.active(d) {
		sum += t.rate
	}
	return sum
}

// registerTransferStart adds t to the peer's active set for the given
// direction. Admitting a transfer whose rate would push the committed rate
// above capacity fails with ErrCapacityViolation; the allocator rates
// transfers after registration, so this only triggers on a scheduling bug.
func (p *Peer) registerTransferStart(d Direction, t *Transfer) error {
	if p.committedRate(d)+t.rate > p.capacity(d)*(1+capacitySlack) {
		return fmt.Errorf("%w: %s %s rate %v over capacity %v", ErrCapacityViolation, p.id, d, p.committedRate(d)+t.rate, p.capacity(d))
	}
	if d == Upload {
		p.uploads = append(p.uploads, t)
	} else {
		p.downloads = append(p.downloads, t)
	}
	return nil
}

func (p *Peer) registerTransferEnd(d Direction, t *Transfer) {
	if d == Upload {
		p.uploads = removeTransfer(p.uploads, t)
	} else {
		p.downloads = removeTransfer(p.downloads, t)
	}
}

// checkCapacity verifies committed rates stay within capacity. Run after
// every rerate.
func (p *Peer) checkCapacity() error {
	if up := p.committedRate(Upload); up > p.uploadCapacity*(1+capacitySlack) {
		return fmt.Errorf("%w: %s upload rate %v over capacity %v", ErrCapacityViolation, p.id, up, p.uploadCapacity)
	}
	if down := p.committedRate(Download); down > p.downloadCapacity*(1+capacitySlack) {
		return fmt.Errorf("%w: %s download rate %v over capacity %v", ErrCapacityViolation, p.id, down, p.downloadCapacity)
	}
	return nil
}

// reserveStorage holds back free storage for an admitted incoming
// transfer until it completes or is abandoned.
func (p *Peer) reserveStorage(n int64) { p.reservedBytes += n }

func (p *Peer) releaseStorage(n int64) {
	p.reservedBytes -= n
	if p.reservedBytes < 0 {
		p.reservedBytes = 0
	}
}

// recordBlockHeld marks the block as held by this peer. Idempotent:
// recording a block the peer already holds is a no-op.
func (p *Peer) recordBlockHeld(b *Block) {
	if _, ok := p.held[b.ID()]; ok {
		return
	}
	p.held[b.ID()] = b.Size()
	p.storedBytes += b.Size()
	b.addHolder(p)
}

func (p *Peer) HoldsBlock(id cid.Cid) bool {
	_, ok := p.held[id]
	return ok
}

// HeldBlocks returns the number of distinct blocks the peer holds.
func (p *Peer) HeldBlocks() int { return len(p.held) }

func (p *Peer) pending(d Direction) []*Transfer {
	if d == Upload {
		return p.pendingUp
	}
	return p.pendingDown
}

func (p *Peer) enqueuePending(d Direction, t *Transfer) {
	if d == Upload {
		p.pendingUp = append(p.pendingUp, t)
	} else {
		p.pendingDown = append(p.pendingDown, t)
	}
}

func (p *Peer) removePending(d Direction, t *Transfer) {
	if d == Upload {
		p.pendingUp = removeTransfer(p.pendingUp, t)
	} else {
		p.pendingDown = removeTransfer(p.pendingDown, t)
	}
}

func removeTransfer(ts []*Transfer, t *Transfer) []*Transfer {
	for i, other := range ts {
		if other == t {
			return append(ts[:i], ts[i+1:]...)
		}
	}
	return ts
}
