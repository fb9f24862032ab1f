package sim

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData rejects a transfer whose source does not hold
	// the block. Recoverable: the driver may elect a different source.
	ErrInsufficientData = errors.New("source does not hold block")
	// ErrDuplicateBlock rejects a transfer whose destination already
	// holds the block.
	ErrDuplicateBlock = errors.New("destination already holds block")
	// ErrInsufficientStorage rejects a transfer the destination has no
	// room to store.
	ErrInsufficientStorage = errors.New("destination storage full")
)

// Scheduler owns every Transfer: it decides admission, keeps per-peer
// per-direction FIFO wait queues and drives the completion protocol.
type Scheduler struct {
	clock    *Clock
	alloc    *Allocator
	draining bool
}

func NewScheduler(clock *Clock, alloc *Allocator) *Scheduler {
	return &Scheduler{clock: clock, alloc: alloc}
}

// RequestTransfer validates and creates a transfer of block from source to
// dest. Admission reserves the block's bytes on the destination until the
// transfer completes or is abandoned, so concurrent incoming transfers
// cannot collectively overshoot its storage. If the policy and current
// load permit it starts immediately, otherwise it queues pending on both
// endpoints and is admitted first-requested, first-served when slots free
// up.
func (s *Scheduler) RequestTransfer(kind TransferKind, source, dest *Peer, block *Block) (*Transfer, error) {
	if !source.HoldsBlock(block.ID()) {
		return nil, fmt.Errorf("%w: %s lacks %s", ErrInsufficientData, source.ID(), block.ID())
	}
	if dest.HoldsBlock(block.ID()) {
		return nil, fmt.Errorf("%w: %s already holds %s", ErrDuplicateBlock, dest.ID(), block.ID())
	}
	if dest.FreeStorage() < block.Size() {
		return nil, fmt.Errorf("%w: %s has %d bytes free, block is %d", ErrInsufficientStorage, dest.ID(), dest.FreeStorage(), block.Size())
	}

	dest.reserveStorage(block.Size())

	t := newTransfer(kind, source, dest, block, s.clock.Now())
	if s.canStart(t) {
		if err := s.activate(t); err != nil {
			return nil, err
		}
		return t, nil
	}

	source.enqueuePending(Upload, t)
	dest.enqueuePending(Download, t)
	return t, nil
}

// canStart reports whether both endpoints have a free slot under the
// active policy.
func (s *Scheduler) canStart(t *Transfer) bool {
	pol := s.alloc.Policy()
	return t.Source.AvailableUploadSlots(pol) > 0 && t.Dest.AvailableDownloadSlots(pol) > 0
}

// activate transitions t to Active, registers it on both endpoints,
// rerates both endpoints and schedules its completion event. A
// TransferStarted event is enqueued at the current instant so the admission
// appears in the dispatched stream.
func (s *Scheduler) activate(t *Transfer) error {
	now := s.clock.Now()
	t.Source.removePending(Upload, t)
	t.Dest.removePending(Download, t)

	if err := t.Source.registerTransferStart(Upload, t); err != nil {
		return err
	}
	if err := t.Dest.registerTransferStart(Download, t); err != nil {
		return err
	}
	t.state = TransferActive
	t.Started = now
	t.ratedAt = now

	if _, err := s.clock.Schedule(Event{Kind: TransferStarted, Transfer: t}, now); err != nil {
		return err
	}
	return s.alloc.Rerate(t.Source, t.Dest)
}

// OnCompletion finalises a transfer whose completion event was dispatched:
// the destination now holds the block, both endpoints are rerated and the
// freed slots admit pending transfers. The admitted follow-on transfers
// are returned explicitly rather than cascaded through callbacks.
func (s *Scheduler) OnCompletion(t *Transfer) ([]*Transfer, error) {
	now := s.clock.Now()
	t.accrue(now)
	if t.remaining > t.exactnessTolerance() {
		return nil, fmt.Errorf("transfer %s of %s completed with %.3f bytes outstanding", t.ID, t.Block.ID(), t.remaining)
	}
	t.state = TransferCompleted
	t.rate = 0
	t.remaining = 0
	t.completion = nil

	t.Dest.releaseStorage(t.Block.Size())
	t.Dest.recordBlockHeld(t.Block)
	t.Source.registerTransferEnd(Upload, t)
	t.Dest.registerTransferEnd(Download, t)

	if err := s.alloc.Rerate(t.Source, t.Dest); err != nil {
		return nil, err
	}

	admitted, err := s.admitPending(t.Source, Upload)
	if err != nil {
		return admitted, err
	}
	more, err := s.admitPending(t.Dest, Download)
	admitted = append(admitted, more...)
	return admitted, err
}

// admitPending admits waiting transfers on one endpoint in FIFO order
// until none can start. Under the single-transfer policy at most one is
// admitted; under parallel the queue only ever holds transfers blocked by
// the opposite endpoint.
func (s *Scheduler) admitPending(p *Peer, d Direction) ([]*Transfer, error) {
	if s.draining {
		return nil, nil
	}
	var admitted []*Transfer
	for {
		var next *Transfer
		for _, t := range p.pending(d) {
			if s.canStart(t) {
				next = t
				break
			}
		}
		if next == nil {
			return admitted, nil
		}
		if err := s.activate(next); err != nil {
			return admitted, err
		}
		admitted = append(admitted, next)
	}
}

// Drain stops all further admissions; pending transfers stay queued until
// AbandonBeyond discards them.
func (s *Scheduler) Drain() { s.draining = true }

func (s *Scheduler) Draining() bool { return s.draining }

// AbandonBeyond cancels every active transfer across the given peers whose
// projected completion falls after the deadline, discards all pending
// transfers, returns their storage reservations and rerates the survivors
// (which inherit the freed bandwidth). The cancelled and discarded
// transfers are returned.
func (s *Scheduler) AbandonBeyond(peers []*Peer, deadline float64) ([]*Transfer, error) {
	now := s.clock.Now()

	var abandoned []*Transfer
	seen := map[*Transfer]struct{}{}
	collect := func(ts []*Transfer, keep func(*Transfer) bool) {
		for _, t := range ts {
			if _, ok := seen[t]; ok || keep(t) {
				continue
			}
			seen[t] = struct{}{}
			abandoned = append(abandoned, t)
		}
	}
	for _, p := range peers {
		collect(p.uploads, func(t *Transfer) bool { return t.completion.Time() <= deadline })
		collect(p.downloads, func(t *Transfer) bool { return t.completion.Time() <= deadline })
		collect(p.pendingUp, func(*Transfer) bool { return false })
		collect(p.pendingDown, func(*Transfer) bool { return false })
	}

	for _, t := range abandoned {
		t.Dest.releaseStorage(t.Block.Size())
		if t.state == TransferActive {
			t.accrue(now)
			s.clock.Cancel(t.completion)
			t.completion = nil
			t.rate = 0
			t.Source.registerTransferEnd(Upload, t)
			t.Dest.registerTransferEnd(Download, t)
		} else {
			t.Source.removePending(Upload, t)
			t.Dest.removePending(Download, t)
		}
		t.state = TransferCancelled
	}

	return abandoned, s.alloc.Rerate(peers...)
}
