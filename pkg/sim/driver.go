// Package sim implements the discrete-event simulation engine: a seeded,
// single-threaded event loop in which peers exchange erasure-coded blocks
// over bandwidth-limited links under a pluggable transfer-scheduling
// policy. Event ordering is a pure function of (configuration, seed).
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	logging "github.com/ipfs/go-log/v2"

	"github.com/jeanmeza/p2p/pkg/config"
)

var log = logging.Logger("sim")

type DriverState int

const (
	Initializing DriverState = iota
	Running
	Draining
	Finished
)

func (s DriverState) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Demand is one block that must reach one destination. Sources lists the
// candidate senders in election order; when a request is rejected the
// driver retries with the next candidate.
type Demand struct {
	Kind    TransferKind
	Block   *Block
	Dest    *Peer
	Sources []*Peer
}

// Driver owns the clock, the peer registry and the scheduler, and runs the
// main loop until max simulated time or queue exhaustion. A single seeded
// generator drives every stochastic choice; nothing draws from an
// unseeded source.
type Driver struct {
	cfg     config.Config
	clock   *Clock
	alloc   *Allocator
	sched   *Scheduler
	rng     *rand.Rand
	metrics *Metrics

	peers     []*Peer
	peersByID map[string]*Peer
	blocks    []*Block

	state DriverState

	// Progress, when set, is called after every dispatched event with the
	// current and maximum simulated time.
	Progress func(now, max float64)
}

// NewDriver validates the configuration, builds the peer registry and the
// block population, and schedules the initial backup and recovery demands.
// Configuration errors are fatal here, before any simulated time advances.
func NewDriver(cfg config.Config) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	policy, err := NewPolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}

	clock := NewClock()
	alloc := NewAllocator(clock, policy)
	d := &Driver{
		cfg:       cfg,
		clock:     clock,
		alloc:     alloc,
		sched:     NewScheduler(clock, alloc),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		metrics:   newMetrics(policy, cfg.Seed, len(cfg.Peers)),
		peersByID: map[string]*Peer{},
		state:     Initializing,
	}

	for _, spec := range cfg.Peers {
		p := NewPeer(spec.ID, spec.UploadCapacity, spec.DownloadCapacity, spec.StorageCapacity)
		d.peers = append(d.peers, p)
		d.peersByID[spec.ID] = p
	}

	recoverAt := map[string]float64{}
	for _, r := range cfg.Recoveries {
		recoverAt[r.Peer] = r.Time
	}
	d.metrics.dataLossEvents = len(cfg.Recoveries)
	d.metrics.nodesWithDataLoss = len(recoverAt)

	if err := d.seedDemands(recoverAt); err != nil {
		return nil, err
	}
	if _, err := clock.Schedule(Event{Kind: SimulationEnd}, cfg.MaxTime); err != nil {
		return nil, err
	}
	return d, nil
}

// seedDemands creates the block population and enqueues the initial
// backup demands, plus recovery demands for peers that lost their data
// before the run.
func (d *Driver) seedDemands(recoverAt map[string]float64) error {
	for i, spec := range d.cfg.Peers {
		origin := d.peers[i]
		lostAt, lost := recoverAt[origin.ID()]
		fragSize := d.cfg.FragmentSize(spec.ObjectSize)

		for object := 0; object < spec.Objects; object++ {
			rebuild := d.fragmentsToRecover(lost)
			for fragment := 0; fragment < d.cfg.Erasure.Fragments; fragment++ {
				b := NewBlock(origin, object, fragment, fragSize, d.cfg.Erasure.Durability)
				d.blocks = append(d.blocks, b)

				holders := d.electHolders(origin)
				if lost {
					// The loss predates the run: holders already have the
					// fragment, the origin does not.
					for _, h := range holders {
						h.recordBlockHeld(b)
					}
					if _, ok := rebuild[fragment]; !ok {
						continue
					}
					at := lostAt + d.rng.Float64()*d.cfg.RequestJitter
					err := d.scheduleDemand(&Demand{
						Kind:    RecoveryTransfer,
						Block:   b,
						Dest:    origin,
						Sources: holders,
					}, at)
					if err != nil {
						return err
					}
					continue
				}

				origin.recordBlockHeld(b)
				for _, h := range holders {
					at := d.rng.Float64() * d.cfg.RequestJitter
					err := d.scheduleDemand(&Demand{
						Kind:    BackupTransfer,
						Block:   b,
						Dest:    h,
						Sources: []*Peer{origin},
					}, at)
					if err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// electHolders picks the durability-target peers a block should reach,
// uniformly among everyone but the origin.
func (d *Driver) electHolders(origin *Peer) []*Peer {
	candidates := make([]*Peer, 0, len(d.peers)-1)
	for _, p := range d.peers {
		if p != origin {
			candidates = append(candidates, p)
		}
	}
	holders := make([]*Peer, 0, d.cfg.Erasure.Durability)
	for _, i := range d.rng.Perm(len(candidates))[:d.cfg.Erasure.Durability] {
		holders = append(holders, candidates[i])
	}
	return holders
}

// fragmentsToRecover picks which threshold-many fragment indexes a lost
// object is rebuilt from.
func (d *Driver) fragmentsToRecover(lost bool) map[int]struct{} {
	if !lost {
		return nil
	}
	picked := map[int]struct{}{}
	for _, i := range d.rng.Perm(d.cfg.Erasure.Fragments)[:d.cfg.Erasure.Threshold] {
		picked[i] = struct{}{}
	}
	return picked
}

func (d *Driver) scheduleDemand(dm *Demand, at float64) error {
	if at >= d.cfg.MaxTime {
		at = d.cfg.MaxTime - 1e-9
	}
	_, err := d.clock.Schedule(Event{Kind: TransferRequested, Demand: dm}, at)
	return err
}

// Run executes the main loop: advance the clock, dispatch the event,
// sample metrics; until max time is reached and the queue drains. The
// context is only consulted between events, so cancellation never
// interrupts a mutation.
func (d *Driver) Run(ctx context.Context) error {
	if d.state != Initializing {
		return fmt.Errorf("driver already ran (state %s)", d.state)
	}
	d.state = Running

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := d.clock.Advance()
		if errors.Is(err, ErrQueueEmpty) {
			break
		}
		if err != nil {
			return err
		}
		if err := d.dispatch(ev); err != nil {
			return err
		}
		d.metrics.sample(d.clock.Now(), d.peers)
		if d.Progress != nil {
			d.Progress(d.clock.Now(), d.cfg.MaxTime)
		}
	}

	d.metrics.endTime = d.clock.Now()
	d.state = Finished
	return nil
}

func (d *Driver) dispatch(ev Event) error {
	switch ev.Kind {
	case TransferRequested:
		if d.state != Running {
			log.Debugf("dropping demand for %s at %f: %s", ev.Demand.Block.ID(), ev.Time, d.state)
			d.metrics.rejected++
			return nil
		}
		d.issue(ev.Demand)
		return nil

	case TransferStarted:
		d.metrics.recordStart(ev)
		return nil

	case BlockBackupComplete, BlockRecoveryComplete:
		if _, err := d.sched.OnCompletion(ev.Transfer); err != nil {
			return err
		}
		d.metrics.recordCompletion(ev)
		return nil

	case SimulationEnd:
		d.state = Draining
		d.sched.Drain()
		abandoned, err := d.sched.AbandonBeyond(d.peers, d.cfg.MaxTime+d.cfg.DrainGrace)
		if err != nil {
			return err
		}
		d.metrics.abandoned += len(abandoned)
		log.Infof("draining at %f: %d transfers abandoned, %d still in flight", ev.Time, len(abandoned), d.clock.Pending())
		return nil

	default:
		return fmt.Errorf("unexpected event kind: %s", ev.Kind)
	}
}

// issue hands a demand to the scheduler, electing sources in order until
// one accepts. Rejections are recoverable and logged; a demand with no
// viable source is counted and dropped.
func (d *Driver) issue(dm *Demand) {
	for _, src := range dm.Sources {
		_, err := d.sched.RequestTransfer(dm.Kind, src, dm.Dest, dm.Block)
		if err == nil {
			return
		}
		if errors.Is(err, ErrDuplicateBlock) {
			// Demand already satisfied.
			return
		}
		log.Warnf("transfer of %s from %s to %s rejected: %s", dm.Block.ID(), src.ID(), dm.Dest.ID(), err)
	}
	d.metrics.rejected++
}

func (d *Driver) State() DriverState { return d.state }

func (d *Driver) Metrics() *Metrics { return d.metrics }

// Peers returns the registry in configuration order.
func (d *Driver) Peers() []*Peer {
	out := make([]*Peer, len(d.peers))
	copy(out, d.peers)
	return out
}

func (d *Driver) Peer(id string) *Peer { return d.peersByID[id] }

// Blocks returns every block in creation order.
func (d *Driver) Blocks() []*Block {
	out := make([]*Block, len(d.blocks))
	copy(out, d.blocks)
	return out
}
