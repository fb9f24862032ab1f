package sim

import "math"

// Allocator computes each active transfer's instantaneous rate under the
// injected policy and keeps completion events in line with those rates. A
// transfer's effective rate is the minimum of its sender-side and
// receiver-side shares: bandwidth is bottlenecked by whichever endpoint is
// more constrained.
type Allocator struct {
	clock  *Clock
	policy RatingPolicy
}

func NewAllocator(clock *Clock, policy RatingPolicy) *Allocator {
	return &Allocator{clock: clock, policy: policy}
}

func (a *Allocator) Policy() RatingPolicy { return a.policy }

// Rerate recomputes the rate and projected completion of every active
// transfer touching the given peers, accruing progress at the old rate
// first and rescheduling the completion event when the rate changed. Runs
// whenever a transfer starts or ends on an endpoint.
func (a *Allocator) Rerate(peers ...*Peer) error {
	now := a.clock.Now()

	var affected []*Transfer
	seen := map[*Transfer]struct{}{}
	for _, p := range peers {
		for _, t := range p.uploads {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				affected = append(affected, t)
			}
		}
		for _, t := range p.downloads {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				affected = append(affected, t)
			}
		}
	}

	// Accrue everything at old rates before applying any new rate, so a
	// transfer affected through both endpoints is never double-counted.
	for _, t := range affected {
		t.accrue(now)
	}

	endpoints := map[*Peer]struct{}{}
	for _, p := range peers {
		endpoints[p] = struct{}{}
	}

	for _, t := range affected {
		up := a.policy.Share(t.Source.uploadCapacity, t.Source.ActiveUploads())
		down := a.policy.Share(t.Dest.downloadCapacity, t.Dest.ActiveDownloads())
		rate := math.Min(up, down)
		if t.completion != nil && rate == t.rate {
			continue
		}
		t.rate = rate
		if t.completion != nil {
			a.clock.Cancel(t.completion)
		}
		s, err := a.clock.Schedule(Event{Kind: t.Kind.completionKind(), Transfer: t}, t.eta(now))
		if err != nil {
			return err
		}
		t.completion = s
		endpoints[t.Source] = struct{}{}
		endpoints[t.Dest] = struct{}{}
	}

	for p := range endpoints {
		if err := p.checkCapacity(); err != nil {
			return err
		}
	}
	return nil
}
