package sim

import "fmt"

// RatingPolicy decides how many concurrent transfers a peer may run in one
// direction and how the direction's capacity divides among them. One
// policy is injected into the allocator at driver construction and fixed
// for the run.
type RatingPolicy interface {
	Name() string
	// SlotLimit is the per-direction concurrent transfer bound; 0 means
	// unbounded by count (still bounded by aggregate rate).
	SlotLimit() int
	// Share is the rate one of `active` concurrent transfers receives
	// from the given capacity.
	Share(capacity float64, active int) float64
}

// singleTransfer: at most one active transfer per direction per peer,
// receiving the full capacity. Further requests queue until it completes.
type singleTransfer struct{}

func (singleTransfer) Name() string   { return "single" }
func (singleTransfer) SlotLimit() int { return 1 }

func (singleTransfer) Share(capacity float64, active int) float64 {
	return capacity
}

// parallelTransfer: all active transfers in a direction share the capacity
// in equal parts, recomputed whenever one starts or ends.
type parallelTransfer struct{}

func (parallelTransfer) Name() string   { return "parallel" }
func (parallelTransfer) SlotLimit() int { return 0 }

func (parallelTransfer) Share(capacity float64, active int) float64 {
	if active <= 1 {
		return capacity
	}
	return capacity / float64(active)
}

// NewPolicy resolves a policy selector ("single" or "parallel").
func NewPolicy(name string) (RatingPolicy, error) {
	switch name {
	case "single":
		return singleTransfer{}, nil
	case "parallel":
		return parallelTransfer{}, nil
	default:
		return nil, fmt.Errorf("unknown scheduling policy: %q", name)
	}
}
