package sim

// EventKind discriminates the payload of a dispatched event.
type EventKind int

const (
	// TransferRequested carries a demand whose jittered arrival time has
	// been reached; the driver hands it to the scheduler.
	TransferRequested EventKind = iota
	// TransferStarted marks the admission of a transfer.
	TransferStarted
	// BlockBackupComplete marks a finished upload that contributes to
	// another peer's redundancy target.
	BlockBackupComplete
	// BlockRecoveryComplete marks a finished download restoring a peer's
	// own lost data.
	BlockRecoveryComplete
	// SimulationEnd fires once at max simulated time.
	SimulationEnd
)

func (k EventKind) String() string {
	switch k {
	case TransferRequested:
		return "TransferRequested"
	case TransferStarted:
		return "TransferStarted"
	case BlockBackupComplete:
		return "BlockBackupComplete"
	case BlockRecoveryComplete:
		return "BlockRecoveryComplete"
	case SimulationEnd:
		return "SimulationEnd"
	default:
		return "Unknown"
	}
}

// Event is a timestamped occurrence dispatched by the clock. Events are
// immutable once enqueued; equal-timestamp events dispatch in schedule
// order via Seq.
type Event struct {
	Time     float64
	Seq      uint64
	Kind     EventKind
	Transfer *Transfer // transfer events
	Demand   *Demand   // TransferRequested only
}
