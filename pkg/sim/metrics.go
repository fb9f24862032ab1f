package sim

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/jeanmeza/p2p/pkg/model"
)

// Metrics accumulates the event counts, completion records and utilisation
// samples of one run for the external persistence and analysis
// collaborators.
type Metrics struct {
	run      uuid.UUID
	policy   string
	parallel bool
	seed     int64
	nodes    int

	transfers   []model.TransferRecord
	bandwidth   []model.BandwidthSample
	concurrency []model.ConcurrencySample

	started             int
	completedBackups    int
	completedRecoveries int
	abandoned           int
	rejected            int
	dataLossEvents      int
	nodesWithDataLoss   int
	endTime             float64
}

func newMetrics(policy RatingPolicy, seed int64, nodes int) *Metrics {
	// Derived like transfer IDs: a re-run of the same configuration is the
	// same run.
	name := fmt.Sprintf("p2p/run/%s/%d/%d", policy.Name(), seed, nodes)
	return &Metrics{
		run:      uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)),
		policy:   policy.Name(),
		parallel: policy.SlotLimit() == 0,
		seed:     seed,
		nodes:    nodes,
	}
}

func (m *Metrics) Run() uuid.UUID { return m.run }

func (m *Metrics) recordStart(ev Event) {
	m.started++
}

func (m *Metrics) recordCompletion(ev Event) {
	t := ev.Transfer
	if t.Kind == BackupTransfer {
		m.completedBackups++
	} else {
		m.completedRecoveries++
	}
	m.transfers = append(m.transfers, model.TransferRecord{
		ID:         t.ID,
		Run:        m.run,
		Kind:       t.Kind.String(),
		Block:      model.NewLink(t.Block.ID()),
		Size:       t.Block.Size(),
		Uploader:   t.Source.ID(),
		Downloader: t.Dest.ID(),
		Requested:  t.Requested,
		Started:    t.Started,
		Completed:  ev.Time,
		Duration:   ev.Time - t.Started,
	})
}

// sample captures aggregate bandwidth use and transfer concurrency across
// all peers at the given instant. Consecutive samples at the same instant
// collapse into the last one, so a cascade of equal-time events leaves a
// single post-cascade snapshot.
func (m *Metrics) sample(now float64, peers []*Peer) {
	var bw model.BandwidthSample
	var cc model.ConcurrencySample
	bw.Time = now
	cc.Time = now
	for _, p := range peers {
		bw.UploadUsed += p.committedRate(Upload)
		bw.UploadCapacity += p.UploadCapacity()
		bw.DownloadUsed += p.committedRate(Download)
		bw.DownloadCapacity += p.DownloadCapacity()
		cc.Uploads += p.ActiveUploads()
		cc.Downloads += p.ActiveDownloads()
	}
	if n := len(m.bandwidth); n > 0 && m.bandwidth[n-1].Time == now {
		m.bandwidth[n-1] = bw
		m.concurrency[n-1] = cc
		return
	}
	m.bandwidth = append(m.bandwidth, bw)
	m.concurrency = append(m.concurrency, cc)
}

// Transfers returns the completion records in dispatch order.
func (m *Metrics) Transfers() []model.TransferRecord { return m.transfers }

func (m *Metrics) Bandwidth() []model.BandwidthSample { return m.bandwidth }

func (m *Metrics) Concurrency() []model.ConcurrencySample { return m.concurrency }

func (m *Metrics) Completed() int { return m.completedBackups + m.completedRecoveries }

func (m *Metrics) Abandoned() int { return m.abandoned }

func (m *Metrics) Rejected() int { return m.rejected }

// BlockStatuses reports the final durability standing of every block.
func (m *Metrics) BlockStatuses(blocks []*Block) []model.BlockStatus {
	out := make([]model.BlockStatus, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, model.BlockStatus{
			Block:      model.NewLink(b.ID()),
			Digest:     model.Multihash{Multihash: b.Digest()},
			Origin:     b.Origin().ID(),
			Size:       b.Size(),
			Durability: b.Durability(),
			Holders:    len(b.Holders()),
			Safe:       b.Safe(),
		})
	}
	return out
}

// Summary digests the run into a single record. Completed and abandoned
// transfers are counted separately; they are never conflated.
func (m *Metrics) Summary(blocks []*Block) model.RunSummary {
	safe := 0
	for _, b := range blocks {
		if b.Safe() {
			safe++
		}
	}
	return model.RunSummary{
		ID:                m.run,
		Policy:            m.policy,
		Parallel:          m.parallel,
		Seed:              m.seed,
		TotalNodes:        m.nodes,
		EndTime:           m.endTime,
		Started:           m.started,
		Completed:         m.Completed(),
		Backups:           m.completedBackups,
		Recoveries:        m.completedRecoveries,
		Abandoned:         m.abandoned,
		Rejected:          m.rejected,
		DataLossEvents:    m.dataLossEvents,
		NodesWithDataLoss: m.nodesWithDataLoss,
		SafeBlocks:        safe,
		TotalBlocks:       len(blocks),
	}
}
