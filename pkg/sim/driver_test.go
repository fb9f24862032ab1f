package sim

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanmeza/p2p/pkg/config"
)

func testConfig(policy string, nodes int) config.Config {
	cfg := config.Config{
		Seed:          7,
		Policy:        policy,
		MaxTime:       24 * 3600,
		RequestJitter: 60,
		Erasure: config.ErasureParams{
			Fragments:  4,
			Threshold:  2,
			Durability: 2,
		},
	}
	for i := range nodes {
		cfg.Peers = append(cfg.Peers, config.PeerSpec{
			ID:               fmt.Sprintf("node-%02d", i),
			UploadCapacity:   2 * MiB,
			DownloadCapacity: 20 * MiB,
			StorageCapacity:  1 << 32,
			Objects:          1,
			ObjectSize:       int64(16 * MiB),
		})
	}
	return cfg
}

func runDriver(t *testing.T, cfg config.Config) *Driver {
	t.Helper()
	d, err := NewDriver(cfg)
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))
	require.Equal(t, Finished, d.State())
	return d
}

func TestDriverRejectsInvalidConfiguration(t *testing.T) {
	cfg := testConfig("single", 4)
	cfg.Peers[2].UploadCapacity = 0
	_, err := NewDriver(cfg)
	assert.Error(t, err)

	cfg = testConfig("wave", 4)
	_, err = NewDriver(cfg)
	assert.Error(t, err)
}

func TestDriverBacksUpEveryBlock(t *testing.T) {
	for _, policy := range []string{"single", "parallel"} {
		t.Run(policy, func(t *testing.T) {
			cfg := testConfig(policy, 6)
			d := runDriver(t, cfg)

			summary := d.Metrics().Summary(d.Blocks())
			// 6 peers x 1 object x 4 fragments, each to 2 holders.
			assert.Equal(t, 48, summary.Backups)
			assert.Equal(t, 0, summary.Recoveries)
			assert.Equal(t, 0, summary.Abandoned)
			assert.Equal(t, 0, summary.Rejected)
			assert.Equal(t, summary.TotalBlocks, summary.SafeBlocks)
			assert.Equal(t, 24, summary.TotalBlocks)
			assert.Equal(t, summary.Started, summary.Completed)
		})
	}
}

// Two runs with identical configuration and seed must produce identical
// event streams, record for record.
func TestDriverIsDeterministic(t *testing.T) {
	for _, policy := range []string{"single", "parallel"} {
		t.Run(policy, func(t *testing.T) {
			cfg := testConfig(policy, 8)
			cfg.Recoveries = []config.RecoverySpec{{Peer: "node-07", Time: 3600}}

			a := runDriver(t, cfg)
			b := runDriver(t, cfg)

			assert.Equal(t, a.Metrics().Transfers(), b.Metrics().Transfers())
			assert.Equal(t, a.Metrics().Bandwidth(), b.Metrics().Bandwidth())
			assert.Equal(t, a.Metrics().Concurrency(), b.Metrics().Concurrency())
			assert.Equal(t, a.Metrics().Summary(a.Blocks()), b.Metrics().Summary(b.Blocks()))
		})
	}
}

func TestDriverSeedChangesSchedule(t *testing.T) {
	cfg := testConfig("parallel", 8)
	a := runDriver(t, cfg)
	cfg.Seed = 8
	b := runDriver(t, cfg)
	assert.NotEqual(t, a.Metrics().Transfers(), b.Metrics().Transfers())
}

// A peer that lost its data before the run re-downloads threshold-many
// fragments per object from the seeded holders.
func TestDriverRecoversLostPeer(t *testing.T) {
	cfg := testConfig("parallel", 6)
	cfg.Recoveries = []config.RecoverySpec{{Peer: "node-05", Time: 3600}}

	d := runDriver(t, cfg)
	summary := d.Metrics().Summary(d.Blocks())

	assert.Equal(t, 1, summary.DataLossEvents)
	assert.Equal(t, 1, summary.NodesWithDataLoss)
	// 1 object, threshold 2.
	assert.Equal(t, 2, summary.Recoveries)
	// The other 5 peers still back up all their fragments.
	assert.Equal(t, 40, summary.Backups)

	lost := d.Peer("node-05")
	recovered := 0
	for _, b := range d.Blocks() {
		if b.Origin() == lost && b.HeldBy(lost) {
			recovered++
		}
	}
	assert.Equal(t, 2, recovered)

	for _, rec := range d.Metrics().Transfers() {
		if rec.Kind == "recovery" {
			assert.Equal(t, "node-05", rec.Downloader)
			assert.GreaterOrEqual(t, rec.Requested, 3600.0)
		}
	}
}

// Aggregate utilisation never exceeds aggregate capacity at any sampled
// instant, under either policy.
func TestDriverBandwidthConservation(t *testing.T) {
	for _, policy := range []string{"single", "parallel"} {
		t.Run(policy, func(t *testing.T) {
			d := runDriver(t, testConfig(policy, 6))
			for _, s := range d.Metrics().Bandwidth() {
				assert.LessOrEqual(t, s.UploadUsed, s.UploadCapacity*(1+1e-9))
				assert.LessOrEqual(t, s.DownloadUsed, s.DownloadCapacity*(1+1e-9))
			}
		})
	}
}

// The set of peers holding any block never shrinks while the run is in
// progress.
func TestDriverMonotonicDurability(t *testing.T) {
	cfg := testConfig("parallel", 6)
	d, err := NewDriver(cfg)
	require.NoError(t, err)

	counts := map[*Block]int{}
	d.Progress = func(now, max float64) {
		for _, b := range d.Blocks() {
			n := len(b.Holders())
			require.GreaterOrEqual(t, n, counts[b], "holders of %s shrank at t=%f", b.ID(), now)
			counts[b] = n
		}
	}
	require.NoError(t, d.Run(context.Background()))
}

// When max time cuts the run short, in-flight transfers past the grace
// window are abandoned and counted separately from completions.
func TestDriverDrainsAtMaxTime(t *testing.T) {
	cfg := testConfig("parallel", 6)
	cfg.MaxTime = 10 // nowhere near enough for 16 MiB objects at 2 MiB/s
	cfg.RequestJitter = 1

	d := runDriver(t, cfg)
	summary := d.Metrics().Summary(d.Blocks())

	assert.Greater(t, summary.Abandoned, 0)
	assert.Equal(t, 0, summary.Completed)
	assert.Less(t, summary.SafeBlocks, summary.TotalBlocks)
	assert.Equal(t, cfg.MaxTime, summary.EndTime)
}

// With drain grace, transfers that are nearly done at max time still land.
func TestDriverDrainGraceLetsTransfersFinish(t *testing.T) {
	cfg := testConfig("parallel", 6)
	cfg.RequestJitter = 0

	base := runDriver(t, cfg)
	last := 0.0
	for _, rec := range base.Metrics().Transfers() {
		if rec.Completed > last {
			last = rec.Completed
		}
	}
	require.Greater(t, last, 1.0)

	// Cut just before the final completion, with grace covering the rest.
	cfg.MaxTime = last - 0.5
	cfg.DrainGrace = 10
	d := runDriver(t, cfg)
	summary := d.Metrics().Summary(d.Blocks())
	assert.Equal(t, 0, summary.Abandoned)
	assert.Equal(t, base.Metrics().Summary(base.Blocks()).Completed, summary.Completed)
	assert.GreaterOrEqual(t, summary.EndTime, cfg.MaxTime)
}

// Symmetric peers with light load: single and parallel policies land in
// the same neighbourhood of aggregate completion time, diverging only as
// concurrent demand grows.
func TestPoliciesConvergeOnSymmetricLightLoad(t *testing.T) {
	lastCompletion := func(policy string) float64 {
		cfg := testConfig(policy, 6)
		cfg.RequestJitter = 0
		cfg.Erasure = config.ErasureParams{Fragments: 2, Threshold: 2, Durability: 1}
		for i := range cfg.Peers {
			cfg.Peers[i].UploadCapacity = 10 * MiB
			cfg.Peers[i].DownloadCapacity = 10 * MiB
		}
		d := runDriver(t, cfg)
		last := 0.0
		for _, rec := range d.Metrics().Transfers() {
			if rec.Completed > last {
				last = rec.Completed
			}
		}
		return last
	}

	single := lastCompletion("single")
	parallel := lastCompletion("parallel")
	assert.InEpsilon(t, single, parallel, 0.5)
}
