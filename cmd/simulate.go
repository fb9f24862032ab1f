package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	logging "github.com/ipfs/go-log/v2"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/jeanmeza/p2p/pkg/config"
	"github.com/jeanmeza/p2p/pkg/eventlog"
	"github.com/jeanmeza/p2p/pkg/model"
	"github.com/jeanmeza/p2p/pkg/sim"
)

var simulateFlags struct {
	seed       int64
	policy     string
	maxTime    float64
	drainGrace float64
	jitter     float64

	nodes      int
	upload     float64
	download   float64
	storage    int64
	objects    int
	objectSize int64
	lost       int
	lossTime   float64

	fragments  int
	threshold  int
	durability int
}

var simulateCmd = &cobra.Command{
	Use:   "simulate [data directory]",
	Short: "Run a backup network simulation",
	Long: "Runs a discrete-event simulation of the backup network and writes " +
		"transfer, bandwidth, concurrency, block-status and summary CSV logs " +
		"to the data directory.",
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		logging.SetLogLevel("*", "warn")

		dataDir := "data"
		if len(args) > 0 {
			dataDir = args[0]
		}
		err := os.MkdirAll(dataDir, 0755)
		cobra.CheckErr(err)

		cfg := buildConfig(cmd)
		driver, err := sim.NewDriver(cfg)
		cobra.CheckErr(err)

		bar := progressbar.Default(int64(cfg.MaxTime), "simulating")
		driver.Progress = func(now, max float64) {
			bar.Set(int(now))
		}

		err = driver.Run(context.Background())
		cobra.CheckErr(err)
		bar.Finish()

		metrics := driver.Metrics()
		err = writeCSV(filepath.Join(dataDir, "transfers.csv"), metrics.Transfers())
		cobra.CheckErr(err)
		err = writeCSV(filepath.Join(dataDir, "bandwidth.csv"), metrics.Bandwidth())
		cobra.CheckErr(err)
		err = writeCSV(filepath.Join(dataDir, "concurrency.csv"), metrics.Concurrency())
		cobra.CheckErr(err)
		err = writeCSV(filepath.Join(dataDir, "blocks.csv"), metrics.BlockStatuses(driver.Blocks()))
		cobra.CheckErr(err)
		summary := metrics.Summary(driver.Blocks())
		err = writeCSV(filepath.Join(dataDir, "summary.csv"), []model.RunSummary{summary})
		cobra.CheckErr(err)

		fmt.Printf("run %s (%s policy, seed %d)\n", summary.ID, summary.Policy, summary.Seed)
		fmt.Printf("  completed: %d (%d backups, %d recoveries)\n", summary.Completed, summary.Backups, summary.Recoveries)
		fmt.Printf("  abandoned: %d, rejected: %d\n", summary.Abandoned, summary.Rejected)
		fmt.Printf("  safe blocks: %d/%d\n", summary.SafeBlocks, summary.TotalBlocks)
	},
}

// buildConfig turns env defaults and flags into a run configuration. Flags
// win over environment values only when set explicitly.
func buildConfig(cmd *cobra.Command) config.Config {
	cfg := config.Default()
	if cmd.Flags().Changed("seed") {
		cfg.Seed = simulateFlags.seed
	}
	if cmd.Flags().Changed("policy") {
		cfg.Policy = simulateFlags.policy
	}
	if cmd.Flags().Changed("max-time") {
		cfg.MaxTime = simulateFlags.maxTime
	}
	cfg.DrainGrace = simulateFlags.drainGrace
	cfg.RequestJitter = simulateFlags.jitter
	cfg.Erasure = config.ErasureParams{
		Fragments:  simulateFlags.fragments,
		Threshold:  simulateFlags.threshold,
		Durability: simulateFlags.durability,
	}

	for i := 0; i < simulateFlags.nodes; i++ {
		cfg.Peers = append(cfg.Peers, config.PeerSpec{
			ID:               fmt.Sprintf("node-%02d", i),
			UploadCapacity:   simulateFlags.upload,
			DownloadCapacity: simulateFlags.download,
			StorageCapacity:  simulateFlags.storage,
			Objects:          simulateFlags.objects,
			ObjectSize:       simulateFlags.objectSize,
		})
	}
	for i := 0; i < simulateFlags.lost && i < simulateFlags.nodes; i++ {
		cfg.Recoveries = append(cfg.Recoveries, config.RecoverySpec{
			Peer: cfg.Peers[simulateFlags.nodes-1-i].ID,
			Time: simulateFlags.lossTime,
		})
	}
	return cfg
}

func writeCSV[T any](path string, items []T) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := eventlog.NewCSVWriter[T](f)
	if err := appendAll[T](w, items); err != nil {
		return err
	}
	return w.Flush()
}

// appendAll writes items to any event log destination.
func appendAll[T any](dest eventlog.Appender[T], items []T) error {
	for _, item := range items {
		if err := dest.Append(item); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	f := simulateCmd.Flags()
	f.Int64Var(&simulateFlags.seed, "seed", 1, "random seed")
	f.StringVar(&simulateFlags.policy, "policy", config.PolicySingle, "transfer scheduling policy: single or parallel")
	f.Float64Var(&simulateFlags.maxTime, "max-time", 7*24*3600, "max simulated time in seconds")
	f.Float64Var(&simulateFlags.drainGrace, "drain-grace", 0, "seconds past max time an in-flight transfer may still complete")
	f.Float64Var(&simulateFlags.jitter, "jitter", 60, "max jitter in seconds applied to demand arrival")
	f.IntVar(&simulateFlags.nodes, "nodes", 10, "number of peers")
	f.Float64Var(&simulateFlags.upload, "upload", 2*1024*1024, "per-peer upload capacity in bytes/second")
	f.Float64Var(&simulateFlags.download, "download", 20*1024*1024, "per-peer download capacity in bytes/second")
	f.Int64Var(&simulateFlags.storage, "storage", 10*1024*1024*1024, "per-peer storage capacity in bytes")
	f.IntVar(&simulateFlags.objects, "objects", 1, "data objects each peer originates")
	f.Int64Var(&simulateFlags.objectSize, "object-size", 64*1024*1024, "bytes per data object")
	f.IntVar(&simulateFlags.lost, "lost", 0, "number of peers that lost their data before the run")
	f.Float64Var(&simulateFlags.lossTime, "loss-time", 0, "simulated time at which lost peers start recovering")
	f.IntVar(&simulateFlags.fragments, "fragments", 6, "erasure fragments per object (n)")
	f.IntVar(&simulateFlags.threshold, "threshold", 4, "fragments needed to rebuild an object (k)")
	f.IntVar(&simulateFlags.durability, "durability", 2, "distinct holders required per fragment")

	rootCmd.AddCommand(simulateCmd)
}
