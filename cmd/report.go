package cmd

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/jeanmeza/p2p/pkg/eventlog"
	"github.com/jeanmeza/p2p/pkg/model"
)

type nodeStats struct {
	uploads   int
	downloads int
	duration  float64
}

var reportCmd = &cobra.Command{
	Use:   "report <path to transfers csv>",
	Short: "Summarise transfer activity per node",
	Long:  "Reads a transfers CSV produced by simulate and prints upload/download counts and mean durations per node.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		f, err := os.Open(args[0])
		cobra.CheckErr(err)
		defer f.Close()

		stats, total, err := tallyTransfers(eventlog.NewCSVReader[model.TransferRecord](f))
		cobra.CheckErr(err)

		nodes := slices.Sorted(maps.Keys(stats))
		fmt.Printf("%d transfers across %d nodes\n", total, len(nodes))
		for _, id := range nodes {
			s := stats[id]
			mean := 0.0
			if s.downloads > 0 {
				mean = s.duration / float64(s.downloads)
			}
			fmt.Printf("  %s: %d uploads, %d downloads, mean download %.1fs\n", id, s.uploads, s.downloads, mean)
		}
	},
}

// tallyTransfers aggregates per-node upload/download counts and download
// durations from any transfer log source.
func tallyTransfers(transfers eventlog.Iterable[model.TransferRecord]) (map[string]*nodeStats, int, error) {
	stats := map[string]*nodeStats{}
	get := func(id string) *nodeStats {
		if s, ok := stats[id]; ok {
			return s
		}
		s := &nodeStats{}
		stats[id] = s
		return s
	}

	total := 0
	for t, err := range transfers.Iterator() {
		if err != nil {
			return nil, 0, err
		}
		total++
		get(t.Uploader).uploads++
		down := get(t.Downloader)
		down.downloads++
		down.duration += t.Duration
	}
	return stats, total, nil
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
