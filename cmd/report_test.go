package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanmeza/p2p/pkg/eventlog"
	"github.com/jeanmeza/p2p/pkg/model"
)

func TestTallyTransfers(t *testing.T) {
	records := []model.TransferRecord{
		{Kind: "backup", Uploader: "a", Downloader: "b", Duration: 2},
		{Kind: "backup", Uploader: "a", Downloader: "c", Duration: 4},
		{Kind: "recovery", Uploader: "b", Downloader: "c", Duration: 6},
	}
	var buf bytes.Buffer
	w := eventlog.NewCSVWriter[model.TransferRecord](&buf)
	require.NoError(t, appendAll[model.TransferRecord](w, records))
	require.NoError(t, w.Flush())

	stats, total, err := tallyTransfers(eventlog.NewCSVReader[model.TransferRecord](&buf))
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, stats["a"].uploads)
	assert.Zero(t, stats["a"].downloads)
	assert.Equal(t, 1, stats["b"].uploads)
	assert.Equal(t, 1, stats["b"].downloads)
	assert.Equal(t, 2, stats["c"].downloads)
	assert.InDelta(t, 10.0, stats["c"].duration, 1e-9)
}
