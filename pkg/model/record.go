package model

import "github.com/google/uuid"

// Timestamps in these records are simulated seconds from the start of the
// run, not wall-clock time.

// TransferRecord is one completed block transfer.
type TransferRecord struct {
	ID         uuid.UUID `json:"id"`
	Run        uuid.UUID `json:"run"`
	Kind       string    `json:"kind"` // "backup" or "recovery"
	Block      Link      `json:"block"`
	Size       int64     `json:"size"`
	Uploader   string    `json:"uploader"`
	Downloader string    `json:"downloader"`
	Requested  float64   `json:"requested"`
	Started    float64   `json:"started"`
	Completed  float64   `json:"completed"`
	Duration   float64   `json:"duration"`
}

// BandwidthSample is aggregate link utilisation across all peers at one
// instant of simulated time.
type BandwidthSample struct {
	Time             float64 `json:"time"`
	UploadUsed       float64 `json:"uploadUsed"`
	UploadCapacity   float64 `json:"uploadCapacity"`
	DownloadUsed     float64 `json:"downloadUsed"`
	DownloadCapacity float64 `json:"downloadCapacity"`
}

// ConcurrencySample counts simultaneously active transfers at one instant.
type ConcurrencySample struct {
	Time      float64 `json:"time"`
	Uploads   int     `json:"uploads"`
	Downloads int     `json:"downloads"`
}

// BlockStatus is the final durability standing of a single block.
type BlockStatus struct {
	Block      Link      `json:"block"`
	Digest     Multihash `json:"digest"`
	Origin     string    `json:"origin"`
	Size       int64     `json:"size"`
	Durability int       `json:"durability"`
	Holders    int       `json:"holders"`
	Safe       bool      `json:"safe"`
}

// RunSummary is the single-row digest of a simulation run.
type RunSummary struct {
	ID                uuid.UUID `json:"id"`
	Policy            string    `json:"policy"`
	Parallel          bool      `json:"parallel"`
	Seed              int64     `json:"seed"`
	TotalNodes        int       `json:"totalNodes"`
	EndTime           float64   `json:"endTime"`
	Started           int       `json:"started"`
	Completed         int       `json:"completed"`
	Backups           int       `json:"backups"`
	Recoveries        int       `json:"recoveries"`
	Abandoned         int       `json:"abandoned"`
	Rejected          int       `json:"rejected"`
	DataLossEvents    int       `json:"dataLossEvents"`
	NodesWithDataLoss int       `json:"nodesWithDataLoss"`
	SafeBlocks        int       `json:"safeBlocks"`
	TotalBlocks       int       `json:"totalBlocks"`
}
