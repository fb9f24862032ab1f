// Package config describes a simulation run: the peers, their link and
// storage capacities, the erasure-coding parameters and the global knobs
// (seed, scheduling policy, time bounds). Validation happens before any
// simulated time advances; a bad configuration aborts the run.
package config

import (
	"fmt"
	"os"
	"strconv"
)

const (
	PolicySingle   = "single"
	PolicyParallel = "parallel"
)

// ErasureParams are the erasure-coding parameters shared by every data
// object in the run. An object is split into Fragments pieces of which any
// Threshold reconstruct it; a fragment is safe once Durability distinct
// peers besides its origin hold it.
type ErasureParams struct {
	Fragments  int // n
	Threshold  int // k
	Durability int
}

// PeerSpec declares one simulated node. Capacities are bytes/second and
// fixed for the whole run.
type PeerSpec struct {
	ID               string
	UploadCapacity   float64
	DownloadCapacity float64
	StorageCapacity  int64
	Objects          int   // data objects this peer originates
	ObjectSize       int64 // bytes per object
}

// RecoverySpec declares a peer whose local data was lost before the run
// started. Its fragments are seeded onto remote holders at setup, and at
// Time (simulated seconds) the peer starts downloading enough fragments to
// rebuild each of its objects.
type RecoverySpec struct {
	Peer string
	Time float64
}

type Config struct {
	Seed          int64
	Policy        string
	MaxTime       float64 // simulated seconds
	DrainGrace    float64 // seconds past MaxTime an in-flight completion may still land
	RequestJitter float64 // max seconds of jitter applied to demand arrival
	Erasure       ErasureParams
	Peers         []PeerSpec
	Recoveries    []RecoverySpec
}

// Default returns the built-in configuration, with Seed, Policy and
// MaxTime overridable from the environment (P2P_SEED, P2P_POLICY,
// P2P_MAX_TIME).
func Default() Config {
	cfg := Config{
		Seed:          1,
		Policy:        PolicySingle,
		MaxTime:       7 * 24 * 3600,
		DrainGrace:    0,
		RequestJitter: 60,
		Erasure: ErasureParams{
			Fragments:  6,
			Threshold:  4,
			Durability: 2,
		},
	}
	if v := os.Getenv("P2P_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Seed = n
		}
	}
	if v := os.Getenv("P2P_POLICY"); v != "" {
		cfg.Policy = v
	}
	if v := os.Getenv("P2P_MAX_TIME"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MaxTime = f
		}
	}
	return cfg
}

func (c Config) Validate() error {
	if c.Policy != PolicySingle && c.Policy != PolicyParallel {
		return fmt.Errorf("unknown scheduling policy: %q", c.Policy)
	}
	if c.MaxTime <= 0 {
		return fmt.Errorf("max simulated time must be positive, got %v", c.MaxTime)
	}
	if c.DrainGrace < 0 {
		return fmt.Errorf("drain grace must not be negative, got %v", c.DrainGrace)
	}
	if c.RequestJitter < 0 {
		return fmt.Errorf("request jitter must not be negative, got %v", c.RequestJitter)
	}
	if c.Erasure.Threshold < 1 {
		return fmt.Errorf("erasure threshold must be at least 1, got %d", c.Erasure.Threshold)
	}
	if c.Erasure.Fragments < c.Erasure.Threshold {
		return fmt.Errorf("erasure fragment count %d is below threshold %d", c.Erasure.Fragments, c.Erasure.Threshold)
	}
	if c.Erasure.Durability < 1 {
		return fmt.Errorf("durability target must be at least 1, got %d", c.Erasure.Durability)
	}
	if len(c.Peers) == 0 {
		return fmt.Errorf("no peers configured")
	}
	if c.Erasure.Durability > len(c.Peers)-1 {
		return fmt.Errorf("durability target %d exceeds the %d peers available as holders", c.Erasure.Durability, len(c.Peers)-1)
	}

	ids := make(map[string]struct{}, len(c.Peers))
	for _, p := range c.Peers {
		if p.ID == "" {
			return fmt.Errorf("peer with empty id")
		}
		if _, ok := ids[p.ID]; ok {
			return fmt.Errorf("duplicate peer id: %s", p.ID)
		}
		ids[p.ID] = struct{}{}
		if p.UploadCapacity <= 0 {
			return fmt.Errorf("peer %s: upload capacity must be positive, got %v", p.ID, p.UploadCapacity)
		}
		if p.DownloadCapacity <= 0 {
			return fmt.Errorf("peer %s: download capacity must be positive, got %v", p.ID, p.DownloadCapacity)
		}
		if p.StorageCapacity < 0 {
			return fmt.Errorf("peer %s: storage capacity must not be negative, got %d", p.ID, p.StorageCapacity)
		}
		if p.Objects < 0 {
			return fmt.Errorf("peer %s: object count must not be negative, got %d", p.ID, p.Objects)
		}
		if p.Objects > 0 && p.ObjectSize <= 0 {
			return fmt.Errorf("peer %s: object size must be positive, got %d", p.ID, p.ObjectSize)
		}
		if footprint := c.footprint(p); footprint > p.StorageCapacity {
			return fmt.Errorf("peer %s: storage capacity %d cannot hold its own %d fragment bytes", p.ID, p.StorageCapacity, footprint)
		}
	}

	seen := make(map[string]struct{}, len(c.Recoveries))
	for _, r := range c.Recoveries {
		if _, ok := ids[r.Peer]; !ok {
			return fmt.Errorf("recovery for unknown peer: %s", r.Peer)
		}
		if _, ok := seen[r.Peer]; ok {
			return fmt.Errorf("duplicate recovery for peer: %s", r.Peer)
		}
		seen[r.Peer] = struct{}{}
		if r.Time < 0 || r.Time >= c.MaxTime {
			return fmt.Errorf("recovery time %v for peer %s is outside [0, max time)", r.Time, r.Peer)
		}
	}

	return nil
}

// FragmentSize is the byte size of a single erasure fragment of an object
// of the given size.
func (c Config) FragmentSize(objectSize int64) int64 {
	k := int64(c.Erasure.Threshold)
	return (objectSize + k - 1) / k
}

// footprint is the number of bytes of fragment data the peer originates.
func (c Config) footprint(p PeerSpec) int64 {
	return int64(p.Objects) * int64(c.Erasure.Fragments) * c.FragmentSize(p.ObjectSize)
}
