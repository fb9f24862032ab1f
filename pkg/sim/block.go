package sim

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
	"github.com/multiformats/go-multihash"
)

// Block is one erasure-coded fragment of a data object: an opaque,
// fixed-size unit with a producer and a durability target. Identity, size,
// origin and target are immutable; only the held-by set grows as transfers
// complete.
type Block struct {
	id         cid.Cid
	size       int64
	origin     *Peer
	durability int

	// holders in insertion order, so source election is reproducible.
	holders   []*Peer
	holderSet map[string]struct{}
}

// NewBlock derives the block's CID deterministically from its coordinates
// so identical configurations name identical blocks across runs.
func NewBlock(origin *Peer, object, fragment int, size int64, durability int) *Block {
	name := fmt.Sprintf("%s/%d/%d", origin.ID(), object, fragment)
	digest, err := multihash.Sum([]byte(name), multihash.SHA2_256, -1)
	if err != nil {
		panic(fmt.Sprintf("hashing block name: %v", err))
	}
	return &Block{
		id:         cid.NewCidV1(uint64(multicodec.Raw), digest),
		size:       size,
		origin:     origin,
		durability: durability,
		holderSet:  map[string]struct{}{},
	}
}

func (b *Block) ID() cid.Cid { return b.id }

func (b *Block) Size() int64 { return b.size }

func (b *Block) Origin() *Peer { return b.origin }

func (b *Block) Durability() int { return b.durability }

func (b *Block) Digest() multihash.Multihash { return b.id.Hash() }

// addHolder records that p holds the block. Idempotent; reports whether
// the holder was new.
func (b *Block) addHolder(p *Peer) bool {
	if _, ok := b.holderSet[p.ID()]; ok {
		return false
	}
	b.holderSet[p.ID()] = struct{}{}
	b.holders = append(b.holders, p)
	return true
}

func (b *Block) HeldBy(p *Peer) bool {
	_, ok := b.holderSet[p.ID()]
	return ok
}

// Holders returns the peers holding the block, in the order they acquired
// it.
func (b *Block) Holders() []*Peer {
	out := make([]*Peer, len(b.holders))
	copy(out, b.holders)
	return out
}

// Safe reports whether enough distinct peers besides the origin hold the
// block to satisfy its durability target.
func (b *Block) Safe() bool {
	n := len(b.holders)
	if b.HeldBy(b.origin) {
		n--
	}
	return n >= b.durability
}
