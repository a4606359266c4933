package bitmap

import (
	"github.com/relan/exfat"
	"github.com/relan/exfat/cluster"
)

// ChainState is the subset of a node's fields GrowChain/ShrinkChain need to
// read and update: the node's own start cluster, its contiguity flag, and
// the cursor that caches a previous chain-walk position. The node package
// embeds exactly this shape so its Node can be passed here directly.
type ChainState struct {
	StartCluster uint32
	Contiguous   bool
	Cursor       cluster.Cursor
}

// GrowChain appends delta clusters to the end of the chain described by
// state, zero-filling each new cluster, and updates state.Contiguous, which
// may be downgraded to false. It mirrors upstream's grow_file
// (libexfat/cluster.c): an empty node allocates its first cluster and
// starts out contiguous; each subsequent allocation that breaks
// consecutiveness first materializes the FAT links for the whole prior
// chain (since a contiguous chain never had them written) before clearing
// the contiguous flag.
func (b *ClusterBitmap) GrowChain(state *ChainState, sizeInClusters uint32, delta uint32) error {
	if delta == 0 {
		exfat.Bug("bitmap: zero-cluster grow requested")
	}

	var previous uint32
	if state.StartCluster != cluster.Free {
		last, err := b.engine.AdvanceCluster(state.Contiguous, state.StartCluster, &state.Cursor, sizeInClusters-1)
		if err != nil {
			return err
		}
		if cluster.Invalid(last) {
			return exfat.ErrCorrupted.WithMessage("invalid cluster in chain during grow")
		}
		previous = last
	} else {
		first, err := b.Allocate(0)
		if err != nil {
			return err
		}
		if err := b.zeroCluster(first); err != nil {
			return err
		}
		state.StartCluster = first
		state.Cursor = cluster.Cursor{Index: 0, Cluster: first}
		previous = first
		state.Contiguous = true
		delta--
	}

	for delta > 0 {
		next, err := b.Allocate(previous + 1)
		if err != nil {
			return err
		}
		if err := b.zeroCluster(next); err != nil {
			return err
		}
		if next != previous+1 && state.Contiguous {
			if err := b.materializeChain(state.StartCluster, previous); err != nil {
				return err
			}
			state.Contiguous = false
		}
		if err := b.engine.SetNextCluster(state.Contiguous, previous, next); err != nil {
			return err
		}
		previous = next
		delta--
	}

	return b.engine.SetNextCluster(state.Contiguous, previous, cluster.End)
}

// materializeChain writes the explicit FAT link for every consecutive pair
// in [first, last] inclusive: a contiguous chain never had these written
// since NextCluster(contiguous=true) is synthesized, so losing
// contiguity means backfilling them all before more clusters are
// appended non-consecutively.
func (b *ClusterBitmap) materializeChain(first, last uint32) error {
	for c := first; c < last; c++ {
		if err := b.engine.WriteFATEntry(c, c+1); err != nil {
			return err
		}
	}
	return nil
}

func (b *ClusterBitmap) zeroCluster(c uint32) error {
	zero := make([]byte, b.engine.ClusterSize())
	return b.dev.WriteAt(zero, b.engine.ClusterToOffset(c))
}

// ShrinkChain removes delta clusters from the end of the chain, walking to
// the new last cluster, terminating it, and freeing the rest (§4.3,
// upstream's shrink_file). If the chain becomes empty, StartCluster is set
// to cluster.Free. The cursor is reset since the previously cached
// position may now point past the new end.
func (b *ClusterBitmap) ShrinkChain(state *ChainState, sizeInClusters uint32, delta uint32) error {
	if delta == 0 {
		exfat.Bug("bitmap: zero-cluster shrink requested")
	}
	if state.StartCluster == cluster.Free {
		exfat.Bug("bitmap: cannot shrink an empty chain")
	}
	if sizeInClusters < delta {
		exfat.Bug("bitmap: chain underflow")
	}

	var previous uint32
	if sizeInClusters > delta {
		last, err := b.engine.AdvanceCluster(state.Contiguous, state.StartCluster, &state.Cursor, sizeInClusters-delta-1)
		if err != nil {
			return err
		}
		if cluster.Invalid(last) {
			return exfat.ErrCorrupted.WithMessage("invalid cluster in chain during shrink")
		}
		next, err := b.engine.NextCluster(state.Contiguous, last)
		if err != nil {
			return err
		}
		if err := b.engine.SetNextCluster(state.Contiguous, last, cluster.End); err != nil {
			return err
		}
		previous = next
	} else {
		previous = state.StartCluster
		state.StartCluster = cluster.Free
	}
	state.Cursor = cluster.Cursor{Index: 0, Cluster: state.StartCluster}

	for delta > 0 {
		if cluster.Invalid(previous) {
			return exfat.ErrCorrupted.WithMessage("invalid cluster in chain during shrink")
		}
		next, err := b.engine.NextCluster(state.Contiguous, previous)
		if err != nil {
			return err
		}
		if err := b.engine.SetNextCluster(state.Contiguous, previous, cluster.Free); err != nil {
			return err
		}
		b.Free(previous)
		previous = next
		delta--
	}
	return nil
}
