package types

import (
	"math/bits"
)

// IncrementalMerkle is an append-only Merkle accumulator. It stores one
// peak per set bit of NodeCount, so appending is O(log n) and the value is
// safe to copy.
type IncrementalMerkle struct {
	_         struct{} `cbor:",toarray"`
	NodeCount uint64
	Peaks     []Digest
}

// Append returns a new accumulator with leaf added. The receiver is not
// modified.
func (m IncrementalMerkle) Append(leaf Digest) IncrementalMerkle {
	peaks := make([]Digest, len(m.Peaks), len(m.Peaks)+1)
	copy(peaks, m.Peaks)

	carry := leaf
	level := 0
	for ; m.NodeCount&(1<<uint(level)) != 0; level++ {
		carry = HashPair(peaks[level], carry)
		peaks[level] = Digest{}
	}
	if level == len(peaks) {
		peaks = append(peaks, carry)
	} else {
		peaks[level] = carry
	}

	return IncrementalMerkle{NodeCount: m.NodeCount + 1, Peaks: peaks}
}

// Root bags the peaks from the lowest level up. An empty accumulator has
// the zero root; a single leaf is its own root.
func (m IncrementalMerkle) Root() Digest {
	var root Digest
	have := false
	for level := 0; level < bits.Len64(m.NodeCount) && level < len(m.Peaks); level++ {
		if m.NodeCount&(1<<uint(level)) == 0 {
			continue
		}
		if !have {
			root = m.Peaks[level]
			have = true
			continue
		}
		root = HashPair(m.Peaks[level], root)
	}
	return root
}

// Clone returns a deep copy of the accumulator
func (m IncrementalMerkle) Clone() IncrementalMerkle {
	var peaks []Digest
	if m.Peaks != nil {
		peaks = make([]Digest, len(m.Peaks))
		copy(peaks, m.Peaks)
	}
	return IncrementalMerkle{NodeCount: m.NodeCount, Peaks: peaks}
}
