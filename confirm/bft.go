package confirm

import (
	"fmt"
	"sort"

	"github.com/blockberries/finalberry/types"
)

// Range is a half-open block range [Low, High).
type Range struct {
	_    struct{} `cbor:",toarray"`
	Low  uint32
	High uint32
}

// NewRange returns [low, high)
func NewRange(low, high uint32) Range {
	return Range{Low: low, High: high}
}

// Len returns the number of blocks in the range
func (r Range) Len() uint32 {
	if r.High < r.Low {
		return 0
	}
	return r.High - r.Low
}

// Empty returns true if the range holds no blocks
func (r Range) Empty() bool {
	return r.Len() == 0
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Low, r.High)
}

// Threshold returns floor(2n/3)+1.
func Threshold(n int) int {
	return n*2/3 + 1
}

type edge struct {
	pos   uint32
	delta int
}

// ThresholdIntersection returns the highest contiguous range covered by at
// least threshold of the given ranges. The result is empty (Low >= High)
// when no such range exists.
//
// Range starts count +1 and ends count -1. Edges are swept from the highest
// position down, keeping a running count of open ranges; the result ends at
// the first position where coverage reaches threshold and starts where it
// drops below again.
func ThresholdIntersection(ranges map[types.AccountName]Range, threshold int) Range {
	edges := make([]edge, 0, 2*len(ranges))
	for _, r := range ranges {
		edges = append(edges, edge{pos: r.Low, delta: 1}, edge{pos: r.High, delta: -1})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].pos != edges[j].pos {
			return edges[i].pos > edges[j].pos
		}
		return edges[i].delta > edges[j].delta
	})

	var start, prev uint32
	total, prevTotal := 0, 0
	for _, e := range edges {
		if e.pos != prev {
			if prevTotal >= threshold && total < threshold {
				break
			} else if prevTotal < threshold && total >= threshold {
				start = prev
			}
			prevTotal = total
			prev = e.pos
		}
		total -= e.delta
	}
	return Range{Low: prev, High: start}
}

// BFT infers finality in two tiers. Tier one finds the highest range
// confirmed by a 2/3+1 quorum of producers and proposes it. Tier two
// finds the highest range whose proposal was itself confirmed by a quorum
// and makes it irreversible. Values are never modified after construction.
type BFT struct {
	// LastConfirmed is each producer's coalesced confirmed range. Its key
	// set is the active producer set.
	LastConfirmed map[types.AccountName]Range
	// SecondConfirmed is each producer's latest confirmation of a quorum
	// range.
	SecondConfirmed map[types.AccountName]Range

	ProposedIrreversible uint32
	Irreversible         uint32
}

// NewBFT returns an empty tracker.
func NewBFT() *BFT {
	return &BFT{
		LastConfirmed:   make(map[types.AccountName]Range),
		SecondConfirmed: make(map[types.AccountName]Range),
	}
}

// Confirm records producer's confirmation of r. The receiver is not
// modified. An empty range is a no-op.
func (b *BFT) Confirm(producer types.AccountName, r Range) (*BFT, error) {
	if r.Low == r.High {
		return b.Clone(), nil
	}

	result := b.Clone()
	if len(result.LastConfirmed) == 0 {
		result = result.SetProducers([]types.AccountName{types.SystemProducer})
	}

	threshold := Threshold(len(result.LastConfirmed))
	cur, ok := result.LastConfirmed[producer]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an active producer", ErrIllegalConfirmation, producer)
	}
	if cur.High > r.Low || r.Low > r.High {
		return nil, fmt.Errorf("%w: %s confirmed %s, cannot confirm %s", ErrIllegalConfirmation, producer, cur, r)
	}

	if cur.High == r.Low {
		result.LastConfirmed[producer] = Range{Low: cur.Low, High: r.High}
	} else {
		result.LastConfirmed[producer] = r
	}

	second := ThresholdIntersection(result.LastConfirmed, threshold)
	second.Low = result.LastConfirmed[producer].Low
	if second.Low < second.High {
		result.ProposedIrreversible = max(result.ProposedIrreversible, second.High-1)
		result.SecondConfirmed[producer] = second

		final := ThresholdIntersection(result.SecondConfirmed, threshold)
		if final.Low < final.High {
			result.Irreversible = max(result.Irreversible, final.High-1)
		}
	}
	return result, nil
}

// SetProducers installs a new producer set. Every producer starts with an
// empty confirmation and second confirmations are discarded.
func (b *BFT) SetProducers(producers []types.AccountName) *BFT {
	result := &BFT{
		LastConfirmed:        make(map[types.AccountName]Range, len(producers)),
		SecondConfirmed:      make(map[types.AccountName]Range),
		ProposedIrreversible: b.ProposedIrreversible,
		Irreversible:         b.Irreversible,
	}
	for _, p := range producers {
		result.LastConfirmed[p] = Range{}
	}
	return result
}

// Clone returns a deep copy of the tracker
func (b *BFT) Clone() *BFT {
	return &BFT{
		LastConfirmed:        copyMap(b.LastConfirmed),
		SecondConfirmed:      copyMap(b.SecondConfirmed),
		ProposedIrreversible: b.ProposedIrreversible,
		Irreversible:         b.Irreversible,
	}
}
