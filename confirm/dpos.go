package confirm

import (
	"fmt"
	"sort"

	"github.com/blockberries/finalberry/types"
)

// MaxTrackedConfirmations bounds the confirmation window. Blocks older than
// the window can no longer become irreversible through confirmations.
const MaxTrackedConfirmations = 1024

// DPoS infers finality from a sliding window of outstanding confirmation
// counts. Each produced block opens a slot requiring 2/3+1 producer
// confirmations; a producer confirming a range decrements the newest
// slots. Values are never modified after construction; Confirm and
// SetProducers return new values.
type DPoS struct {
	BlockNum             uint32
	ProposedIrreversible uint32
	Irreversible         uint32

	// LastProduced maps each producer to the last block it produced.
	LastProduced map[types.AccountName]uint32
	// LastImpliedIRB maps each active producer to the proposed irreversible
	// block in effect when it last produced. Its key set is the active
	// producer set.
	LastImpliedIRB map[types.AccountName]uint32

	// ConfirmCount holds the confirmations still needed by each of the
	// most recent blocks, oldest first. The last slot is BlockNum.
	ConfirmCount []uint16
}

// NewDPoS returns an empty tracker.
func NewDPoS() *DPoS {
	return &DPoS{
		LastProduced:   make(map[types.AccountName]uint32),
		LastImpliedIRB: make(map[types.AccountName]uint32),
	}
}

// RequiredConfirmations returns floor(2n/3)+1 for the active producer count.
// An empty producer set counts as one producer.
func (d *DPoS) RequiredConfirmations() uint16 {
	n := len(d.LastImpliedIRB)
	if n == 0 {
		n = 1
	}
	return uint16(n*2/3 + 1)
}

// Confirm records that producer produced block r.High-1 and confirmed the
// blocks in r. The receiver is not modified.
func (d *DPoS) Confirm(producer types.AccountName, r Range) (*DPoS, error) {
	if r.High == 0 || r.Low > r.High {
		return nil, fmt.Errorf("%w: malformed range %s", ErrIllegalConfirmation, r)
	}
	if last, ok := d.LastProduced[producer]; ok && last >= r.Low {
		return nil, fmt.Errorf("%w: %s last produced %d, confirming from %d", ErrDoubleConfirm, producer, last, r.Low)
	}

	result := &DPoS{
		BlockNum:       r.High - 1,
		LastProduced:   copyMap(d.LastProduced),
		LastImpliedIRB: copyMap(d.LastImpliedIRB),
	}

	counts := make([]uint16, 0, min(len(d.ConfirmCount)+1, MaxTrackedConfirmations))
	if len(d.ConfirmCount) < MaxTrackedConfirmations {
		counts = append(counts, d.ConfirmCount...)
	} else {
		counts = append(counts, d.ConfirmCount[1:]...)
	}
	counts = append(counts, d.RequiredConfirmations())

	proposed := d.ProposedIrreversible
	toConfirm := r.Len()
	for i := len(counts) - 1; i >= 0 && toConfirm > 0; i-- {
		counts[i]--
		if counts[i] == 0 {
			depth := uint32(len(counts) - 1 - i)
			proposed = result.BlockNum - depth
			counts = append([]uint16(nil), counts[i+1:]...)
			break
		}
		toConfirm--
	}

	result.ConfirmCount = counts
	result.ProposedIrreversible = proposed
	result.Irreversible = d.CalcLastIrreversible(producer)
	result.LastProduced[producer] = result.BlockNum
	result.LastImpliedIRB[producer] = d.ProposedIrreversible
	return result, nil
}

// CalcLastIrreversible returns the block that 2/3 of the active producers
// have implied irreversible, substituting the current proposed irreversible
// block for producer.
func (d *DPoS) CalcLastIrreversible(producer types.AccountName) uint32 {
	if len(d.LastImpliedIRB) == 0 {
		return 0
	}
	blocks := make([]uint32, 0, len(d.LastImpliedIRB))
	for name, implied := range d.LastImpliedIRB {
		if name == producer {
			implied = d.ProposedIrreversible
		}
		blocks = append(blocks, implied)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })
	return blocks[(len(blocks)-1)/3]
}

// SetProducers remaps the tracker onto a new producer set. Known history is
// carried over; new producers start at the irreversible block. The
// producer of BlockNum keeps its last-produced entry even if it is not in
// the new set.
func (d *DPoS) SetProducers(producers []types.AccountName) *DPoS {
	result := &DPoS{
		BlockNum:             d.BlockNum,
		ProposedIrreversible: d.ProposedIrreversible,
		Irreversible:         d.Irreversible,
		LastProduced:         make(map[types.AccountName]uint32, len(producers)+1),
		LastImpliedIRB:       make(map[types.AccountName]uint32, len(producers)),
		ConfirmCount:         append([]uint16(nil), d.ConfirmCount...),
	}

	for _, p := range producers {
		if last, ok := d.LastProduced[p]; ok {
			result.LastProduced[p] = last
		} else {
			result.LastProduced[p] = d.Irreversible
		}
		if implied, ok := d.LastImpliedIRB[p]; ok {
			result.LastImpliedIRB[p] = implied
		} else {
			result.LastImpliedIRB[p] = d.Irreversible
		}
	}

	for _, name := range sortedNames(d.LastProduced) {
		if d.LastProduced[name] == d.BlockNum {
			result.LastProduced[name] = d.BlockNum
			break
		}
	}
	return result
}

// Clone returns a deep copy of the tracker
func (d *DPoS) Clone() *DPoS {
	return &DPoS{
		BlockNum:             d.BlockNum,
		ProposedIrreversible: d.ProposedIrreversible,
		Irreversible:         d.Irreversible,
		LastProduced:         copyMap(d.LastProduced),
		LastImpliedIRB:       copyMap(d.LastImpliedIRB),
		ConfirmCount:         append([]uint16(nil), d.ConfirmCount...),
	}
}

func copyMap[V any](m map[types.AccountName]V) map[types.AccountName]V {
	out := make(map[types.AccountName]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedNames[V any](m map[types.AccountName]V) []types.AccountName {
	names := make([]types.AccountName, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
