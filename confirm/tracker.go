package confirm

import (
	"fmt"
	"strings"

	"github.com/blockberries/finalberry/types"
)

// Kind selects the confirmation scheme of a chain. It is fixed for the
// lifetime of the chain.
type Kind uint8

const (
	KindDPoS Kind = iota
	KindBFT
)

func (k Kind) String() string {
	switch k {
	case KindDPoS:
		return "dpos"
	case KindBFT:
		return "bft"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ParseKind parses "dpos" or "bft".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "dpos":
		return KindDPoS, nil
	case "bft":
		return KindBFT, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownTracker, s)
	}
}

// Tracker is the confirmation state of a chain: exactly one of DPoS or BFT
// is set, as selected by Kind.
type Tracker struct {
	Kind Kind
	DPoS *DPoS
	BFT  *BFT
}

// NewTracker returns an empty tracker of the given kind.
func NewTracker(kind Kind) (Tracker, error) {
	switch kind {
	case KindDPoS:
		return Tracker{Kind: kind, DPoS: NewDPoS()}, nil
	case KindBFT:
		return Tracker{Kind: kind, BFT: NewBFT()}, nil
	default:
		return Tracker{}, fmt.Errorf("%w: %s", ErrUnknownTracker, kind)
	}
}

// Confirm applies producer's confirmation of r and returns the new tracker.
func (t Tracker) Confirm(producer types.AccountName, r Range) (Tracker, error) {
	switch t.Kind {
	case KindDPoS:
		d, err := t.DPoS.Confirm(producer, r)
		if err != nil {
			return Tracker{}, err
		}
		return Tracker{Kind: KindDPoS, DPoS: d}, nil
	case KindBFT:
		b, err := t.BFT.Confirm(producer, r)
		if err != nil {
			return Tracker{}, err
		}
		return Tracker{Kind: KindBFT, BFT: b}, nil
	default:
		return Tracker{}, fmt.Errorf("%w: %s", ErrUnknownTracker, t.Kind)
	}
}

// SetProducers remaps the tracker onto a new producer set.
func (t Tracker) SetProducers(producers []types.AccountName) (Tracker, error) {
	switch t.Kind {
	case KindDPoS:
		return Tracker{Kind: KindDPoS, DPoS: t.DPoS.SetProducers(producers)}, nil
	case KindBFT:
		return Tracker{Kind: KindBFT, BFT: t.BFT.SetProducers(producers)}, nil
	default:
		return Tracker{}, fmt.Errorf("%w: %s", ErrUnknownTracker, t.Kind)
	}
}

// LastIrreversible returns the irreversible block number
func (t Tracker) LastIrreversible() uint32 {
	switch t.Kind {
	case KindDPoS:
		return t.DPoS.Irreversible
	case KindBFT:
		return t.BFT.Irreversible
	default:
		return 0
	}
}

// ProposedIrreversible returns the proposed irreversible block number
func (t Tracker) ProposedIrreversible() uint32 {
	switch t.Kind {
	case KindDPoS:
		return t.DPoS.ProposedIrreversible
	case KindBFT:
		return t.BFT.ProposedIrreversible
	default:
		return 0
	}
}

// Clone returns a deep copy of the tracker
func (t Tracker) Clone() Tracker {
	switch t.Kind {
	case KindDPoS:
		return Tracker{Kind: KindDPoS, DPoS: t.DPoS.Clone()}
	case KindBFT:
		return Tracker{Kind: KindBFT, BFT: t.BFT.Clone()}
	default:
		return t
	}
}
