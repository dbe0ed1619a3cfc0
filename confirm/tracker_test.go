package confirm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/blockberries/finalberry/types"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("DPoS")
	require.NoError(t, err)
	require.Equal(t, KindDPoS, k)

	k, err = ParseKind("bft")
	require.NoError(t, err)
	require.Equal(t, KindBFT, k)

	_, err = ParseKind("pow")
	require.ErrorIs(t, err, ErrUnknownTracker)

	require.Equal(t, "bft", KindBFT.String())
}

func TestTrackerDispatch(t *testing.T) {
	for _, kind := range []Kind{KindDPoS, KindBFT} {
		t.Run(kind.String(), func(t *testing.T) {
			tr, err := NewTracker(kind)
			require.NoError(t, err)
			tr, err = tr.SetProducers(names("a"))
			require.NoError(t, err)

			for bn := uint32(1); bn <= 5; bn++ {
				tr, err = tr.Confirm("a", NewRange(bn, bn+1))
				require.NoError(t, err)
				require.Equal(t, kind, tr.Kind)
			}
			require.Equal(t, uint32(5), tr.ProposedIrreversible())
			require.LessOrEqual(t, tr.LastIrreversible(), uint32(5))
			require.GreaterOrEqual(t, tr.LastIrreversible(), uint32(4))

			c := tr.Clone()
			require.Equal(t, tr, c)
		})
	}

	_, err := NewTracker(Kind(9))
	require.ErrorIs(t, err, ErrUnknownTracker)
	_, err = Tracker{Kind: Kind(9)}.Confirm("a", NewRange(0, 1))
	require.ErrorIs(t, err, ErrUnknownTracker)
}

// Proposed and final irreversible block numbers never decrease over any
// sequence of valid confirmations.
func TestTrackerMonotonicity(t *testing.T) {
	for _, kind := range []Kind{KindDPoS, KindBFT} {
		kind := kind
		t.Run(kind.String(), func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				n := rapid.IntRange(1, 7).Draw(t, "producers")
				ps := make([]types.AccountName, n)
				for i := range ps {
					ps[i] = types.AccountName(fmt.Sprintf("p%d", i))
				}

				tr, err := NewTracker(kind)
				if err != nil {
					t.Fatal(err)
				}
				tr, err = tr.SetProducers(ps)
				if err != nil {
					t.Fatal(err)
				}

				// next valid range start per producer
				floor := make(map[types.AccountName]uint32, n)
				head := uint32(0)
				steps := rapid.IntRange(1, 120).Draw(t, "steps")
				for i := 0; i < steps; i++ {
					head++
					p := ps[rapid.IntRange(0, n-1).Draw(t, "producer")]
					low := rapid.Uint32Range(max(floor[p], 1), head).Draw(t, "low")

					prevProposed, prevFinal := tr.ProposedIrreversible(), tr.LastIrreversible()
					next, err := tr.Confirm(p, NewRange(low, head+1))
					if err != nil {
						t.Fatalf("step %d: %v", i, err)
					}
					if next.ProposedIrreversible() < prevProposed {
						t.Fatalf("proposed went back from %d to %d", prevProposed, next.ProposedIrreversible())
					}
					if next.LastIrreversible() < prevFinal {
						t.Fatalf("irreversible went back from %d to %d", prevFinal, next.LastIrreversible())
					}
					if next.LastIrreversible() > head {
						t.Fatalf("irreversible %d beyond head %d", next.LastIrreversible(), head)
					}
					tr = next
					floor[p] = head + 1
				}
			})
		})
	}
}
