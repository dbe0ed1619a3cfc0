package confirm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/finalberry/types"
)

func mustDPoS(t *testing.T, d *DPoS, producer string, low, high uint32) *DPoS {
	t.Helper()
	next, err := d.Confirm(types.AccountName(producer), NewRange(low, high))
	require.NoError(t, err)
	return next
}

func TestDPoSRequiredConfirmations(t *testing.T) {
	require.Equal(t, uint16(1), NewDPoS().RequiredConfirmations())

	for n := 1; n <= 30; n++ {
		ps := make([]types.AccountName, n)
		for i := range ps {
			ps[i] = types.AccountName(fmt.Sprintf("p%02d", i))
		}
		d := NewDPoS().SetProducers(ps)
		require.Equal(t, uint16(2*n/3+1), d.RequiredConfirmations(), "n=%d", n)
	}
}

// TestDPoSSingleProducer follows the single_producer consensus case: a lone
// producer's irreversible block trails its head by one block, never zero.
func TestDPoSSingleProducer(t *testing.T) {
	d := NewDPoS().SetProducers(names("a"))

	prevProposed := uint32(0)
	for bn := uint32(1); bn <= 40; bn++ {
		d = mustDPoS(t, d, "a", bn, bn+1)
		require.Equal(t, bn, d.BlockNum)
		// The confirmed block is proposed immediately and becomes
		// irreversible with the producer's next block.
		require.Equal(t, bn, d.ProposedIrreversible)
		require.Equal(t, prevProposed, d.Irreversible)
		require.Empty(t, d.ConfirmCount)
		prevProposed = d.ProposedIrreversible
	}
}

func TestDPoSDoubleConfirm(t *testing.T) {
	d := NewDPoS().SetProducers(names("a", "b"))
	d = mustDPoS(t, d, "a", 1, 6)

	_, err := d.Confirm("a", NewRange(5, 7))
	require.ErrorIs(t, err, ErrDoubleConfirm)
	require.ErrorIs(t, err, ErrConfirmation)

	// Confirming strictly after the last produced block is fine
	_, err = d.Confirm("a", NewRange(6, 7))
	require.NoError(t, err)

	_, err = d.Confirm("b", NewRange(3, 2))
	require.ErrorIs(t, err, ErrIllegalConfirmation)
}

func TestDPoSThreeProducers(t *testing.T) {
	d := NewDPoS().SetProducers(names("a", "b", "c"))
	require.Equal(t, uint16(3), d.RequiredConfirmations())

	// a produces 1, b produces 2 confirming 1, c produces 3 confirming 1-2
	d = mustDPoS(t, d, "a", 1, 2)
	require.Equal(t, []uint16{2}, d.ConfirmCount)
	d = mustDPoS(t, d, "b", 1, 3)
	require.Equal(t, []uint16{1, 2}, d.ConfirmCount)
	d = mustDPoS(t, d, "c", 1, 4)
	require.Equal(t, uint32(1), d.ProposedIrreversible)
	require.Equal(t, []uint16{1, 2}, d.ConfirmCount)
	require.Zero(t, d.Irreversible)

	// a produces 4 confirming 2-3, which completes the count for block 2
	d = mustDPoS(t, d, "a", 2, 5)
	require.Equal(t, uint32(2), d.ProposedIrreversible)
	require.Equal(t, map[types.AccountName]uint32{"a": 1, "b": 0, "c": 0}, d.LastImpliedIRB)
	require.Equal(t, uint32(4), d.LastProduced["a"])
}

func TestDPoSWindowIsBounded(t *testing.T) {
	d := NewDPoS().SetProducers(names("a", "b", "c", "d"))
	// Only "a" produces and never confirms; slots accumulate until the
	// window is full.
	for bn := uint32(1); bn <= MaxTrackedConfirmations+10; bn++ {
		d = mustDPoS(t, d, "a", bn, bn+1)
	}
	require.Len(t, d.ConfirmCount, MaxTrackedConfirmations)
	require.Zero(t, d.ProposedIrreversible)
	require.Equal(t, uint32(MaxTrackedConfirmations+10), d.BlockNum)
}

func TestDPoSConfirmDoesNotMutate(t *testing.T) {
	d := NewDPoS().SetProducers(names("a", "b"))
	d = mustDPoS(t, d, "a", 1, 2)
	snapshot := d.Clone()

	_ = mustDPoS(t, d, "b", 1, 3)
	require.Equal(t, snapshot, d)
}

func TestDPoSSetProducers(t *testing.T) {
	d := NewDPoS().SetProducers(names("a", "b"))
	d = mustDPoS(t, d, "a", 1, 2)
	d = mustDPoS(t, d, "b", 2, 3)
	d = mustDPoS(t, d, "a", 3, 4)
	d.Irreversible = 2

	// "a" produced the current block and is dropped; it keeps its entry.
	next := d.SetProducers(names("b", "c"))
	require.Equal(t, map[types.AccountName]uint32{"a": 3, "b": 2, "c": 2}, next.LastProduced)
	require.Equal(t, map[types.AccountName]uint32{"b": d.LastImpliedIRB["b"], "c": 2}, next.LastImpliedIRB)
	require.Equal(t, d.ConfirmCount, next.ConfirmCount)

	// "b" did not produce the current block and is forgotten when dropped.
	next = d.SetProducers(names("a", "c"))
	require.NotContains(t, next.LastProduced, types.AccountName("b"))
	require.NotContains(t, next.LastImpliedIRB, types.AccountName("b"))
}

func TestCalcLastIrreversible(t *testing.T) {
	d := NewDPoS()
	require.Zero(t, d.CalcLastIrreversible("a"))

	d.LastImpliedIRB = map[types.AccountName]uint32{"a": 10, "b": 4, "c": 7, "d": 9}
	d.ProposedIrreversible = 12
	// sorted: 4 7 9 10 -> index 1
	require.Equal(t, uint32(7), d.CalcLastIrreversible("x"))
	// b substituted by 12: 7 9 10 12 -> index 1
	require.Equal(t, uint32(9), d.CalcLastIrreversible("b"))
}
