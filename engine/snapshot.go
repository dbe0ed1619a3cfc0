package engine

import (
	"fmt"

	"github.com/blockberries/finalberry/confirm"
	"github.com/blockberries/finalberry/feature"
	"github.com/blockberries/finalberry/types"
)

// LegacyPendingSchedule is the pending schedule as stored by version 2
// snapshots.
type LegacyPendingSchedule struct {
	_              struct{} `cbor:",toarray"`
	ScheduleLIBNum uint32
	ScheduleHash   types.Digest
	Schedule       types.LegacyProducerSchedule
}

// LegacySnapshotV2 is the header state of a version 2 snapshot. These
// snapshots predate weighted block signing and the BFT confirmation
// scheme: producers sign with a single key and confirmations are DPoS.
type LegacySnapshotV2 struct {
	_                                struct{} `cbor:",toarray"`
	BlockNum                         uint32
	DposProposedIrreversibleBlockNum uint32
	DposIrreversibleBlockNum         uint32
	ActiveSchedule                   types.LegacyProducerSchedule
	BlockrootMerkle                  types.IncrementalMerkle
	ProducerToLastProduced           map[types.AccountName]uint32
	ProducerToLastImpliedIRB         map[types.AccountName]uint32
	BlockSigningKey                  types.PublicKey
	ConfirmCount                     []uint8
	ID                               types.BlockID
	Header                           types.SignedBlockHeader
	PendingSchedule                  LegacyPendingSchedule
	ActivatedProtocolFeatures        []types.Digest
}

// DecodeLegacySnapshotV2 parses a canonically encoded version 2 snapshot.
func DecodeLegacySnapshotV2(data []byte) (*LegacySnapshotV2, error) {
	var snap LegacySnapshotV2
	if err := types.Decode(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return &snap, nil
}

// Encode returns the canonical encoding of the snapshot
func (snap *LegacySnapshotV2) Encode() ([]byte, error) {
	return types.Encode(snap)
}

// FromLegacySnapshotV2 converts a version 2 snapshot into a header state
// with a DPoS tracker.
func FromLegacySnapshotV2(snap *LegacySnapshotV2) (*BlockHeaderState, error) {
	if snap.BlockNum == 0 || types.BlockNumFromID(snap.ID) != snap.BlockNum {
		return nil, fmt.Errorf("%w: id %s does not carry block %d", ErrInvalidSnapshot, snap.ID, snap.BlockNum)
	}
	if id := snap.Header.Header.ID(); id != snap.ID {
		return nil, fmt.Errorf("%w: header id %s, snapshot id %s", ErrInvalidSnapshot, id, snap.ID)
	}
	if len(snap.ConfirmCount) > confirm.MaxTrackedConfirmations {
		return nil, fmt.Errorf("%w: %d confirmation slots", ErrInvalidSnapshot, len(snap.ConfirmCount))
	}
	exts, err := types.ExtractHeaderExtensions(snap.Header.Header.Extensions)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	counts := make([]uint16, len(snap.ConfirmCount))
	for i, c := range snap.ConfirmCount {
		counts[i] = uint16(c)
	}
	dpos := &confirm.DPoS{
		BlockNum:             snap.BlockNum,
		ProposedIrreversible: snap.DposProposedIrreversibleBlockNum,
		Irreversible:         snap.DposIrreversibleBlockNum,
		LastProduced:         copyNums(snap.ProducerToLastProduced),
		LastImpliedIRB:       copyNums(snap.ProducerToLastImpliedIRB),
		ConfirmCount:         counts,
	}

	return &BlockHeaderState{
		ID:                         snap.ID,
		BlockNum:                   snap.BlockNum,
		Header:                     types.SignedBlockHeader{Header: snap.Header.Header.Clone(), ProducerSignature: snap.Header.ProducerSignature},
		HeaderExtensions:           exts,
		ValidBlockSigningAuthority: types.NewSingleKeyAuthority(snap.BlockSigningKey),
		ActiveSchedule:             snap.ActiveSchedule.ToAuthority(),
		PendingSchedule: PendingSchedule{
			ScheduleLIBNum: snap.PendingSchedule.ScheduleLIBNum,
			ScheduleHash:   snap.PendingSchedule.ScheduleHash,
			Schedule:       snap.PendingSchedule.Schedule.ToAuthority(),
		},
		BlockrootMerkle:   snap.BlockrootMerkle.Clone(),
		Confirmations:     confirm.Tracker{Kind: confirm.KindDPoS, DPoS: dpos},
		ActivatedFeatures: feature.NewActivationSet(snap.ActivatedProtocolFeatures...),
	}, nil
}

func copyNums(m map[types.AccountName]uint32) map[types.AccountName]uint32 {
	out := make(map[types.AccountName]uint32, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
