package engine

import (
	"github.com/blockberries/finalberry/confirm"
	"github.com/blockberries/finalberry/feature"
	"github.com/blockberries/finalberry/types"
)

// Genesis describes block 1.
type Genesis struct {
	Timestamp types.BlockTimestamp
	Producer  types.AccountName
	Key       types.PublicKey
}

// InitialSchedule returns the version 0 schedule with the genesis
// producer as its only member.
func (g Genesis) InitialSchedule() types.ProducerAuthoritySchedule {
	return types.ProducerAuthoritySchedule{
		Version: 0,
		Producers: []types.ProducerAuthority{
			{Name: g.producer(), Authority: types.NewSingleKeyAuthority(g.Key)},
		},
	}
}

func (g Genesis) producer() types.AccountName {
	if g.Producer == "" {
		return types.SystemProducer
	}
	return g.Producer
}

// NewGenesisState returns the trusted state of block 1. Nothing is pending;
// the pending schedule hash commits to the initial schedule.
func NewGenesisState(g Genesis, kind confirm.Kind) (*BlockHeaderState, error) {
	initial := g.InitialSchedule()

	tracker, err := confirm.NewTracker(kind)
	if err != nil {
		return nil, err
	}
	tracker, err = tracker.SetProducers(initial.Names())
	if err != nil {
		return nil, err
	}

	legacy, err := initial.ToLegacy()
	if err != nil {
		return nil, err
	}

	header := types.BlockHeader{
		Timestamp: g.Timestamp,
		Producer:  g.producer(),
		Confirmed: 1,
	}

	return &BlockHeaderState{
		ID:                         header.ID(),
		BlockNum:                   header.BlockNum(),
		Header:                     types.SignedBlockHeader{Header: header},
		ValidBlockSigningAuthority: initial.Producers[0].Authority,
		ActiveSchedule:             initial,
		PendingSchedule: PendingSchedule{
			ScheduleHash: legacy.Hash(),
			Schedule:     types.ProducerAuthoritySchedule{Version: initial.Version},
		},
		Confirmations:     tracker,
		ActivatedFeatures: feature.NewActivationSet(),
	}, nil
}
