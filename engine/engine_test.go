package engine

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/finalberry/confirm"
	"github.com/blockberries/finalberry/feature"
	"github.com/blockberries/finalberry/metrics"
	"github.com/blockberries/finalberry/types"
)

// tester drives a Chain through the schedule of its head, signing every
// block with the keyring.
type tester struct {
	t     *testing.T
	keys  keyring
	chain *Chain
}

func newTester(t *testing.T, kind confirm.Kind, producers ...types.AccountName) *tester {
	t.Helper()
	k := newKeyring(t, append([]types.AccountName{genesisProducer}, producers...)...)
	chain, err := NewChain(k.genesis(), kind, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	return &tester{t: t, keys: k, chain: chain}
}

// slotFor returns the first slot after the head at which want produces.
// An empty want takes the next slot.
func (tt *tester) slotFor(want types.AccountName) types.BlockTimestamp {
	head := tt.chain.Head()
	slot := head.Timestamp().Next()
	if want == "" {
		return slot
	}
	for i := 0; ; i++ {
		require.Less(tt.t, i, 10000, "%s is not scheduled", want)
		p, ok := head.ActiveSchedule.ScheduledProducer(slot)
		require.True(tt.t, ok)
		if p.Name == want {
			return slot
		}
		slot++
	}
}

func (tt *tester) request(want types.AccountName, confirmed *uint16) ProduceRequest {
	slot := tt.slotFor(want)
	p, ok := tt.chain.Head().ActiveSchedule.ScheduledProducer(slot)
	require.True(tt.t, ok)
	return ProduceRequest{
		Timestamp: slot,
		Confirmed: confirmed,
		Signer:    tt.keys.signer(p.Name),
	}
}

func (tt *tester) produce(want types.AccountName, confirmed *uint16) (*types.SignedBlock, *BlockHeaderState) {
	tt.t.Helper()
	block, state, err := tt.chain.ProduceBlock(tt.request(want, confirmed))
	require.NoError(tt.t, err)
	return block, state
}

// setup produces blocks 2 through 15 with the genesis producer. Block 14
// proposes a schedule of producers, which block 15 promotes.
func (tt *tester) setup(producers ...types.AccountName) []*types.SignedBlock {
	tt.t.Helper()
	var blocks []*types.SignedBlock
	for n := uint32(2); n <= 15; n++ {
		req := tt.request("", nil)
		if n == 14 {
			sched := tt.keys.schedule(1, producers...)
			req.NewProducers = &sched
		}
		b, state, err := tt.chain.ProduceBlock(req)
		require.NoError(tt.t, err)
		require.Equal(tt.t, n, state.BlockNum)
		blocks = append(blocks, b)
	}
	head := tt.chain.Head()
	require.Equal(tt.t, uint32(1), head.ActiveSchedule.Version)
	require.Equal(tt.t, uint32(14), head.LastIrreversible())
	return blocks
}

// laterRequest skips the head's next slot and signs for the one after.
func (tt *tester) laterRequest() ProduceRequest {
	slot := tt.chain.Head().Timestamp().Next() + 1
	p, ok := tt.chain.Head().ActiveSchedule.ScheduledProducer(slot)
	require.True(tt.t, ok)
	return ProduceRequest{Timestamp: slot, Signer: tt.keys.signer(p.Name)}
}

type step struct {
	producer  types.AccountName
	confirmed *uint16
	lib       uint32
}

func (tt *tester) run(first uint32, steps []step) {
	tt.t.Helper()
	for i, s := range steps {
		_, state := tt.produce(s.producer, s.confirmed)
		require.Equal(tt.t, first+uint32(i), state.BlockNum)
		if s.producer != "" {
			require.Equal(tt.t, s.producer, state.Producer())
		}
		assert.Equal(tt.t, s.lib, state.LastIrreversible(), "block %d", state.BlockNum)
	}
}

func TestChain_TwoProducers(t *testing.T) {
	tt := newTester(t, confirm.KindDPoS, "alice", "bob")
	tt.setup("alice", "bob")

	var steps []step
	for n := uint32(16); n <= 37; n++ {
		lib := uint32(15)
		switch {
		case n <= 24:
			lib = 14
		case n == 37:
			lib = 24
		}
		steps = append(steps, step{lib: lib})
	}
	tt.run(16, steps)
	assert.Equal(t, uint32(24), tt.chain.LastIrreversible())
}

func TestChain_TwoProducersNeitherConfirms(t *testing.T) {
	tt := newTester(t, confirm.KindDPoS, "alice", "bob")
	tt.setup("alice", "bob")
	tt.run(16, []step{
		{"bob", u16(0), 14},
		{"alice", u16(0), 15},
		{"bob", u16(0), 15},
		{"alice", u16(0), 15},
	})
}

func TestChain_TwoProducersOneConfirms(t *testing.T) {
	tt := newTester(t, confirm.KindDPoS, "alice", "bob")
	tt.setup("alice", "bob")
	tt.run(16, []step{
		{"bob", u16(0), 14},
		{"alice", u16(1), 15},
		{"bob", u16(0), 15},
		{"alice", u16(1), 16},
		{"bob", u16(0), 16},
		{"alice", u16(1), 18},
	})
}

func TestChain_FourProducers(t *testing.T) {
	tt := newTester(t, confirm.KindDPoS, "alice", "bob", "carol", "dave")
	tt.setup("alice", "bob", "carol", "dave")
	tt.run(16, []step{
		{"bob", nil, 14},
		{"carol", nil, 14},
		{"dave", nil, 15},
		{"alice", nil, 15},
		{"bob", nil, 15},
		{"carol", nil, 16},
		{"dave", nil, 17},
		{"alice", nil, 18},
		{"bob", nil, 19},
		{"carol", nil, 20},
	})
}

func TestChain_ThreeProducersOneSilent(t *testing.T) {
	tt := newTester(t, confirm.KindDPoS, "alice", "bob", "carol")
	tt.setup("alice", "bob", "carol")
	tt.run(16, []step{
		{"bob", nil, 14},
		{"carol", u16(0), 14},
		{"alice", nil, 15},
		{"bob", nil, 15},
		{"carol", u16(0), 15},
		{"alice", nil, 15},
		{"bob", nil, 17},
		{"carol", u16(0), 17},
		{"alice", nil, 17},
		{"bob", nil, 20},
		{"carol", u16(0), 20},
	})
}

func TestChain_BFTSingleProducer(t *testing.T) {
	tt := newTester(t, confirm.KindBFT)
	for n := uint32(2); n <= 8; n++ {
		_, state := tt.produce("", nil)
		assert.Equal(t, n, state.LastIrreversible())
		assert.Equal(t, n, state.Confirmations.ProposedIrreversible())
	}
}

func TestChain_BFTTwoProducers(t *testing.T) {
	tt := newTester(t, confirm.KindBFT, "alice", "bob")
	for n := uint32(2); n <= 15; n++ {
		req := tt.request("", nil)
		if n == 14 {
			sched := tt.keys.schedule(1, "alice", "bob")
			req.NewProducers = &sched
		}
		_, state, err := tt.chain.ProduceBlock(req)
		require.NoError(t, err)
		require.Equal(t, n, state.LastIrreversible())
	}
	require.Equal(t, uint32(1), tt.chain.Head().ActiveSchedule.Version)

	for n := uint32(16); n <= 44; n++ {
		_, state := tt.produce("", nil)
		lib, proposed := uint32(15), uint32(15)
		switch {
		case n >= 37:
			lib, proposed = 24, 36
		case n >= 25:
			proposed = 24
		}
		assert.Equal(t, lib, state.LastIrreversible(), "block %d", n)
		assert.Equal(t, proposed, state.Confirmations.ProposedIrreversible(), "block %d", n)
	}
}

// follow applies every block produced by leader to a fresh chain with the
// same genesis.
func follow(t *testing.T, tt *tester, blocks []*types.SignedBlock, opts ...Option) *Chain {
	t.Helper()
	follower, err := NewChain(tt.keys.genesis(), tt.chain.Head().Confirmations.Kind, opts...)
	require.NoError(t, err)
	for _, b := range blocks {
		_, err := follower.ApplyBlock(b)
		require.NoError(t, err)
	}
	return follower
}

func TestChain_ApplyBlock(t *testing.T) {
	tt := newTester(t, confirm.KindDPoS, "alice", "bob")
	var blocks []*types.SignedBlock
	for n := 2; n <= 20; n++ {
		req := tt.request("", nil)
		if n == 14 {
			sched := tt.keys.schedule(1, "alice", "bob")
			req.NewProducers = &sched
		}
		b, _, err := tt.chain.ProduceBlock(req)
		require.NoError(t, err)
		blocks = append(blocks, b)
	}

	follower := follow(t, tt, blocks)
	assert.Equal(t, tt.chain.Head().ID, follower.Head().ID)
	assert.Equal(t, tt.chain.LastIrreversible(), follower.LastIrreversible())
	assert.Equal(t, uint32(1), follower.Head().ActiveSchedule.Version)

	// A block that does not extend the head is unknown.
	_, err := follower.ApplyBlock(blocks[3])
	require.ErrorIs(t, err, ErrUnknownBlock)
}

func TestChain_ApplyBlockRejects(t *testing.T) {
	reg := prometheus.NewRegistry()
	tt := newTester(t, confirm.KindDPoS)
	block, _ := tt.produce("", nil)

	follower, err := NewChain(tt.keys.genesis(), confirm.KindDPoS, WithMetrics(metrics.NewFinalityCollector(reg)))
	require.NoError(t, err)

	forged := *block
	forged.SignedHeader.Header.ActionMRoot = types.HashBytes([]byte("forged"))
	_, err = follower.ApplyBlock(&forged)
	require.ErrorIs(t, err, ErrSignature)
	assert.Equal(t, uint32(1), follower.Head().BlockNum)

	_, err = follower.ApplyBlock(block)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() == "finalberry_finality_rejected_blocks_total" {
			found = true
			require.Len(t, mf.GetMetric(), 1)
			assert.Equal(t, float64(1), mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)
}

func TestChain_SkipSignatureValidation(t *testing.T) {
	tt := newTester(t, confirm.KindDPoS)
	block, _ := tt.produce("", nil)

	forged := *block
	forged.SignedHeader.Header.ActionMRoot = types.HashBytes([]byte("forged"))

	follower, err := NewChain(tt.keys.genesis(), confirm.KindDPoS, WithSkipSignatureValidation(true))
	require.NoError(t, err)
	_, err = follower.ApplyBlock(&forged)
	require.NoError(t, err)
}

func TestChain_ProduceWithoutSigner(t *testing.T) {
	tt := newTester(t, confirm.KindDPoS)
	_, _, err := tt.chain.ProduceBlock(ProduceRequest{})
	require.ErrorIs(t, err, ErrNoSigner)

	chain, err := NewChain(tt.keys.genesis(), confirm.KindDPoS, WithSigner(tt.keys.signer(genesisProducer)))
	require.NoError(t, err)
	_, state, err := chain.ProduceBlock(ProduceRequest{})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), state.BlockNum)
}

func TestChain_DefaultConfirmation(t *testing.T) {
	tt := newTester(t, confirm.KindDPoS, "alice", "bob")
	tt.setup("alice", "bob")

	// bob has not produced since the schedule change: everything after
	// the irreversible block is confirmed.
	_, state := tt.produce("bob", nil)
	assert.Equal(t, uint16(1), state.Header.Header.Confirmed)
	_, state = tt.produce("bob", nil)
	assert.Equal(t, uint16(0), state.Header.Header.Confirmed)

	// alice confirms up to the irreversible block.
	lib := tt.chain.LastIrreversible()
	_, state = tt.produce("alice", nil)
	assert.Equal(t, uint16(state.BlockNum-1-lib), state.Header.Header.Confirmed)
}

func TestChain_PopBlocksTo(t *testing.T) {
	tt := newTester(t, confirm.KindDPoS, "alice", "bob")
	tt.setup("alice", "bob")
	for n := 16; n <= 20; n++ {
		tt.produce("", nil)
	}
	require.Equal(t, uint32(14), tt.chain.LastIrreversible())

	s18, err := tt.chain.StateAt(18)
	require.NoError(t, err)

	require.NoError(t, tt.chain.PopBlocksTo(18))
	assert.Equal(t, s18, tt.chain.Head())
	_, err = tt.chain.StateAt(19)
	require.ErrorIs(t, err, ErrUnknownBlock)

	err = tt.chain.PopBlocksTo(13)
	require.ErrorIs(t, err, ErrIrreversible)
	err = tt.chain.PopBlocksTo(30)
	require.ErrorIs(t, err, ErrUnknownBlock)

	// States below the irreversible block are pruned.
	_, err = tt.chain.StateAt(10)
	require.ErrorIs(t, err, ErrUnknownBlock)

	// Production continues from the new head.
	_, state := tt.produce("", nil)
	assert.Equal(t, uint32(19), state.BlockNum)
}

func TestChain_SwitchFork(t *testing.T) {
	tt := newTester(t, confirm.KindDPoS, "alice", "bob")
	var blocks []*types.SignedBlock
	for n := 2; n <= 18; n++ {
		req := tt.request("", nil)
		if n == 14 {
			sched := tt.keys.schedule(1, "alice", "bob")
			req.NewProducers = &sched
		}
		b, _, err := tt.chain.ProduceBlock(req)
		require.NoError(t, err)
		blocks = append(blocks, b)
	}

	// The other branch has alice produce block 19 at her next slot.
	other := &tester{t: t, keys: tt.keys, chain: follow(t, tt, blocks)}
	forkBlock, forkState := other.produce("alice", nil)

	for n := 19; n <= 21; n++ {
		tt.produce("bob", nil)
	}
	oldHead := tt.chain.Head()

	t.Run("invalid branch restores", func(t *testing.T) {
		bad := *forkBlock
		bad.SignedHeader.Header.TransactionMRoot = types.HashBytes([]byte("bad"))
		err := tt.chain.SwitchFork(18, []*types.SignedBlock{&bad})
		require.ErrorIs(t, err, ErrForkSwitchRestored)
		require.ErrorIs(t, err, ErrSignature)
		assert.Equal(t, oldHead, tt.chain.Head())
		s20, err := tt.chain.StateAt(20)
		require.NoError(t, err)
		assert.Equal(t, uint32(20), s20.BlockNum)
	})

	t.Run("valid branch", func(t *testing.T) {
		require.NoError(t, tt.chain.SwitchFork(18, []*types.SignedBlock{forkBlock}))
		assert.Equal(t, forkState.ID, tt.chain.Head().ID)
		_, err := tt.chain.StateAt(20)
		require.ErrorIs(t, err, ErrUnknownBlock)
	})

	t.Run("below irreversible", func(t *testing.T) {
		err := tt.chain.SwitchFork(2, nil)
		require.ErrorIs(t, err, ErrIrreversible)
	})
}

// activateWTMsig activates PREACTIVATE_FEATURE in one block, pre-activates
// weighted block signing in the next and activates it in the third.
func activateWTMsig(t *testing.T, tt *tester) []*types.SignedBlock {
	t.Helper()
	set := tt.chain.Features()
	preactivate := builtinDigest(t, set, feature.PreactivateFeature)
	wtmsig := builtinDigest(t, set, feature.WTMsigBlockSignatures)

	err := tt.chain.PreactivateFeature(wtmsig)
	require.ErrorIs(t, err, ErrPreactivation)
	require.ErrorIs(t, err, feature.ErrPreactivationOff)

	req := tt.request("", nil)
	req.NewFeatures = []types.Digest{preactivate}
	b1, _, err := tt.chain.ProduceBlock(req)
	require.NoError(t, err)
	require.True(t, tt.chain.IsBuiltinActivated(feature.PreactivateFeature))

	require.NoError(t, tt.chain.PreactivateFeature(wtmsig))
	err = tt.chain.PreactivateFeature(wtmsig)
	require.ErrorIs(t, err, feature.ErrAlreadyPreactive)
	require.Equal(t, []types.Digest{wtmsig}, tt.chain.QueuedPreactivations())

	b2, state := tt.produce("", nil)
	require.NotNil(t, state.HeaderExtensions.FeaturePreactivation)
	require.True(t, state.PreactivatedFeatures.Contains(wtmsig))
	require.Empty(t, tt.chain.QueuedPreactivations())
	require.False(t, tt.chain.IsBuiltinActivated(feature.WTMsigBlockSignatures))

	req = tt.request("", nil)
	req.NewFeatures = []types.Digest{wtmsig}
	b3, state, err := tt.chain.ProduceBlock(req)
	require.NoError(t, err)
	require.True(t, tt.chain.IsBuiltinActivated(feature.WTMsigBlockSignatures))
	require.False(t, state.PreactivatedFeatures.Contains(wtmsig))

	return []*types.SignedBlock{b1, b2, b3}
}

func TestChain_FeatureActivation(t *testing.T) {
	tt := newTester(t, confirm.KindDPoS, "alice", "bob")
	blocks := tt.setup("alice", "bob")
	blocks = append(blocks, activateWTMsig(t, tt)...)
	wtmsig := builtinDigest(t, tt.chain.Features(), feature.WTMsigBlockSignatures)

	entries := tt.chain.ActivatedFeatures()
	require.Len(t, entries, 2)
	assert.Equal(t, "PREACTIVATE_FEATURE", entries[0].Feature.Codename())
	assert.Equal(t, uint32(16), entries[0].ActivationBlockNum)
	assert.Equal(t, "WTMSIG_BLOCK_SIGNATURES", entries[1].Feature.Codename())
	assert.Equal(t, uint32(18), entries[1].ActivationBlockNum)
	require.Equal(t, uint32(14), tt.chain.LastIrreversible())

	// The pre-activation travels with the blocks.
	follower := follow(t, tt, blocks)
	assert.Equal(t, tt.chain.Head().ID, follower.Head().ID)
	assert.True(t, follower.IsBuiltinActivated(feature.WTMsigBlockSignatures))
	assert.Empty(t, follower.QueuedPreactivations())

	// Popping the activation keeps the pre-activation of block 17.
	require.NoError(t, tt.chain.PopBlocksTo(17))
	assert.False(t, tt.chain.IsBuiltinActivated(feature.WTMsigBlockSignatures))
	assert.True(t, tt.chain.IsBuiltinActivated(feature.PreactivateFeature))
	assert.True(t, tt.chain.Head().PreactivatedFeatures.Contains(wtmsig))

	req := tt.request("", nil)
	req.NewFeatures = []types.Digest{wtmsig}
	_, state, err := tt.chain.ProduceBlock(req)
	require.NoError(t, err)
	assert.Equal(t, uint32(18), state.BlockNum)
	assert.True(t, tt.chain.IsBuiltinActivated(feature.WTMsigBlockSignatures))

	// Popping the pre-activation queues it for the next block.
	require.NoError(t, tt.chain.PopBlocksTo(16))
	assert.False(t, tt.chain.Head().PreactivatedFeatures.Contains(wtmsig))
	assert.Equal(t, []types.Digest{wtmsig}, tt.chain.QueuedPreactivations())

	req = tt.request("", nil)
	req.NewFeatures = []types.Digest{wtmsig}
	_, _, err = tt.chain.ProduceBlock(req)
	require.ErrorIs(t, err, feature.ErrNotPreactivated)

	_, state = tt.produce("", nil)
	assert.True(t, state.PreactivatedFeatures.Contains(wtmsig))
	req = tt.request("", nil)
	req.NewFeatures = []types.Digest{wtmsig}
	_, state, err = tt.chain.ProduceBlock(req)
	require.NoError(t, err)
	assert.Equal(t, uint32(18), state.BlockNum)
	assert.True(t, tt.chain.IsBuiltinActivated(feature.WTMsigBlockSignatures))
}

func TestChain_SwitchForkActivatesOnBothBranches(t *testing.T) {
	tt := newTester(t, confirm.KindDPoS, "alice", "bob")
	blocks := tt.setup("alice", "bob")
	blocks = append(blocks, activateWTMsig(t, tt)...)
	wtmsig := builtinDigest(t, tt.chain.Features(), feature.WTMsigBlockSignatures)

	// The other branch shares the pre-activation block and activates the
	// feature one slot later.
	other := &tester{t: t, keys: tt.keys, chain: follow(t, tt, blocks[:len(blocks)-1])}
	req := other.laterRequest()
	req.NewFeatures = []types.Digest{wtmsig}
	forkBlock, forkState, err := other.chain.ProduceBlock(req)
	require.NoError(t, err)
	require.Equal(t, uint32(18), forkState.BlockNum)

	require.NoError(t, tt.chain.SwitchFork(17, []*types.SignedBlock{forkBlock}))
	assert.Equal(t, forkState.ID, tt.chain.Head().ID)
	assert.True(t, tt.chain.IsBuiltinActivated(feature.WTMsigBlockSignatures))

	entries := tt.chain.ActivatedFeatures()
	require.Len(t, entries, 2)
	assert.Equal(t, uint32(18), entries[1].ActivationBlockNum)

	// A branch without the pre-activation block cannot activate it.
	third := &tester{t: t, keys: tt.keys, chain: follow(t, tt, blocks[:len(blocks)-2])}
	noPre, _, err := third.chain.ProduceBlock(third.laterRequest())
	require.NoError(t, err)
	req = third.request("", nil)
	req.NewFeatures = []types.Digest{wtmsig}
	_, _, err = third.chain.ProduceBlock(req)
	require.ErrorIs(t, err, feature.ErrNotPreactivated)

	err = tt.chain.SwitchFork(16, []*types.SignedBlock{noPre})
	require.NoError(t, err)
	assert.False(t, tt.chain.IsBuiltinActivated(feature.WTMsigBlockSignatures))
	// The popped pre-activation waits for this node's next block.
	assert.Equal(t, []types.Digest{wtmsig}, tt.chain.QueuedPreactivations())
}

func TestChain_WeightedProducers(t *testing.T) {
	tt := newTester(t, confirm.KindDPoS, "bob")
	tt.keys.add(t, "alice", 2)
	blocks := activateWTMsig(t, tt)

	sched := tt.keys.schedule(1, "alice", "bob")
	req := tt.request("", nil)
	req.NewProducers = &sched
	b, state, err := tt.chain.ProduceBlock(req)
	require.NoError(t, err)
	require.NotNil(t, state.HeaderExtensions.ScheduleChange)
	blocks = append(blocks, b)

	b, state, err = tt.chain.ProduceBlock(tt.request("", nil))
	require.NoError(t, err)
	require.Equal(t, uint32(1), state.ActiveSchedule.Version)
	blocks = append(blocks, b)

	b, state = tt.produce("alice", nil)
	require.Len(t, state.AdditionalSignatures, 1)
	require.Len(t, b.BlockExtensions, 1)
	blocks = append(blocks, b)

	follower := follow(t, tt, blocks)
	assert.Equal(t, tt.chain.Head().ID, follower.Head().ID)

	// Dropping the additional signature leaves alice's authority
	// unsatisfied.
	require.NoError(t, follower.PopBlocksTo(follower.Head().BlockNum-1))
	stripped := *b
	stripped.BlockExtensions = nil
	_, err = follower.ApplyBlock(&stripped)
	require.ErrorIs(t, err, ErrSignature)
}

func TestNewChainFromConfig(t *testing.T) {
	k := newKeyring(t, genesisProducer)
	cfg := DefaultConfig()
	cfg.ConfirmationScheme = "bft"
	cfg.Genesis.Producer = string(genesisProducer)
	cfg.Genesis.PublicKey = k.pub(genesisProducer).String()

	chain, err := NewChainFromConfig(cfg, WithSigner(k.signer(genesisProducer)))
	require.NoError(t, err)
	assert.Equal(t, confirm.KindBFT, chain.Head().Confirmations.Kind)
	assert.Equal(t, genesisProducer, chain.Head().Producer())

	_, state, err := chain.ProduceBlock(ProduceRequest{})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), state.LastIrreversible())

	cfg.Genesis.PublicKey = ""
	_, err = NewChainFromConfig(cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
