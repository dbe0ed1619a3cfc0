package engine

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/blockberries/finalberry/confirm"
	"github.com/blockberries/finalberry/evidence"
	"github.com/blockberries/finalberry/feature"
	"github.com/blockberries/finalberry/metrics"
	"github.com/blockberries/finalberry/types"
	"github.com/blockberries/finalberry/wal"
)

// Chain is the single writer of header state. It owns the head, the
// reversible states back to the last irreversible block and the protocol
// feature ledger. All methods are safe for concurrent use.
type Chain struct {
	mu sync.RWMutex

	log     zerolog.Logger
	metrics metrics.FinalityMetrics

	kind           confirm.Kind
	features       *feature.Set
	manager        *feature.Manager
	recoverer      types.KeyRecoverer
	signer         Signer
	skipSignatures bool
	wal            wal.WAL
	evidence       *evidence.Pool

	// root is the block the chain was started from
	root uint32
	head *BlockHeaderState
	// lib never decreases, even when popping back to a state whose own
	// irreversible block is lower.
	lib     uint32
	history map[uint32]*BlockHeaderState

	// queued are pre-activations requested on this node and not yet
	// carried by a block.
	queued []types.Digest
}

// Option customizes a Chain.
type Option func(*Chain)

// WithLogger sets the chain logger
func WithLogger(log zerolog.Logger) Option {
	return func(c *Chain) {
		c.log = log
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(m metrics.FinalityMetrics) Option {
	return func(c *Chain) {
		c.metrics = m
	}
}

// WithRecoverer sets the signing key recoverer.
func WithRecoverer(r types.KeyRecoverer) Option {
	return func(c *Chain) {
		c.recoverer = r
	}
}

// WithSigner sets the signer used when a ProduceRequest has none.
func WithSigner(s Signer) Option {
	return func(c *Chain) {
		c.signer = s
	}
}

// WithFeatureSet replaces the default recognized feature set.
func WithFeatureSet(set *feature.Set) Option {
	return func(c *Chain) {
		c.features = set
	}
}

// WithSkipSignatureValidation trusts the signatures of applied blocks.
func WithSkipSignatureValidation(skip bool) Option {
	return func(c *Chain) {
		c.skipSignatures = skip
	}
}

// WithWAL logs every accepted block, pop and pre-activation to w before
// it takes effect.
func WithWAL(w wal.WAL) Option {
	return func(c *Chain) {
		c.wal = w
	}
}

// WithEvidencePool feeds every new head to p for double-production
// detection.
func WithEvidencePool(p *evidence.Pool) Option {
	return func(c *Chain) {
		c.evidence = p
	}
}

// NewChain starts a chain at its genesis block.
func NewChain(g Genesis, kind confirm.Kind, opts ...Option) (*Chain, error) {
	genesis, err := NewGenesisState(g, kind)
	if err != nil {
		return nil, err
	}
	return NewChainFromState(genesis, nil, opts...)
}

// NewChainFromConfig starts a chain at the genesis block described by cfg.
// opts are applied after the settings taken from cfg.
func NewChainFromConfig(cfg *Config, opts ...Option) (*Chain, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, err
	}
	kind, _ := cfg.Scheme()
	g, _ := cfg.GenesisSpec()

	base := []Option{WithSkipSignatureValidation(cfg.SkipSignatureValidation)}
	if cfg.KeyCacheSize > 0 {
		r, err := types.NewCachedRecoverer(nil, cfg.KeyCacheSize)
		if err != nil {
			return nil, err
		}
		base = append(base, WithRecoverer(r))
	}
	return NewChain(g, kind, append(base, opts...)...)
}

// NewChainFromSnapshot resumes a chain from a version 2 snapshot. The
// activated features of the snapshot are recorded at the snapshot block.
func NewChainFromSnapshot(snap *LegacySnapshotV2, opts ...Option) (*Chain, error) {
	state, err := FromLegacySnapshotV2(snap)
	if err != nil {
		return nil, err
	}
	history := make([]feature.Activation, 0, len(snap.ActivatedProtocolFeatures))
	for _, d := range snap.ActivatedProtocolFeatures {
		history = append(history, feature.Activation{Digest: d, BlockNum: snap.BlockNum})
	}
	return NewChainFromState(state, history, opts...)
}

// NewChainFromState resumes a chain whose head and irreversible root is
// state. history is the feature activation ledger up to state, in
// activation order.
func NewChainFromState(state *BlockHeaderState, history []feature.Activation, opts ...Option) (*Chain, error) {
	c := &Chain{
		log:          zerolog.Nop(),
		metrics:      metrics.NewNoopCollector(),
		kind:         state.Confirmations.Kind,
		recoverer:    types.DefaultRecoverer,
		root:      state.BlockNum,
		head:      state,
		lib:       state.LastIrreversible(),
		history:   map[uint32]*BlockHeaderState{state.BlockNum: state},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "chain").Logger()

	if c.features == nil {
		set, err := feature.NewDefaultSet()
		if err != nil {
			return nil, err
		}
		c.features = set
	}
	c.manager = feature.NewManager(c.features, feature.WithOnActivate(c.onActivate))
	if err := c.manager.Init(history); err != nil {
		return nil, err
	}

	c.log.Info().
		Uint32("head", state.BlockNum).
		Str("id", state.ID.String()).
		Uint32("lib", c.lib).
		Stringer("scheme", c.kind).
		Int("features", len(history)).
		Msg("chain initialized")
	return c, nil
}

func (c *Chain) onActivate(f *feature.Feature, blockNum uint32) {
	c.log.Info().
		Str("codename", f.Codename()).
		Str("digest", f.Digest.String()).
		Uint32("block", blockNum).
		Msg("protocol feature activated")
	c.metrics.FeatureActivated(f.Codename())
}

// validationContext validates blocks built on parent.
func (c *Chain) validationContext(parent *BlockHeaderState) ValidationContext {
	return ValidationContext{
		Features:              c.features,
		ValidateActivation:    feature.NewActivationValidator(c.features, parent.PreactivatedFeatures.Contains),
		ValidatePreactivation: feature.NewPreactivationValidator(c.features),
		Recoverer:             c.recoverer,
	}
}

// ProduceRequest describes a block to produce on top of the head.
type ProduceRequest struct {
	// Timestamp of the block. Zero selects the slot after the head.
	Timestamp types.BlockTimestamp
	// Confirmed overrides the number of prior blocks the producer
	// confirms. Nil confirms every block since the later of the last
	// irreversible block and the producer's previous block.
	Confirmed *uint16

	TransactionMRoot types.Digest
	ActionMRoot      types.Digest

	NewProducers *types.ProducerAuthoritySchedule
	NewFeatures  []types.Digest
	// Preactivations are carried by the block together with the
	// pre-activations queued by PreactivateFeature that are valid on top
	// of the head.
	Preactivations []types.Digest

	// Signer overrides the chain signer for this block.
	Signer Signer
}

// ProduceBlock builds, signs and applies the next block.
func (c *Chain) ProduceBlock(req ProduceRequest) (*types.SignedBlock, *BlockHeaderState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	signer := req.Signer
	if signer == nil {
		signer = c.signer
	}
	if signer == nil {
		return nil, nil, ErrNoSigner
	}

	when := req.Timestamp
	if when == 0 {
		when = c.head.Timestamp().Next()
	}

	var confirmed uint16
	if req.Confirmed != nil {
		confirmed = *req.Confirmed
	} else {
		producer, ok := c.head.ActiveSchedule.ScheduledProducer(when)
		if !ok {
			return nil, nil, fmt.Errorf("%w: active schedule v%d has no producers", ErrSchedule, c.head.ActiveSchedule.Version)
		}
		confirmed = c.defaultConfirmed(producer.Name)
	}

	pending, err := c.head.Next(when, confirmed)
	if err != nil {
		return nil, nil, c.reject(err)
	}
	preactivations := c.preactivations(when, req)
	header, err := pending.MakeBlockHeader(req.TransactionMRoot, req.ActionMRoot, req.NewProducers, req.NewFeatures, preactivations, c.features)
	if err != nil {
		return nil, nil, c.reject(err)
	}
	state, err := pending.FinishNextSigned(&header, c.validationContext(c.head), signer)
	if err != nil {
		return nil, nil, c.reject(err)
	}

	block := &types.SignedBlock{SignedHeader: state.Header}
	if len(state.AdditionalSignatures) > 0 {
		ext, err := types.EncodeAdditionalSignatures(state.AdditionalSignatures)
		if err != nil {
			return nil, nil, err
		}
		block.BlockExtensions = []types.Extension{ext}
	}

	if err := c.logBlock(block); err != nil {
		return nil, nil, err
	}
	if err := c.commit(state); err != nil {
		return nil, nil, c.reject(err)
	}
	c.prune()
	c.metrics.BlockProduced(state.BlockNum)
	c.log.Debug().
		Uint32("block", state.BlockNum).
		Str("producer", string(state.Producer())).
		Uint16("confirmed", confirmed).
		Uint32("lib", state.LastIrreversible()).
		Msg("produced block")
	return block, state, nil
}

// preactivations returns the pre-activations of req followed by the
// queued ones that are valid in a block at when. Queued digests that are
// not valid yet stay queued.
func (c *Chain) preactivations(when types.BlockTimestamp, req ProduceRequest) []types.Digest {
	out := append([]types.Digest(nil), req.Preactivations...)
	if len(c.queued) == 0 {
		return out
	}
	active := c.head.ActivatedFeatures.Extend(req.NewFeatures)
	preactivated := c.head.PreactivatedFeatures.Remove(req.NewFeatures).Extend(out)
	validate := feature.NewPreactivationValidator(c.features)
	for _, d := range c.queued {
		if validate(when, active, preactivated, []types.Digest{d}) != nil {
			continue
		}
		out = append(out, d)
		preactivated = preactivated.Extend([]types.Digest{d})
	}
	return out
}

// defaultConfirmed confirms every block after the later of the last
// irreversible block and producer's previous block.
func (c *Chain) defaultConfirmed(producer types.AccountName) uint16 {
	floor := c.lib
	for n := c.head.BlockNum; n > c.lib; n-- {
		if s, ok := c.history[n]; ok && s.Producer() == producer {
			floor = n
			break
		}
	}
	return uint16(min(uint64(c.head.BlockNum-floor), math.MaxUint16))
}

// ApplyBlock validates a block built on the head and makes it the new head.
func (c *Chain) ApplyBlock(b *types.SignedBlock) (*BlockHeaderState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.applyLocked(b, true)
	if err != nil {
		return nil, err
	}
	c.prune()
	return state, nil
}

// applyLocked validates b against the head and commits it. When logged is
// set, b is written to the WAL first.
func (c *Chain) applyLocked(b *types.SignedBlock, logged bool) (*BlockHeaderState, error) {
	if prev := b.SignedHeader.Header.Previous; prev != c.head.ID {
		return nil, c.reject(fmt.Errorf("%w: block %d builds on %s, head is %s", ErrUnknownBlock, b.BlockNum(), prev, c.head.ID))
	}
	sigs, err := types.ExtractAdditionalSignatures(b.BlockExtensions)
	if err != nil {
		return nil, c.reject(err)
	}
	state, err := c.head.NextFromHeader(b.SignedHeader, sigs, c.validationContext(c.head), c.skipSignatures)
	if err != nil {
		return nil, c.reject(err)
	}
	if logged {
		if err := c.logBlock(b); err != nil {
			return nil, err
		}
	}
	if err := c.commit(state); err != nil {
		return nil, c.reject(err)
	}
	c.metrics.BlockApplied(state.BlockNum)
	c.log.Debug().
		Uint32("block", state.BlockNum).
		Str("producer", string(state.Producer())).
		Uint32("lib", state.LastIrreversible()).
		Msg("applied block")
	return state, nil
}

// commit records the features activated by state and makes it the head.
func (c *Chain) commit(state *BlockHeaderState) error {
	if fa := state.HeaderExtensions.FeatureActivation; fa != nil {
		for _, d := range fa.Features {
			if err := c.manager.ActivateFeature(d, state.BlockNum); err != nil {
				if perr := c.manager.PoppedBlocksTo(state.BlockNum - 1); perr != nil {
					c.log.Error().Err(perr).Msg("could not undo partial feature activation")
				}
				return err
			}
		}
	}

	prev := c.head
	c.head = state
	c.history[state.BlockNum] = state
	c.unqueue(state)

	if state.ActiveSchedule.Version != prev.ActiveSchedule.Version {
		c.log.Info().
			Uint32("block", state.BlockNum).
			Uint32("version", state.ActiveSchedule.Version).
			Strs("producers", names(state.ActiveSchedule)).
			Msg("producer schedule promoted")
		c.metrics.SchedulePromoted(state.ActiveSchedule.Version)
	}
	if p := state.PendingSchedule; !p.IsEmpty() && p.ScheduleLIBNum == state.BlockNum {
		c.log.Info().
			Uint32("block", state.BlockNum).
			Uint32("version", p.Schedule.Version).
			Strs("producers", names(p.Schedule)).
			Msg("producer schedule proposed")
	}
	if lib := state.LastIrreversible(); lib > c.lib {
		c.lib = lib
		c.log.Debug().Uint32("lib", lib).Msg("irreversible block advanced")
		c.metrics.IrreversibleAdvanced(c.kind.String(), lib)
	}
	c.checkEvidence(state)
	return nil
}

// unqueue drops the queued pre-activations that state has pre-activated
// or activated.
func (c *Chain) unqueue(state *BlockHeaderState) {
	if len(c.queued) == 0 {
		return
	}
	kept := c.queued[:0]
	for _, d := range c.queued {
		if state.PreactivatedFeatures.Contains(d) || state.ActivatedFeatures.Contains(d) {
			continue
		}
		kept = append(kept, d)
	}
	c.queued = kept
}

// checkEvidence reports state's block to the evidence pool.
func (c *Chain) checkEvidence(state *BlockHeaderState) {
	if c.evidence == nil {
		return
	}
	ev := c.evidence.CheckHeader(evidence.SignedHeaderProof{
		Header:              state.Header,
		BlockrootMerkleRoot: state.BlockrootMerkle.Root(),
		PendingScheduleHash: state.PendingSchedule.ScheduleHash,
	})
	c.evidence.Update(state.BlockNum, state.Timestamp())
	if ev == nil {
		return
	}
	c.metrics.DoubleProductionDetected()
	c.log.Warn().
		Str("producer", string(ev.Producer())).
		Stringer("slot", ev.Timestamp()).
		Str("block_a", ev.BlockA.ID().String()).
		Str("block_b", ev.BlockB.ID().String()).
		Msg("double production detected")
	if err := c.evidence.AddEvidence(ev); err != nil {
		c.log.Debug().Err(err).Msg("double production evidence not added")
	}
}

func (c *Chain) logBlock(b *types.SignedBlock) error {
	if c.wal == nil {
		return nil
	}
	msg, err := wal.NewBlockMessage(b)
	if err != nil {
		return fmt.Errorf("%w: block %d: %w", ErrWAL, b.BlockNum(), err)
	}
	return c.logWAL(msg)
}

func (c *Chain) logWAL(msg *wal.Message) error {
	if c.wal == nil {
		return nil
	}
	if err := c.wal.WriteSync(msg); err != nil {
		return fmt.Errorf("%w: %s %d: %w", ErrWAL, msg.Type, msg.BlockNum, err)
	}
	return nil
}

// prune drops states below the last irreversible block.
func (c *Chain) prune() {
	for n := range c.history {
		if n < c.lib {
			delete(c.history, n)
		}
	}
}

func (c *Chain) reject(err error) error {
	c.metrics.BlockRejected(rejectReason(err))
	c.log.Warn().Err(err).Uint32("head", c.head.BlockNum).Msg("block rejected")
	return err
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrTemporalOrder):
		return metrics.ReasonTemporal
	case errors.Is(err, ErrTemplateMismatch):
		return metrics.ReasonTemplate
	case errors.Is(err, ErrSchedule):
		return metrics.ReasonSchedule
	case errors.Is(err, ErrSignature):
		return metrics.ReasonSignature
	case errors.Is(err, confirm.ErrConfirmation):
		return metrics.ReasonConfirmation
	case errors.Is(err, feature.ErrProtocolFeature):
		return metrics.ReasonFeature
	default:
		return metrics.ReasonOther
	}
}

// PopBlocksTo makes block n the head. Blocks at or below the last
// irreversible block cannot be popped.
func (c *Chain) PopBlocksTo(n uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	head := c.head.BlockNum
	if err := c.popLocked(n); err != nil {
		return err
	}
	if n < head {
		return c.logWAL(wal.NewPopMessage(n))
	}
	return nil
}

func (c *Chain) popLocked(n uint32) error {
	if n < c.lib {
		return fmt.Errorf("%w: block %d is below irreversible block %d", ErrIrreversible, n, c.lib)
	}
	target, ok := c.history[n]
	if !ok || n > c.head.BlockNum {
		return fmt.Errorf("%w: %d", ErrUnknownBlock, n)
	}

	popped := int(c.head.BlockNum - n)
	for i := n + 1; i <= c.head.BlockNum; i++ {
		// Pre-activations of popped blocks go back to the queue so the
		// next produced block carries them again.
		if st := c.history[i]; st != nil && st.HeaderExtensions.FeaturePreactivation != nil {
			c.requeue(st.HeaderExtensions.FeaturePreactivation.Features)
		}
		delete(c.history, i)
	}
	if err := c.manager.PoppedBlocksTo(n); err != nil {
		return err
	}
	c.head = target
	c.unqueue(target)

	if popped > 0 {
		c.metrics.BlocksPopped(popped)
		c.log.Info().Uint32("head", n).Int("popped", popped).Msg("popped blocks")
	}
	return nil
}

// PreactivateFeature queues d for pre-activation by the next block this
// chain produces. It stands in for the privileged preactivation action;
// d must be valid for pre-activation on top of the head.
func (c *Chain) PreactivateFeature(d types.Digest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preactivateLocked(d, true)
}

func (c *Chain) preactivateLocked(d types.Digest, logged bool) error {
	validate := feature.NewPreactivationValidator(c.features)
	err := validate(c.head.Timestamp().Next(), c.head.ActivatedFeatures, c.head.PreactivatedFeatures.Extend(c.queued), []types.Digest{d})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPreactivation, err)
	}

	if logged {
		if err := c.logWAL(wal.NewPreactivateMessage(c.head.BlockNum, d)); err != nil {
			return err
		}
	}
	c.requeue([]types.Digest{d})
	f, _ := c.features.Find(d)
	c.log.Info().Str("codename", f.Codename()).Msg("protocol feature pre-activation queued")
	return nil
}

func (c *Chain) requeue(digests []types.Digest) {
	for _, d := range digests {
		if !slices.Contains(c.queued, d) {
			c.queued = append(c.queued, d)
		}
	}
}

// QueuedPreactivations returns the pre-activations waiting for a block.
func (c *Chain) QueuedPreactivations() []types.Digest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.Digest(nil), c.queued...)
}

// Head returns the head state
func (c *Chain) Head() *BlockHeaderState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head
}

// LastIrreversible returns the last irreversible block number
func (c *Chain) LastIrreversible() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lib
}

// StateAt returns the reversible state of block n.
func (c *Chain) StateAt(n uint32) (*BlockHeaderState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.history[n]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBlock, n)
	}
	return s, nil
}

// IsBuiltinActivated reports whether b is active at the head.
func (c *Chain) IsBuiltinActivated(b feature.Builtin) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.manager.IsBuiltinActivated(b, c.head.BlockNum)
}

// ActivatedFeatures returns the feature activation ledger.
func (c *Chain) ActivatedFeatures() []feature.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.manager.Activated()
}

// Features returns the recognized feature set
func (c *Chain) Features() *feature.Set {
	return c.features
}

func names(s types.ProducerAuthoritySchedule) []string {
	out := make([]string, 0, len(s.Producers))
	for _, p := range s.Producers {
		out = append(out, string(p.Name))
	}
	return out
}
