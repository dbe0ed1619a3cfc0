package engine

import (
	"fmt"

	"github.com/blockberries/finalberry/confirm"
	"github.com/blockberries/finalberry/feature"
	"github.com/blockberries/finalberry/types"
)

// PendingSchedule is a producer schedule waiting for promotion. It becomes
// active once the last irreversible block reaches ScheduleLIBNum. An empty
// producer list means nothing is pending.
type PendingSchedule struct {
	ScheduleLIBNum uint32
	ScheduleHash   types.Digest
	Schedule       types.ProducerAuthoritySchedule
}

// IsEmpty returns true if no schedule is pending
func (p PendingSchedule) IsEmpty() bool {
	return len(p.Schedule.Producers) == 0
}

func (p PendingSchedule) clone() PendingSchedule {
	return PendingSchedule{
		ScheduleLIBNum: p.ScheduleLIBNum,
		ScheduleHash:   p.ScheduleHash,
		Schedule:       p.Schedule.Clone(),
	}
}

// BlockHeaderState is the header-level chain state after a block. It is
// immutable once returned by FinishNext; successors are derived with Next.
type BlockHeaderState struct {
	ID       types.BlockID
	BlockNum uint32
	Header   types.SignedBlockHeader

	HeaderExtensions types.HeaderExtensions

	// ValidBlockSigningAuthority is the authority that signed this block.
	ValidBlockSigningAuthority types.BlockSigningAuthority

	ActiveSchedule  types.ProducerAuthoritySchedule
	PendingSchedule PendingSchedule

	// BlockrootMerkle accumulates the ids of all blocks before this one.
	BlockrootMerkle types.IncrementalMerkle

	Confirmations     confirm.Tracker
	ActivatedFeatures *feature.ActivationSet
	// PreactivatedFeatures are pre-activated by this block or an ancestor
	// and not activated yet. Nil is empty.
	PreactivatedFeatures *feature.ActivationSet

	AdditionalSignatures []types.Signature
}

// LastIrreversible returns the last irreversible block number
func (s *BlockHeaderState) LastIrreversible() uint32 {
	return s.Confirmations.LastIrreversible()
}

// Timestamp returns the block timestamp
func (s *BlockHeaderState) Timestamp() types.BlockTimestamp {
	return s.Header.Header.Timestamp
}

// Producer returns the block producer
func (s *BlockHeaderState) Producer() types.AccountName {
	return s.Header.Header.Producer
}

// PendingBlockHeaderState is the template for the block after a
// BlockHeaderState. It is produced by Next and consumed once by FinishNext.
type PendingBlockHeaderState struct {
	BlockNum  uint32
	Previous  types.BlockID
	Timestamp types.BlockTimestamp
	Producer  types.AccountName
	Confirmed uint16

	// ActiveScheduleVersion is the schedule version the block header must
	// carry: the version active before any promotion in this block.
	ActiveScheduleVersion uint32

	ValidBlockSigningAuthority types.BlockSigningAuthority
	ActiveSchedule             types.ProducerAuthoritySchedule
	PrevPendingSchedule        PendingSchedule
	BlockrootMerkle            types.IncrementalMerkle
	Confirmations              confirm.Tracker
	PrevActivatedFeatures      *feature.ActivationSet
	PrevPreactivatedFeatures   *feature.ActivationSet

	// WasPendingPromoted is set when this block promotes the pending
	// schedule to active.
	WasPendingPromoted bool

	finished bool
}

// ValidationContext carries the collaborators FinishNext consults.
type ValidationContext struct {
	// Features resolves builtin features. Without it no builtin is
	// considered active.
	Features *feature.Set
	// ValidateActivation checks activations announced by the header. Nil
	// accepts every activation.
	ValidateActivation feature.ActivationValidator
	// ValidatePreactivation checks pre-activations announced by the
	// header. Nil accepts every pre-activation.
	ValidatePreactivation feature.PreactivationValidator
	// Recoverer recovers signing keys. Nil uses types.DefaultRecoverer.
	Recoverer types.KeyRecoverer
}

func (ctx ValidationContext) recoverer() types.KeyRecoverer {
	if ctx.Recoverer == nil {
		return types.DefaultRecoverer
	}
	return ctx.Recoverer
}

func isBuiltinActive(set *feature.Set, active *feature.ActivationSet, b feature.Builtin) bool {
	if set == nil {
		return false
	}
	d, ok := set.BuiltinDigest(b)
	return ok && active.Contains(d)
}

// Next builds the template for the block produced at when, confirming the
// confirmed blocks before it. A zero when selects the slot after this
// block. The receiver is not modified.
func (s *BlockHeaderState) Next(when types.BlockTimestamp, confirmed uint16) (*PendingBlockHeaderState, error) {
	if when == 0 {
		when = s.Timestamp().Next()
	} else if when <= s.Timestamp() {
		return nil, fmt.Errorf("%w: next block at %s must be after %s", ErrTemporalOrder, when, s.Timestamp())
	}

	producer, ok := s.ActiveSchedule.ScheduledProducer(when)
	if !ok {
		return nil, fmt.Errorf("%w: active schedule v%d has no producers", ErrSchedule, s.ActiveSchedule.Version)
	}

	blockNum := s.BlockNum + 1
	if uint32(confirmed) > s.BlockNum {
		return nil, fmt.Errorf("%w: block %d cannot confirm %d prior blocks", confirm.ErrIllegalConfirmation, blockNum, confirmed)
	}

	tracker, err := s.Confirmations.Confirm(producer.Name, confirm.NewRange(blockNum-uint32(confirmed), blockNum+1))
	if err != nil {
		return nil, err
	}

	p := &PendingBlockHeaderState{
		BlockNum:                   blockNum,
		Previous:                   s.ID,
		Timestamp:                  when,
		Producer:                   producer.Name,
		Confirmed:                  confirmed,
		ActiveScheduleVersion:      s.ActiveSchedule.Version,
		ValidBlockSigningAuthority: producer.Authority.Clone(),
		ActiveSchedule:             s.ActiveSchedule.Clone(),
		PrevPendingSchedule:        s.PendingSchedule.clone(),
		BlockrootMerkle:            s.BlockrootMerkle.Append(s.ID),
		Confirmations:              tracker,
		PrevActivatedFeatures:      s.ActivatedFeatures,
		PrevPreactivatedFeatures:   s.PreactivatedFeatures,
	}

	if !s.PendingSchedule.IsEmpty() && tracker.LastIrreversible() >= s.PendingSchedule.ScheduleLIBNum {
		p.ActiveSchedule = s.PendingSchedule.Schedule.Clone()
		p.Confirmations, err = tracker.SetProducers(p.ActiveSchedule.Names())
		if err != nil {
			return nil, err
		}
		p.WasPendingPromoted = true
	}
	return p, nil
}

// MakeBlockHeader fills the templated header fields. A new producer
// schedule is announced through the schedule change extension once
// weighted block signing is active and through the legacy field before.
// preactivations may be activated by a later block.
func (p *PendingBlockHeaderState) MakeBlockHeader(
	transactionMRoot, actionMRoot types.Digest,
	newProducers *types.ProducerAuthoritySchedule,
	newFeatures []types.Digest,
	preactivations []types.Digest,
	features *feature.Set,
) (types.BlockHeader, error) {
	h := types.BlockHeader{
		Timestamp:        p.Timestamp,
		Producer:         p.Producer,
		Confirmed:        p.Confirmed,
		Previous:         p.Previous,
		TransactionMRoot: transactionMRoot,
		ActionMRoot:      actionMRoot,
		ScheduleVersion:  p.ActiveScheduleVersion,
	}

	if len(newFeatures) > 0 {
		ext, err := types.EncodeHeaderExtension(&types.ProtocolFeatureActivation{
			Features: append([]types.Digest(nil), newFeatures...),
		})
		if err != nil {
			return types.BlockHeader{}, err
		}
		h.Extensions = append(h.Extensions, ext)
	}

	if newProducers != nil {
		if isBuiltinActive(features, p.PrevActivatedFeatures, feature.WTMsigBlockSignatures) {
			ext, err := types.EncodeHeaderExtension(&types.ProducerScheduleChange{Schedule: newProducers.Clone()})
			if err != nil {
				return types.BlockHeader{}, err
			}
			h.Extensions = append(h.Extensions, ext)
		} else {
			legacy, err := newProducers.ToLegacy()
			if err != nil {
				return types.BlockHeader{}, fmt.Errorf("%w: %v", ErrSchedule, err)
			}
			h.NewProducers = &legacy
		}
	}

	if len(preactivations) > 0 {
		ext, err := types.EncodeHeaderExtension(&types.ProtocolFeaturePreactivation{
			Features: append([]types.Digest(nil), preactivations...),
		})
		if err != nil {
			return types.BlockHeader{}, err
		}
		h.Extensions = append(h.Extensions, ext)
	}
	return h, nil
}

// FinishNext validates h against the template and returns the resulting
// state. Unless skipSignee is set the producer signature and
// additionalSigs must satisfy the producer's signing authority.
func (p *PendingBlockHeaderState) FinishNext(
	h types.SignedBlockHeader,
	additionalSigs []types.Signature,
	ctx ValidationContext,
	skipSignee bool,
) (*BlockHeaderState, error) {
	if p.finished {
		return nil, ErrTemplateConsumed
	}
	if len(additionalSigs) > 0 && !isBuiltinActive(ctx.Features, p.PrevActivatedFeatures, feature.WTMsigBlockSignatures) {
		return nil, fmt.Errorf("%w: block carries %d additional signatures before weighted block signing is active", ErrSchedule, len(additionalSigs))
	}

	result, err := p.finish(h, ctx)
	if err != nil {
		return nil, err
	}
	result.AdditionalSignatures = append([]types.Signature(nil), additionalSigs...)

	if !skipSignee {
		if err := result.VerifySignee(ctx.recoverer()); err != nil {
			return nil, err
		}
	}
	p.finished = true
	return result, nil
}

// FinishNextSigned validates h, signs the resulting state with signer and
// writes the producer signature back into h.
func (p *PendingBlockHeaderState) FinishNextSigned(
	h *types.BlockHeader,
	ctx ValidationContext,
	signer Signer,
) (*BlockHeaderState, error) {
	if p.finished {
		return nil, ErrTemplateConsumed
	}
	if signer == nil {
		return nil, ErrNoSigner
	}

	result, err := p.finish(types.SignedBlockHeader{Header: h.Clone()}, ctx)
	if err != nil {
		return nil, err
	}
	if err := result.Sign(signer, ctx.recoverer()); err != nil {
		return nil, err
	}
	if len(result.AdditionalSignatures) > 0 && !isBuiltinActive(ctx.Features, p.PrevActivatedFeatures, feature.WTMsigBlockSignatures) {
		return nil, fmt.Errorf("%w: signer returned %d additional signatures before weighted block signing is active", ErrSchedule, len(result.AdditionalSignatures))
	}
	p.finished = true
	return result, nil
}

func (p *PendingBlockHeaderState) finish(h types.SignedBlockHeader, ctx ValidationContext) (*BlockHeaderState, error) {
	hdr := &h.Header
	switch {
	case hdr.Timestamp != p.Timestamp:
		return nil, mismatch("timestamp", p.Timestamp, hdr.Timestamp)
	case hdr.Previous != p.Previous:
		return nil, mismatch("previous", p.Previous, hdr.Previous)
	case hdr.Confirmed != p.Confirmed:
		return nil, mismatch("confirmed", p.Confirmed, hdr.Confirmed)
	case hdr.Producer != p.Producer:
		return nil, mismatch("producer", p.Producer, hdr.Producer)
	case hdr.ScheduleVersion != p.ActiveScheduleVersion:
		return nil, mismatch("schedule_version", p.ActiveScheduleVersion, hdr.ScheduleVersion)
	}

	exts, err := types.ExtractHeaderExtensions(hdr.Extensions)
	if err != nil {
		return nil, err
	}

	newSchedule, newHash, err := p.announcedSchedule(hdr, exts, ctx.Features)
	if err != nil {
		return nil, err
	}

	activated, preactivated := p.PrevActivatedFeatures, p.PrevPreactivatedFeatures
	if exts.FeatureActivation != nil && len(exts.FeatureActivation.Features) > 0 {
		proposed := exts.FeatureActivation.Features
		if ctx.ValidateActivation != nil {
			if err := ctx.ValidateActivation(p.Timestamp, p.PrevActivatedFeatures, proposed); err != nil {
				return nil, err
			}
		}
		activated = p.PrevActivatedFeatures.Extend(proposed)
		preactivated = preactivated.Remove(proposed)
	}
	// Pre-activations take effect after the block's own activations.
	if exts.FeaturePreactivation != nil && len(exts.FeaturePreactivation.Features) > 0 {
		proposed := exts.FeaturePreactivation.Features
		if ctx.ValidatePreactivation != nil {
			if err := ctx.ValidatePreactivation(p.Timestamp, activated, preactivated, proposed); err != nil {
				return nil, err
			}
		}
		preactivated = preactivated.Extend(proposed)
	}

	result := &BlockHeaderState{
		ID:                         hdr.ID(),
		BlockNum:                   p.BlockNum,
		Header:                     types.SignedBlockHeader{Header: hdr.Clone(), ProducerSignature: h.ProducerSignature},
		HeaderExtensions:           exts,
		ValidBlockSigningAuthority: p.ValidBlockSigningAuthority,
		ActiveSchedule:             p.ActiveSchedule,
		BlockrootMerkle:            p.BlockrootMerkle,
		Confirmations:              p.Confirmations,
		ActivatedFeatures:          activated,
		PreactivatedFeatures:       preactivated,
	}

	switch {
	case newSchedule != nil:
		result.PendingSchedule = PendingSchedule{
			ScheduleLIBNum: p.BlockNum,
			ScheduleHash:   newHash,
			Schedule:       *newSchedule,
		}
	case p.WasPendingPromoted:
		result.PendingSchedule = PendingSchedule{
			ScheduleLIBNum: p.PrevPendingSchedule.ScheduleLIBNum,
			ScheduleHash:   p.PrevPendingSchedule.ScheduleHash,
			Schedule:       types.ProducerAuthoritySchedule{Version: p.PrevPendingSchedule.Schedule.Version},
		}
	default:
		result.PendingSchedule = p.PrevPendingSchedule
	}
	return result, nil
}

// announcedSchedule returns the schedule announced by the header, if any,
// with the digest it is committed under.
func (p *PendingBlockHeaderState) announcedSchedule(
	hdr *types.BlockHeader,
	exts types.HeaderExtensions,
	features *feature.Set,
) (*types.ProducerAuthoritySchedule, types.Digest, error) {
	if hdr.NewProducers == nil && exts.ScheduleChange == nil {
		return nil, types.Digest{}, nil
	}

	wtmsig := isBuiltinActive(features, p.PrevActivatedFeatures, feature.WTMsigBlockSignatures)
	var (
		schedule types.ProducerAuthoritySchedule
		hash     types.Digest
	)
	if hdr.NewProducers != nil {
		if wtmsig {
			return nil, hash, fmt.Errorf("%w: legacy schedule field used after weighted block signing activation", ErrSchedule)
		}
		schedule = hdr.NewProducers.ToAuthority()
		hash = hdr.NewProducers.Hash()
	}
	if exts.ScheduleChange != nil {
		if !wtmsig {
			return nil, hash, fmt.Errorf("%w: schedule change extension before weighted block signing activation", ErrSchedule)
		}
		schedule = exts.ScheduleChange.Schedule
		hash = schedule.Hash()
	}

	if p.WasPendingPromoted {
		return nil, hash, fmt.Errorf("%w: cannot announce a schedule in the block that promotes the pending one", ErrSchedule)
	}
	if want := p.ActiveSchedule.Version + 1; schedule.Version != want {
		return nil, hash, fmt.Errorf("%w: announced version %d, expected %d", ErrSchedule, schedule.Version, want)
	}
	if !p.PrevPendingSchedule.IsEmpty() {
		return nil, hash, fmt.Errorf("%w: schedule v%d is still pending", ErrSchedule, p.PrevPendingSchedule.Schedule.Version)
	}
	if len(schedule.Producers) == 0 && isBuiltinActive(features, p.PrevActivatedFeatures, feature.DisallowEmptyProducerSchedule) {
		return nil, hash, fmt.Errorf("%w: empty producer schedule", ErrSchedule)
	}
	if err := schedule.ValidateBasic(); err != nil {
		return nil, hash, fmt.Errorf("%w: %v", ErrSchedule, err)
	}
	return &schedule, hash, nil
}

// NextFromHeader derives the template from the header's own timestamp and
// confirmation count and finishes it.
func (s *BlockHeaderState) NextFromHeader(
	h types.SignedBlockHeader,
	additionalSigs []types.Signature,
	ctx ValidationContext,
	skipSignee bool,
) (*BlockHeaderState, error) {
	if h.Header.Timestamp <= s.Timestamp() {
		return nil, fmt.Errorf("%w: block at %s must be after %s", ErrTemporalOrder, h.Header.Timestamp, s.Timestamp())
	}
	p, err := s.Next(h.Header.Timestamp, h.Header.Confirmed)
	if err != nil {
		return nil, err
	}
	return p.FinishNext(h, additionalSigs, ctx, skipSignee)
}
