package evidence

import (
	"bytes"
	"fmt"

	"github.com/blockberries/finalberry/types"
)

// SignedHeaderProof is a signed header together with the inputs of the
// digest its producer signed.
type SignedHeaderProof struct {
	_                   struct{} `cbor:",toarray"`
	Header              types.SignedBlockHeader
	BlockrootMerkleRoot types.Digest
	PendingScheduleHash types.Digest
}

// SigDigest returns the digest the producer signed
func (p *SignedHeaderProof) SigDigest() types.Digest {
	return types.BlockSigDigest(p.Header.Header.Digest(), p.BlockrootMerkleRoot, p.PendingScheduleHash)
}

// ID returns the id of the block
func (p *SignedHeaderProof) ID() types.BlockID {
	return p.Header.Header.ID()
}

// DoubleProduction proves that a producer signed two different blocks for
// the same slot.
type DoubleProduction struct {
	_      struct{} `cbor:",toarray"`
	BlockA SignedHeaderProof
	BlockB SignedHeaderProof
}

// NewDoubleProduction orders a and b by block id so that the same pair
// always yields the same evidence.
func NewDoubleProduction(a, b SignedHeaderProof) *DoubleProduction {
	ida, idb := a.ID(), b.ID()
	if bytes.Compare(ida[:], idb[:]) > 0 {
		a, b = b, a
	}
	return &DoubleProduction{BlockA: a, BlockB: b}
}

// Producer returns the accused producer
func (ev *DoubleProduction) Producer() types.AccountName {
	return ev.BlockA.Header.Header.Producer
}

// Timestamp returns the slot both blocks claim
func (ev *DoubleProduction) Timestamp() types.BlockTimestamp {
	return ev.BlockA.Header.Header.Timestamp
}

// BlockNum returns the lower block number of the two blocks
func (ev *DoubleProduction) BlockNum() uint32 {
	return min(ev.BlockA.Header.Header.BlockNum(), ev.BlockB.Header.Header.BlockNum())
}

// Bytes returns the canonical encoding of the evidence
func (ev *DoubleProduction) Bytes() ([]byte, error) {
	return types.Encode(ev)
}

// Hash identifies the evidence
func (ev *DoubleProduction) Hash() types.Digest {
	return types.HashPair(ev.BlockA.ID(), ev.BlockB.ID())
}

func (ev *DoubleProduction) String() string {
	return fmt.Sprintf("DoubleProduction{%s@%s %s/%s}", ev.Producer(), ev.Timestamp(), ev.BlockA.ID(), ev.BlockB.ID())
}

// ValidateBasic checks the evidence without verifying signatures
func (ev *DoubleProduction) ValidateBasic() error {
	a, b := &ev.BlockA.Header.Header, &ev.BlockB.Header.Header
	if a.Producer != b.Producer {
		return fmt.Errorf("%w: %s and %s", ErrDifferentProducer, a.Producer, b.Producer)
	}
	if a.Timestamp != b.Timestamp {
		return fmt.Errorf("%w: %s and %s", ErrDifferentSlot, a.Timestamp, b.Timestamp)
	}
	if ev.BlockA.ID() == ev.BlockB.ID() {
		return ErrSameBlock
	}
	return nil
}

// VerifyDoubleProduction verifies that both blocks of ev were signed by a
// key of auth, the signing authority of the accused producer.
func VerifyDoubleProduction(ev *DoubleProduction, auth types.BlockSigningAuthority, recoverer types.KeyRecoverer) error {
	if err := ev.ValidateBasic(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvidence, err)
	}
	if recoverer == nil {
		recoverer = types.DefaultRecoverer
	}

	for _, p := range []*SignedHeaderProof{&ev.BlockA, &ev.BlockB} {
		key, err := recoverer.RecoverKey(p.Header.ProducerSignature, p.SigDigest())
		if err != nil {
			return fmt.Errorf("%w: block %s: %v", ErrInvalidEvidence, p.ID(), err)
		}
		if relevant, _ := auth.KeysSatisfyAndRelevant(map[types.PublicKey]struct{}{key: {}}); relevant != 1 {
			return fmt.Errorf("%w: block %s signed by %s", ErrUnauthorizedKey, p.ID(), key)
		}
	}
	return nil
}
