package engine

import (
	"fmt"

	"github.com/blockberries/finalberry/types"
)

// Signer signs a block digest. It returns one or more signatures; the last
// one is the primary producer signature and the rest are additional
// signatures for multi-key authorities.
type Signer func(digest types.Digest) ([]types.Signature, error)

// SigDigest returns the digest producers sign for this block.
func (s *BlockHeaderState) SigDigest() types.Digest {
	return types.BlockSigDigest(s.Header.Header.Digest(), s.BlockrootMerkle.Root(), s.PendingSchedule.ScheduleHash)
}

// Sign asks signer for signatures over SigDigest, installs them and
// verifies them against the signing authority. Only call Sign on a state
// that has not been shared yet.
func (s *BlockHeaderState) Sign(signer Signer, recoverer types.KeyRecoverer) error {
	if signer == nil {
		return ErrNoSigner
	}
	sigs, err := signer(s.SigDigest())
	if err != nil {
		return fmt.Errorf("%w: signer failed: %v", ErrSignature, err)
	}
	if len(sigs) == 0 {
		return fmt.Errorf("%w: signer returned no signatures", ErrSignature)
	}

	s.Header.ProducerSignature = sigs[len(sigs)-1]
	s.AdditionalSignatures = append([]types.Signature(nil), sigs[:len(sigs)-1]...)
	return s.VerifySignee(recoverer)
}

// VerifySignee checks that the producer signature and additional
// signatures come from distinct keys that all belong to the signing
// authority and together satisfy its threshold.
func (s *BlockHeaderState) VerifySignee(recoverer types.KeyRecoverer) error {
	if recoverer == nil {
		recoverer = types.DefaultRecoverer
	}
	auth := s.ValidBlockSigningAuthority

	numKeys := len(auth.Keys)
	numSigs := 1 + len(s.AdditionalSignatures)
	if numSigs > numKeys {
		return fmt.Errorf("%w: %d signatures for an authority with %d keys", ErrSignature, numSigs, numKeys)
	}

	digest := s.SigDigest()
	keys := make(map[types.PublicKey]struct{}, numSigs)

	primary, err := recoverer.RecoverKey(s.Header.ProducerSignature, digest)
	if err != nil {
		return fmt.Errorf("%w: producer signature: %v", ErrSignature, err)
	}
	keys[primary] = struct{}{}

	for i, sig := range s.AdditionalSignatures {
		key, err := recoverer.RecoverKey(sig, digest)
		if err != nil {
			return fmt.Errorf("%w: additional signature %d: %v", ErrSignature, i, err)
		}
		if _, dup := keys[key]; dup {
			return fmt.Errorf("%w: duplicate signing key %s", ErrSignature, key)
		}
		keys[key] = struct{}{}
	}

	relevant, satisfied := auth.KeysSatisfyAndRelevant(keys)
	if relevant != len(keys) {
		return fmt.Errorf("%w: block signed by unexpected key (%d of %d keys belong to %s)", ErrSignature, relevant, len(keys), s.Producer())
	}
	if !satisfied {
		return fmt.Errorf("%w: signatures do not satisfy the signing authority of %s", ErrSignature, s.Producer())
	}
	return nil
}
