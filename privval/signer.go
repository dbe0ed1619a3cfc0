package privval

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/blockberries/finalberry/types"
)

// Errors
var (
	ErrDoubleSign          = errors.New("double sign attempt")
	ErrTimestampRegression = errors.New("block timestamp regression")
	ErrNoKeys              = errors.New("no signing keys")
)

// BlockSigner signs block digests on behalf of a producer.
type BlockSigner interface {
	// PublicKeys returns the signing keys. The last key produces the
	// primary signature.
	PublicKeys() []types.PublicKey

	// SignBlock signs the digest of the block at ts, refusing to sign a
	// second block for the same or an earlier slot.
	SignBlock(blockNum uint32, ts types.BlockTimestamp, digest types.Digest) ([]types.Signature, error)
}

// SignerFor returns the digest signer for one block. It can be passed as
// the signer of an engine produce request.
func SignerFor(s BlockSigner, blockNum uint32, ts types.BlockTimestamp) func(types.Digest) ([]types.Signature, error) {
	return func(d types.Digest) ([]types.Signature, error) {
		return s.SignBlock(blockNum, ts, d)
	}
}

// Authority returns the block signing authority that requires every key
// of s.
func Authority(s BlockSigner) types.BlockSigningAuthority {
	keys := s.PublicKeys()
	auth := types.BlockSigningAuthority{Threshold: uint32(len(keys))}
	for _, k := range keys {
		auth.Keys = append(auth.Keys, types.KeyWeight{Key: k, Weight: 1})
	}
	return auth
}

// LastSignState tracks the last block signed, for double-production
// prevention.
type LastSignState struct {
	BlockNum   uint32
	Timestamp  types.BlockTimestamp
	Digest     types.Digest
	Signatures []types.Signature
}

// CheckBlock checks if signing a block at ts would be a double sign.
// Returns nil if signing is allowed, an error otherwise
func (lss *LastSignState) CheckBlock(ts types.BlockTimestamp) error {
	if lss.Signatures == nil {
		return nil
	}
	if ts < lss.Timestamp {
		return fmt.Errorf("%w: slot %s before last signed slot %s", ErrTimestampRegression, ts, lss.Timestamp)
	}
	if ts == lss.Timestamp {
		return ErrDoubleSign
	}
	return nil
}

// isSameBlock reports whether digest is the block signed last at ts.
func (lss *LastSignState) isSameBlock(ts types.BlockTimestamp, digest types.Digest) bool {
	return lss.Signatures != nil && lss.Timestamp == ts && lss.Digest == digest
}

// KeySigner signs with in-memory keys and keeps its watermark in memory.
// Safe for concurrent use.
type KeySigner struct {
	keys []*btcec.PrivateKey
	pubs []types.PublicKey

	guard signGuard
}

var _ BlockSigner = (*KeySigner)(nil)

// NewKeySigner returns a signer over keys. The last key produces the
// primary signature.
func NewKeySigner(keys ...*btcec.PrivateKey) (*KeySigner, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	ks := &KeySigner{keys: keys}
	for _, k := range keys {
		ks.pubs = append(ks.pubs, types.PublicKeyOf(k))
	}
	return ks, nil
}

// GenerateKeySigner returns a signer over n new keys.
func GenerateKeySigner(n int) (*KeySigner, error) {
	keys := make([]*btcec.PrivateKey, 0, n)
	for i := 0; i < n; i++ {
		k, err := btcec.NewPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
		keys = append(keys, k)
	}
	return NewKeySigner(keys...)
}

// PublicKeys returns the signing keys
func (ks *KeySigner) PublicKeys() []types.PublicKey {
	return append([]types.PublicKey(nil), ks.pubs...)
}

// Sign signs digest with every key, without a watermark check.
func (ks *KeySigner) Sign(digest types.Digest) ([]types.Signature, error) {
	return signAll(ks.keys, digest)
}

// SignBlock signs a block, checking for double-sign
func (ks *KeySigner) SignBlock(blockNum uint32, ts types.BlockTimestamp, digest types.Digest) ([]types.Signature, error) {
	return ks.guard.sign(blockNum, ts, digest, func() ([]types.Signature, error) {
		return signAll(ks.keys, digest)
	}, nil)
}

// LastSignState returns a copy of the watermark
func (ks *KeySigner) LastSignState() LastSignState {
	return ks.guard.last()
}

func signAll(keys []*btcec.PrivateKey, digest types.Digest) ([]types.Signature, error) {
	sigs := make([]types.Signature, 0, len(keys))
	for _, k := range keys {
		sig, err := types.SignDigest(k, digest)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}
