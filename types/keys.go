package types

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	lru "github.com/hashicorp/golang-lru/v2"
)

// PublicKeySize is the size of a compressed secp256k1 public key
const PublicKeySize = 33

// SignatureSize is the size of a compact recoverable signature
const SignatureSize = 65

// Errors
var (
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// PublicKey is a compressed secp256k1 public key.
type PublicKey [PublicKeySize]byte

// Signature is a compact recoverable secp256k1 signature.
type Signature [SignatureSize]byte

// NewPublicKey creates a PublicKey from bytes, returning error if the bytes
// are not a valid compressed point.
func NewPublicKey(data []byte) (PublicKey, error) {
	var pk PublicKey
	if len(data) != PublicKeySize {
		return pk, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, PublicKeySize, len(data))
	}
	if _, err := btcec.ParsePubKey(data); err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	copy(pk[:], data)
	return pk, nil
}

// PublicKeyFromHex parses a hex-encoded compressed public key.
func PublicKeyFromHex(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return NewPublicKey(b)
}

// PublicKeyOf returns the compressed public key of a private key.
func PublicKeyOf(priv *btcec.PrivateKey) PublicKey {
	var pk PublicKey
	copy(pk[:], priv.PubKey().SerializeCompressed())
	return pk
}

// String returns the hex encoding of the key
func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// MarshalText implements encoding.TextMarshaler
func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := PublicKeyFromHex(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// String returns the hex encoding of the signature
func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

// SignDigest produces a compact recoverable signature over digest.
func SignDigest(priv *btcec.PrivateKey, digest Digest) (Signature, error) {
	var sig Signature
	raw, err := ecdsa.SignCompact(priv, digest[:], true)
	if err != nil {
		return sig, fmt.Errorf("sign digest: %w", err)
	}
	if len(raw) != SignatureSize {
		return sig, fmt.Errorf("%w: compact signature is %d bytes", ErrInvalidSignature, len(raw))
	}
	copy(sig[:], raw)
	return sig, nil
}

// RecoverKey recovers the public key that produced sig over digest.
func RecoverKey(sig Signature, digest Digest) (PublicKey, error) {
	pub, _, err := ecdsa.RecoverCompact(sig[:], digest[:])
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	var pk PublicKey
	copy(pk[:], pub.SerializeCompressed())
	return pk, nil
}

// KeyRecoverer recovers signing keys from signatures.
type KeyRecoverer interface {
	RecoverKey(sig Signature, digest Digest) (PublicKey, error)
}

// RecoverFunc adapts a function to the KeyRecoverer interface.
type RecoverFunc func(sig Signature, digest Digest) (PublicKey, error)

// RecoverKey calls f(sig, digest).
func (f RecoverFunc) RecoverKey(sig Signature, digest Digest) (PublicKey, error) {
	return f(sig, digest)
}

// DefaultRecoverer recovers keys with secp256k1 public-key recovery.
var DefaultRecoverer KeyRecoverer = RecoverFunc(RecoverKey)

type recoveryKey struct {
	sig    Signature
	digest Digest
}

// CachedRecoverer memoizes key recovery. The same block signature is
// usually recovered several times (production, application, replay).
// Safe for concurrent use.
type CachedRecoverer struct {
	next  KeyRecoverer
	cache *lru.Cache[recoveryKey, PublicKey]
}

var _ KeyRecoverer = (*CachedRecoverer)(nil)

// NewCachedRecoverer wraps next with an LRU cache holding size entries.
func NewCachedRecoverer(next KeyRecoverer, size int) (*CachedRecoverer, error) {
	if next == nil {
		next = DefaultRecoverer
	}
	cache, err := lru.New[recoveryKey, PublicKey](size)
	if err != nil {
		return nil, fmt.Errorf("create key cache: %w", err)
	}
	return &CachedRecoverer{next: next, cache: cache}, nil
}

// RecoverKey returns the cached key or recovers and caches it.
// Failed recoveries are not cached.
func (c *CachedRecoverer) RecoverKey(sig Signature, digest Digest) (PublicKey, error) {
	k := recoveryKey{sig: sig, digest: digest}
	if pk, ok := c.cache.Get(k); ok {
		return pk, nil
	}
	pk, err := c.next.RecoverKey(sig, digest)
	if err != nil {
		return PublicKey{}, err
	}
	c.cache.Add(k, pk)
	return pk, nil
}

// Len returns the number of cached recoveries
func (c *CachedRecoverer) Len() int {
	return c.cache.Len()
}
