package types

import (
	"errors"
	"fmt"
)

// AccountName identifies a producer.
type AccountName string

// SystemProducer is the signer assumed when no producer set has been
// installed.
const SystemProducer AccountName = "system"

// Errors
var (
	ErrInvalidAuthority = errors.New("invalid block signing authority")
)

// KeyWeight is one key of a weighted authority.
type KeyWeight struct {
	_      struct{} `cbor:",toarray"`
	Key    PublicKey
	Weight uint16
}

// BlockSigningAuthority is a weighted threshold over signing keys. A set of
// keys satisfies it when the sum of their weights reaches Threshold.
type BlockSigningAuthority struct {
	_         struct{} `cbor:",toarray"`
	Threshold uint32
	Keys      []KeyWeight
}

// NewSingleKeyAuthority returns the authority {threshold 1, [{key, 1}]}.
func NewSingleKeyAuthority(key PublicKey) BlockSigningAuthority {
	return BlockSigningAuthority{
		Threshold: 1,
		Keys:      []KeyWeight{{Key: key, Weight: 1}},
	}
}

// ValidateBasic checks that the authority is satisfiable and has no
// duplicate keys.
func (a BlockSigningAuthority) ValidateBasic() error {
	if a.Threshold == 0 {
		return fmt.Errorf("%w: zero threshold", ErrInvalidAuthority)
	}
	if len(a.Keys) == 0 {
		return fmt.Errorf("%w: no keys", ErrInvalidAuthority)
	}

	seen := make(map[PublicKey]struct{}, len(a.Keys))
	var total uint64
	for _, kw := range a.Keys {
		if kw.Weight == 0 {
			return fmt.Errorf("%w: key %s has zero weight", ErrInvalidAuthority, kw.Key)
		}
		if _, dup := seen[kw.Key]; dup {
			return fmt.Errorf("%w: duplicate key %s", ErrInvalidAuthority, kw.Key)
		}
		seen[kw.Key] = struct{}{}
		total += uint64(kw.Weight)
	}
	if total < uint64(a.Threshold) {
		return fmt.Errorf("%w: total weight %d below threshold %d", ErrInvalidAuthority, total, a.Threshold)
	}
	return nil
}

// IsSingleKey returns true if the authority is equivalent to one plain
// signing key and can be expressed in a legacy schedule.
func (a BlockSigningAuthority) IsSingleKey() bool {
	return len(a.Keys) == 1 && a.Threshold > 0 && uint32(a.Keys[0].Weight) >= a.Threshold
}

// KeysSatisfyAndRelevant reports how many of the given keys belong to the
// authority and whether their combined weight reaches the threshold.
func (a BlockSigningAuthority) KeysSatisfyAndRelevant(keys map[PublicKey]struct{}) (relevant int, satisfied bool) {
	var total uint64
	for _, kw := range a.Keys {
		if _, ok := keys[kw.Key]; ok {
			total += uint64(kw.Weight)
			relevant++
		}
	}
	return relevant, total >= uint64(a.Threshold)
}

// Clone returns a deep copy of the authority
func (a BlockSigningAuthority) Clone() BlockSigningAuthority {
	keys := make([]KeyWeight, len(a.Keys))
	copy(keys, a.Keys)
	return BlockSigningAuthority{Threshold: a.Threshold, Keys: keys}
}
