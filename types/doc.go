// Package types defines the core data structures of the finality engine.
//
// # Core Types
//
// BlockHeader: The signed portion of a block. Carries the slot timestamp,
// the producer, the number of prior blocks it confirms, the parent id, the
// payload roots, the active schedule version and an ordered list of
// extensions.
//
// ProducerAuthoritySchedule: A versioned, ordered producer set. Each
// producer signs with a weighted threshold authority
// (BlockSigningAuthority). LegacyProducerSchedule is the single-key form
// used before weighted block signing is activated.
//
// BlockTimestamp: A slot counter. Slots are 500ms long and counted from
// 2000-01-01T00:00:00Z. Producers own ProducerRepetitions consecutive slots
// per round.
//
// IncrementalMerkle: An append-only accumulator over all prior block ids.
//
// # Identity
//
// Digests are SHA-256. Structured values are hashed over their canonical
// CBOR encoding (core deterministic encoding), so every node computes the
// same digest for the same value. A BlockID is the header digest with the
// block number stamped into its first four bytes.
//
// # Keys and Signatures
//
// Producers sign with secp256k1 keys. Signatures are 65-byte compact
// recoverable signatures, so verification recovers the signing key from
// the signature and the digest instead of being handed the key.
// CachedRecoverer memoizes recoveries.
//
// # Extensions
//
// Headers carry an ordered list of (id, payload) extensions. Id 0 lists
// newly activated protocol features, id 1 announces a new producer
// schedule. Blocks carry extension id 2 with additional producer
// signatures. Ids must be non-decreasing; unknown ids are preserved and
// ignored.
//
// # Immutability
//
// Values returned from this package are safe to share once constructed.
// Methods that derive a new value (IncrementalMerkle.Append, Clone) never
// modify the receiver.
package types
