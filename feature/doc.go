// Package feature manages protocol features: opt-in, digest-identified
// changes to consensus rules.
//
// # Catalog
//
// The builtin catalog is a fixed table, built once at process start, that
// maps every Builtin to its codename, description, declared dependencies
// and default subjective restrictions. Builtin ordinals never change.
//
// # Set
//
// A Set holds the features this node recognizes. A feature digest covers
// the feature type, the digest of its description, its sorted dependency
// digests and its codename. AddFeature only accepts a feature whose
// dependencies are already registered and cover every builtin the catalog
// says it depends on, so a set can never contain a feature that could not
// be activated. NewDefaultSet registers the whole catalog.
//
// # Activation
//
// Blocks activate features through a header extension. An
// ActivationValidator checks each proposed digest against the Set and the
// ActivationSet in effect before the block. ActivationSet values are
// immutable and shared between consecutive block header states.
//
// # Manager
//
// Manager is the ledger of activations, ordered by non-decreasing block
// number. Each builtin has a slot with its activation block and the
// ordinal of the builtin activated before it, forming a reverse history.
// PoppedBlocksTo walks that history from the most recent activation and
// truncates the ledger when the chain is rewound, so a fork switch undoes
// exactly the activations that are no longer on the chain.
//
// Manager mutates in place and is not safe for concurrent use.
package feature
