// Package engine implements the block header state machine and the chain
// that drives it.
//
// # Header State
//
// BlockHeaderState is the immutable header-level state after a block: the
// active and pending producer schedules, the block root accumulator, the
// confirmation tracker and the set of activated protocol features. The
// successor of a state is derived in two steps:
//
//	pending, err := state.Next(when, confirmed)            // template
//	header, err := pending.MakeBlockHeader(...)            // producing
//	next, err := pending.FinishNext(signedHeader, sigs, ctx, false)
//
// Next selects the scheduled producer, records its confirmations and
// promotes the pending schedule once the last irreversible block reaches
// it. FinishNext checks the header against the template, validates any
// schedule announcement and feature activations, and verifies the
// signatures against the producer's weighted signing authority. A
// template can be finished once.
//
// # Chain
//
// Chain serializes all writes. It owns the head, the reversible states
// back to the last irreversible block and the protocol feature ledger:
//
//	chain, err := engine.NewChain(engine.Genesis{Producer: "alice", Key: key}, confirm.KindDPoS,
//	    engine.WithLogger(log),
//	    engine.WithSigner(signer),
//	)
//	block, state, err := chain.ProduceBlock(engine.ProduceRequest{})
//	state, err = other.ApplyBlock(block)
//
// PopBlocksTo rewinds reversible blocks and SwitchFork replaces them with
// another branch, restoring the old one if the new branch is invalid.
//
// # Crash Recovery
//
// With WithWAL, every accepted block is synced to the write-ahead log
// before it becomes the head, followed by pops and pre-activations. A
// restarted node builds a chain from the same genesis or snapshot and
// calls ReplayWAL to recover its head, irreversible block and feature
// ledger.
//
// # Double Production
//
// With WithEvidencePool, every new head is checked against the blocks
// seen before. A producer signing two blocks for one slot, usually seen
// when switching forks, yields DoubleProduction evidence.
//
// # Snapshots
//
// FromLegacySnapshotV2 converts the header state stored by version 2
// snapshots. Those predate weighted signing, so the result has a single
// key authority and a DPoS tracker.
//
// # Thread Safety
//
// BlockHeaderState values are shared and must not be modified. A
// PendingBlockHeaderState belongs to one goroutine. Chain is safe for
// concurrent use.
package engine
