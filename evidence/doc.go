// Package evidence detects and collects double-production evidence.
//
// A producer is scheduled for a slot and may sign exactly one block for
// it. Two different blocks signed by the same producer for the same slot,
// typically seen on competing forks, prove that the producer misbehaved.
//
// # Evidence Types
//
// DoubleProduction: two SignedHeaderProofs with the same producer and
// timestamp but different block ids. Each proof carries the block root
// and pending schedule hash the producer signed over, so the signatures
// can be checked without the chain state.
//
// # Detection
//
// Pool.CheckHeader remembers the first block seen per producer and slot
// and returns evidence when a different one arrives:
//
//	if ev := pool.CheckHeader(proof); ev != nil {
//	    pool.AddEvidence(ev)
//	}
//
// # Evidence Validation
//
// VerifyDoubleProduction checks that:
//
//	1. Both blocks name the same producer
//	2. Both blocks claim the same slot
//	3. The blocks differ
//	4. Both producer signatures recover to keys of the producer's
//	   signing authority
//
// # Expiration
//
// Evidence older than Config.MaxAgeBlocks blocks or Config.MaxAge of slot
// time, measured from the head passed to Update, is dropped. Remembered
// headers are bounded by MaxSeenHeaders.
//
// # Thread Safety
//
// Pool is safe for concurrent use.
package evidence
