// Package confirm computes block finality from producer confirmations.
//
// A producer confirms a half-open range of blocks [Low, High) when it
// produces block High-1; the range covers its own block plus the blocks
// it vouches for since it last produced. Two schemes are supported and a
// chain uses exactly one of them for its whole life:
//
// DPoS keeps a bounded window of outstanding confirmation counts, one slot
// per recent block. A block is proposed irreversible once 2/3+1 producers
// have confirmed it, and becomes irreversible once 2/3+1 producers have
// built on top of that proposal.
//
// BFT keeps each producer's confirmed range and finds, by sweeping range
// endpoints, the highest range confirmed by a 2/3+1 quorum. That range is
// proposed; a second sweep over the producers' confirmations of quorum
// ranges yields the irreversible block.
//
// Tracker is the closed union of the two schemes. All operations return
// new values and never modify their receiver, so a speculative
// confirmation can be discarded without cleanup.
package confirm
