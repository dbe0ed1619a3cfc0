// Package wal implements a write-ahead log of the blocks a chain accepts.
//
// The chain holds its reversible header states in memory only. Every block
// it accepts is written to the WAL and synced before the block becomes the
// head, so that after a restart the WAL can be replayed on top of genesis
// (or the snapshot the chain started from) to rebuild the same head, the
// same irreversible block and the same feature ledger.
//
// # Message Types
//
//	- MsgTypeBlock: a signed block accepted as the new head
//	- MsgTypePop: the head was popped back to BlockNum
//	- MsgTypePreactivate: a feature was pre-activated on top of BlockNum
//
// # File Format
//
// Each entry is encoded as:
//
//	[4 bytes: length][N bytes: CBOR-encoded message][4 bytes: CRC32]
//
// The length prefix enables fast seeking and validation.
// CRC32 detects corruption from incomplete writes or disk errors. A record
// cut short by a crash reads as io.ErrUnexpectedEOF.
//
// # Rotation
//
// Segments are rotated once they reach the configured size:
//
//	wal-00000
//	wal-00001
//
// # Thread Safety
//
// FileWAL uses internal locking to ensure thread-safe writes from multiple
// goroutines. However, only one WAL instance should write to a directory.
//
// # Usage Example
//
//	w, err := wal.NewFileWAL("./data/wal")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := w.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
//	chain, err := engine.NewChain(genesis, confirm.KindDPoS, engine.WithWAL(w))
//	if r, err := wal.OpenWALForReading("./data/wal"); err == nil {
//	    _, err = chain.ReplayWAL(r)
//	    r.Close()
//	}
package wal
