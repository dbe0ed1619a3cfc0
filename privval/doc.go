// Package privval implements block signers with double-production
// prevention.
//
// A block signer holds the secp256k1 private keys a producer signs blocks
// with. A producer with a weighted multi-key authority holds several keys;
// the last key produces the primary signature and the others are carried
// as additional block signatures.
//
// # Double-Production Prevention
//
// LastSignState tracks the last block slot signed. Before signing, the
// signer checks:
//
//	1. Never sign two different blocks for the same slot
//	2. Never regress to an earlier slot (after restart)
//	3. Persist state BEFORE returning signatures
//
// Re-signing the block signed last returns the stored signatures.
//
// # Implementations
//
// KeySigner keeps keys and watermark in memory. FilePV keeps them in two
// files:
//
//	- key.json: hex encoded public and private keys (rarely changes)
//	- state.json: LastSignState (updated on every signature)
//
// Both files are written to a temporary file and renamed into place, with
// 0600 permissions inside a 0700 directory.
//
// key.json:
//
//	{
//	  "pub_keys": ["02a2b5..."],
//	  "priv_keys": ["f3c1d2..."]
//	}
//
// state.json:
//
//	{
//	  "block_num": 100,
//	  "timestamp": 725040012,
//	  "digest": "a1b2c3...",
//	  "signatures": ["1f8a..."]
//	}
//
// # Usage Example
//
//	pv, err := privval.NewFilePV("key.json", "state.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	block, _, err := chain.ProduceBlock(engine.ProduceRequest{
//	    Timestamp: slot,
//	    Signer:    privval.SignerFor(pv, head.BlockNum+1, slot),
//	})
//
// # Thread Safety
//
// Signers use internal locking to prevent concurrent signing. Only one
// FilePV instance should access the same key/state files.
package privval
