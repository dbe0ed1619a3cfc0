package types

// BlockHeader is the signed portion of a block.
type BlockHeader struct {
	_                struct{} `cbor:",toarray"`
	Timestamp        BlockTimestamp
	Producer         AccountName
	Confirmed        uint16
	Previous         BlockID
	TransactionMRoot Digest
	ActionMRoot      Digest
	ScheduleVersion  uint32
	NewProducers     *LegacyProducerSchedule
	Extensions       []Extension
}

// Digest returns the digest of the canonical header encoding
func (h *BlockHeader) Digest() Digest {
	return MustHashOf(h)
}

// BlockNum returns the height of the block, one above its parent
func (h *BlockHeader) BlockNum() uint32 {
	return BlockNumFromID(h.Previous) + 1
}

// ID returns the block id: the header digest stamped with the block number
func (h *BlockHeader) ID() BlockID {
	return MakeBlockID(h.Digest(), h.BlockNum())
}

// Clone returns a deep copy of the header
func (h *BlockHeader) Clone() BlockHeader {
	c := BlockHeader{
		Timestamp:        h.Timestamp,
		Producer:         h.Producer,
		Confirmed:        h.Confirmed,
		Previous:         h.Previous,
		TransactionMRoot: h.TransactionMRoot,
		ActionMRoot:      h.ActionMRoot,
		ScheduleVersion:  h.ScheduleVersion,
		Extensions:       cloneExtensions(h.Extensions),
	}
	if h.NewProducers != nil {
		np := LegacyProducerSchedule{Version: h.NewProducers.Version}
		if h.NewProducers.Producers != nil {
			np.Producers = make([]ProducerKey, len(h.NewProducers.Producers))
			copy(np.Producers, h.NewProducers.Producers)
		}
		c.NewProducers = &np
	}
	return c
}

// SignedBlockHeader is a header with the producer's primary signature.
type SignedBlockHeader struct {
	_                 struct{} `cbor:",toarray"`
	Header            BlockHeader
	ProducerSignature Signature
}

// SignedBlock carries a signed header plus block-level extensions. The
// transaction payload is opaque to this module and is not modelled.
type SignedBlock struct {
	_               struct{} `cbor:",toarray"`
	SignedHeader    SignedBlockHeader
	BlockExtensions []Extension
}

// BlockNum returns the height of the block
func (b *SignedBlock) BlockNum() uint32 {
	return b.SignedHeader.Header.BlockNum()
}

// ID returns the block id
func (b *SignedBlock) ID() BlockID {
	return b.SignedHeader.Header.ID()
}

// BlockSigDigest returns the digest a producer signs for a block: the
// header digest bound to the block root accumulator and the pending
// schedule hash.
func BlockSigDigest(headerDigest, blockrootMerkleRoot, pendingScheduleHash Digest) Digest {
	return HashPair(HashPair(headerDigest, blockrootMerkleRoot), pendingScheduleHash)
}
