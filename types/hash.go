package types

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// DigestSize is the size of a digest in bytes
const DigestSize = 32

// Digest is a SHA-256 digest.
type Digest [DigestSize]byte

// BlockID identifies a block. The first 4 bytes carry the big-endian
// block number; the remainder is the header digest.
type BlockID = Digest

// NewDigest creates a Digest from bytes, returning error if invalid.
// Use for untrusted input (network, files).
func NewDigest(data []byte) (Digest, error) {
	var d Digest
	if len(data) != DigestSize {
		return d, fmt.Errorf("digest must be %d bytes, got %d", DigestSize, len(data))
	}
	copy(d[:], data)
	return d, nil
}

// DigestFromHex parses a hex-encoded digest.
func DigestFromHex(s string) (Digest, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("invalid digest hex: %w", err)
	}
	return NewDigest(b)
}

// MustDigestFromHex parses a hex-encoded digest, panicking if invalid.
// Use only for trusted internal data.
func MustDigestFromHex(s string) Digest {
	d, err := DigestFromHex(s)
	if err != nil {
		panic(err)
	}
	return d
}

// HashBytes computes the SHA-256 digest of data
func HashBytes(data []byte) Digest {
	return sha256.Sum256(data)
}

// HashPair computes the digest of the concatenation of two digests.
func HashPair(a, b Digest) Digest {
	var buf [2 * DigestSize]byte
	copy(buf[:DigestSize], a[:])
	copy(buf[DigestSize:], b[:])
	return sha256.Sum256(buf[:])
}

// HashOf computes the digest of the canonical encoding of v.
func HashOf(v any) (Digest, error) {
	data, err := Encode(v)
	if err != nil {
		return Digest{}, err
	}
	return HashBytes(data), nil
}

// MustHashOf is HashOf for values whose encoding cannot fail.
func MustHashOf(v any) Digest {
	d, err := HashOf(v)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero returns true if every byte of the digest is zero
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// String returns the hex encoding of the digest
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalText implements encoding.TextMarshaler
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := DigestFromHex(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MakeBlockID stamps a block number into the leading bytes of a header digest.
func MakeBlockID(headerDigest Digest, blockNum uint32) BlockID {
	id := headerDigest
	binary.BigEndian.PutUint32(id[:4], blockNum)
	return id
}

// BlockNumFromID extracts the block number carried by a block id.
func BlockNumFromID(id BlockID) uint32 {
	return binary.BigEndian.Uint32(id[:4])
}
