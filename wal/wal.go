package wal

import (
	"errors"
	"fmt"
	"io"

	"github.com/blockberries/finalberry/types"
)

// Errors
var (
	ErrWALClosed    = errors.New("WAL is closed")
	ErrWALCorrupted = errors.New("WAL is corrupted")
	ErrWALNotFound  = errors.New("WAL file not found")
	ErrInvalidType  = errors.New("unexpected WAL message type")
)

// MessageType identifies the type of WAL message
type MessageType uint8

const (
	MsgTypeUnknown MessageType = iota
	// MsgTypeBlock carries a signed block accepted by the chain.
	MsgTypeBlock
	// MsgTypePop records that the head was popped back to BlockNum.
	MsgTypePop
	// MsgTypePreactivate carries the digest of a pre-activated feature.
	MsgTypePreactivate
)

func (t MessageType) String() string {
	switch t {
	case MsgTypeBlock:
		return "block"
	case MsgTypePop:
		return "pop"
	case MsgTypePreactivate:
		return "preactivate"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Message represents a WAL message with metadata
type Message struct {
	_        struct{} `cbor:",toarray"`
	Type     MessageType
	BlockNum uint32
	Data     []byte
}

// Marshal serializes the message
func (m *Message) Marshal() ([]byte, error) {
	return types.Encode(m)
}

// Unmarshal deserializes the message
func (m *Message) Unmarshal(data []byte) error {
	return types.Decode(data, m)
}

// WAL interface for write-ahead logging
type WAL interface {
	// Write writes a message to the WAL
	Write(msg *Message) error

	// WriteSync writes a message and ensures it's synced to disk
	WriteSync(msg *Message) error

	// FlushAndSync flushes and syncs all pending writes
	FlushAndSync() error

	// Start starts the WAL
	Start() error

	// Stop stops the WAL
	Stop() error

	// Group returns the current WAL group (for rotation)
	Group() *Group
}

// Reader interface for reading from WAL
type Reader interface {
	// Read reads the next message from the WAL
	Read() (*Message, error)

	// Close closes the reader
	Close() error
}

// Group represents a group of WAL files (for rotation)
type Group struct {
	Dir      string
	Prefix   string
	MaxSize  int64
	MinIndex int
	MaxIndex int
}

// NewBlockMessage creates a WAL message for a block
func NewBlockMessage(b *types.SignedBlock) (*Message, error) {
	data, err := types.Encode(b)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:     MsgTypeBlock,
		BlockNum: b.BlockNum(),
		Data:     data,
	}, nil
}

// NewPopMessage creates a WAL message recording a pop back to blockNum
func NewPopMessage(blockNum uint32) *Message {
	return &Message{
		Type:     MsgTypePop,
		BlockNum: blockNum,
	}
}

// NewPreactivateMessage creates a WAL message for a feature pre-activated
// on top of blockNum.
func NewPreactivateMessage(blockNum uint32, d types.Digest) *Message {
	return &Message{
		Type:     MsgTypePreactivate,
		BlockNum: blockNum,
		Data:     append([]byte(nil), d[:]...),
	}
}

// DecodeBlock decodes a block from WAL message data
func DecodeBlock(msg *Message) (*types.SignedBlock, error) {
	if msg.Type != MsgTypeBlock {
		return nil, fmt.Errorf("%w: %s", ErrInvalidType, msg.Type)
	}
	b := &types.SignedBlock{}
	if err := types.Decode(msg.Data, b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWALCorrupted, err)
	}
	if b.BlockNum() != msg.BlockNum {
		return nil, fmt.Errorf("%w: block %d recorded as %d", ErrWALCorrupted, b.BlockNum(), msg.BlockNum)
	}
	return b, nil
}

// DecodePreactivation decodes a feature digest from WAL message data
func DecodePreactivation(msg *Message) (types.Digest, error) {
	if msg.Type != MsgTypePreactivate {
		return types.Digest{}, fmt.Errorf("%w: %s", ErrInvalidType, msg.Type)
	}
	d, err := types.NewDigest(msg.Data)
	if err != nil {
		return types.Digest{}, fmt.Errorf("%w: %w", ErrWALCorrupted, err)
	}
	return d, nil
}

// NopWAL is a no-op WAL implementation for testing
type NopWAL struct{}

func (w *NopWAL) Write(msg *Message) error     { return nil }
func (w *NopWAL) WriteSync(msg *Message) error { return nil }
func (w *NopWAL) FlushAndSync() error          { return nil }
func (w *NopWAL) Start() error                 { return nil }
func (w *NopWAL) Stop() error                  { return nil }
func (w *NopWAL) Group() *Group                { return nil }

// Ensure NopWAL implements WAL
var _ WAL = (*NopWAL)(nil)

// NopReader is a no-op reader
type NopReader struct{}

func (r *NopReader) Read() (*Message, error) { return nil, io.EOF }
func (r *NopReader) Close() error            { return nil }

var _ Reader = (*NopReader)(nil)
