package engine

import (
	"errors"
	"fmt"
	"io"

	"github.com/blockberries/finalberry/feature"
	"github.com/blockberries/finalberry/wal"
)

// ReplayResult contains the result of a WAL replay
type ReplayResult struct {
	// Head and irreversible block recovered to
	Head uint32
	LIB  uint32
	// Number of messages read
	MessagesReplayed int
	// Blocks applied on top of the head
	BlocksApplied int
	// Messages for blocks at or below the block the chain was started
	// from
	MessagesSkipped int
	// Logged blocks whose activations failed when first accepted; they
	// fail again and are dropped the same way
	BlocksRejected int
	// Whether the WAL ended in a record cut short by a crash
	Truncated bool
}

// ReplayWAL rebuilds the chain from the messages of r. The chain must have
// been started from the same genesis or snapshot as the chain that wrote
// the WAL. Replayed messages are not written to the chain's own WAL.
func (c *Chain) ReplayWAL(r wal.Reader) (*ReplayResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := &ReplayResult{}
	for {
		msg, err := r.Read()
		if err == io.EOF {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			// The last record was torn by a crash; it never took effect.
			result.Truncated = true
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read: %w", ErrReplayFailed, err)
		}

		result.MessagesReplayed++
		if err := c.replayMessage(msg, result); err != nil {
			return nil, fmt.Errorf("%w: %s %d: %w", ErrReplayFailed, msg.Type, msg.BlockNum, err)
		}
	}
	c.prune()

	result.Head = c.head.BlockNum
	result.LIB = c.lib
	c.log.Info().
		Uint32("head", result.Head).
		Uint32("lib", result.LIB).
		Int("messages", result.MessagesReplayed).
		Int("applied", result.BlocksApplied).
		Int("skipped", result.MessagesSkipped).
		Int("rejected", result.BlocksRejected).
		Bool("truncated", result.Truncated).
		Msg("replayed WAL")
	return result, nil
}

// replayMessage replays a single WAL message
func (c *Chain) replayMessage(msg *wal.Message, result *ReplayResult) error {
	switch msg.Type {
	case wal.MsgTypeBlock:
		if msg.BlockNum <= c.root {
			result.MessagesSkipped++
			return nil
		}
		b, err := wal.DecodeBlock(msg)
		if err != nil {
			return err
		}
		if _, err := c.applyLocked(b, false); err != nil {
			if !errors.Is(err, feature.ErrProtocolFeature) {
				return err
			}
			c.log.Warn().Err(err).Uint32("block", msg.BlockNum).Msg("logged block rejected again")
			result.BlocksRejected++
			return nil
		}
		result.BlocksApplied++
		return nil

	case wal.MsgTypePop:
		if msg.BlockNum < c.root {
			result.MessagesSkipped++
			return nil
		}
		return c.popLocked(msg.BlockNum)

	case wal.MsgTypePreactivate:
		if msg.BlockNum < c.root {
			result.MessagesSkipped++
			return nil
		}
		if msg.BlockNum != c.head.BlockNum {
			return fmt.Errorf("%w: pre-activation on block %d, head is %d", ErrUnknownBlock, msg.BlockNum, c.head.BlockNum)
		}
		d, err := wal.DecodePreactivation(msg)
		if err != nil {
			return err
		}
		return c.preactivateLocked(d, false)

	default:
		return fmt.Errorf("%w: %s", wal.ErrInvalidType, msg.Type)
	}
}
