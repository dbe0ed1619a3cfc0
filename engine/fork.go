package engine

import (
	"fmt"

	"github.com/blockberries/finalberry/types"
	"github.com/blockberries/finalberry/wal"
)

// SwitchFork pops the head back to forkPoint and applies blocks on top of
// it. If any block fails, the previous branch is restored and the error is
// returned wrapped in ErrForkSwitchRestored. The WAL records the switch
// only once every block has been applied.
func (c *Chain) SwitchFork(forkPoint uint32, blocks []*types.SignedBlock) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if forkPoint < c.lib {
		return fmt.Errorf("%w: fork point %d is below irreversible block %d", ErrIrreversible, forkPoint, c.lib)
	}
	if _, ok := c.history[forkPoint]; !ok || forkPoint > c.head.BlockNum {
		return fmt.Errorf("%w: fork point %d", ErrUnknownBlock, forkPoint)
	}

	savedHead, savedLIB := c.head, c.lib
	savedHistory := make(map[uint32]*BlockHeaderState, len(c.history))
	for n, s := range c.history {
		savedHistory[n] = s
	}
	savedQueued := append([]types.Digest(nil), c.queued...)
	oldBranch := make([]*BlockHeaderState, 0, savedHead.BlockNum-forkPoint)
	for n := forkPoint + 1; n <= savedHead.BlockNum; n++ {
		oldBranch = append(oldBranch, c.history[n])
	}

	if err := c.popLocked(forkPoint); err != nil {
		return err
	}

	for i, b := range blocks {
		if _, err := c.applyLocked(b, false); err != nil {
			c.log.Warn().
				Err(err).
				Uint32("fork_point", forkPoint).
				Int("index", i).
				Msg("fork switch failed, restoring previous branch")
			if rerr := c.restore(forkPoint, oldBranch); rerr != nil {
				return fmt.Errorf("restore previous branch after %v: %w", err, rerr)
			}
			c.head, c.lib, c.history = savedHead, savedLIB, savedHistory
			c.queued = savedQueued
			return fmt.Errorf("%w: block %d: %w", ErrForkSwitchRestored, b.BlockNum(), err)
		}
	}

	c.prune()
	if err := c.logSwitch(forkPoint, savedHead.BlockNum, blocks); err != nil {
		return err
	}
	c.log.Info().
		Uint32("fork_point", forkPoint).
		Int("old_blocks", len(oldBranch)).
		Int("new_blocks", len(blocks)).
		Uint32("head", c.head.BlockNum).
		Msg("switched fork")
	return nil
}

// restore rewinds the feature ledger to forkPoint and replays the
// activations of branch, which was valid before.
func (c *Chain) restore(forkPoint uint32, branch []*BlockHeaderState) error {
	if err := c.manager.PoppedBlocksTo(forkPoint); err != nil {
		return err
	}
	for _, s := range branch {
		fa := s.HeaderExtensions.FeatureActivation
		if fa == nil {
			continue
		}
		for _, d := range fa.Features {
			if err := c.manager.ActivateFeature(d, s.BlockNum); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Chain) logSwitch(forkPoint, oldHead uint32, blocks []*types.SignedBlock) error {
	if c.wal == nil {
		return nil
	}
	if forkPoint < oldHead {
		if err := c.wal.Write(wal.NewPopMessage(forkPoint)); err != nil {
			return fmt.Errorf("%w: pop %d: %w", ErrWAL, forkPoint, err)
		}
	}
	for _, b := range blocks {
		msg, err := wal.NewBlockMessage(b)
		if err == nil {
			err = c.wal.Write(msg)
		}
		if err != nil {
			return fmt.Errorf("%w: block %d: %w", ErrWAL, b.BlockNum(), err)
		}
	}
	if err := c.wal.FlushAndSync(); err != nil {
		return fmt.Errorf("%w: %w", ErrWAL, err)
	}
	return nil
}
