package privval

import (
	"errors"
	"sync"

	"github.com/blockberries/finalberry/types"
)

// signGuard serializes signing behind a LastSignState watermark.
type signGuard struct {
	mu    sync.Mutex
	state LastSignState
}

// sign checks the watermark, signs and persists the new watermark before
// returning the signatures. Re-signing the last block returns the stored
// signatures.
func (g *signGuard) sign(
	blockNum uint32,
	ts types.BlockTimestamp,
	digest types.Digest,
	signFn func() ([]types.Signature, error),
	persist func(LastSignState) error,
) ([]types.Signature, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.state.CheckBlock(ts); err != nil {
		if errors.Is(err, ErrDoubleSign) && g.state.isSameBlock(ts, digest) {
			return append([]types.Signature(nil), g.state.Signatures...), nil
		}
		return nil, err
	}

	sigs, err := signFn()
	if err != nil {
		return nil, err
	}
	next := LastSignState{BlockNum: blockNum, Timestamp: ts, Digest: digest, Signatures: sigs}
	if persist != nil {
		if err := persist(next); err != nil {
			return nil, err
		}
	}
	g.state = next
	return append([]types.Signature(nil), sigs...), nil
}

func (g *signGuard) last() LastSignState {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.state
	s.Signatures = append([]types.Signature(nil), g.state.Signatures...)
	return s
}

func (g *signGuard) reset(persist func(LastSignState) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if persist != nil {
		if err := persist(LastSignState{}); err != nil {
			return err
		}
	}
	g.state = LastSignState{}
	return nil
}
