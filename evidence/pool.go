package evidence

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blockberries/finalberry/types"
)

// Errors
var (
	ErrInvalidEvidence   = errors.New("invalid evidence")
	ErrDuplicateEvidence = errors.New("duplicate evidence")
	ErrEvidenceExpired   = errors.New("evidence expired")
	ErrDifferentProducer = errors.New("blocks from different producers")
	ErrDifferentSlot     = errors.New("blocks for different slots")
	ErrSameBlock         = errors.New("same block is not double production")
	ErrUnauthorizedKey   = errors.New("block not signed by producer authority")
	ErrInvalidConfig     = errors.New("invalid evidence config")
)

// MaxSeenHeaders limits memory usage for double-production detection.
// With 21 producers and two blocks per second this covers over a day of
// slots.
const MaxSeenHeaders = 200000

// Config holds evidence pool configuration
type Config struct {
	// MaxAge is the maximum age of evidence, measured between the slot of
	// the evidence and the slot of the head
	MaxAge time.Duration
	// MaxAgeBlocks is the maximum block number age of evidence
	MaxAgeBlocks uint32
	// MaxBytes is the maximum encoded size of evidence returned by
	// PendingEvidence
	MaxBytes int64
}

// DefaultConfig returns default evidence pool configuration
func DefaultConfig() Config {
	return Config{
		MaxAge:       48 * time.Hour,
		MaxAgeBlocks: 345600, // 48h of 500ms slots
		MaxBytes:     1048576,
	}
}

// ValidateBasic performs basic validation
func (c Config) ValidateBasic() error {
	if c.MaxAge <= 0 {
		return fmt.Errorf("%w: max age must be positive", ErrInvalidConfig)
	}
	if c.MaxAgeBlocks == 0 {
		return fmt.Errorf("%w: max age blocks must be positive", ErrInvalidConfig)
	}
	if c.MaxBytes <= 0 {
		return fmt.Errorf("%w: max bytes must be positive", ErrInvalidConfig)
	}
	return nil
}

type slotKey struct {
	producer types.AccountName
	slot     types.BlockTimestamp
}

// Pool collects double-production evidence
type Pool struct {
	mu     sync.RWMutex
	config Config

	// Pending evidence, oldest first
	pending []*DoubleProduction

	// Committed evidence (already reported)
	committed map[types.Digest]struct{}

	// First block seen per producer and slot
	seen map[slotKey]SignedHeaderProof

	// Head block and slot for age checking
	currentBlock uint32
	currentSlot  types.BlockTimestamp
}

// NewPool creates a new evidence pool
func NewPool(config Config) *Pool {
	return &Pool{
		config:    config,
		committed: make(map[types.Digest]struct{}),
		seen:      make(map[slotKey]SignedHeaderProof),
	}
}

// Update updates the pool's knowledge of the head and prunes expired
// evidence and headers
func (p *Pool) Update(blockNum uint32, slot types.BlockTimestamp) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.currentBlock = blockNum
	p.currentSlot = slot

	p.pruneExpired()
}

// CheckHeader records the block in proof and returns evidence if its
// producer already signed a different block for the same slot.
func (p *Pool) CheckHeader(proof SignedHeaderProof) *DoubleProduction {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := &proof.Header.Header
	key := slotKey{producer: h.Producer, slot: h.Timestamp}

	if existing, ok := p.seen[key]; ok {
		if existing.ID() == proof.ID() {
			return nil
		}
		return NewDoubleProduction(existing, proof)
	}

	if len(p.seen) >= MaxSeenHeaders {
		p.pruneOldestHeaders(MaxSeenHeaders / 10)
	}
	p.seen[key] = proof
	return nil
}

// AddEvidence adds verified evidence to the pool
func (p *Pool) AddEvidence(ev *DoubleProduction) error {
	if err := ev.ValidateBasic(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvidence, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := ev.Hash()
	if _, ok := p.committed[key]; ok {
		return ErrDuplicateEvidence
	}
	for _, pending := range p.pending {
		if pending.Hash() == key {
			return ErrDuplicateEvidence
		}
	}
	if p.isExpired(ev) {
		return ErrEvidenceExpired
	}

	p.pending = append(p.pending, ev)
	return nil
}

// PendingEvidence returns pending evidence, oldest first, up to maxBytes
// of encoded evidence. A non-positive maxBytes uses the configured limit.
func (p *Pool) PendingEvidence(maxBytes int64) []*DoubleProduction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if maxBytes <= 0 {
		maxBytes = p.config.MaxBytes
	}

	var (
		result    []*DoubleProduction
		totalSize int64
	)
	for _, ev := range p.pending {
		data, err := ev.Bytes()
		if err != nil {
			continue
		}
		if totalSize+int64(len(data)) > maxBytes {
			break
		}
		result = append(result, ev)
		totalSize += int64(len(data))
	}
	return result
}

// MarkCommitted marks evidence as committed and removes it from pending
func (p *Pool) MarkCommitted(evidence []*DoubleProduction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ev := range evidence {
		p.committed[ev.Hash()] = struct{}{}
	}

	remaining := p.pending[:0]
	for _, ev := range p.pending {
		if _, ok := p.committed[ev.Hash()]; !ok {
			remaining = append(remaining, ev)
		}
	}
	p.pending = remaining
}

// Size returns the number of pending evidence items
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pending)
}

// pruneExpired removes expired evidence and headers too old to be
// evidence. Caller must hold p.mu.
func (p *Pool) pruneExpired() {
	valid := p.pending[:0]
	for _, ev := range p.pending {
		if !p.isExpired(ev) {
			valid = append(valid, ev)
		}
	}
	p.pending = valid

	for key, proof := range p.seen {
		if p.blockAge(proof.Header.Header.BlockNum()) > p.config.MaxAgeBlocks {
			delete(p.seen, key)
		}
	}
}

// pruneOldestHeaders removes the n oldest headers by slot.
// Caller must hold p.mu.
func (p *Pool) pruneOldestHeaders(n int) {
	if n <= 0 || len(p.seen) == 0 {
		return
	}

	keys := make([]slotKey, 0, len(p.seen))
	for key := range p.seen {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].slot != keys[j].slot {
			return keys[i].slot < keys[j].slot
		}
		return keys[i].producer < keys[j].producer
	})

	for _, key := range keys[:min(n, len(keys))] {
		delete(p.seen, key)
	}
}

func (p *Pool) blockAge(blockNum uint32) uint32 {
	if p.currentBlock <= blockNum {
		return 0
	}
	return p.currentBlock - blockNum
}

// isExpired checks if evidence is too old
func (p *Pool) isExpired(ev *DoubleProduction) bool {
	if p.blockAge(ev.BlockNum()) > p.config.MaxAgeBlocks {
		return true
	}
	if p.currentSlot > ev.Timestamp() && p.currentSlot.Time().Sub(ev.Timestamp().Time()) > p.config.MaxAge {
		return true
	}
	return false
}
