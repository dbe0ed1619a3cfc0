package feature

import (
	"fmt"
	"sort"

	"github.com/blockberries/finalberry/types"
)

// Entry is one activation in the manager's ledger.
type Entry struct {
	Feature            *Feature
	ActivationBlockNum uint32
}

// Activation is a (digest, block) pair used to seed a manager.
type Activation struct {
	Digest   types.Digest
	BlockNum uint32
}

// noBuiltin marks the end of the builtin activation history.
const noBuiltin = -1

// builtinSlot tracks one builtin. previous is the ordinal of the builtin
// activated before this one, forming a reverse history through the slots.
type builtinSlot struct {
	active             bool
	activationBlockNum uint32
	previous           int
}

// Manager is the ledger of activated protocol features. Activations are
// appended in non-decreasing block order and undone with PoppedBlocksTo
// when the chain is rewound.
//
// Manager is not safe for concurrent use. Callers serialize access, one
// block at a time.
type Manager struct {
	set *Set

	ledger   []Entry
	position map[types.Digest]int

	builtins    [numBuiltins]builtinSlot
	headBuiltin int

	initialized bool
	onActivate  func(f *Feature, blockNum uint32)
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithOnActivate installs a hook called before each activation is
// committed.
func WithOnActivate(hook func(f *Feature, blockNum uint32)) ManagerOption {
	return func(m *Manager) {
		m.onActivate = hook
	}
}

// NewManager returns an uninitialized manager over set.
func NewManager(set *Set, opts ...ManagerOption) *Manager {
	m := &Manager{
		set:         set,
		position:    make(map[types.Digest]int),
		headBuiltin: noBuiltin,
	}
	for i := range m.builtins {
		m.builtins[i].previous = noBuiltin
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init marks the manager ready and replays history, which must be in
// activation order.
func (m *Manager) Init(history []Activation) error {
	if m.initialized {
		return fmt.Errorf("%w: already initialized", ErrProtocolFeature)
	}
	m.initialized = true
	for _, a := range history {
		if err := m.ActivateFeature(a.Digest, a.BlockNum); err != nil {
			return fmt.Errorf("replay activation at block %d: %w", a.BlockNum, err)
		}
	}
	return nil
}

// Set returns the recognized feature set
func (m *Manager) Set() *Set {
	return m.set
}

// ActivateFeature records the activation of d at blockNum.
func (m *Manager) ActivateFeature(d types.Digest, blockNum uint32) error {
	if !m.initialized {
		return ErrNotInitialized
	}
	f, ok := m.set.Find(d)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnrecognized, d)
	}
	if _, active := m.position[d]; active {
		return fmt.Errorf("%w: %s", ErrAlreadyActive, f)
	}
	if n := len(m.ledger); n > 0 && m.ledger[n-1].ActivationBlockNum > blockNum {
		return fmt.Errorf("%w: %s at %d after activation at %d", ErrActivationOrder, f, blockNum, m.ledger[n-1].ActivationBlockNum)
	}
	for _, dep := range f.Dependencies {
		if _, active := m.position[dep]; active {
			continue
		}
		name := dep.String()
		if df, ok := m.set.Find(dep); ok {
			name = df.Codename()
		}
		return fmt.Errorf("%w: %s requires %s", ErrMissingDependency, f.Codename(), name)
	}

	if m.onActivate != nil {
		m.onActivate(f, blockNum)
	}

	m.position[d] = len(m.ledger)
	m.ledger = append(m.ledger, Entry{Feature: f, ActivationBlockNum: blockNum})

	m.builtins[f.Builtin] = builtinSlot{
		active:             true,
		activationBlockNum: blockNum,
		previous:           m.headBuiltin,
	}
	m.headBuiltin = int(f.Builtin)
	return nil
}

// PoppedBlocksTo undoes every activation after blockNum.
func (m *Manager) PoppedBlocksTo(blockNum uint32) error {
	if !m.initialized {
		return ErrNotInitialized
	}

	for m.headBuiltin != noBuiltin {
		slot := &m.builtins[m.headBuiltin]
		if slot.activationBlockNum <= blockNum {
			break
		}
		prev := slot.previous
		*slot = builtinSlot{previous: noBuiltin}
		m.headBuiltin = prev
	}

	for n := len(m.ledger); n > 0 && m.ledger[n-1].ActivationBlockNum > blockNum; n-- {
		delete(m.position, m.ledger[n-1].Feature.Digest)
		m.ledger[n-1] = Entry{}
		m.ledger = m.ledger[:n-1]
	}
	return nil
}

// IsBuiltinActivated reports whether b was activated at or before
// currentBlockNum.
func (m *Manager) IsBuiltinActivated(b Builtin, currentBlockNum uint32) bool {
	if !b.Valid() {
		return false
	}
	slot := m.builtins[b]
	return slot.active && slot.activationBlockNum <= currentBlockNum
}

// IsActive returns true if d is in the ledger
func (m *Manager) IsActive(d types.Digest) bool {
	_, ok := m.position[d]
	return ok
}

// Activated returns a copy of the ledger in activation order
func (m *Manager) Activated() []Entry {
	return append([]Entry(nil), m.ledger...)
}

// Digests returns the activated digests in activation order
func (m *Manager) Digests() []types.Digest {
	out := make([]types.Digest, len(m.ledger))
	for i, e := range m.ledger {
		out[i] = e.Feature.Digest
	}
	return out
}

// LowerBound returns the ordinal of the first activation at or after blockNum.
func (m *Manager) LowerBound(blockNum uint32) int {
	return sort.Search(len(m.ledger), func(i int) bool {
		return m.ledger[i].ActivationBlockNum >= blockNum
	})
}

// UpperBound returns the ordinal of the first activation after blockNum.
func (m *Manager) UpperBound(blockNum uint32) int {
	return sort.Search(len(m.ledger), func(i int) bool {
		return m.ledger[i].ActivationBlockNum > blockNum
	})
}

// AtActivationOrdinal returns the i-th activation.
func (m *Manager) AtActivationOrdinal(i int) (Entry, bool) {
	if i < 0 || i >= len(m.ledger) {
		return Entry{}, false
	}
	return m.ledger[i], true
}
