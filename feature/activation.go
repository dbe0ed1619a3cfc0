package feature

import (
	"fmt"

	"github.com/blockberries/finalberry/types"
)

// ActivationSet is the set of protocol features in effect at a block.
// Immutable: block header states at consecutive heights share the same
// set until a block activates something new. A nil set is empty.
type ActivationSet struct {
	digests []types.Digest
	index   map[types.Digest]struct{}
}

// NewActivationSet returns a set holding digests in activation order.
func NewActivationSet(digests ...types.Digest) *ActivationSet {
	return (*ActivationSet)(nil).Extend(digests)
}

// Contains returns true if d is active
func (a *ActivationSet) Contains(d types.Digest) bool {
	if a == nil {
		return false
	}
	_, ok := a.index[d]
	return ok
}

// Digests returns the active digests in activation order
func (a *ActivationSet) Digests() []types.Digest {
	if a == nil {
		return nil
	}
	return append([]types.Digest(nil), a.digests...)
}

// Len returns the number of active features
func (a *ActivationSet) Len() int {
	if a == nil {
		return 0
	}
	return len(a.digests)
}

// Extend returns a new set with digests appended. Digests already present
// are skipped. The receiver is returned unchanged when nothing is added.
func (a *ActivationSet) Extend(digests []types.Digest) *ActivationSet {
	if len(digests) == 0 && a != nil {
		return a
	}
	out := &ActivationSet{
		digests: make([]types.Digest, 0, a.Len()+len(digests)),
		index:   make(map[types.Digest]struct{}, a.Len()+len(digests)),
	}
	if a != nil {
		out.digests = append(out.digests, a.digests...)
		for d := range a.index {
			out.index[d] = struct{}{}
		}
	}
	for _, d := range digests {
		if _, ok := out.index[d]; ok {
			continue
		}
		out.digests = append(out.digests, d)
		out.index[d] = struct{}{}
	}
	return out
}

// Remove returns a new set without digests. The receiver is returned
// unchanged when none of digests is present.
func (a *ActivationSet) Remove(digests []types.Digest) *ActivationSet {
	drop := make(map[types.Digest]struct{}, len(digests))
	for _, d := range digests {
		if a.Contains(d) {
			drop[d] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return a
	}
	out := &ActivationSet{
		digests: make([]types.Digest, 0, a.Len()-len(drop)),
		index:   make(map[types.Digest]struct{}, a.Len()-len(drop)),
	}
	for _, d := range a.digests {
		if _, ok := drop[d]; ok {
			continue
		}
		out.digests = append(out.digests, d)
		out.index[d] = struct{}{}
	}
	return out
}

// ActivationValidator checks a block's proposed feature activations.
// active is the set in effect before the block.
type ActivationValidator func(now types.BlockTimestamp, active *ActivationSet, proposed []types.Digest) error

// NewActivationValidator returns a validator backed by set. Each proposed
// feature must be ready at the block time, not yet active, proposed once,
// have its dependencies active or proposed earlier in the same block, and
// be pre-activated if its restrictions require it. preactivated may be nil
// when nothing has been pre-activated.
func NewActivationValidator(set *Set, preactivated func(types.Digest) bool) ActivationValidator {
	return func(now types.BlockTimestamp, active *ActivationSet, proposed []types.Digest) error {
		seen := make(map[types.Digest]struct{}, len(proposed))
		isActive := func(d types.Digest) bool {
			if active.Contains(d) {
				return true
			}
			_, ok := seen[d]
			return ok
		}

		for _, d := range proposed {
			switch set.IsRecognized(d, now.Time()) {
			case Unrecognized:
				return fmt.Errorf("%w: %s", ErrUnrecognized, d)
			case Disabled:
				return fmt.Errorf("%w: %s", ErrDisabled, d)
			case TooEarly:
				return fmt.Errorf("%w: %s at %s", ErrTooEarly, d, now)
			case Ready:
			}

			f, _ := set.Find(d)
			if active.Contains(d) {
				return fmt.Errorf("%w: %s", ErrAlreadyActive, f)
			}
			if _, dup := seen[d]; dup {
				return fmt.Errorf("%w: %s", ErrDuplicateProposal, f)
			}
			if !set.ValidateDependencies(d, isActive) {
				return fmt.Errorf("%w: %s", ErrMissingDependency, describeMissing(set, f, isActive))
			}
			if f.Restrictions.PreactivationRequired && (preactivated == nil || !preactivated(d)) {
				return fmt.Errorf("%w: %s", ErrNotPreactivated, f)
			}
			seen[d] = struct{}{}
		}
		return nil
	}
}

// describeMissing names the first unsatisfied dependency of f.
func describeMissing(set *Set, f *Feature, isActive func(types.Digest) bool) string {
	for _, dep := range f.Dependencies {
		if isActive(dep) {
			continue
		}
		if df, ok := set.Find(dep); ok {
			return fmt.Sprintf("%s requires %s", f.Codename(), df.Codename())
		}
		return fmt.Sprintf("%s requires %s", f.Codename(), dep)
	}
	return f.Codename()
}

// PreactivationValidator checks a block's proposed feature
// pre-activations. active is the set in effect after the block's own
// activations and preactivated holds the features pre-activated before
// the block and not activated since.
type PreactivationValidator func(now types.BlockTimestamp, active, preactivated *ActivationSet, proposed []types.Digest) error

// NewPreactivationValidator returns a validator backed by set. The
// PREACTIVATE_FEATURE builtin must be active. Each proposed feature must
// be ready at the block time, neither active nor pre-activated, proposed
// once, and have its dependencies active or pre-activated, earlier in the
// same block included.
func NewPreactivationValidator(set *Set) PreactivationValidator {
	return func(now types.BlockTimestamp, active, preactivated *ActivationSet, proposed []types.Digest) error {
		if d, ok := set.BuiltinDigest(PreactivateFeature); !ok || !active.Contains(d) {
			return fmt.Errorf("%w: %s is not active", ErrPreactivationOff, PreactivateFeature)
		}

		seen := make(map[types.Digest]struct{}, len(proposed))
		satisfied := func(d types.Digest) bool {
			if active.Contains(d) || preactivated.Contains(d) {
				return true
			}
			_, ok := seen[d]
			return ok
		}

		for _, d := range proposed {
			switch set.IsRecognized(d, now.Time()) {
			case Unrecognized:
				return fmt.Errorf("%w: %s", ErrUnrecognized, d)
			case Disabled:
				return fmt.Errorf("%w: %s", ErrDisabled, d)
			case TooEarly:
				return fmt.Errorf("%w: %s at %s", ErrTooEarly, d, now)
			case Ready:
			}

			f, _ := set.Find(d)
			if active.Contains(d) {
				return fmt.Errorf("%w: %s", ErrAlreadyActive, f)
			}
			if preactivated.Contains(d) {
				return fmt.Errorf("%w: %s", ErrAlreadyPreactive, f)
			}
			if _, dup := seen[d]; dup {
				return fmt.Errorf("%w: %s", ErrDuplicateProposal, f)
			}
			if !set.ValidateDependencies(d, satisfied) {
				return fmt.Errorf("%w: %s", ErrMissingDependency, describeMissing(set, f, satisfied))
			}
			seen[d] = struct{}{}
		}
		return nil
	}
}
