package feature

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/blockberries/finalberry/types"
)

// Feature is a protocol feature registered in a Set. Immutable.
type Feature struct {
	Digest            types.Digest
	DescriptionDigest types.Digest
	Dependencies      []types.Digest
	Restrictions      SubjectiveRestrictions
	Builtin           Builtin
}

// Codename returns the builtin codename of the feature
func (f *Feature) Codename() string {
	return f.Builtin.String()
}

func (f *Feature) String() string {
	return fmt.Sprintf("%s (%s)", f.Codename(), f.Digest)
}

// featureDigestInput is the canonical preimage of a feature digest.
type featureDigestInput struct {
	_                 struct{} `cbor:",toarray"`
	Type              string
	DescriptionDigest types.Digest
	Dependencies      []types.Digest
	Codename          string
}

// BuiltinFeature describes a builtin feature to be registered.
type BuiltinFeature struct {
	Builtin           Builtin
	DescriptionDigest types.Digest
	Dependencies      []types.Digest
	Restrictions      SubjectiveRestrictions
}

// Digest computes the feature digest over its type, description digest,
// sorted dependency digests and codename.
func (bf BuiltinFeature) Digest() types.Digest {
	return types.MustHashOf(featureDigestInput{
		Type:              "builtin",
		DescriptionDigest: bf.DescriptionDigest,
		Dependencies:      sortedDigests(bf.Dependencies),
		Codename:          bf.Builtin.String(),
	})
}

// MakeDefaultBuiltinFeature builds the catalog definition of b. resolve
// returns the digest of each dependency.
func MakeDefaultBuiltinFeature(b Builtin, resolve func(Builtin) (types.Digest, error)) (BuiltinFeature, error) {
	spec, ok := b.Spec()
	if !ok {
		return BuiltinFeature{}, fmt.Errorf("%w: ordinal %d", ErrUnsupportedBuiltin, uint32(b))
	}
	deps := make([]types.Digest, 0, len(spec.Dependencies))
	for _, dep := range spec.Dependencies {
		d, err := resolve(dep)
		if err != nil {
			return BuiltinFeature{}, err
		}
		deps = append(deps, d)
	}
	return BuiltinFeature{
		Builtin:           b,
		DescriptionDigest: spec.DescriptionDigest,
		Dependencies:      deps,
		Restrictions:      spec.DefaultRestrictions,
	}, nil
}

// RecognizedStatus classifies a digest for activation at a given time.
type RecognizedStatus int

const (
	Unrecognized RecognizedStatus = iota
	Disabled
	TooEarly
	Ready
)

func (s RecognizedStatus) String() string {
	switch s {
	case Unrecognized:
		return "unrecognized"
	case Disabled:
		return "disabled"
	case TooEarly:
		return "too early"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("RecognizedStatus(%d)", int(s))
	}
}

// Set is the collection of features this node recognizes. It is built once
// and then only read.
type Set struct {
	byDigest map[types.Digest]*Feature
	builtins [numBuiltins]*Feature
	order    []*Feature
}

// NewSet returns an empty set
func NewSet() *Set {
	return &Set{byDigest: make(map[types.Digest]*Feature)}
}

// AddFeature validates and registers a builtin feature. Every dependency
// must already be registered and together they must cover the builtin
// dependencies declared in the catalog.
func (s *Set) AddFeature(bf BuiltinFeature) (*Feature, error) {
	spec, ok := bf.Builtin.Spec()
	if !ok {
		return nil, fmt.Errorf("%w: ordinal %d", ErrUnsupportedBuiltin, uint32(bf.Builtin))
	}
	if s.builtins[bf.Builtin] != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCodename, spec.Codename)
	}

	digest := bf.Digest()

	covered := make(map[Builtin]struct{}, len(bf.Dependencies))
	for _, dep := range bf.Dependencies {
		f, ok := s.byDigest[dep]
		if !ok {
			return nil, fmt.Errorf("%w: %s depends on unknown feature %s", ErrUnrecognized, spec.Codename, dep)
		}
		covered[f.Builtin] = struct{}{}
	}
	var missing []string
	for _, want := range spec.Dependencies {
		if _, ok := covered[want]; !ok {
			missing = append(missing, want.String())
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s requires %s", ErrMissingDependency, spec.Codename, strings.Join(missing, ", "))
	}

	if _, dup := s.byDigest[digest]; dup {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateDigest, digest)
	}

	f := &Feature{
		Digest:            digest,
		DescriptionDigest: bf.DescriptionDigest,
		Dependencies:      sortedDigests(bf.Dependencies),
		Restrictions:      bf.Restrictions,
		Builtin:           bf.Builtin,
	}
	s.byDigest[digest] = f
	s.builtins[bf.Builtin] = f
	s.order = append(s.order, f)
	return f, nil
}

// Find returns the feature with the given digest
func (s *Set) Find(d types.Digest) (*Feature, bool) {
	f, ok := s.byDigest[d]
	return f, ok
}

// BuiltinDigest returns the digest registered for b
func (s *Set) BuiltinDigest(b Builtin) (types.Digest, bool) {
	if !b.Valid() || s.builtins[b] == nil {
		return types.Digest{}, false
	}
	return s.builtins[b].Digest, true
}

// Features returns the registered features in registration order
func (s *Set) Features() []*Feature {
	return append([]*Feature(nil), s.order...)
}

// Len returns the number of registered features
func (s *Set) Len() int {
	return len(s.order)
}

// IsRecognized classifies d for activation at now.
func (s *Set) IsRecognized(d types.Digest, now time.Time) RecognizedStatus {
	f, ok := s.byDigest[d]
	if !ok {
		return Unrecognized
	}
	if !f.Restrictions.Enabled {
		return Disabled
	}
	if now.Before(f.Restrictions.EarliestAllowedActivationTime) {
		return TooEarly
	}
	return Ready
}

// ValidateDependencies reports whether every dependency of d satisfies
// isActive. Unknown digests have no satisfiable dependencies.
func (s *Set) ValidateDependencies(d types.Digest, isActive func(types.Digest) bool) bool {
	f, ok := s.byDigest[d]
	if !ok {
		return false
	}
	for _, dep := range f.Dependencies {
		if !isActive(dep) {
			return false
		}
	}
	return true
}

// SetOption customizes NewDefaultSet.
type SetOption func(*setOptions)

type setOptions struct {
	restrictions map[Builtin]SubjectiveRestrictions
}

// WithRestrictions overrides the subjective restrictions of b.
func WithRestrictions(b Builtin, r SubjectiveRestrictions) SetOption {
	return func(o *setOptions) {
		o.restrictions[b] = r
	}
}

// NewDefaultSet registers every catalog builtin, dependencies first.
func NewDefaultSet(opts ...SetOption) (*Set, error) {
	o := setOptions{restrictions: make(map[Builtin]SubjectiveRestrictions)}
	for _, opt := range opts {
		opt(&o)
	}

	s := NewSet()
	var errs error
	var add func(b Builtin) (types.Digest, error)
	add = func(b Builtin) (types.Digest, error) {
		if d, ok := s.BuiltinDigest(b); ok {
			return d, nil
		}
		bf, err := MakeDefaultBuiltinFeature(b, add)
		if err != nil {
			return types.Digest{}, err
		}
		if r, ok := o.restrictions[b]; ok {
			bf.Restrictions = r
		}
		f, err := s.AddFeature(bf)
		if err != nil {
			return types.Digest{}, err
		}
		return f.Digest, nil
	}

	for _, b := range Builtins() {
		if _, err := add(b); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("register %s: %w", b, err))
		}
	}
	if errs != nil {
		return nil, errs
	}
	return s, nil
}

func sortedDigests(ds []types.Digest) []types.Digest {
	out := append([]types.Digest(nil), ds...)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}
