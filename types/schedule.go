package types

import (
	"errors"
	"fmt"
)

// ProducerRepetitions is the number of consecutive slots assigned to each
// producer in a round.
const ProducerRepetitions = 12

// Errors
var (
	ErrInvalidSchedule   = errors.New("invalid producer schedule")
	ErrNotLegacyEncoding = errors.New("schedule cannot be expressed in legacy form")
)

// ProducerAuthority pairs a producer with its block signing authority.
type ProducerAuthority struct {
	_         struct{} `cbor:",toarray"`
	Name      AccountName
	Authority BlockSigningAuthority
}

// ProducerAuthoritySchedule is an ordered, versioned producer set.
type ProducerAuthoritySchedule struct {
	_         struct{} `cbor:",toarray"`
	Version   uint32
	Producers []ProducerAuthority
}

// ScheduledProducer returns the producer owning slot ts. The second return
// is false for an empty schedule.
func (s ProducerAuthoritySchedule) ScheduledProducer(ts BlockTimestamp) (ProducerAuthority, bool) {
	n := uint64(len(s.Producers))
	if n == 0 {
		return ProducerAuthority{}, false
	}
	index := (uint64(ts) % (n * ProducerRepetitions)) / ProducerRepetitions
	return s.Producers[index], true
}

// Names returns the producer names in schedule order
func (s ProducerAuthoritySchedule) Names() []AccountName {
	names := make([]AccountName, len(s.Producers))
	for i, p := range s.Producers {
		names[i] = p.Name
	}
	return names
}

// Lookup finds a producer by name
func (s ProducerAuthoritySchedule) Lookup(name AccountName) (ProducerAuthority, bool) {
	for _, p := range s.Producers {
		if p.Name == name {
			return p, true
		}
	}
	return ProducerAuthority{}, false
}

// Hash returns the digest of the canonical encoding of the schedule
func (s ProducerAuthoritySchedule) Hash() Digest {
	return MustHashOf(s)
}

// ValidateBasic checks producer names are unique and every authority is valid.
// An empty schedule is structurally valid.
func (s ProducerAuthoritySchedule) ValidateBasic() error {
	seen := make(map[AccountName]struct{}, len(s.Producers))
	for _, p := range s.Producers {
		if p.Name == "" {
			return fmt.Errorf("%w: empty producer name", ErrInvalidSchedule)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: duplicate producer %s", ErrInvalidSchedule, p.Name)
		}
		seen[p.Name] = struct{}{}
		if err := p.Authority.ValidateBasic(); err != nil {
			return fmt.Errorf("%w: producer %s: %v", ErrInvalidSchedule, p.Name, err)
		}
	}
	return nil
}

// Clone returns a deep copy of the schedule
func (s ProducerAuthoritySchedule) Clone() ProducerAuthoritySchedule {
	var producers []ProducerAuthority
	if s.Producers != nil {
		producers = make([]ProducerAuthority, len(s.Producers))
		for i, p := range s.Producers {
			producers[i] = ProducerAuthority{Name: p.Name, Authority: p.Authority.Clone()}
		}
	}
	return ProducerAuthoritySchedule{Version: s.Version, Producers: producers}
}

// ToLegacy downgrades the schedule to single-key form. It fails if any
// producer uses a weighted multi-key authority.
func (s ProducerAuthoritySchedule) ToLegacy() (LegacyProducerSchedule, error) {
	legacy := LegacyProducerSchedule{Version: s.Version}
	if s.Producers != nil {
		legacy.Producers = make([]ProducerKey, 0, len(s.Producers))
	}
	for _, p := range s.Producers {
		if !p.Authority.IsSingleKey() {
			return LegacyProducerSchedule{}, fmt.Errorf("%w: producer %s uses a multi-key authority", ErrNotLegacyEncoding, p.Name)
		}
		legacy.Producers = append(legacy.Producers, ProducerKey{Name: p.Name, SigningKey: p.Authority.Keys[0].Key})
	}
	return legacy, nil
}

// ProducerKey is a legacy single-key producer entry.
type ProducerKey struct {
	_          struct{} `cbor:",toarray"`
	Name       AccountName
	SigningKey PublicKey
}

// LegacyProducerSchedule is the schedule form announced inline in headers
// before weighted block signing is active.
type LegacyProducerSchedule struct {
	_         struct{} `cbor:",toarray"`
	Version   uint32
	Producers []ProducerKey
}

// ToAuthority converts each producer key into a single-key authority.
func (l LegacyProducerSchedule) ToAuthority() ProducerAuthoritySchedule {
	s := ProducerAuthoritySchedule{Version: l.Version}
	if l.Producers != nil {
		s.Producers = make([]ProducerAuthority, len(l.Producers))
		for i, p := range l.Producers {
			s.Producers[i] = ProducerAuthority{Name: p.Name, Authority: NewSingleKeyAuthority(p.SigningKey)}
		}
	}
	return s
}

// Hash returns the digest of the canonical encoding of the legacy schedule
func (l LegacyProducerSchedule) Hash() Digest {
	return MustHashOf(l)
}
