package types

import (
	"errors"
	"fmt"
)

// Extension ids reserved by the finality engine. Header and block
// extensions share one id space.
const (
	ProtocolFeatureActivationID    uint16 = 0
	ProducerScheduleChangeID       uint16 = 1
	AdditionalSignaturesID         uint16 = 2
	ProtocolFeaturePreactivationID uint16 = 3
)

// Errors
var (
	ErrInvalidExtension = errors.New("invalid extension")
)

// Extension is an (id, opaque payload) pair attached to a header or block.
type Extension struct {
	_    struct{} `cbor:",toarray"`
	ID   uint16
	Data []byte
}

// HeaderExtension is one of the typed header extensions:
// *ProtocolFeatureActivation, *ProducerScheduleChange or
// *ProtocolFeaturePreactivation.
type HeaderExtension interface {
	ExtensionID() uint16
	headerExtension()
}

// ProtocolFeatureActivation lists the features activated by a block.
type ProtocolFeatureActivation struct {
	_        struct{} `cbor:",toarray"`
	Features []Digest
}

// ExtensionID implements HeaderExtension
func (*ProtocolFeatureActivation) ExtensionID() uint16 { return ProtocolFeatureActivationID }
func (*ProtocolFeatureActivation) headerExtension()    {}

// ProducerScheduleChange announces a new producer schedule once weighted
// block signing is active.
type ProducerScheduleChange struct {
	_        struct{} `cbor:",toarray"`
	Schedule ProducerAuthoritySchedule
}

// ExtensionID implements HeaderExtension
func (*ProducerScheduleChange) ExtensionID() uint16 { return ProducerScheduleChangeID }
func (*ProducerScheduleChange) headerExtension()    {}

// ProtocolFeaturePreactivation lists the features pre-activated by a
// block. A later block may activate them.
type ProtocolFeaturePreactivation struct {
	_        struct{} `cbor:",toarray"`
	Features []Digest
}

// ExtensionID implements HeaderExtension
func (*ProtocolFeaturePreactivation) ExtensionID() uint16 { return ProtocolFeaturePreactivationID }
func (*ProtocolFeaturePreactivation) headerExtension()    {}

// HeaderExtensions holds the typed extensions found in a header.
type HeaderExtensions struct {
	FeatureActivation    *ProtocolFeatureActivation
	ScheduleChange       *ProducerScheduleChange
	FeaturePreactivation *ProtocolFeaturePreactivation
}

// All returns the present extensions in id order
func (e HeaderExtensions) All() []HeaderExtension {
	var all []HeaderExtension
	if e.FeatureActivation != nil {
		all = append(all, e.FeatureActivation)
	}
	if e.ScheduleChange != nil {
		all = append(all, e.ScheduleChange)
	}
	if e.FeaturePreactivation != nil {
		all = append(all, e.FeaturePreactivation)
	}
	return all
}

// EncodeHeaderExtension serializes a typed extension.
func EncodeHeaderExtension(ext HeaderExtension) (Extension, error) {
	data, err := Encode(ext)
	if err != nil {
		return Extension{}, fmt.Errorf("%w: id %d: %v", ErrInvalidExtension, ext.ExtensionID(), err)
	}
	return Extension{ID: ext.ExtensionID(), Data: data}, nil
}

// ExtractHeaderExtensions decodes the known extensions of a header.
// Ids must be non-decreasing and known ids may appear once. Unknown ids are
// skipped.
func ExtractHeaderExtensions(exts []Extension) (HeaderExtensions, error) {
	var out HeaderExtensions
	if err := checkExtensionOrder(exts); err != nil {
		return out, err
	}

	for _, ext := range exts {
		switch ext.ID {
		case ProtocolFeatureActivationID:
			if out.FeatureActivation != nil {
				return out, fmt.Errorf("%w: duplicate protocol feature activation", ErrInvalidExtension)
			}
			var pfa ProtocolFeatureActivation
			if err := Decode(ext.Data, &pfa); err != nil {
				return out, fmt.Errorf("%w: protocol feature activation: %v", ErrInvalidExtension, err)
			}
			out.FeatureActivation = &pfa
		case ProducerScheduleChangeID:
			if out.ScheduleChange != nil {
				return out, fmt.Errorf("%w: duplicate producer schedule change", ErrInvalidExtension)
			}
			var psc ProducerScheduleChange
			if err := Decode(ext.Data, &psc); err != nil {
				return out, fmt.Errorf("%w: producer schedule change: %v", ErrInvalidExtension, err)
			}
			out.ScheduleChange = &psc
		case ProtocolFeaturePreactivationID:
			if out.FeaturePreactivation != nil {
				return out, fmt.Errorf("%w: duplicate protocol feature preactivation", ErrInvalidExtension)
			}
			var pfp ProtocolFeaturePreactivation
			if err := Decode(ext.Data, &pfp); err != nil {
				return out, fmt.Errorf("%w: protocol feature preactivation: %v", ErrInvalidExtension, err)
			}
			out.FeaturePreactivation = &pfp
		default:
			// Unknown ids are carried in the header but have no meaning here.
		}
	}
	return out, nil
}

// AdditionalSignatures is the block extension carrying signatures beyond
// the primary producer signature.
type AdditionalSignatures struct {
	_          struct{} `cbor:",toarray"`
	Signatures []Signature
}

// EncodeAdditionalSignatures builds the block extension for sigs.
func EncodeAdditionalSignatures(sigs []Signature) (Extension, error) {
	data, err := Encode(&AdditionalSignatures{Signatures: sigs})
	if err != nil {
		return Extension{}, fmt.Errorf("%w: additional signatures: %v", ErrInvalidExtension, err)
	}
	return Extension{ID: AdditionalSignaturesID, Data: data}, nil
}

// ExtractAdditionalSignatures decodes the additional signatures of a block.
// A block without the extension has none.
func ExtractAdditionalSignatures(exts []Extension) ([]Signature, error) {
	if err := checkExtensionOrder(exts); err != nil {
		return nil, err
	}
	var (
		sigs  []Signature
		found bool
	)
	for _, ext := range exts {
		if ext.ID != AdditionalSignaturesID {
			continue
		}
		if found {
			return nil, fmt.Errorf("%w: duplicate additional signatures", ErrInvalidExtension)
		}
		found = true
		var as AdditionalSignatures
		if err := Decode(ext.Data, &as); err != nil {
			return nil, fmt.Errorf("%w: additional signatures: %v", ErrInvalidExtension, err)
		}
		if len(as.Signatures) == 0 {
			return nil, fmt.Errorf("%w: additional signatures extension is empty", ErrInvalidExtension)
		}
		sigs = as.Signatures
	}
	return sigs, nil
}

func checkExtensionOrder(exts []Extension) error {
	for i := 1; i < len(exts); i++ {
		if exts[i].ID < exts[i-1].ID {
			return fmt.Errorf("%w: ids out of order (%d after %d)", ErrInvalidExtension, exts[i].ID, exts[i-1].ID)
		}
	}
	return nil
}

func cloneExtensions(exts []Extension) []Extension {
	if exts == nil {
		return nil
	}
	out := make([]Extension, len(exts))
	for i, ext := range exts {
		data := make([]byte, len(ext.Data))
		copy(data, ext.Data)
		out[i] = Extension{ID: ext.ID, Data: data}
	}
	return out
}
