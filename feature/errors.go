package feature

import (
	"errors"
	"fmt"
)

// ErrProtocolFeature is the kind of every protocol feature failure.
var ErrProtocolFeature = errors.New("protocol feature error")

// Protocol feature errors
var (
	ErrNotInitialized     = fmt.Errorf("%w: manager not initialized", ErrProtocolFeature)
	ErrUnrecognized       = fmt.Errorf("%w: unrecognized protocol feature", ErrProtocolFeature)
	ErrAlreadyActive      = fmt.Errorf("%w: protocol feature already active", ErrProtocolFeature)
	ErrActivationOrder    = fmt.Errorf("%w: activation block number goes backwards", ErrProtocolFeature)
	ErrMissingDependency  = fmt.Errorf("%w: missing dependency", ErrProtocolFeature)
	ErrDuplicateDigest    = fmt.Errorf("%w: duplicate protocol feature digest", ErrProtocolFeature)
	ErrDuplicateCodename  = fmt.Errorf("%w: duplicate builtin codename", ErrProtocolFeature)
	ErrUnsupportedBuiltin = fmt.Errorf("%w: unsupported builtin", ErrProtocolFeature)
	ErrDisabled           = fmt.Errorf("%w: protocol feature disabled", ErrProtocolFeature)
	ErrTooEarly           = fmt.Errorf("%w: protocol feature activated too early", ErrProtocolFeature)
	ErrNotPreactivated    = fmt.Errorf("%w: protocol feature requires pre-activation", ErrProtocolFeature)
	ErrDuplicateProposal  = fmt.Errorf("%w: protocol feature proposed twice", ErrProtocolFeature)
	ErrPreactivationOff   = fmt.Errorf("%w: pre-activation is not enabled", ErrProtocolFeature)
	ErrAlreadyPreactive   = fmt.Errorf("%w: protocol feature already pre-activated", ErrProtocolFeature)
)
