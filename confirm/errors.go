package confirm

import (
	"errors"
	"fmt"
)

// ErrConfirmation is the kind of every confirmation failure.
var ErrConfirmation = errors.New("confirmation error")

// Confirmation errors
var (
	ErrDoubleConfirm       = fmt.Errorf("%w: producer double-confirming known range", ErrConfirmation)
	ErrIllegalConfirmation = fmt.Errorf("%w: illegal confirmation", ErrConfirmation)
	ErrUnknownTracker      = fmt.Errorf("%w: unknown tracker kind", ErrConfirmation)
)
