package engine

import (
	"errors"
	"fmt"
)

// Block validation errors. Every failure is terminal for the candidate
// block.
var (
	ErrTemporalOrder    = errors.New("block timestamp does not advance")
	ErrTemplateMismatch = errors.New("header does not match template")
	ErrSchedule         = errors.New("producer schedule error")
	ErrSignature        = errors.New("block signature error")
	ErrTemplateConsumed = errors.New("pending block header state already finished")
)

// Engine errors
var (
	ErrUnknownBlock       = errors.New("unknown block")
	ErrIrreversible       = errors.New("cannot pop irreversible block")
	ErrNoSigner           = errors.New("no block signer configured")
	ErrInvalidConfig      = errors.New("invalid config")
	ErrInvalidSnapshot    = errors.New("invalid legacy snapshot")
	ErrPreactivation      = errors.New("cannot pre-activate protocol feature")
	ErrForkSwitchRestored = errors.New("fork switch failed, previous branch restored")
	ErrWAL                = errors.New("block WAL write failed")
	ErrReplayFailed       = errors.New("WAL replay failed")
)

// TemplateMismatchError names the header field that differs from the
// template built by Next.
type TemplateMismatchError struct {
	Field    string
	Expected any
	Actual   any
}

func (e *TemplateMismatchError) Error() string {
	return fmt.Sprintf("%s: %s expected %v, got %v", ErrTemplateMismatch, e.Field, e.Expected, e.Actual)
}

// Unwrap lets errors.Is match ErrTemplateMismatch
func (e *TemplateMismatchError) Unwrap() error {
	return ErrTemplateMismatch
}

func mismatch(field string, expected, actual any) error {
	return &TemplateMismatchError{Field: field, Expected: expected, Actual: actual}
}
