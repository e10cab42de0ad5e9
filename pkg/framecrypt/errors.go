package framecrypt

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyRoomKey is returned when a MediaKey is requested for an empty room key.
	ErrEmptyRoomKey = errors.New("framecrypt: empty room key")

	// ErrCapabilityUnsupported signals that frame interception is unavailable.
	// Attach functions never return it; it exists for callers that log the
	// degraded state.
	ErrCapabilityUnsupported = errors.New("framecrypt: frame interception unsupported")

	// ErrCounterExhausted is returned once a sender has used every nonce
	// counter value under its key. The session key must be rotated.
	ErrCounterExhausted = errors.New("framecrypt: nonce counter exhausted")

	// ErrNilFrame is returned when a transform is handed a nil frame.
	ErrNilFrame = errors.New("framecrypt: nil frame")
)

// KeyDerivationError reports that a MediaKey could not be derived.
type KeyDerivationError struct {
	Op  string
	Err error
}

func (e *KeyDerivationError) Error() string {
	return fmt.Sprintf("framecrypt: derive media key: %s: %v", e.Op, e.Err)
}

func (e *KeyDerivationError) Unwrap() error { return e.Err }

// EncryptionError reports that a single frame could not be sealed.
// The frame was not modified and must be dropped.
type EncryptionError struct {
	Err error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("framecrypt: encrypt frame: %v", e.Err)
}

func (e *EncryptionError) Unwrap() error { return e.Err }
