package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally wrapped)
// so services and handlers can translate them without knowing the backend.
//
// - ErrNotFound: entity does not exist in store
// - ErrConflict: write collides with existing state
// - ErrInvalidInput: request payload cannot be used as given
// - ErrUnavailable: backing service temporarily unavailable
//
// Certificate decoding failures use internal/certificate/certerr instead.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("unavailable")
)
