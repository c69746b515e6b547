package models

import "errors"

// Sentinel errors for the room core. Handlers and the coordinator use
// errors.Is against these; most of them degrade to silent no-ops at the
// protocol boundary.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
)
