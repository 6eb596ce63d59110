package crf

import "errors"

// Sentinel errors for the four fatal-error kinds the engine distinguishes.
// ErrOutOfMemory is never actually returned by BufferManager, whose
// allocation always succeeds or the process dies; it is kept as a named
// sentinel so callers that want to special-case it (e.g. a future arena
// backed by a fixed-size mmap) have somewhere to anchor errors.Is checks.
var (
	ErrOutOfMemory   = errors.New("crf: out of memory")
	ErrInvalidModel  = errors.New("crf: invalid model file")
	ErrInternalLogic = errors.New("crf: internal logic error")
	ErrNotSupported  = errors.New("crf: not supported")
)
