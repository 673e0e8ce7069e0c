package rccar

import (
	"errors"
	"fmt"
)

// ErrSourceClosed is returned by a frame source once its capture stream has
// ended or was closed. Loops treat it as fatal to themselves.
var ErrSourceClosed = errors.New("frame source closed")

// InferenceError is a failure to prepare a frame for the model, or of the model
// itself. The tick that hit it is skipped.
type InferenceError struct {
	Stage string // "prepare" or "predict"
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference %s: %v", e.Stage, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// PersistenceError is a failure to flush a recording session to durable
// storage. The session's samples are kept for the next attempt.
type PersistenceError struct {
	Session string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting session %s: %v", e.Session, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
