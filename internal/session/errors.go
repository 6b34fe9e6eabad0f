package session

import (
	"errors"
	"fmt"
)

// ErrEmptyStream is returned by Play and Upload when the last recording
// holds no audio data
var ErrEmptyStream = errors.New("stream has no audio data")

// InvalidStateError reports an operation that is not allowed in the
// current state. Nothing is changed when it is returned.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s in %s state", e.Op, e.State)
}

// Step names the upload stage that failed
type Step string

const (
	StepContainer Step = "container"
	StepBlob      Step = "blob"
	StepTable     Step = "table"
	StepRecord    Step = "record"
	// StepUpload is used when an uploader fails without naming a stage
	StepUpload Step = "upload"
)

// CollaboratorFailure wraps an error raised by the storage collaborators
type CollaboratorFailure struct {
	Step Step
	Err  error
}

func (e *CollaboratorFailure) Error() string {
	return fmt.Sprintf("upload failed at %s step: %v", e.Step, e.Err)
}

func (e *CollaboratorFailure) Unwrap() error {
	return e.Err
}

// IsInvalidState reports whether err is an *InvalidStateError
func IsInvalidState(err error) bool {
	var ise *InvalidStateError
	return errors.As(err, &ise)
}
