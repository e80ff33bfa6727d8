package domain

import "errors"

var (
	// ErrValidation is returned when input is rejected before anything is persisted
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when a referenced entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrDecode is returned when stored bytes are not valid UTF-8 text
	ErrDecode = errors.New("decode error")

	// ErrTransientIO is returned for byte store or inference failures that may succeed on retry
	ErrTransientIO = errors.New("transient io error")

	// ErrUnknownJobType is returned when no handler is registered for a job type
	ErrUnknownJobType = errors.New("Unknown job type")

	// ErrInferenceRejected is returned when the inference service refuses the request itself
	ErrInferenceRejected = errors.New("inference request rejected")

	// ErrJobAlreadyClaimed is returned when attempting to claim a job that's already claimed
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in PENDING status")

	// ErrInvalidTransition is returned when a state change is not allowed from the current status
	ErrInvalidTransition = errors.New("invalid status transition")
)

// PermanentError wraps failures that retrying cannot fix. The job that
// produced it is failed with its attempts exhausted.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent error: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError creates a new permanent error
func NewPermanentError(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err or anything it wraps is a PermanentError
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
