package errors

// DriverError is an error that remembers which stable FatError sentinel it
// originated from, plus any wrapped cause, so errors.Is keeps working after
// WithMessage/Wrap add context.
type DriverError interface {
	error
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
}

// -----------------------------------------------------------------------------

type wrappedError struct {
	message  string
	sentinel FatError
	cause    error
}

func (e *wrappedError) Error() string {
	return e.message
}

func (e *wrappedError) WithMessage(message string) DriverError {
	return e.sentinel.WithMessage(message)
}

func (e *wrappedError) Wrap(err error) DriverError {
	return &wrappedError{
		message:  e.message + ": " + err.Error(),
		sentinel: e.sentinel,
		cause:    err,
	}
}

// Unwrap exposes both the original sentinel and the wrapped cause (if any)
// so errors.Is(err, ErrNotFound) and errors.Is(err, originalCause) both
// succeed, matching the behavior asserted for the teacher framework's
// error-wrapping tests.
func (e *wrappedError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.sentinel}
	}
	return []error{e.sentinel, e.cause}
}
