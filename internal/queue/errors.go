package queue

import "errors"

// permanentError marks a job failure no retry can fix. The subscriber
// discards the message instead of requeueing it.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so delivery stops immediately. The worker uses it
// for missing records, missing source objects and owners deleted
// mid-flight; everything else stays eligible for backoff and redelivery.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err or anything it wraps was marked with
// Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
