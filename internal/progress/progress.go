// Package progress defines the reporting contract between the data pipeline
// and whatever front end drives it. Reporters run synchronously after each
// page or stage and may cancel the whole operation by returning ErrCanceled.
package progress

import "errors"

// ErrCanceled is the distinguished signal a Func returns to abort the
// in-flight operation. It propagates through every pipeline layer unchanged;
// cache writes already completed stay valid.
var ErrCanceled = errors.New("operation canceled")

// Func receives a human-readable message and an overall fraction in [0,1].
type Func func(message string, fraction float64) error

// PageFunc reports paginated progress. total is 0 while the page count is
// still unknown.
type PageFunc func(page, total int) error

// Step clamps the fraction and forwards to fn, tolerating a nil reporter.
func Step(fn Func, fraction float64, message string) error {
	if fn == nil {
		return nil
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return fn(message, fraction)
}

// Page forwards to fn, tolerating a nil reporter.
func Page(fn PageFunc, page, total int) error {
	if fn == nil {
		return nil
	}
	return fn(page, total)
}

// Canceled reports whether err is (or wraps) the cancellation signal.
func Canceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}
