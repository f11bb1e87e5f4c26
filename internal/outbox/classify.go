package outbox

import (
	"context"
	"errors"
	"net"

	"github.com/pretyflaco/syncd/internal/metrics"
)

// ClassifiedError is implemented by transport errors that carry their own
// failure class.
type ClassifiedError interface {
	error
	FailureClass() metrics.FailureClass
}

type classedError struct {
	err   error
	class metrics.FailureClass
}

func (e *classedError) Error() string                      { return e.err.Error() }
func (e *classedError) Unwrap() error                      { return e.err }
func (e *classedError) FailureClass() metrics.FailureClass { return e.class }

// WithClass wraps err with an explicit failure class.
func WithClass(err error, class metrics.FailureClass) error {
	if err == nil {
		return nil
	}
	return &classedError{err: err, class: class}
}

// Classify buckets a transport error. Errors implementing ClassifiedError
// keep their class; net errors count as network; everything else is
// unknown.
func Classify(err error) metrics.FailureClass {
	if err == nil {
		return metrics.FailureUnknown
	}
	var ce ClassifiedError
	if errors.As(err, &ce) {
		return ce.FailureClass()
	}
	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) {
		return metrics.FailureNetwork
	}
	return metrics.FailureUnknown
}
