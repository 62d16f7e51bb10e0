// Package errs classifies the errors raised inside SenseFlow so loops can
// decide whether to retry, drop the single request, or stop.
package errs

import (
	"errors"
	"fmt"
)

// Class tells callers how to react to an error.
type Class int

const (
	// Transient errors may succeed on a later attempt (queue deadlines, socket writes).
	Transient Class = iota
	// Invalid errors are caused by a malformed request or unknown sensor; the request is dropped.
	Invalid
	// Fatal errors stop the component (bad configuration, closed resources).
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Invalid:
		return "invalid"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	// ErrTimedOut is returned by a bounded put whose deadline expired while the queue stayed full.
	ErrTimedOut = errors.New("timed out")
	// ErrNotFound marks a stop for a ticket that has no live stream.
	ErrNotFound = errors.New("registration not found")
	// ErrActivation is returned when the sensor source refuses to start or retune a sensor.
	ErrActivation = errors.New("sensor activation failed")
	// ErrUnknownSensor marks a request for a sensor type outside the catalog.
	ErrUnknownSensor = errors.New("unknown sensor type")
	// ErrClosed is returned by adapters used after Close.
	ErrClosed = errors.New("closed")
	// ErrInvalidConfig marks configuration that failed validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ClassifiedError pairs an error with its Class and the place it was raised.
type ClassifiedError struct {
	Class     Class
	Component string
	Operation string
	Err       error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Wrap formats err as "component.method: action failed: err".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps err and classifies it as Transient.
func WrapTransient(err error, component, method, action string) error {
	return classify(Transient, err, component, method, action)
}

// WrapInvalid wraps err and classifies it as Invalid.
func WrapInvalid(err error, component, method, action string) error {
	return classify(Invalid, err, component, method, action)
}

// WrapFatal wraps err and classifies it as Fatal.
func WrapFatal(err error, component, method, action string) error {
	return classify(Fatal, err, component, method, action)
}

func classify(class Class, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Component: component,
		Operation: method,
		Err:       Wrap(err, component, method, action),
	}
}

// ClassOf reports the class of err. Unclassified timeouts count as Transient,
// unclassified unknown-sensor and not-found errors as Invalid, everything else as Fatal.
func ClassOf(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	switch {
	case errors.Is(err, ErrTimedOut):
		return Transient
	case errors.Is(err, ErrUnknownSensor), errors.Is(err, ErrNotFound):
		return Invalid
	default:
		return Fatal
	}
}

// IsTransient is shorthand for ClassOf(err) == Transient.
func IsTransient(err error) bool { return err != nil && ClassOf(err) == Transient }

// IsInvalid is shorthand for ClassOf(err) == Invalid.
func IsInvalid(err error) bool { return err != nil && ClassOf(err) == Invalid }
