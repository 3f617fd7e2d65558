// Package errs defines the fatal error classes surfaced by a training run.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigurationError reports an invalid or missing run option. It is always
// raised before the first training step.
type ConfigurationError struct {
	Option string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Option == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: %s: %s", e.Option, e.Reason)
}

// ShapeMismatchError reports inconsistent batch, label or conditioning sizes.
type ShapeMismatchError struct {
	What string
	Want int
	Got  int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch: %s: want %d, got %d", e.What, e.Want, e.Got)
}

// NumericalDivergenceError reports a non-finite network output or loss.
type NumericalDivergenceError struct {
	Quantity string
	Epoch    int
	Step     int
	Value    float64
}

func (e *NumericalDivergenceError) Error() string {
	return fmt.Sprintf("numerical divergence: %s=%v at epoch=%d step=%d", e.Quantity, e.Value, e.Epoch, e.Step)
}

// Configuration returns a ConfigurationError carrying a stack trace.
func Configuration(option, format string, args ...interface{}) error {
	return errors.WithStack(&ConfigurationError{Option: option, Reason: fmt.Sprintf(format, args...)})
}

// ShapeMismatch returns a ShapeMismatchError carrying a stack trace.
func ShapeMismatch(what string, want, got int) error {
	return errors.WithStack(&ShapeMismatchError{What: what, Want: want, Got: got})
}

// Divergence returns a NumericalDivergenceError carrying a stack trace.
func Divergence(quantity string, epoch, step int, value float64) error {
	return errors.WithStack(&NumericalDivergenceError{Quantity: quantity, Epoch: epoch, Step: step, Value: value})
}

// IsConfiguration reports whether err wraps a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsShapeMismatch reports whether err wraps a ShapeMismatchError.
func IsShapeMismatch(err error) bool {
	var target *ShapeMismatchError
	return errors.As(err, &target)
}

// IsDivergence reports whether err wraps a NumericalDivergenceError.
func IsDivergence(err error) bool {
	var target *NumericalDivergenceError
	return errors.As(err, &target)
}
