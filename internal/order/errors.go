package order

import (
	"errors"
	"fmt"
)

// Class places a step failure in the retry taxonomy: transient failures are
// retried inside the owning step, attempt-fatal ones abort the attempt and
// let the controller retry it whole, session-fatal ones stop the session.
type Class int

const (
	ClassTransient Class = iota
	ClassAttemptFatal
	ClassSessionFatal
)

// Sentinel errors for the step outcomes the controller distinguishes.
var (
	ErrTabSwitchFailed       = errors.New("buy tab switch failed")
	ErrToggleFailed          = errors.New("reverse order toggle failed")
	ErrPriceUnavailable      = errors.New("reference price unavailable")
	ErrAmountInputFailed     = errors.New("amount input failed")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrSubmitControlNotFound = errors.New("submit control not found")
	ErrSubmitDisabled        = errors.New("submit control disabled")
	ErrConfirmationStuck     = errors.New("confirmation dialog did not dismiss")
	ErrCompletionTimeout     = errors.New("timed out waiting for order completion")
	// ErrIncomplete reports that the final settle re-check still saw a
	// pending row; the round is skipped rather than counted as an error.
	ErrIncomplete = errors.New("buy not confirmed complete")
)

// StepError wraps a step failure with its name and class.
type StepError struct {
	Step  string
	Class Class
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func fail(step string, class Class, err error) error {
	return &StepError{Step: step, Class: class, Err: err}
}

// ClassOf extracts the failure class; unknown errors default to
// attempt-fatal so the controller's whole-attempt retry still bounds them.
func ClassOf(err error) Class {
	var se *StepError
	if errors.As(err, &se) {
		return se.Class
	}
	return ClassAttemptFatal
}

// StepOf names the failing step, or "" for errors outside the pipeline.
func StepOf(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}
