package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Wrap builds an error message that includes worker context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, worker, operation, message string, err error) error {
	detail := buildDetail(worker, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureMessage renders err as the human-readable reason stored on a video
// record. Deadline errors are reported as timeouts so clients can tell them
// apart from explicit failures.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Sprintf("%s: worker ran out of time: %s", ErrTimeout, err.Error())
	}
	return strings.TrimSpace(err.Error())
}

func buildDetail(worker, operation, message string) string {
	parts := make([]string, 0, 3)
	if worker = strings.TrimSpace(worker); worker != "" {
		parts = append(parts, worker)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

type failureError struct {
	msg string
	err error
}

func (e *failureError) Error() string { return e.msg }

func (e *failureError) Unwrap() error { return e.err }

// Failure returns err with its message rewritten by FailureMessage. The
// original chain stays reachable through errors.Is and errors.As.
func Failure(err error) error {
	if err == nil {
		return nil
	}
	msg := FailureMessage(err)
	if msg == err.Error() {
		return err
	}
	return &failureError{msg: msg, err: err}
}
