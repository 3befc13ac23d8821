// Package apperr defines the error categories used across visionprep.
//
// Error taxonomy
//
//	UserError  – caused by missing or invalid user input (wrong flag, bad value, …).
//	             The CLI prints only the message; usage help is NOT repeated.
//	             Exit code: 1.
//
//	ErrCancelled – the user deliberately aborted an interactive flow (config
//	               wizard, overwrite prompt, …).
//	               Exit code: 0 (not a failure).
//
//	ConfigError – a run configuration failed to load or validate. Always fatal
//	              at startup, before any image I/O happens.
//
//	AnnotationFormatError / ReferentialIntegrityError – the annotation file is
//	              structurally broken. Fatal; no loader is ever built.
//
//	SampleFetchError – one image could not be read or decoded while iterating
//	              a loader. Fatal or skipped depending on the fetch policy.
//
// Data-quality findings (degenerate boxes, empty annotation lists, …) are NOT
// errors; they are reported by internal/dataquality.
//
// Everything else is a plain Go error (I/O, network, database, …) and is
// propagated with fmt.Errorf("context: %w", err) wrapping.
package apperr

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned when the user explicitly aborts an interactive
// operation.  The CLI should exit 0 rather than 1 when it sees this error.
var ErrCancelled = errors.New("operation cancelled")

// UserError represents an error caused by invalid or missing user input.
// Cobra command handlers return this instead of a bare fmt.Errorf so that
// the root command can suppress repeated usage output and format the message
// in a user-friendly way.
type UserError struct {
	Message string
}

func (e *UserError) Error() string { return e.Message }

// User creates a UserError with the given message.
func User(msg string) error { return &UserError{Message: msg} }

// Userf creates a formatted UserError.
func Userf(format string, args ...any) error {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// IsUser reports whether err is (or wraps) a *UserError.
func IsUser(err error) bool {
	var u *UserError
	return errors.As(err, &u)
}

// ConfigError reports a configuration field that is missing or out of range.
// Field is the dotted path inside the document (e.g. "model.iou_threshold").
type ConfigError struct {
	Task   string
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	task := e.Task
	if task == "" {
		task = "unknown"
	}
	msg := fmt.Sprintf("configuration error [task=%s]", task)
	if e.Field != "" {
		msg += " " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfig reports whether err is (or wraps) a *ConfigError.
func IsConfig(err error) bool {
	var c *ConfigError
	return errors.As(err, &c)
}

// AnnotationFormatError reports a structurally invalid annotation file.
type AnnotationFormatError struct {
	Path   string
	Reason string
	Err    error
}

func (e *AnnotationFormatError) Error() string {
	path := e.Path
	if path == "" {
		path = "<stream>"
	}
	msg := fmt.Sprintf("annotation format error in %s: %s", path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AnnotationFormatError) Unwrap() error { return e.Err }

// IsAnnotationFormat reports whether err is (or wraps) an *AnnotationFormatError.
func IsAnnotationFormat(err error) bool {
	var a *AnnotationFormatError
	return errors.As(err, &a)
}

// ReferentialIntegrityError reports an annotation that points at an image id
// missing from the image list.
type ReferentialIntegrityError struct {
	Path         string
	AnnotationID int64
	ImageID      int64
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("referential integrity error: annotation %d references unknown image_id %d", e.AnnotationID, e.ImageID)
}

// IsReferentialIntegrity reports whether err is (or wraps) a *ReferentialIntegrityError.
func IsReferentialIntegrity(err error) bool {
	var r *ReferentialIntegrityError
	return errors.As(err, &r)
}

// SampleFetchError reports a sample whose image could not be read or decoded.
type SampleFetchError struct {
	ImageID int64
	Path    string
	Err     error
}

func (e *SampleFetchError) Error() string {
	return fmt.Sprintf("fetch sample image_id=%d (%s): %v", e.ImageID, e.Path, e.Err)
}

func (e *SampleFetchError) Unwrap() error { return e.Err }

// IsSampleFetch reports whether err is (or wraps) a *SampleFetchError.
func IsSampleFetch(err error) bool {
	var s *SampleFetchError
	return errors.As(err, &s)
}
