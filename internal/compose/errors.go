package compose

import (
	"errors"
	"fmt"
	"time"
)

type validationError string

func (e validationError) Error() string { return string(e) }

func (e validationError) Is(target error) bool { return target == ErrValidation }

// ErrValidation matches every error the validator or attacher produces
// locally, before any request is sent.
var ErrValidation = errors.New("validation failed")

var (
	ErrNoTargetSelected     error = validationError("no target selected")
	ErrEmptyContent         error = validationError("content is empty")
	ErrContentTooLong       error = validationError("content exceeds the character limit")
	ErrMediaLimitExceeded   error = validationError(fmt.Sprintf("at most %d media files can be attached", MaxMedia))
	ErrUnsupportedMediaType error = validationError("only image or video files can be attached")
	ErrMissingScheduleTime  error = validationError("schedule time is required")
	ErrScheduleInPast       error = validationError("schedule time is in the past")
	ErrTargetUnavailable    error = validationError("target is not available")
	ErrTargetNotSelected    error = validationError("target is not selected")
	ErrInvalidMode          error = validationError("unknown post mode")
	ErrMediaIndex           error = validationError("media index out of range")

	// ErrTooManyMedia is what the attacher reports for an oversized batch.
	ErrTooManyMedia = ErrMediaLimitExceeded
)

// ErrDispatchInProgress rejects a submission while another one is outstanding.
var ErrDispatchInProgress = errors.New("a dispatch is already in progress")

// EmptyContentError names the target whose effective content is blank.
type EmptyContentError struct {
	Target string
}

func (e *EmptyContentError) Error() string {
	return fmt.Sprintf("%s: content is empty", e.Target)
}

func (e *EmptyContentError) Is(target error) bool {
	return target == ErrValidation || target == ErrEmptyContent
}

// ContentTooLongError reports content over a target's limit.
type ContentTooLongError struct {
	Target string
	Length int
	Limit  int
}

func (e *ContentTooLongError) Error() string {
	return fmt.Sprintf("%s: content is %d characters, limit is %d", e.Target, e.Length, e.Limit)
}

func (e *ContentTooLongError) Is(target error) bool {
	return target == ErrValidation || target == ErrContentTooLong
}

// MediaLimitError reports a media list that would grow past MaxMedia.
type MediaLimitError struct {
	Current  int
	Incoming int
}

func (e *MediaLimitError) Error() string {
	return fmt.Sprintf("at most %d media files can be attached (have %d, adding %d)", MaxMedia, e.Current, e.Incoming)
}

func (e *MediaLimitError) Is(target error) bool {
	return target == ErrValidation || target == ErrMediaLimitExceeded
}

// UnsupportedMediaTypeError names the file that is neither image nor video.
type UnsupportedMediaTypeError struct {
	Name     string
	MimeType string
}

func (e *UnsupportedMediaTypeError) Error() string {
	return fmt.Sprintf("%s: unsupported media type %q, only image or video files can be attached", e.Name, e.MimeType)
}

func (e *UnsupportedMediaTypeError) Is(target error) bool {
	return target == ErrValidation || target == ErrUnsupportedMediaType
}

// ScheduleInPastError reports a schedule time earlier than now.
type ScheduleInPastError struct {
	At  time.Time
	Now time.Time
}

func (e *ScheduleInPastError) Error() string {
	return fmt.Sprintf("schedule time %s is before now (%s)", e.At.Format(time.RFC3339), e.Now.Format(time.RFC3339))
}

func (e *ScheduleInPastError) Is(target error) bool {
	return target == ErrValidation || target == ErrScheduleInPast
}

// TargetUnavailableError reports selection of an unknown or disabled target.
type TargetUnavailableError struct {
	Target string
	Reason string
}

func (e *TargetUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s", e.Target, e.Reason)
}

func (e *TargetUnavailableError) Is(target error) bool {
	return target == ErrValidation || target == ErrTargetUnavailable
}

// ActionError wraps a transport failure with the user-facing action that failed.
type ActionError struct {
	Action string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
