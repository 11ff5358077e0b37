package common

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
)

// Pipeline errors
var (
	ErrFileNotFound        = errors.New("file not found")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileNotReady        = errors.New("file not ready")
	ErrProcessingTimeout   = errors.New("processing timeout")
	ErrServiceUnavailable  = errors.New("service unavailable")
	ErrOCRUnavailable      = errors.New("ocr unavailable")
	ErrUnreadableImage     = errors.New("unreadable image")
	ErrRenameCollision     = errors.New("ready name already exists")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrCancelled           = errors.New("queue item cancelled")
	ErrDuplicateFile       = errors.New("file already has a live queue item")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsRetryable reports whether a pipeline-level failure may succeed on a later attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrOCRUnavailable) ||
		errors.Is(err, ErrProcessingTimeout)
}

// ToStatus maps an error onto a gRPC status error. Status errors pass through.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrFileNotFound), errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrUnsupportedFileType), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrFileNotReady), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrRenameCollision):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrDuplicateFile):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, ErrProcessingTimeout), errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, ErrServiceUnavailable), errors.Is(err, ErrOCRUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// FromStatus turns a gRPC status back into the matching sentinel so callers
// on the client side can use errors.Is.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.NotFound:
		sentinel = ErrFileNotFound
	case codes.InvalidArgument:
		sentinel = ErrInvalidInput
	case codes.FailedPrecondition:
		sentinel = ErrFileNotReady
	case codes.AlreadyExists:
		sentinel = ErrDuplicateFile
	case codes.DeadlineExceeded:
		sentinel = ErrProcessingTimeout
	case codes.Unavailable, codes.ResourceExhausted:
		sentinel = ErrServiceUnavailable
	case codes.Canceled:
		sentinel = ErrCancelled
	default:
		sentinel = ErrInternal
	}
	return fmt.Errorf("%w: %s", sentinel, st.Message())
}
