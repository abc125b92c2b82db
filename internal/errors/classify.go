package errors

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"syscall"
)

// Kind is the coarse class used by the task scheduler to pick a retry policy.
type Kind int

const (
	// KindFatal errors are reported and never retried.
	KindFatal Kind = iota
	// KindTransient errors are retried with exponential backoff.
	KindTransient
	// KindNotFound errors are retried a bounded number of times by partial-update tasks.
	KindNotFound
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	default:
		return "fatal"
	}
}

// Classify maps an error onto a Kind.
// LearnErrors classify by code; a few raw causes (deadline, busy descriptors)
// are treated as transient so an unwrapped boundary error is not mistaken for fatal.
func Classify(err error) Kind {
	if err == nil {
		return KindFatal
	}
	if le, ok := As(err); ok {
		switch {
		case isNotFoundCode(le.Code):
			return KindNotFound
		case le.Retryable:
			return KindTransient
		default:
			return KindFatal
		}
	}
	if stderrors.Is(err, context.DeadlineExceeded) ||
		stderrors.Is(err, syscall.EAGAIN) ||
		stderrors.Is(err, syscall.EBUSY) ||
		stderrors.Is(err, os.ErrDeadlineExceeded) {
		return KindTransient
	}
	return KindFatal
}

// FromEngine wraps an error raised at the index engine boundary with a code.
// Timeouts and contention become retryable, missing files become not-found,
// anything else is treated as a mapping or encoding failure.
func FromEngine(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	switch {
	case stderrors.Is(err, context.DeadlineExceeded), stderrors.Is(err, os.ErrDeadlineExceeded):
		return New(ErrCodeEngineTimeout, op+": "+err.Error(), err)
	case stderrors.Is(err, context.Canceled):
		return New(ErrCodeEngineUnavailable, op+": "+err.Error(), err)
	case stderrors.Is(err, syscall.EAGAIN), stderrors.Is(err, syscall.EBUSY):
		return New(ErrCodeEngineBusy, op+": "+err.Error(), err)
	case stderrors.Is(err, fs.ErrNotExist):
		return New(ErrCodeIndexNotFound, op+": "+err.Error(), err)
	default:
		return New(ErrCodeInvalidDocument, op+": "+err.Error(), err)
	}
}
