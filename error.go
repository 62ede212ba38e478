package asyncflow

import (
	"errors"
	"fmt"
)

// Error taxonomy (spec §7). These are sentinel causes, wrapped with
// fmt.Errorf("%w", ...) so that errors.Is keeps working through the
// unwrapping chain, the same pattern the teacher uses in error.go.
var (
	errIllegalState         = errors.New("illegal state")
	errSchedulerRejection = errors.New("scheduler rejected operation")
	// OperationStopped is the sentinel a threaded/closure operation body
	// returns (as an error, Go having no exceptions) to signal cooperative
	// cancellation. It never surfaces to observers: notifyOperationCancelled
	// is called instead of notifyOperationFailed when a body returns it.
	OperationStopped      = errors.New("operation stopped")
	errReconciliationWait = errors.New("reconciliation wait timed out")
	// ErrOperationTimeout is a sentinel available to an onTimeout body
	// passed to the Timed combinator (spec §4.F), for callers that want to
	// record within their own result that the timeout path was taken
	// rather than relying solely on TimedOperation.IsTimedOut. Timed
	// itself never reports this as a failure cause: a timeout always
	// completes the wrapper (see DESIGN.md).
	ErrOperationTimeout = errors.New("operation timed out")
)

// IsIllegalState reports whether err was caused by an API call made in a
// forbidden state (starting a running service, reading the result of an
// operation that hasn't completed, ...).
func IsIllegalState(err error) bool {
	return errors.Is(err, errIllegalState)
}

// IsSchedulerRejection reports whether err was caused by a scheduler
// declining to enqueue or start a submitted operation.
func IsSchedulerRejection(err error) bool {
	return errors.Is(err, errSchedulerRejection)
}

// IsOperationStopped reports whether err is (or wraps) the cooperative
// cancellation sentinel.
func IsOperationStopped(err error) bool {
	return errors.Is(err, OperationStopped)
}

// IsBodyFailure reports whether err is a BodyFailure per spec §7: any error
// from a user-supplied hook (start, stop, execute) that isn't one of the
// framework's own recognized kinds.
func IsBodyFailure(err error) bool {
	if err == nil {
		return false
	}
	return !IsIllegalState(err) && !IsSchedulerRejection(err) &&
		!IsOperationStopped(err) && !IsReconciliationTimeout(err)
}

// IsReconciliationTimeout reports whether err is (or wraps) the
// reconciliation-timeout sentinel (spec §4.C, §7). NotifyOperationCompleted
// does not return or record this error: when the window elapses it logs at
// warn and forces the operation to RUNNING before completing it.
func IsReconciliationTimeout(err error) bool {
	return errors.Is(err, errReconciliationWait)
}

// IsOperationTimeout reports whether err is (or wraps) ErrOperationTimeout.
// Timed itself never produces this error; see ErrOperationTimeout.
func IsOperationTimeout(err error) bool {
	return errors.Is(err, ErrOperationTimeout)
}

func illegalStateErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, errIllegalState)...)
}

func schedulerRejectionErrorf(cause error) error {
	return fmt.Errorf("%w: %w", errSchedulerRejection, cause)
}

// rootCause unwraps a hook-returned error to its deepest cause (spec §7
// "exceptions are unwrapped through standard wrapping layers before being
// stored as the cause"), so that a failureCause is never an opaque wrapper
// a caller would need to unwrap themselves.
func rootCause(err error) error {
	if err == nil {
		return nil
	}
	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err
		}
		err = unwrapped
	}
}
