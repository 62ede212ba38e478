package asyncflow

import "context"

// ThreadedOperationBody is the synchronous, cancellable body of a
// ThreadedOperation (spec §4.D). It should periodically check token and
// return OperationStopped once it honors a cancellation request; returning
// any other error after token.Cancelled() is true is also treated as a
// cancellation rather than a failure, since a body racing its own teardown
// against a cancel request cannot always distinguish the two.
type ThreadedOperationBody[R any] func(ctx context.Context, token CancelToken) (R, error)

// NewThreadedOperation wraps a synchronous body as a BaseOperation[R] (spec
// §4.D, grounded on the cooperative-cancellation idiom of FutureTask's
// interrupt channel). The Start hook launches the body in its own
// goroutine -- threaded bodies have no separate startup prelude, so it
// notifies RUNNING immediately -- and the Stop hook requests cancellation
// through a CancelToken threaded into the body.
func NewThreadedOperation[R any](name string, body ThreadedOperationBody[R], opts *OperationOptions) *BaseOperation[R] {
	token := newCancelToken()

	start := func(op *BaseOperation[R]) error {
		op.NotifyOperationStarted()
		go func() {
			result, err := body(context.Background(), token)
			switch {
			case err == nil:
				op.NotifyOperationCompleted(result)
			case IsOperationStopped(err) || token.Cancelled():
				op.NotifyOperationCancelled()
			default:
				op.NotifyOperationFailed(err)
			}
		}()
		return nil
	}

	stop := func() {
		token.request()
	}

	return NewOperation(OperationHooks[R]{Name: name, Start: start, Stop: stop}, opts)
}
