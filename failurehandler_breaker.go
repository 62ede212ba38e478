package asyncflow

import (
	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerFailureHandlerOptions configures
// NewCircuitBreakerFailureHandler.
type CircuitBreakerFailureHandlerOptions struct {
	Settings gobreaker.Settings
	// Stop runs once the breaker trips open, before the service settles
	// into FAILED, mirroring the default FailureHandler's own behavior of
	// running Stop on the way to FAILED.
	Stop func() error
}

// NewCircuitBreakerFailureHandler returns a FailureHandler (spec §4.A) built
// on a sony/gobreaker/v2 CircuitBreaker: every call to
// NotifyServiceFailed is recorded against the breaker as an execution
// failure. While the breaker stays CLOSED or HALF_OPEN, the failure is
// treated as transient and the service silently recovers to RUNNING; once
// enough failures trip the breaker OPEN, the handler runs Stop and settles
// the service into FAILED instead, so a flapping dependency degrades the
// service only after it has genuinely stopped being transient.
func NewCircuitBreakerFailureHandler(opts CircuitBreakerFailureHandlerOptions) FailureHandler {
	cb := gobreaker.NewCircuitBreaker[struct{}](opts.Settings)

	return func(cause error) ServiceState {
		_, _ = cb.Execute(func() (struct{}, error) {
			return struct{}{}, cause
		})

		if cb.State() == gobreaker.StateOpen {
			if opts.Stop != nil {
				_ = opts.Stop()
			}
			return ServiceFailed
		}
		return ServiceRunning
	}
}
