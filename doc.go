// Package asyncflow provides lifecycle and asynchronous-operation
// primitives: a Service state machine for long-running activities, and an
// AsyncOperation state machine for one-shot cancellable computations with a
// typed result.
//
// A typical HTTP server could look like:
//
//	type MyHTTPServer struct {
//	    server http.Server
//	}
//
//	func (m *MyHTTPServer) Start() error {
//	    return m.server.ListenAndServe()
//	}
//
// This is fine for simple programs, but it leaves readiness probes,
// graceful shutdown, failure recovery and observability as boilerplate
// every caller has to rebuild. Using asyncflow, the same server becomes:
//
//	type MyHTTPServer struct {
//	    *asyncflow.BaseService
//	    server http.Server
//	}
//
//	func NewHTTPServer() *MyHTTPServer {
//	    mux := http.NewServeMux()
//	    mux.HandleFunc("/", func(rw http.ResponseWriter, req *http.Request) {
//	        rw.Write([]byte("Hello!"))
//	    })
//	    server := http.Server{Addr: ":8090", Handler: mux}
//	    m := &MyHTTPServer{server: server}
//	    m.BaseService = asyncflow.NewThreadedService("http",
//	        func(ctx context.Context, cb asyncflow.ThreadCallback) error {
//	            go func() {
//	                <-cb.StopRequested()
//	                server.Shutdown(context.Background())
//	            }()
//	            err := server.ListenAndServe()
//	            if err == http.ErrServerClosed {
//	                return nil
//	            }
//	            return err
//	        }, nil)
//	    return m
//	}
//
//	// No need to add Start, Stop and the other lifecycle-controlling
//	// methods; they come from BaseService.
//
// Out of the box, this provides:
//
//	• Start, Stop, NotifyServiceFailed and NotifyServiceInterrupted
//	• A three-state STOPPED/RUNNING/FAILED machine with a pluggable FailureHandler
//	• Structured logging through an injectable Logger
//	• Listeners to observe state changes, delivered in transition order
//	  (a Service listener sees only transitions made after it was added)
//
// For one-shot work with a result, AsyncOperation plays the equivalent
// role: NewThreadedOperation wraps a synchronous, cancellable function as a
// NOT_STARTED/RUNNING/{COMPLETED,FAILED,CANCELLED} state machine, and the
// combinators in this package (Sequential, Concurrent, Timed, Delayed,
// Periodic, Backgrounded, OnFault) compose operations the way Service
// combinators (NewCompositeService, NewConcurrentService, Chain) compose
// services.
package asyncflow
