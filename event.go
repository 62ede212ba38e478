package asyncflow

import (
	"github.com/google/uuid"
)

// ServiceStateChangeEvent is published whenever a Service's public state
// changes (spec §3.4). Equality is structural over (target, from, to).
type ServiceStateChangeEvent struct {
	Service Service
	From    ServiceState
	To      ServiceState
	Cause   error
	Tag     string
}

// Get implements the generic event-bus accessor-by-name contract of spec
// §6 (listeners may be registered against a bus expecting name->value
// lookup rather than a typed struct).
func (e ServiceStateChangeEvent) Get(property string) (interface{}, bool) {
	switch property {
	case "target", "service":
		return e.Service, true
	case "from":
		return e.From, true
	case "to":
		return e.To, true
	case "cause":
		return e.Cause, true
	case "tag":
		return e.Tag, true
	default:
		return nil, false
	}
}

func (e ServiceStateChangeEvent) Equal(o ServiceStateChangeEvent) bool {
	return e.Service == o.Service && e.From == o.From && e.To == o.To
}

// AsyncOperationStateChangeEvent is published whenever an AsyncOperation's
// public state changes (spec §3.4).
type AsyncOperationStateChangeEvent struct {
	Operation interface{}
	ToState   OperationState
	Cause     error
	Tag       string
}

func (e AsyncOperationStateChangeEvent) Get(property string) (interface{}, bool) {
	switch property {
	case "target", "operation":
		return e.Operation, true
	case "toState", "to":
		return e.ToState, true
	case "cause":
		return e.Cause, true
	case "tag":
		return e.Tag, true
	default:
		return nil, false
	}
}

func (e AsyncOperationStateChangeEvent) Equal(o AsyncOperationStateChangeEvent) bool {
	return e.Operation == o.Operation && e.ToState == o.ToState
}

func newTag() string {
	return uuid.NewString()
}

// ServiceListener is the callback-style listener shape for Service state
// changes (spec §6 listener protocol, variant 1).
type ServiceListener interface {
	OnStateChanged(event ServiceStateChangeEvent)
}

// ServiceListenerFunc adapts a plain function to a ServiceListener.
type ServiceListenerFunc func(event ServiceStateChangeEvent)

func (f ServiceListenerFunc) OnStateChanged(event ServiceStateChangeEvent) {
	f(event)
}

// OperationListener is the callback-style listener shape for AsyncOperation
// state changes (spec §6 listener protocol, variant 1): separate started /
// finished callbacks, mirroring the source's onAsyncOperationStarted /
// onAsyncOperationFinished pair.
type OperationListener interface {
	OnOperationStarted(event AsyncOperationStateChangeEvent)
	OnOperationFinished(event AsyncOperationStateChangeEvent)
}

// OperationListenerFuncs adapts two plain functions to an OperationListener.
// Either may be nil.
type OperationListenerFuncs struct {
	Started  func(event AsyncOperationStateChangeEvent)
	Finished func(event AsyncOperationStateChangeEvent)
}

func (f OperationListenerFuncs) OnOperationStarted(event AsyncOperationStateChangeEvent) {
	if f.Started != nil {
		f.Started(event)
	}
}

func (f OperationListenerFuncs) OnOperationFinished(event AsyncOperationStateChangeEvent) {
	if f.Finished != nil {
		f.Finished(event)
	}
}
