package payment

// intentState implements the state pattern for the intent lifecycle:
// pending → awaiting_method → processing → {succeeded | failed};
// cancelled is reachable from any non-terminal state. Transitions are
// one-directional and terminal states reject every event.
type intentState interface {
	Status() Status
	OnGatewayAccepted(i *Intent) (intentState, error)
	OnMethodAttached(i *Intent) (intentState, error)
	OnSucceeded(i *Intent) (intentState, error)
	OnFailed(i *Intent, reason string) (intentState, error)
	OnCancelled(i *Intent) (intentState, error)
}

func (i *Intent) state() intentState {
	switch i.Status {
	case StatusPending:
		return pendingState{}
	case StatusAwaitingMethod:
		return awaitingMethodState{}
	case StatusProcessing:
		return processingState{}
	case StatusSucceeded:
		return terminalState{status: StatusSucceeded}
	case StatusFailed:
		return terminalState{status: StatusFailed}
	default:
		return terminalState{status: StatusCancelled}
	}
}

type pendingState struct{}

func (pendingState) Status() Status { return StatusPending }

func (pendingState) OnGatewayAccepted(i *Intent) (intentState, error) {
	i.FailureReason = ""
	return awaitingMethodState{}, nil
}

func (pendingState) OnMethodAttached(*Intent) (intentState, error) {
	return nil, ErrInvalidStateTransition
}

func (pendingState) OnSucceeded(*Intent) (intentState, error) {
	return nil, ErrInvalidStateTransition
}

func (pendingState) OnFailed(i *Intent, reason string) (intentState, error) {
	i.FailureReason = reason
	return terminalState{status: StatusFailed}, nil
}

func (pendingState) OnCancelled(*Intent) (intentState, error) {
	return terminalState{status: StatusCancelled}, nil
}

type awaitingMethodState struct{}

func (awaitingMethodState) Status() Status { return StatusAwaitingMethod }

func (awaitingMethodState) OnGatewayAccepted(*Intent) (intentState, error) {
	return nil, ErrInvalidStateTransition
}

func (awaitingMethodState) OnMethodAttached(i *Intent) (intentState, error) {
	i.FailureReason = ""
	return processingState{}, nil
}

// OnSucceeded is legal here: the provider can confirm a charge for an attach
// whose response we never saw (ambiguous timeout reconciled by polling).
func (awaitingMethodState) OnSucceeded(i *Intent) (intentState, error) {
	i.FailureReason = ""
	return terminalState{status: StatusSucceeded}, nil
}

func (awaitingMethodState) OnFailed(i *Intent, reason string) (intentState, error) {
	i.FailureReason = reason
	return terminalState{status: StatusFailed}, nil
}

func (awaitingMethodState) OnCancelled(*Intent) (intentState, error) {
	return terminalState{status: StatusCancelled}, nil
}

type processingState struct{}

func (processingState) Status() Status { return StatusProcessing }

func (processingState) OnGatewayAccepted(*Intent) (intentState, error) {
	return nil, ErrInvalidStateTransition
}

func (processingState) OnMethodAttached(*Intent) (intentState, error) {
	return nil, ErrInvalidStateTransition
}

func (processingState) OnSucceeded(i *Intent) (intentState, error) {
	i.FailureReason = ""
	return terminalState{status: StatusSucceeded}, nil
}

func (processingState) OnFailed(i *Intent, reason string) (intentState, error) {
	i.FailureReason = reason
	return terminalState{status: StatusFailed}, nil
}

func (processingState) OnCancelled(*Intent) (intentState, error) {
	return terminalState{status: StatusCancelled}, nil
}

type terminalState struct{ status Status }

func (s terminalState) Status() Status { return s.status }

func (s terminalState) OnGatewayAccepted(*Intent) (intentState, error) {
	return nil, ErrInvalidStateTransition
}

func (s terminalState) OnMethodAttached(*Intent) (intentState, error) {
	return nil, ErrInvalidStateTransition
}

func (s terminalState) OnSucceeded(*Intent) (intentState, error) {
	return nil, ErrInvalidStateTransition
}

func (s terminalState) OnFailed(*Intent, string) (intentState, error) {
	return nil, ErrInvalidStateTransition
}

func (s terminalState) OnCancelled(*Intent) (intentState, error) {
	return nil, ErrInvalidStateTransition
}
