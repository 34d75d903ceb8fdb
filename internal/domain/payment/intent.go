package payment

import (
	"errors"
	"time"
)

var (
	ErrNotFound               = errors.New("payment: intent not found")
	ErrInvalidAmount          = errors.New("payment: amount must be greater than zero")
	ErrInvalidCurrency        = errors.New("payment: currency is required")
	ErrInvalidStateTransition = errors.New("payment: invalid state transition")
	ErrActiveIntentExists     = errors.New("payment: an active intent already exists for this order")
	ErrStaleIntent            = errors.New("payment: intent was modified concurrently")
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusAwaitingMethod Status = "awaiting_method"
	StatusProcessing     Status = "processing"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// Intent tracks one attempt to collect payment for an order. Exactly one
// non-terminal intent may exist per order at a time; the amount is immutable
// once created and a terminal intent is never mutated again.
type Intent struct {
	ID          string
	OrderID     string
	BuyerID     string
	Amount      int64
	Currency    string
	Status      Status
	ProviderRef string
	MethodRef   string

	// AttachInFlight marks an attach whose gateway outcome is unknown
	// (ambiguous timeout). It must be reconciled via FetchStatus before
	// another attach is issued for this intent.
	AttachInFlight bool

	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewIntent(id, orderID, buyerID string, amount int64, currency string) (*Intent, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if currency == "" {
		return nil, ErrInvalidCurrency
	}

	now := time.Now().UTC()
	return &Intent{
		ID:        id,
		OrderID:   orderID,
		BuyerID:   buyerID,
		Amount:    amount,
		Currency:  currency,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Terminal reports whether the intent reached a final status.
func (i *Intent) Terminal() bool {
	switch i.Status {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Active is the inverse of Terminal; active intents block new intents for
// the same order.
func (i *Intent) Active() bool { return !i.Terminal() }

// GatewayAccepted records the provider-assigned reference after a successful
// create call and moves the intent to awaiting_method.
func (i *Intent) GatewayAccepted(providerRef string) error {
	next, err := i.state().OnGatewayAccepted(i)
	if err != nil {
		return err
	}
	i.ProviderRef = providerRef
	i.apply(next)
	return nil
}

// BeginAttach claims the attach slot so concurrent attaches cannot both pass
// the state check. Legal only from awaiting_method with no attach in flight.
func (i *Intent) BeginAttach(methodRef string) error {
	if i.Status != StatusAwaitingMethod {
		return ErrInvalidStateTransition
	}
	if i.AttachInFlight {
		return ErrInvalidStateTransition
	}
	i.MethodRef = methodRef
	i.AttachInFlight = true
	i.touch()
	return nil
}

// EndAttach releases the attach claim without a transition, used when the
// gateway reported a definite transient failure and the attach never landed.
func (i *Intent) EndAttach() {
	i.AttachInFlight = false
	i.touch()
}

func (i *Intent) MethodAttached() error {
	next, err := i.state().OnMethodAttached(i)
	if err != nil {
		return err
	}
	i.AttachInFlight = false
	i.apply(next)
	return nil
}

func (i *Intent) Succeeded() error {
	next, err := i.state().OnSucceeded(i)
	if err != nil {
		return err
	}
	i.AttachInFlight = false
	i.apply(next)
	return nil
}

func (i *Intent) Failed(reason string) error {
	next, err := i.state().OnFailed(i, reason)
	if err != nil {
		return err
	}
	i.AttachInFlight = false
	i.apply(next)
	return nil
}

func (i *Intent) Cancelled() error {
	next, err := i.state().OnCancelled(i)
	if err != nil {
		return err
	}
	i.AttachInFlight = false
	i.apply(next)
	return nil
}

func (i *Intent) Clone() *Intent {
	if i == nil {
		return nil
	}
	clone := *i
	return &clone
}

func (i *Intent) apply(next intentState) {
	i.Status = next.Status()
	i.touch()
}

func (i *Intent) touch() {
	i.UpdatedAt = time.Now().UTC()
}
