package order

import (
	"errors"
	"time"
)

var (
	ErrNotFound               = errors.New("order: not found")
	ErrConflict               = errors.New("order: already exists")
	ErrInvalidAmount          = errors.New("order: amount must be greater than zero")
	ErrInvalidStateTransition = errors.New("order: invalid state transition")
	ErrUnknownStatus          = errors.New("order: unknown status")
)

type Status string

const (
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusConfirmed       Status = "confirmed"
	StatusPreparing       Status = "preparing"
	StatusReady           Status = "ready"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
)

// ParseStatus validates a status string supplied by a caller.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusAwaitingPayment, StatusConfirmed, StatusPreparing,
		StatusReady, StatusCompleted, StatusCancelled:
		return Status(s), nil
	}
	return "", ErrUnknownStatus
}

// Order is the minimal order record this service owns: enough to mark an
// order paid after a verified payment and to drive lifecycle notifications.
// Catalog, items and pricing live with the order subsystem.
type Order struct {
	ID        string
	BuyerID   string
	Amount    int64
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

func New(id, buyerID string, amount int64) (*Order, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	now := time.Now().UTC()
	return &Order{
		ID:        id,
		BuyerID:   buyerID,
		Amount:    amount,
		Status:    StatusAwaitingPayment,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (o *Order) Terminal() bool {
	return o.Status == StatusCompleted || o.Status == StatusCancelled
}

// MarkPaid confirms the order after a verified payment. It is idempotent:
// an order that already moved past awaiting_payment is left untouched.
func (o *Order) MarkPaid() error {
	if o.Status == StatusCancelled {
		return ErrInvalidStateTransition
	}
	if o.Status != StatusAwaitingPayment {
		return nil
	}
	o.Status = StatusConfirmed
	o.touch()
	return nil
}

// Advance moves the order forward along
// confirmed → preparing → ready → completed, or to cancelled from any
// non-terminal status. Backward and skipped transitions are rejected.
func (o *Order) Advance(next Status) error {
	if next == StatusCancelled {
		if o.Terminal() {
			return ErrInvalidStateTransition
		}
		o.Status = StatusCancelled
		o.touch()
		return nil
	}
	if forwardStep[o.Status] != next {
		return ErrInvalidStateTransition
	}
	o.Status = next
	o.touch()
	return nil
}

var forwardStep = map[Status]Status{
	StatusAwaitingPayment: StatusConfirmed,
	StatusConfirmed:       StatusPreparing,
	StatusPreparing:       StatusReady,
	StatusReady:           StatusCompleted,
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	return &clone
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
