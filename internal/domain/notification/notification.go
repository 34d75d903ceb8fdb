package notification

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("notification: not found")
	// ErrDuplicate signals that a notification for the same (order, kind)
	// pair was already recorded. Callers treat it as already delivered,
	// not as a failure to surface to the user.
	ErrDuplicate        = errors.New("notification: already recorded for order and kind")
	ErrInvalidRecipient = errors.New("notification: recipient is required")
	ErrInvalidOrder     = errors.New("notification: order id is required")
	ErrUnknownKind      = errors.New("notification: unknown event kind")
)

type Kind string

const (
	KindOrderPlaced    Kind = "order_placed"
	KindOrderPreparing Kind = "order_preparing"
	KindOrderReady     Kind = "order_ready"
	KindOrderCompleted Kind = "order_completed"
	KindOrderCancelled Kind = "order_cancelled"
)

var defaultMessages = map[Kind]string{
	KindOrderPlaced:    "Your order has been placed and payment was confirmed.",
	KindOrderPreparing: "Your order is being prepared.",
	KindOrderReady:     "Your order is ready for pickup or delivery.",
	KindOrderCompleted: "Your order has been completed. Thank you!",
	KindOrderCancelled: "Your order has been cancelled.",
}

// Notification is a user-visible record of an order event. The (OrderID,
// Kind) pair is unique; re-delivery of the same event never creates a second
// row. Rows are only ever mutated to flip the read flag.
type Notification struct {
	ID          string
	RecipientID string
	OrderID     string
	Kind        Kind
	Message     string
	Read        bool
	CreatedAt   time.Time
}

// New builds a notification, filling the message from the kind's default
// when none is given.
func New(id, recipientID, orderID string, kind Kind, message string) (*Notification, error) {
	if recipientID == "" {
		return nil, ErrInvalidRecipient
	}
	if orderID == "" {
		return nil, ErrInvalidOrder
	}
	fallback, ok := defaultMessages[kind]
	if !ok {
		return nil, ErrUnknownKind
	}
	if message == "" {
		message = fallback
	}

	return &Notification{
		ID:          id,
		RecipientID: recipientID,
		OrderID:     orderID,
		Kind:        kind,
		Message:     message,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	clone := *n
	return &clone
}
