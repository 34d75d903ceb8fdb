package order

import "time"

// StatusChangedEvent is emitted whenever an order moves to a new lifecycle
// status. The notification worker turns these into ledger entries; duplicate
// deliveries collapse on the ledger's (order, kind) constraint.
type StatusChangedEvent struct {
	OrderID    string
	BuyerID    string
	Status     Status
	OccurredAt time.Time
}

func (StatusChangedEvent) EventName() string { return "order.status_changed" }

func NewStatusChangedEvent(o *Order) StatusChangedEvent {
	return StatusChangedEvent{
		OrderID:    o.ID,
		BuyerID:    o.BuyerID,
		Status:     o.Status,
		OccurredAt: time.Now().UTC(),
	}
}
