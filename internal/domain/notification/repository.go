package notification

import "context"

// Ledger is the append-only notification store. Create must be atomic with
// respect to concurrent duplicate deliveries: compare-and-create on the
// (OrderID, Kind) pair, not read-then-write.
type Ledger interface {
	Create(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id string) (*Notification, error)
	// MarkRead flips the read flag; a second call is a no-op.
	MarkRead(ctx context.Context, id string) error
	// ListForUser returns the user's notifications newest first. The result
	// is a snapshot: re-invoking yields the same rows barring new writes.
	ListForUser(ctx context.Context, userID string) ([]*Notification, error)
}
