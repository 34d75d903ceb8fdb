package payment

import "context"

type Repository interface {
	// Insert stores a new intent. It fails with ErrActiveIntentExists when a
	// non-terminal intent is already recorded for the same order.
	Insert(ctx context.Context, intent *Intent) error
	Get(ctx context.Context, id string) (*Intent, error)
	// FindActiveByOrder returns the single non-terminal intent for an order,
	// or ErrNotFound.
	FindActiveByOrder(ctx context.Context, orderID string) (*Intent, error)
	// Update persists the intent conditionally on its stored status still
	// being expected (compare-and-swap); ErrStaleIntent otherwise.
	Update(ctx context.Context, intent *Intent, expected Status) error
}
