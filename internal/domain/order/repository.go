package order

import "context"

type Repository interface {
	// Insert stores a new order; ErrConflict when the id is taken.
	Insert(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, o *Order) error
}
