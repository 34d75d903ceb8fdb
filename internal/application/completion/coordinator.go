// Package completion owns the fan-out that follows a verified payment
// success: record the order_placed notification and mark the order paid.
// The ledger's (order, kind) uniqueness constraint is what collapses
// at-least-once redelivery into at-most-one observable effect; the
// notification row doubles as the completion record.
package completion

import (
	"context"
	"errors"
	"fmt"

	domnotif "github.com/azeloquendo/farm2table-payments/internal/domain/notification"
	domorder "github.com/azeloquendo/farm2table-payments/internal/domain/order"
	"github.com/azeloquendo/farm2table-payments/internal/observability"
	"github.com/azeloquendo/farm2table-payments/internal/observability/logctx"
)

// ErrPartialCompletion reports that exactly one leg of the fan-out applied.
// The caller retries by re-invoking OnPaymentSucceeded; both legs are
// idempotent so the retry converges.
var ErrPartialCompletion = errors.New("completion: partial fan-out")

type IDGenerator interface {
	NewID() string
}

type Coordinator struct {
	ledger domnotif.Ledger
	orders domorder.Repository
	idGen  IDGenerator

	log        observability.Logger
	dupCounter observability.Counter
}

func NewCoordinator(
	ledger domnotif.Ledger,
	orders domorder.Repository,
	idGen IDGenerator,
	tel observability.Observability,
) *Coordinator {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Coordinator{
		ledger:     ledger,
		orders:     orders,
		idGen:      idGen,
		log:        tel.Logger().With(observability.F("component", "completion_coordinator")),
		dupCounter: tel.Metrics().Counter(observability.MNotificationDuplicates),
	}
}

// OnPaymentSucceeded is safe to invoke any number of times for the same
// intent: the notification leg dedups on (order, order_placed) and the order
// leg is an idempotent transition. A duplicate notification is
// success-equivalent, never an error.
func (c *Coordinator) OnPaymentSucceeded(ctx context.Context, intentID, orderID, buyerID string) error {
	logger := logctx.FromOr(ctx, c.log).With(
		observability.F("intent_id", intentID),
		observability.F("order_id", orderID),
	)

	notifErr := c.recordNotification(ctx, orderID, buyerID, logger)
	orderErr := c.markOrderPaid(ctx, orderID)

	switch {
	case notifErr == nil && orderErr == nil:
		return nil
	case notifErr != nil && orderErr != nil:
		// Neither leg applied beyond what an earlier run did; plain retryable.
		return fmt.Errorf("completion: fan-out failed: %w", errors.Join(notifErr, orderErr))
	case orderErr != nil:
		logger.Warn("completion_order_leg_failed", observability.F("error", orderErr.Error()))
		return fmt.Errorf("%w: order not marked paid: %v", ErrPartialCompletion, orderErr)
	default:
		logger.Warn("completion_notification_leg_failed", observability.F("error", notifErr.Error()))
		return fmt.Errorf("%w: notification not recorded: %v", ErrPartialCompletion, notifErr)
	}
}

func (c *Coordinator) recordNotification(ctx context.Context, orderID, buyerID string, logger observability.Logger) error {
	recipient := buyerID
	if recipient == "" {
		// Buyer identity can be absent on replays from older intents; the
		// order record carries it.
		if record, err := c.orders.Get(ctx, orderID); err == nil {
			recipient = record.BuyerID
		}
	}

	n, err := domnotif.New(c.idGen.NewID(), recipient, orderID, domnotif.KindOrderPlaced, "")
	if err != nil {
		return err
	}

	createErr := c.ledger.Create(ctx, n)
	if errors.Is(createErr, domnotif.ErrDuplicate) {
		c.dupCounter.Add(1, observability.L("kind", string(domnotif.KindOrderPlaced)))
		logger.Debug("notification_already_recorded")
		return nil
	}
	return createErr
}

func (c *Coordinator) markOrderPaid(ctx context.Context, orderID string) error {
	record, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	prev := record.Status
	if err := record.MarkPaid(); err != nil {
		return err
	}
	if record.Status == prev {
		// Already past awaiting_payment; nothing to write.
		return nil
	}
	return c.orders.Update(ctx, record)
}
