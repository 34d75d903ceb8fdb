package notification

import (
	"context"
	"errors"

	domain "github.com/azeloquendo/farm2table-payments/internal/domain/notification"
	domorder "github.com/azeloquendo/farm2table-payments/internal/domain/order"
	domoutbox "github.com/azeloquendo/farm2table-payments/internal/domain/outbox"
	"github.com/azeloquendo/farm2table-payments/internal/observability"
	"github.com/azeloquendo/farm2table-payments/internal/observability/logctx"
)

type IDGenerator interface {
	NewID() string
}

// kindForStatus maps order lifecycle statuses to notification kinds.
// confirmed is deliberately absent: the order_placed notification belongs to
// the completion coordinator, which is the only writer allowed to create a
// notification from a payment event.
var kindForStatus = map[domorder.Status]domain.Kind{
	domorder.StatusPreparing: domain.KindOrderPreparing,
	domorder.StatusReady:     domain.KindOrderReady,
	domorder.StatusCompleted: domain.KindOrderCompleted,
	domorder.StatusCancelled: domain.KindOrderCancelled,
}

// Worker subscribes to order status events and appends the matching ledger
// entry. Delivery is at least once; the (order, kind) constraint absorbs
// duplicates.
type Worker struct {
	subscriber domoutbox.Subscriber
	ledger     domain.Ledger
	idGen      IDGenerator

	log        observability.Logger
	dupCounter observability.Counter
}

func NewWorker(
	subscriber domoutbox.Subscriber,
	ledger domain.Ledger,
	idGen IDGenerator,
	tel observability.Observability,
) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Worker{
		subscriber: subscriber,
		ledger:     ledger,
		idGen:      idGen,
		log:        tel.Logger().With(observability.F("component", "notification_worker")),
		dupCounter: tel.Metrics().Counter(observability.MNotificationDuplicates),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil {
		return
	}
	w.subscriber.Subscribe(domorder.StatusChangedEvent{}.EventName(), w.handleStatusChanged)
}

func (w *Worker) handleStatusChanged(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domorder.StatusChangedEvent)
	if !ok {
		return nil
	}
	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("order_id", evt.OrderID),
		observability.F("order_status", string(evt.Status)),
	)

	kind, ok := kindForStatus[evt.Status]
	if !ok {
		return nil
	}

	n, err := domain.New(w.idGen.NewID(), evt.BuyerID, evt.OrderID, kind, "")
	if err != nil {
		logger.Warn("notification_build_failed", observability.F("error", err.Error()))
		return err
	}

	switch createErr := w.ledger.Create(ctx, n); {
	case createErr == nil:
		logger.Info("notification_recorded", observability.F("kind", string(kind)))
		return nil
	case errors.Is(createErr, domain.ErrDuplicate):
		w.dupCounter.Add(1, observability.L("kind", string(kind)))
		logger.Debug("notification_duplicate_dropped")
		return nil
	default:
		logger.Warn("notification_record_failed", observability.F("error", createErr.Error()))
		return createErr
	}
}
