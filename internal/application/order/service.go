// Package order moves the minimal order record along its lifecycle and
// publishes the status events the notification worker consumes.
package order

import (
	"context"
	"time"

	domain "github.com/azeloquendo/farm2table-payments/internal/domain/order"
	domoutbox "github.com/azeloquendo/farm2table-payments/internal/domain/outbox"
	"github.com/azeloquendo/farm2table-payments/internal/infrastructure/keylock"
	"github.com/azeloquendo/farm2table-payments/internal/observability"
	"github.com/azeloquendo/farm2table-payments/internal/observability/logctx"
)

const publishTimeout = 300 * time.Millisecond

type Service struct {
	repo      domain.Repository
	publisher domoutbox.Publisher
	locks     *keylock.Registry
	log       observability.Logger
}

func NewService(repo domain.Repository, publisher domoutbox.Publisher, locks *keylock.Registry, tel observability.Observability) *Service {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		locks:     locks,
		log:       tel.Logger().With(observability.F("component", "order_service")),
	}
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Order, error) {
	if id == "" {
		return nil, domain.ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// UpdateStatus advances the order and emits a status event. Transitions are
// validated by the domain; an out-of-order update fails with
// ErrInvalidStateTransition rather than rewinding the lifecycle.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status string) (*domain.Order, error) {
	logger := logctx.FromOr(ctx, s.log).With(observability.F("order_id", orderID))

	if orderID == "" {
		return nil, domain.ErrNotFound
	}
	next, err := domain.ParseStatus(status)
	if err != nil {
		return nil, err
	}

	release := s.locks.Acquire("order:" + orderID)
	record, err := s.repo.Get(ctx, orderID)
	if err != nil {
		release()
		return nil, err
	}
	if err := record.Advance(next); err != nil {
		release()
		return nil, err
	}
	if err := s.repo.Update(ctx, record); err != nil {
		release()
		return nil, err
	}
	release()

	if s.publisher != nil {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		if pubErr := s.publisher.Publish(pubCtx, domain.NewStatusChangedEvent(record)); pubErr != nil {
			logger.Warn("status_event_publish_failed", observability.F("error", pubErr.Error()))
		}
		cancel()
	}

	logger.Info("order_status_updated", observability.F("status", string(record.Status)))
	return record, nil
}
