// Package notification exposes the ledger to display collaborators and
// turns order lifecycle events into ledger entries.
package notification

import (
	"context"

	domain "github.com/azeloquendo/farm2table-payments/internal/domain/notification"
	"github.com/azeloquendo/farm2table-payments/internal/observability"
	"github.com/azeloquendo/farm2table-payments/internal/observability/logctx"
)

type Service struct {
	ledger domain.Ledger
	log    observability.Logger
}

func NewService(ledger domain.Ledger, tel observability.Observability) *Service {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Service{
		ledger: ledger,
		log:    tel.Logger().With(observability.F("component", "notification_service")),
	}
}

// MarkRead flips the read flag; repeating the call is a no-op.
func (s *Service) MarkRead(ctx context.Context, id string) error {
	if id == "" {
		return domain.ErrNotFound
	}
	if err := s.ledger.MarkRead(ctx, id); err != nil {
		return err
	}
	logctx.FromOr(ctx, s.log).Debug("notification_read", observability.F("notification_id", id))
	return nil
}

// ListForUser returns the user's notifications, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*domain.Notification, error) {
	if userID == "" {
		return nil, domain.ErrInvalidRecipient
	}
	return s.ledger.ListForUser(ctx, userID)
}
