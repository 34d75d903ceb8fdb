package payment

import (
	"context"
	"errors"
	"fmt"

	domorder "github.com/azeloquendo/farm2table-payments/internal/domain/order"
	domain "github.com/azeloquendo/farm2table-payments/internal/domain/payment"
	"github.com/azeloquendo/farm2table-payments/internal/observability"
	"github.com/azeloquendo/farm2table-payments/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
)

const useCaseStart = "payment.start"

type StartPaymentInput struct {
	OrderID  string
	BuyerID  string
	Amount   int64
	Currency string
}

// StartPayment creates (or resumes) the payment intent for an order. It is
// idempotent per order: when an active intent already exists the caller gets
// that intent back together with ErrActiveIntentExists, never a duplicate.
// A pending intent whose gateway create never completed is resumed, so a
// client retry after a transient failure makes progress instead of looping.
func (o *Orchestrator) StartPayment(ctx context.Context, in StartPaymentInput) (_ *IntentResult, err error) {
	ctx, op := o.begin(ctx, useCaseStart,
		attribute.String("order.id", in.OrderID),
		attribute.Int64("payment.amount", in.Amount),
	)
	logger := logctx.FromOr(ctx, o.log).With(
		observability.F("use_case", useCaseStart),
		observability.F("order_id", in.OrderID),
	)
	defer func() { op.end(ctx, logger, err) }()

	if in.OrderID == "" {
		return nil, op.fail("ORDER_ID_REQUIRED", newValidation("order id is required"))
	}

	intent, resumed, err := o.findOrCreateIntent(ctx, in)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidAmount):
			return nil, op.fail("AMOUNT_INVALID", err)
		case errors.Is(err, domain.ErrInvalidCurrency):
			return nil, op.fail("CURRENCY_REQUIRED", err)
		default:
			return nil, op.fail("INTENT_LOOKUP_FAILED", err)
		}
	}
	if intent.Status != domain.StatusPending {
		// An active intent already progressed past create; hand it back.
		op.status = "IDEMPOTENT_REPLAY"
		return resultOf(intent), domain.ErrActiveIntentExists
	}

	// Gateway create. The order reference is the idempotency key, so an
	// ambiguous timeout is safe to retry within the budget.
	var created domain.CreateIntentResult
	gatewayErr := o.callGateway(ctx, "create_intent", true, func(ctx context.Context) error {
		var callErr error
		created, callErr = o.gateway.CreateIntent(ctx, domain.CreateIntentRequest{
			Amount:   intent.Amount,
			Currency: intent.Currency,
			OrderRef: intent.OrderID,
		})
		return callErr
	})

	switch {
	case gatewayErr == nil:
		if transitionErr := intent.GatewayAccepted(created.ProviderRef); transitionErr != nil {
			return nil, op.fail("STATE_TRANSITION_FAILED", transitionErr)
		}
		if updateErr := o.intents.Update(ctx, intent, domain.StatusPending); updateErr != nil {
			if errors.Is(updateErr, domain.ErrStaleIntent) {
				// A concurrent start won the race; its create carried the
				// same idempotency key, so both point at one provider intent.
				current, getErr := o.intents.Get(ctx, intent.ID)
				if getErr != nil {
					return nil, op.fail("INTENT_RELOAD_FAILED", getErr)
				}
				op.status = "IDEMPOTENT_REPLAY"
				return resultOf(current), domain.ErrActiveIntentExists
			}
			return nil, op.fail("REPO_UPDATE_FAILED", updateErr)
		}
		logger.Info("intent_awaiting_method",
			observability.F("intent_id", intent.ID),
			observability.F("provider_ref", created.ProviderRef),
		)
		if resumed {
			op.status = "IDEMPOTENT_REPLAY"
			return resultOf(intent), domain.ErrActiveIntentExists
		}
		return resultOf(intent), nil

	case errors.Is(gatewayErr, domain.ErrGatewayRejected):
		if failErr := o.transitionFailed(ctx, intent.ID, gatewayErr.Error()); failErr != nil {
			return nil, op.fail("STATE_TRANSITION_FAILED", failErr)
		}
		return nil, op.fail("GATEWAY_REJECTED", gatewayErr)

	default:
		// Transient budget exhausted: the intent stays pending and the next
		// StartPayment for the order resumes the create.
		return nil, op.fail("GATEWAY_UNAVAILABLE", gatewayErr)
	}
}

// findOrCreateIntent returns the intent StartPayment should operate on:
// either a fresh pending intent, a resumable pending intent from an earlier
// attempt, or the existing active intent (resumed=false, non-pending).
func (o *Orchestrator) findOrCreateIntent(ctx context.Context, in StartPaymentInput) (intent *domain.Intent, resumed bool, err error) {
	existing, findErr := o.intents.FindActiveByOrder(ctx, in.OrderID)
	switch {
	case findErr == nil:
		return existing, existing.Status == domain.StatusPending, nil
	case errors.Is(findErr, domain.ErrNotFound):
		// fall through to create
	default:
		return nil, false, findErr
	}

	intent, err = domain.NewIntent(o.idGen.NewID(), in.OrderID, in.BuyerID, in.Amount, in.Currency)
	if err != nil {
		return nil, false, err
	}
	if err := o.ensureOrder(ctx, in); err != nil {
		return nil, false, err
	}

	if insertErr := o.intents.Insert(ctx, intent); insertErr != nil {
		if !errors.Is(insertErr, domain.ErrActiveIntentExists) {
			return nil, false, insertErr
		}
		// Lost the race to a concurrent start for the same order.
		existing, lookupErr := o.intents.FindActiveByOrder(ctx, in.OrderID)
		if lookupErr != nil {
			return nil, false, insertErr
		}
		return existing, existing.Status == domain.StatusPending, nil
	}
	return intent, false, nil
}

// ensureOrder seeds the minimal order record the completion fan-out writes
// to. The order subsystem owns the full order; a conflict means it is
// already there.
func (o *Orchestrator) ensureOrder(ctx context.Context, in StartPaymentInput) error {
	record, err := domorder.New(in.OrderID, in.BuyerID, in.Amount)
	if err != nil {
		return err
	}
	if insertErr := o.orders.Insert(ctx, record); insertErr != nil && !errors.Is(insertErr, domorder.ErrConflict) {
		return fmt.Errorf("payment: seed order: %w", insertErr)
	}
	return nil
}

// transitionFailed moves an intent to failed under its key lock.
func (o *Orchestrator) transitionFailed(ctx context.Context, intentID, reason string) error {
	release := o.locks.Acquire("intent:" + intentID)
	defer release()

	intent, err := o.intents.Get(ctx, intentID)
	if err != nil {
		return err
	}
	if intent.Terminal() {
		return nil
	}
	prev := intent.Status
	if err := intent.Failed(reason); err != nil {
		return err
	}
	return o.intents.Update(ctx, intent, prev)
}
