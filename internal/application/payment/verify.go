package payment

import (
	"context"
	"errors"

	domain "github.com/azeloquendo/farm2table-payments/internal/domain/payment"
	"github.com/azeloquendo/farm2table-payments/internal/observability"
	"github.com/azeloquendo/farm2table-payments/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
)

const (
	useCaseVerify = "payment.verify"
	useCaseCancel = "payment.cancel"
)

// VerifyPayment polls the gateway for the intent's current status, folds it
// into the local state machine and runs the completion fan-out on the
// transition to succeeded. Safe to call any number of times: a terminal
// intent is returned as-is, and re-verifying a succeeded intent re-runs the
// (idempotent) fan-out, which heals an earlier partial completion.
func (o *Orchestrator) VerifyPayment(ctx context.Context, intentID string) (_ *IntentResult, err error) {
	ctx, op := o.begin(ctx, useCaseVerify,
		attribute.String("intent.id", intentID),
	)
	logger := logctx.FromOr(ctx, o.log).With(
		observability.F("use_case", useCaseVerify),
		observability.F("intent_id", intentID),
	)
	defer func() { op.end(ctx, logger, err) }()

	intent, err := o.intents.Get(ctx, intentID)
	if err != nil {
		return nil, op.fail("INTENT_NOT_FOUND", err)
	}

	if intent.Terminal() {
		if intent.Status == domain.StatusSucceeded {
			o.runCompletion(ctx, intent)
		}
		op.status = "TERMINAL"
		return resultOf(intent), nil
	}
	if intent.ProviderRef == "" {
		// Create never completed; nothing to poll yet. The client retries
		// StartPayment to make progress.
		op.status = "CREATE_INCOMPLETE"
		return resultOf(intent), nil
	}

	ps, fetchErr := o.fetchProviderStatus(ctx, intent.ProviderRef)
	if fetchErr != nil {
		return nil, op.fail("GATEWAY_UNAVAILABLE", fetchErr)
	}

	result, applyErr := o.applyProviderStatus(ctx, intentID, ps)
	if applyErr != nil {
		return nil, op.fail("APPLY_FAILED", applyErr)
	}
	return result, nil
}

// CancelPayment moves a non-terminal intent to cancelled. Cancelling an
// already cancelled intent is a no-op; other terminal states reject.
func (o *Orchestrator) CancelPayment(ctx context.Context, intentID string) (_ *IntentResult, err error) {
	ctx, op := o.begin(ctx, useCaseCancel,
		attribute.String("intent.id", intentID),
	)
	logger := logctx.FromOr(ctx, o.log).With(
		observability.F("use_case", useCaseCancel),
		observability.F("intent_id", intentID),
	)
	defer func() { op.end(ctx, logger, err) }()

	release := o.locks.Acquire("intent:" + intentID)
	defer release()

	intent, err := o.intents.Get(ctx, intentID)
	if err != nil {
		return nil, op.fail("INTENT_NOT_FOUND", err)
	}
	if intent.Status == domain.StatusCancelled {
		op.status = "IDEMPOTENT_REPLAY"
		return resultOf(intent), nil
	}

	prev := intent.Status
	if transitionErr := intent.Cancelled(); transitionErr != nil {
		if errors.Is(transitionErr, domain.ErrInvalidStateTransition) {
			return nil, op.fail("INVALID_STATE", transitionErr)
		}
		return nil, op.fail("STATE_TRANSITION_FAILED", transitionErr)
	}
	if updateErr := o.intents.Update(ctx, intent, prev); updateErr != nil {
		return nil, op.fail("REPO_UPDATE_FAILED", updateErr)
	}

	logger.Info("intent_cancelled", observability.F("order_id", intent.OrderID))
	return resultOf(intent), nil
}
