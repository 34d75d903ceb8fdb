package payment

import (
	"context"
	"errors"

	domain "github.com/azeloquendo/farm2table-payments/internal/domain/payment"
	"github.com/azeloquendo/farm2table-payments/internal/observability"
	"github.com/azeloquendo/farm2table-payments/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
)

const useCaseAttach = "payment.attach"

type AttachMethodInput struct {
	IntentID  string
	MethodRef string
	ReturnURL string
}

// AttachMethod attaches the selected payment method to an intent. Legal only
// from awaiting_method. The attach slot is claimed with a conditional write
// before the gateway call, so two concurrent attaches cannot both pass the
// state check and double-charge; an earlier attach that ended in an
// ambiguous timeout is reconciled against FetchStatus before anything is
// re-issued.
func (o *Orchestrator) AttachMethod(ctx context.Context, in AttachMethodInput) (_ *IntentResult, err error) {
	ctx, op := o.begin(ctx, useCaseAttach,
		attribute.String("intent.id", in.IntentID),
	)
	logger := logctx.FromOr(ctx, o.log).With(
		observability.F("use_case", useCaseAttach),
		observability.F("intent_id", in.IntentID),
	)
	defer func() { op.end(ctx, logger, err) }()

	if in.MethodRef == "" {
		return nil, op.fail("METHOD_REQUIRED", newValidation("method reference is required"))
	}
	if in.ReturnURL == "" {
		return nil, op.fail("RETURN_URL_REQUIRED", newValidation("return url is required"))
	}

	intent, reconcile, err := o.claimAttach(ctx, in)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return nil, op.fail("INTENT_NOT_FOUND", err)
		case errors.Is(err, domain.ErrInvalidStateTransition), errors.Is(err, domain.ErrStaleIntent):
			return nil, op.fail("INVALID_STATE", err)
		default:
			return nil, op.fail("CLAIM_FAILED", err)
		}
	}

	if reconcile {
		// The previous attach's outcome is unknown. Poll before re-issuing:
		// if it landed, fold the provider status in and stop here.
		ps, fetchErr := o.fetchProviderStatus(ctx, intent.ProviderRef)
		if fetchErr != nil {
			return nil, op.fail("GATEWAY_UNAVAILABLE", fetchErr)
		}
		if domain.StatusFromProvider(ps) != domain.StatusAwaitingMethod {
			logger.Info("attach_reconciled", observability.F("provider_status", string(ps)))
			return o.applyProviderStatus(ctx, in.IntentID, ps)
		}
		// Confirmed not landed; the claim stays ours and we issue it now.
	}

	var ps domain.ProviderStatus
	attachErr := o.callGateway(ctx, "attach_method", false, func(ctx context.Context) error {
		var callErr error
		ps, callErr = o.gateway.AttachMethod(ctx, domain.AttachMethodRequest{
			ProviderRef: intent.ProviderRef,
			MethodRef:   in.MethodRef,
			ReturnURL:   in.ReturnURL,
		})
		return callErr
	})

	switch {
	case attachErr == nil:
		return o.applyProviderStatus(ctx, in.IntentID, ps)

	case errors.Is(attachErr, domain.ErrGatewayRejected):
		if failErr := o.transitionFailed(ctx, in.IntentID, attachErr.Error()); failErr != nil {
			return nil, op.fail("STATE_TRANSITION_FAILED", failErr)
		}
		return nil, op.fail("GATEWAY_REJECTED", attachErr)

	case errors.Is(attachErr, domain.ErrGatewayTimeout):
		// Effect unknown. Keep the claim so the next attach reconciles via
		// FetchStatus instead of blindly re-charging.
		return nil, op.fail("GATEWAY_TIMEOUT", attachErr)

	default:
		// Definitely never reached the provider; release the claim so the
		// caller can retry with the same method reference.
		o.releaseAttachClaim(ctx, in.IntentID)
		return nil, op.fail("GATEWAY_UNAVAILABLE", attachErr)
	}
}

// claimAttach validates the intent state and takes the attach slot under the
// intent's key lock. reconcile is true when a previous claim is still open
// and its gateway outcome must be checked first.
func (o *Orchestrator) claimAttach(ctx context.Context, in AttachMethodInput) (intent *domain.Intent, reconcile bool, err error) {
	release := o.locks.Acquire("intent:" + in.IntentID)
	defer release()

	intent, err = o.intents.Get(ctx, in.IntentID)
	if err != nil {
		return nil, false, err
	}
	if intent.Status != domain.StatusAwaitingMethod {
		return nil, false, domain.ErrInvalidStateTransition
	}
	if intent.AttachInFlight {
		return intent, true, nil
	}

	if err := intent.BeginAttach(in.MethodRef); err != nil {
		return nil, false, err
	}
	if err := o.intents.Update(ctx, intent, domain.StatusAwaitingMethod); err != nil {
		return nil, false, err
	}
	return intent, false, nil
}

func (o *Orchestrator) releaseAttachClaim(ctx context.Context, intentID string) {
	release := o.locks.Acquire("intent:" + intentID)
	defer release()

	intent, err := o.intents.Get(ctx, intentID)
	if err != nil || !intent.AttachInFlight {
		return
	}
	intent.EndAttach()
	if err := o.intents.Update(ctx, intent, intent.Status); err != nil {
		logctx.FromOr(ctx, o.log).Warn("attach_claim_release_failed",
			observability.F("intent_id", intentID),
			observability.F("error", err.Error()),
		)
	}
}
