// Package payment drives a payment intent through its lifecycle: create
// against the gateway, attach a method, poll for the outcome, and hand a
// verified success to the completion coordinator. All operations are
// idempotent with respect to client retries and duplicate provider polls.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	domorder "github.com/azeloquendo/farm2table-payments/internal/domain/order"
	domain "github.com/azeloquendo/farm2table-payments/internal/domain/payment"
	"github.com/azeloquendo/farm2table-payments/internal/infrastructure/keylock"
	"github.com/azeloquendo/farm2table-payments/internal/observability"
	"github.com/azeloquendo/farm2table-payments/internal/observability/logctx"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName = "payment-orchestrator"
	spanPrefix  = "UC."
	gatewayPeer = "gateway"
)

// ErrValidation classifies bad caller input; the HTTP edge maps it to 400.
var ErrValidation = errors.New("payment: validation")

func newValidation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

type IDGenerator interface {
	NewID() string
}

// CompletionHook receives verified payment successes. Implementations must
// tolerate repeated invocations for the same intent.
type CompletionHook interface {
	OnPaymentSucceeded(ctx context.Context, intentID, orderID, buyerID string) error
}

// Config bounds the gateway retry behaviour. Retries apply to transient
// failures only; rejections are never retried and ambiguous timeouts of
// mutating calls are reconciled, not replayed.
type Config struct {
	// GatewayRetries is the number of extra attempts after the first.
	GatewayRetries       uint64
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		GatewayRetries:       2,
		RetryInitialInterval: 100 * time.Millisecond,
		RetryMaxInterval:     2 * time.Second,
	}
}

type Orchestrator struct {
	intents    domain.Repository
	orders     domorder.Repository
	gateway    domain.Gateway
	completion CompletionHook
	idGen      IDGenerator
	locks      *keylock.Registry
	cfg        Config

	tel            observability.Observability
	log            observability.Logger
	reqCounter     observability.Counter
	durHistogram   observability.Histogram
	extCounter     observability.Counter
	extHistogram   observability.Histogram
	partialCounter observability.Counter
}

func NewOrchestrator(
	intents domain.Repository,
	orders domorder.Repository,
	gw domain.Gateway,
	completion CompletionHook,
	idGen IDGenerator,
	locks *keylock.Registry,
	tel observability.Observability,
	cfg Config,
) *Orchestrator {
	if tel == nil {
		tel = observability.Nop()
	}
	if cfg.GatewayRetries == 0 && cfg.RetryInitialInterval == 0 {
		cfg = DefaultConfig()
	}
	metrics := tel.Metrics()

	return &Orchestrator{
		intents:        intents,
		orders:         orders,
		gateway:        gw,
		completion:     completion,
		idGen:          idGen,
		locks:          locks,
		cfg:            cfg,
		tel:            tel,
		log:            tel.Logger().With(observability.F("service", serviceName)),
		reqCounter:     metrics.Counter(observability.MUsecaseRequests),
		durHistogram:   metrics.Histogram(observability.MUsecaseDuration),
		extCounter:     metrics.Counter(observability.MExternalRequests),
		extHistogram:   metrics.Histogram(observability.MExternalRequestDuration),
		partialCounter: metrics.Counter(observability.MPartialCompletions),
	}
}

// IntentResult is the caller-facing view of an intent.
type IntentResult struct {
	IntentID string
	OrderID  string
	Status   domain.Status
	Amount   int64
	Currency string
}

func resultOf(i *domain.Intent) *IntentResult {
	return &IntentResult{
		IntentID: i.ID,
		OrderID:  i.OrderID,
		Status:   i.Status,
		Amount:   i.Amount,
		Currency: i.Currency,
	}
}

// operation carries the span and RED bookkeeping for one use-case execution.
type operation struct {
	orc     *Orchestrator
	useCase string
	span    trace.Span
	start   time.Time
	outcome string
	status  string
}

func (o *Orchestrator) begin(ctx context.Context, useCase string, attrs ...attribute.KeyValue) (context.Context, *operation) {
	attrs = append(attrs, attribute.String("use_case", useCase))
	ctx, span := o.tel.Tracer().Start(ctx, spanPrefix+useCase, attrs...)
	return ctx, &operation{
		orc:     o,
		useCase: useCase,
		span:    span,
		start:   time.Now(),
		outcome: "success",
		status:  "OK",
	}
}

// fail records the failure classification and passes the error through so it
// can be used directly at a return site.
func (op *operation) fail(status string, err error) error {
	op.outcome, op.status = "error", status
	return err
}

func (op *operation) end(ctx context.Context, logger observability.Logger, err error) {
	latency := time.Since(op.start).Seconds()

	if op.span != nil {
		if err != nil {
			op.span.RecordError(err)
			op.span.SetStatus(codes.Error, op.status)
		} else {
			op.span.SetStatus(codes.Ok, op.status)
		}
		op.span.End()
	}

	op.orc.reqCounter.Add(1,
		observability.L("use_case", op.useCase),
		observability.L("outcome", op.outcome),
	)
	op.orc.durHistogram.Observe(latency,
		observability.L("use_case", op.useCase),
	)

	fields := []observability.Field{
		observability.F("outcome", op.outcome),
		observability.F("status", op.status),
		observability.F("latency_seconds", latency),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
	}
	logger.Info("use_case_done", fields...)
}

// callGateway runs one logical gateway call with capped exponential backoff.
// Unreachable is always retried within the budget. Ambiguous timeouts are
// retried only when retryAmbiguous is set: safe for reads and for creates
// covered by an idempotency key, never for a bare attach.
func (o *Orchestrator) callGateway(ctx context.Context, endpoint string, retryAmbiguous bool, fn func(ctx context.Context) error) error {
	start := time.Now()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.cfg.RetryInitialInterval
	bo.MaxInterval = o.cfg.RetryMaxInterval

	err := backoff.Retry(func() error {
		callErr := fn(ctx)
		switch {
		case callErr == nil:
			return nil
		case errors.Is(callErr, domain.ErrGatewayUnreachable):
			return callErr
		case retryAmbiguous && errors.Is(callErr, domain.ErrGatewayTimeout):
			return callErr
		default:
			return backoff.Permanent(callErr)
		}
	}, backoff.WithContext(backoff.WithMaxRetries(bo, o.cfg.GatewayRetries), ctx))

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	o.extCounter.Add(1,
		observability.L("peer", gatewayPeer),
		observability.L("endpoint", endpoint),
		observability.L("outcome", outcome),
	)
	o.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", gatewayPeer),
		observability.L("endpoint", endpoint),
	)
	return err
}

func (o *Orchestrator) fetchProviderStatus(ctx context.Context, providerRef string) (domain.ProviderStatus, error) {
	var ps domain.ProviderStatus
	err := o.callGateway(ctx, "fetch_status", true, func(ctx context.Context) error {
		var callErr error
		ps, callErr = o.gateway.FetchStatus(ctx, providerRef)
		return callErr
	})
	return ps, err
}

// applyProviderStatus folds a freshly fetched provider status into the local
// state machine and, on the transition to succeeded (or when healing an
// already succeeded intent), runs the completion fan-out. The local section
// is serialized per intent; the completion hook runs outside the lock.
func (o *Orchestrator) applyProviderStatus(ctx context.Context, intentID string, ps domain.ProviderStatus) (*IntentResult, error) {
	release := o.locks.Acquire("intent:" + intentID)

	intent, err := o.intents.Get(ctx, intentID)
	if err != nil {
		release()
		return nil, err
	}

	prev := intent.Status
	runCompletion := false
	var transitionErr error

	switch mapped := domain.StatusFromProvider(ps); mapped {
	case domain.StatusSucceeded:
		if intent.Status == domain.StatusSucceeded {
			runCompletion = true
		} else {
			transitionErr = intent.Succeeded()
			runCompletion = transitionErr == nil
		}
	case domain.StatusProcessing:
		if intent.Status == domain.StatusAwaitingMethod {
			transitionErr = intent.MethodAttached()
		}
	case domain.StatusAwaitingMethod:
		// The provider never saw the ambiguous attach; release the claim so
		// the caller can retry.
		if intent.AttachInFlight {
			intent.EndAttach()
		}
	case domain.StatusFailed:
		if !intent.Terminal() {
			transitionErr = intent.Failed("provider reported failure")
		}
	case domain.StatusCancelled:
		if !intent.Terminal() {
			transitionErr = intent.Cancelled()
		}
	}

	if transitionErr != nil {
		release()
		return nil, transitionErr
	}

	if updateErr := o.intents.Update(ctx, intent, prev); updateErr != nil {
		if !errors.Is(updateErr, domain.ErrStaleIntent) {
			release()
			return nil, updateErr
		}
		// A concurrent poll applied the same provider status first; read its
		// result back and fall through (the fan-out below is duplicate-safe).
		current, getErr := o.intents.Get(ctx, intentID)
		if getErr != nil {
			release()
			return nil, getErr
		}
		intent = current
		runCompletion = intent.Status == domain.StatusSucceeded
	}
	release()

	if runCompletion {
		o.runCompletion(ctx, intent)
	}
	return resultOf(intent), nil
}

// runCompletion invokes the coordinator and downgrades a partial fan-out to
// a logged, metered condition: the intent is already succeeded and the next
// verify call re-runs the fan-out safely.
func (o *Orchestrator) runCompletion(ctx context.Context, intent *domain.Intent) {
	if o.completion == nil {
		return
	}
	if err := o.completion.OnPaymentSucceeded(ctx, intent.ID, intent.OrderID, intent.BuyerID); err != nil {
		o.partialCounter.Add(1, observability.L("use_case", "payment.verify"))
		logctx.FromOr(ctx, o.log).Warn("completion_partial",
			observability.F("intent_id", intent.ID),
			observability.F("order_id", intent.OrderID),
			observability.F("error", err.Error()),
		)
	}
}
