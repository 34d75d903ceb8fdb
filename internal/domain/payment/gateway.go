package payment

import (
	"context"
	"errors"
)

// Gateway error taxonomy. Unreachable is transient and retryable, Rejected is
// permanent and never retried, Timeout is ambiguous: the effect of a mutating
// call is unknown and must be reconciled via FetchStatus before a retry.
var (
	ErrGatewayUnreachable = errors.New("payment: gateway unreachable")
	ErrGatewayRejected    = errors.New("payment: gateway rejected request")
	ErrGatewayTimeout     = errors.New("payment: gateway timed out")
)

// ProviderStatus is the raw status vocabulary of the external provider.
type ProviderStatus string

const (
	ProviderAwaitingMethod     ProviderStatus = "awaiting_payment_method"
	ProviderAwaitingNextAction ProviderStatus = "awaiting_next_action"
	ProviderProcessing         ProviderStatus = "processing"
	ProviderSucceeded          ProviderStatus = "succeeded"
	ProviderFailed             ProviderStatus = "payment_failed"
	ProviderCancelled          ProviderStatus = "cancelled"
)

// StatusFromProvider maps the provider vocabulary onto the internal enum.
// Unknown intermediate statuses map to processing; callers poll.
func StatusFromProvider(ps ProviderStatus) Status {
	switch ps {
	case ProviderAwaitingMethod:
		return StatusAwaitingMethod
	case ProviderSucceeded:
		return StatusSucceeded
	case ProviderFailed:
		return StatusFailed
	case ProviderCancelled:
		return StatusCancelled
	default:
		return StatusProcessing
	}
}

type CreateIntentRequest struct {
	Amount   int64
	Currency string
	// OrderRef doubles as the provider idempotency key so a retried create
	// after an ambiguous outcome cannot mint a second provider intent.
	OrderRef string
}

type CreateIntentResult struct {
	ProviderRef string
	Status      ProviderStatus
}

type AttachMethodRequest struct {
	ProviderRef string
	MethodRef   string
	ReturnURL   string
}

// Gateway is the outbound port to the external payment provider. It holds no
// local state; every call is a pure request/response.
type Gateway interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (CreateIntentResult, error)
	AttachMethod(ctx context.Context, req AttachMethodRequest) (ProviderStatus, error)
	FetchStatus(ctx context.Context, providerRef string) (ProviderStatus, error)
}
