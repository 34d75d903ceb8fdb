package payment

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azeloquendo/farm2table-payments/internal/application/completion"
	domnotif "github.com/azeloquendo/farm2table-payments/internal/domain/notification"
	domorder "github.com/azeloquendo/farm2table-payments/internal/domain/order"
	domain "github.com/azeloquendo/farm2table-payments/internal/domain/payment"
	"github.com/azeloquendo/farm2table-payments/internal/infrastructure/keylock"
	"github.com/azeloquendo/farm2table-payments/internal/infrastructure/memory"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id_%d", s.n)
}

// stubGateway scripts provider behaviour per call and counts invocations.
type stubGateway struct {
	mu          sync.Mutex
	createFn    func(req domain.CreateIntentRequest) (domain.CreateIntentResult, error)
	attachFn    func(req domain.AttachMethodRequest) (domain.ProviderStatus, error)
	fetchFn     func(providerRef string) (domain.ProviderStatus, error)
	createCalls int
	attachCalls int
	fetchCalls  int
}

func (g *stubGateway) CreateIntent(_ context.Context, req domain.CreateIntentRequest) (domain.CreateIntentResult, error) {
	g.mu.Lock()
	g.createCalls++
	fn := g.createFn
	g.mu.Unlock()
	if fn == nil {
		return domain.CreateIntentResult{ProviderRef: "prov_" + req.OrderRef, Status: domain.ProviderAwaitingMethod}, nil
	}
	return fn(req)
}

func (g *stubGateway) AttachMethod(_ context.Context, req domain.AttachMethodRequest) (domain.ProviderStatus, error) {
	g.mu.Lock()
	g.attachCalls++
	fn := g.attachFn
	g.mu.Unlock()
	if fn == nil {
		return domain.ProviderProcessing, nil
	}
	return fn(req)
}

func (g *stubGateway) FetchStatus(_ context.Context, providerRef string) (domain.ProviderStatus, error) {
	g.mu.Lock()
	g.fetchCalls++
	fn := g.fetchFn
	g.mu.Unlock()
	if fn == nil {
		return domain.ProviderProcessing, nil
	}
	return fn(providerRef)
}

func (g *stubGateway) calls() (create, attach, fetch int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls, g.attachCalls, g.fetchCalls
}

type countingHook struct {
	mu    sync.Mutex
	inner CompletionHook
	count int
}

func (h *countingHook) OnPaymentSucceeded(ctx context.Context, intentID, orderID, buyerID string) error {
	h.mu.Lock()
	h.count++
	h.mu.Unlock()
	if h.inner == nil {
		return nil
	}
	return h.inner.OnPaymentSucceeded(ctx, intentID, orderID, buyerID)
}

func (h *countingHook) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

type fixture struct {
	orc     *Orchestrator
	gateway *stubGateway
	intents *memory.IntentRepository
	orders  *memory.OrderRepository
	ledger  *memory.NotificationLedger
	hook    *countingHook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gw := &stubGateway{}
	intents := memory.NewIntentRepository()
	orders := memory.NewOrderRepository()
	ledger := memory.NewNotificationLedger()
	ids := &seqIDs{}

	coord := completion.NewCoordinator(ledger, orders, ids, nil)
	hook := &countingHook{inner: coord}

	orc := NewOrchestrator(intents, orders, gw, hook, ids, keylock.New(), nil, Config{
		GatewayRetries:       2,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     2 * time.Millisecond,
	})
	return &fixture{orc: orc, gateway: gw, intents: intents, orders: orders, ledger: ledger, hook: hook}
}

func startInput(orderID string) StartPaymentInput {
	return StartPaymentInput{OrderID: orderID, BuyerID: "buyer_1", Amount: 1500, Currency: "PHP"}
}

func (f *fixture) startIntent(t *testing.T, orderID string) *IntentResult {
	t.Helper()
	res, err := f.orc.StartPayment(context.Background(), startInput(orderID))
	require.NoError(t, err)
	require.Equal(t, domain.StatusAwaitingMethod, res.Status)
	return res
}

func TestStartPaymentHappyPath(t *testing.T) {
	f := newFixture(t)

	res := f.startIntent(t, "o1")
	assert.Equal(t, "o1", res.OrderID)
	assert.Equal(t, int64(1500), res.Amount)
	assert.Equal(t, "PHP", res.Currency)

	stored, err := f.intents.Get(context.Background(), res.IntentID)
	require.NoError(t, err)
	assert.Equal(t, "prov_o1", stored.ProviderRef)

	// The order record is seeded for the completion fan-out.
	order, err := f.orders.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusAwaitingPayment, order.Status)
}

func TestStartPaymentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orc.StartPayment(ctx, StartPaymentInput{BuyerID: "b1", Amount: 100, Currency: "PHP"})
	require.ErrorIs(t, err, ErrValidation)

	in := startInput("o1")
	in.Amount = 0
	_, err = f.orc.StartPayment(ctx, in)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	in = startInput("o1")
	in.Currency = ""
	_, err = f.orc.StartPayment(ctx, in)
	require.ErrorIs(t, err, domain.ErrInvalidCurrency)
}

func TestStartPaymentIsIdempotentPerOrder(t *testing.T) {
	f := newFixture(t)
	first := f.startIntent(t, "o1")

	second, err := f.orc.StartPayment(context.Background(), startInput("o1"))
	require.ErrorIs(t, err, domain.ErrActiveIntentExists)
	require.NotNil(t, second)
	assert.Equal(t, first.IntentID, second.IntentID)

	create, _, _ := f.gateway.calls()
	assert.Equal(t, 1, create, "replay must not hit the provider again")
}

func TestConcurrentStartPaymentYieldsOneIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*IntentResult, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.orc.StartPayment(ctx, startInput("o1"))
			if err != nil {
				require.ErrorIs(t, err, domain.ErrActiveIntentExists)
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	active, err := f.intents.FindActiveByOrder(ctx, "o1")
	require.NoError(t, err)
	for i, res := range results {
		require.NotNil(t, res, "caller %d got no intent back", i)
		assert.Equal(t, active.ID, res.IntentID)
	}
}

func TestStartPaymentGatewayRejectedFailsIntent(t *testing.T) {
	f := newFixture(t)
	f.gateway.createFn = func(domain.CreateIntentRequest) (domain.CreateIntentResult, error) {
		return domain.CreateIntentResult{}, fmt.Errorf("%w: unsupported currency", domain.ErrGatewayRejected)
	}

	_, err := f.orc.StartPayment(context.Background(), startInput("o1"))
	require.ErrorIs(t, err, domain.ErrGatewayRejected)

	create, _, _ := f.gateway.calls()
	assert.Equal(t, 1, create, "a rejection is never retried")

	// The failed intent is terminal, so a fresh start may create a new one.
	f.gateway.createFn = nil
	res := f.startIntent(t, "o1")
	assert.Equal(t, domain.StatusAwaitingMethod, res.Status)
}

func TestStartPaymentRetriesTransientFailures(t *testing.T) {
	f := newFixture(t)
	attempts := 0
	f.gateway.createFn = func(req domain.CreateIntentRequest) (domain.CreateIntentResult, error) {
		attempts++
		if attempts < 3 {
			return domain.CreateIntentResult{}, domain.ErrGatewayUnreachable
		}
		return domain.CreateIntentResult{ProviderRef: "prov_o1", Status: domain.ProviderAwaitingMethod}, nil
	}

	res, err := f.orc.StartPayment(context.Background(), startInput("o1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingMethod, res.Status)
	assert.Equal(t, 3, attempts)
}

func TestStartPaymentResumesAfterOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gateway.createFn = func(domain.CreateIntentRequest) (domain.CreateIntentResult, error) {
		return domain.CreateIntentResult{}, domain.ErrGatewayUnreachable
	}

	_, err := f.orc.StartPayment(ctx, startInput("o1"))
	require.ErrorIs(t, err, domain.ErrGatewayUnreachable)

	// The intent survived as pending; the retry picks it up and completes
	// the create with the same idempotency key.
	pending, err := f.intents.FindActiveByOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, pending.Status)

	f.gateway.createFn = nil
	res, err := f.orc.StartPayment(ctx, startInput("o1"))
	require.ErrorIs(t, err, domain.ErrActiveIntentExists)
	require.NotNil(t, res)
	assert.Equal(t, pending.ID, res.IntentID)
	assert.Equal(t, domain.StatusAwaitingMethod, res.Status)
}

func attachInput(intentID string) AttachMethodInput {
	return AttachMethodInput{IntentID: intentID, MethodRef: "card_1", ReturnURL: "https://shop.example/return"}
}

func TestAttachMethodHappyPath(t *testing.T) {
	f := newFixture(t)
	res := f.startIntent(t, "o1")

	attached, err := f.orc.AttachMethod(context.Background(), attachInput(res.IntentID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, attached.Status)
}

func TestAttachMethodValidation(t *testing.T) {
	f := newFixture(t)
	res := f.startIntent(t, "o1")
	ctx := context.Background()

	in := attachInput(res.IntentID)
	in.MethodRef = ""
	_, err := f.orc.AttachMethod(ctx, in)
	require.ErrorIs(t, err, ErrValidation)

	in = attachInput(res.IntentID)
	in.ReturnURL = ""
	_, err = f.orc.AttachMethod(ctx, in)
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.orc.AttachMethod(ctx, attachInput("missing"))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAttachMethodRejectsWrongState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Pending: create never finished.
	f.gateway.createFn = func(domain.CreateIntentRequest) (domain.CreateIntentResult, error) {
		return domain.CreateIntentResult{}, domain.ErrGatewayUnreachable
	}
	_, err := f.orc.StartPayment(ctx, startInput("o1"))
	require.Error(t, err)
	pending, err := f.intents.FindActiveByOrder(ctx, "o1")
	require.NoError(t, err)

	_, err = f.orc.AttachMethod(ctx, attachInput(pending.ID))
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	// Processing: a second attach after the first landed.
	f.gateway.createFn = nil
	res := f.startIntent(t, "o2")
	_, err = f.orc.AttachMethod(ctx, attachInput(res.IntentID))
	require.NoError(t, err)
	_, err = f.orc.AttachMethod(ctx, attachInput(res.IntentID))
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestAttachMethodRejectedFailsIntent(t *testing.T) {
	f := newFixture(t)
	res := f.startIntent(t, "o1")
	f.gateway.attachFn = func(domain.AttachMethodRequest) (domain.ProviderStatus, error) {
		return "", fmt.Errorf("%w: card declined", domain.ErrGatewayRejected)
	}

	_, err := f.orc.AttachMethod(context.Background(), attachInput(res.IntentID))
	require.ErrorIs(t, err, domain.ErrGatewayRejected)

	stored, err := f.intents.Get(context.Background(), res.IntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Contains(t, stored.FailureReason, "card declined")
}

func TestAttachMethodUnreachableReleasesClaim(t *testing.T) {
	f := newFixture(t)
	res := f.startIntent(t, "o1")
	ctx := context.Background()
	f.gateway.attachFn = func(domain.AttachMethodRequest) (domain.ProviderStatus, error) {
		return "", domain.ErrGatewayUnreachable
	}

	_, err := f.orc.AttachMethod(ctx, attachInput(res.IntentID))
	require.ErrorIs(t, err, domain.ErrGatewayUnreachable)

	stored, err := f.intents.Get(ctx, res.IntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingMethod, stored.Status)
	assert.False(t, stored.AttachInFlight, "a failure that never reached the provider frees the claim")

	// The retry goes straight back to the provider, no reconciliation poll.
	f.gateway.attachFn = nil
	attached, err := f.orc.AttachMethod(ctx, attachInput(res.IntentID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, attached.Status)
	_, _, fetch := f.gateway.calls()
	assert.Zero(t, fetch)
}

func TestAttachMethodTimeoutKeepsClaimAndReconciles(t *testing.T) {
	f := newFixture(t)
	res := f.startIntent(t, "o1")
	ctx := context.Background()
	f.gateway.attachFn = func(domain.AttachMethodRequest) (domain.ProviderStatus, error) {
		return "", domain.ErrGatewayTimeout
	}

	_, err := f.orc.AttachMethod(ctx, attachInput(res.IntentID))
	require.ErrorIs(t, err, domain.ErrGatewayTimeout)

	stored, err := f.intents.Get(ctx, res.IntentID)
	require.NoError(t, err)
	assert.True(t, stored.AttachInFlight, "ambiguous outcome must keep the claim")
	_, attach, _ := f.gateway.calls()
	assert.Equal(t, 1, attach, "a bare attach is never blindly retried")

	// The charge actually landed; the next attach reconciles via the status
	// poll and never re-issues the attach.
	f.gateway.fetchFn = func(string) (domain.ProviderStatus, error) {
		return domain.ProviderSucceeded, nil
	}
	reconciled, err := f.orc.AttachMethod(ctx, attachInput(res.IntentID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, reconciled.Status)

	_, attach, _ = f.gateway.calls()
	assert.Equal(t, 1, attach)
	assert.Equal(t, 1, f.hook.calls(), "a reconciled success runs the completion fan-out")
}

func TestAttachMethodTimeoutReissuesWhenNothingLanded(t *testing.T) {
	f := newFixture(t)
	res := f.startIntent(t, "o1")
	ctx := context.Background()
	f.gateway.attachFn = func(domain.AttachMethodRequest) (domain.ProviderStatus, error) {
		return "", domain.ErrGatewayTimeout
	}

	_, err := f.orc.AttachMethod(ctx, attachInput(res.IntentID))
	require.ErrorIs(t, err, domain.ErrGatewayTimeout)

	// Provider confirms the attach never arrived, so it is safe to re-issue.
	f.gateway.fetchFn = func(string) (domain.ProviderStatus, error) {
		return domain.ProviderAwaitingMethod, nil
	}
	f.gateway.attachFn = nil
	attached, err := f.orc.AttachMethod(ctx, attachInput(res.IntentID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, attached.Status)

	_, attach, _ := f.gateway.calls()
	assert.Equal(t, 2, attach)
}

func (f *fixture) succeedIntent(t *testing.T, orderID string) *IntentResult {
	t.Helper()
	res := f.startIntent(t, orderID)
	_, err := f.orc.AttachMethod(context.Background(), attachInput(res.IntentID))
	require.NoError(t, err)

	f.gateway.fetchFn = func(string) (domain.ProviderStatus, error) {
		return domain.ProviderSucceeded, nil
	}
	verified, err := f.orc.VerifyPayment(context.Background(), res.IntentID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSucceeded, verified.Status)
	return verified
}

func TestVerifyPaymentSuccessRunsCompletion(t *testing.T) {
	f := newFixture(t)
	res := f.succeedIntent(t, "o1")
	ctx := context.Background()

	assert.Equal(t, 1, f.hook.calls())

	order, err := f.orders.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusConfirmed, order.Status)

	notifs, err := f.ledger.ListForUser(ctx, "buyer_1")
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	assert.Equal(t, domnotif.KindOrderPlaced, notifs[0].Kind)
	assert.Equal(t, res.OrderID, notifs[0].OrderID)
}

func TestVerifyPaymentIsIdempotent(t *testing.T) {
	f := newFixture(t)
	res := f.succeedIntent(t, "o1")
	ctx := context.Background()

	// Re-verify twice; the fan-out re-runs but its effects stay single.
	for i := 0; i < 2; i++ {
		again, err := f.orc.VerifyPayment(ctx, res.IntentID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusSucceeded, again.Status)
	}
	assert.Equal(t, 3, f.hook.calls())

	notifs, err := f.ledger.ListForUser(ctx, "buyer_1")
	require.NoError(t, err)
	assert.Len(t, notifs, 1)

	order, err := f.orders.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusConfirmed, order.Status)
}

func TestConcurrentVerifyRecordsOneNotification(t *testing.T) {
	f := newFixture(t)
	res := f.startIntent(t, "o1")
	ctx := context.Background()
	_, err := f.orc.AttachMethod(ctx, attachInput(res.IntentID))
	require.NoError(t, err)

	f.gateway.fetchFn = func(string) (domain.ProviderStatus, error) {
		return domain.ProviderSucceeded, nil
	}

	const pollers = 10
	var wg sync.WaitGroup
	for i := 0; i < pollers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			verified, err := f.orc.VerifyPayment(ctx, res.IntentID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusSucceeded, verified.Status)
		}()
	}
	wg.Wait()

	notifs, err := f.ledger.ListForUser(ctx, "buyer_1")
	require.NoError(t, err)
	assert.Len(t, notifs, 1, "duplicate polls must collapse to one notification")
}

func TestVerifyPaymentBeforeCreateCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gateway.createFn = func(domain.CreateIntentRequest) (domain.CreateIntentResult, error) {
		return domain.CreateIntentResult{}, domain.ErrGatewayUnreachable
	}
	_, err := f.orc.StartPayment(ctx, startInput("o1"))
	require.Error(t, err)
	pending, err := f.intents.FindActiveByOrder(ctx, "o1")
	require.NoError(t, err)

	res, err := f.orc.VerifyPayment(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, res.Status)
	_, _, fetch := f.gateway.calls()
	assert.Zero(t, fetch, "nothing to poll without a provider reference")
}

func TestVerifyPaymentFoldsFailure(t *testing.T) {
	f := newFixture(t)
	res := f.startIntent(t, "o1")
	ctx := context.Background()
	_, err := f.orc.AttachMethod(ctx, attachInput(res.IntentID))
	require.NoError(t, err)

	f.gateway.fetchFn = func(string) (domain.ProviderStatus, error) {
		return domain.ProviderFailed, nil
	}
	verified, err := f.orc.VerifyPayment(ctx, res.IntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, verified.Status)
	assert.Zero(t, f.hook.calls())
}

func TestCancelPayment(t *testing.T) {
	f := newFixture(t)
	res := f.startIntent(t, "o1")
	ctx := context.Background()

	cancelled, err := f.orc.CancelPayment(ctx, res.IntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)

	// Repeat is a no-op, not a conflict.
	again, err := f.orc.CancelPayment(ctx, res.IntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, again.Status)

	_, err = f.orc.CancelPayment(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelPaymentRejectsSucceededIntent(t *testing.T) {
	f := newFixture(t)
	res := f.succeedIntent(t, "o1")

	_, err := f.orc.CancelPayment(context.Background(), res.IntentID)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}
