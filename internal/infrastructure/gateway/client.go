// Package gateway is the thin adapter over the external payment provider's
// payment-intent REST API. It carries no business logic and no local state;
// every call is a single request/response mapped onto the domain error
// taxonomy.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	domain "github.com/azeloquendo/farm2table-payments/internal/domain/payment"
)

const defaultTimeout = 5 * time.Second

type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
	}
}

type intentAttributes struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type createIntentBody struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	OrderRef string `json:"order_ref"`
}

type attachMethodBody struct {
	Method    string `json:"method"`
	ReturnURL string `json:"return_url"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) CreateIntent(ctx context.Context, req domain.CreateIntentRequest) (domain.CreateIntentResult, error) {
	body := createIntentBody{Amount: req.Amount, Currency: req.Currency, OrderRef: req.OrderRef}

	var out intentAttributes
	// The order reference doubles as the idempotency key: the provider
	// returns the original intent for a replayed create.
	err := c.do(ctx, http.MethodPost, "/v1/payment_intents", req.OrderRef, body, &out)
	if err != nil {
		return domain.CreateIntentResult{}, err
	}
	return domain.CreateIntentResult{
		ProviderRef: out.ID,
		Status:      domain.ProviderStatus(out.Status),
	}, nil
}

func (c *Client) AttachMethod(ctx context.Context, req domain.AttachMethodRequest) (domain.ProviderStatus, error) {
	body := attachMethodBody{Method: req.MethodRef, ReturnURL: req.ReturnURL}

	var out intentAttributes
	path := fmt.Sprintf("/v1/payment_intents/%s/attach", req.ProviderRef)
	if err := c.do(ctx, http.MethodPost, path, "", body, &out); err != nil {
		return "", err
	}
	return domain.ProviderStatus(out.Status), nil
}

func (c *Client) FetchStatus(ctx context.Context, providerRef string) (domain.ProviderStatus, error) {
	var out intentAttributes
	path := fmt.Sprintf("/v1/payment_intents/%s", providerRef)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return "", err
	}
	return domain.ProviderStatus(out.Status), nil
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.SetBasicAuth(c.secret, "")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %s %s", domain.ErrGatewayTimeout, method, path)
		}
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", domain.ErrGatewayUnreachable, err)
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: provider returned %d", domain.ErrGatewayUnreachable, resp.StatusCode)
	default:
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		if eb.Error.Message != "" {
			return fmt.Errorf("%w: %s (%s)", domain.ErrGatewayRejected, eb.Error.Message, eb.Error.Code)
		}
		return fmt.Errorf("%w: provider returned %d", domain.ErrGatewayRejected, resp.StatusCode)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
