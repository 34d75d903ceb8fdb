// Package httppresentation is the HTTP boundary: request decoding, routing,
// and the mapping from domain errors to status codes. No business decisions
// are made here.
package httppresentation

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	appNotification "github.com/azeloquendo/farm2table-payments/internal/application/notification"
	appOrder "github.com/azeloquendo/farm2table-payments/internal/application/order"
	appPayment "github.com/azeloquendo/farm2table-payments/internal/application/payment"
	domainNotification "github.com/azeloquendo/farm2table-payments/internal/domain/notification"
	domainOrder "github.com/azeloquendo/farm2table-payments/internal/domain/order"
	domainPayment "github.com/azeloquendo/farm2table-payments/internal/domain/payment"
	"github.com/azeloquendo/farm2table-payments/internal/observability"
)

const componentHTTPHandler = "http_server"

type Handler struct {
	payments      *appPayment.Orchestrator
	notifications *appNotification.Service
	orders        *appOrder.Service
	log           observability.Logger
	tel           observability.Observability
}

func NewHandler(
	payments *appPayment.Orchestrator,
	notifications *appNotification.Service,
	orders *appOrder.Service,
	tel observability.Observability,
) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		payments:      payments,
		notifications: notifications,
		orders:        orders,
		log:           tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:           tel,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(ObservabilityMiddleware(h.log, h.tel))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/payments/intents", func(r chi.Router) {
		r.Post("/", h.handleStartPayment)
		r.Get("/{id}", h.handleVerifyPayment)
		r.Post("/{id}/attach", h.handleAttachMethod)
		r.Post("/{id}/cancel", h.handleCancelPayment)
	})
	r.Get("/notifications", h.handleListNotifications)
	r.Post("/notifications/{id}/read", h.handleMarkNotificationRead)
	r.Patch("/orders/{id}/status", h.handleUpdateOrderStatus)
	r.Get("/health", h.handleHealth)

	return r
}

type startPaymentRequest struct {
	OrderID  string `json:"order_id"`
	BuyerID  string `json:"buyer_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type intentResponse struct {
	IntentID string `json:"intent_id"`
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func intentBody(res *appPayment.IntentResult) intentResponse {
	return intentResponse{
		IntentID: res.IntentID,
		OrderID:  res.OrderID,
		Status:   string(res.Status),
		Amount:   res.Amount,
		Currency: res.Currency,
	}
}

func (h *Handler) handleStartPayment(w http.ResponseWriter, r *http.Request) {
	var req startPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.payments.StartPayment(r.Context(), appPayment.StartPaymentInput{
		OrderID:  req.OrderID,
		BuyerID:  req.BuyerID,
		Amount:   req.Amount,
		Currency: req.Currency,
	})
	if errors.Is(err, domainPayment.ErrActiveIntentExists) && result != nil {
		// The order already has a live intent; hand it back so the client
		// can resume instead of double-charging.
		writeJSON(w, http.StatusConflict, intentBody(result))
		return
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, intentBody(result))
}

type attachMethodRequest struct {
	MethodRef string `json:"method_id"`
	ReturnURL string `json:"return_url"`
}

func (h *Handler) handleAttachMethod(w http.ResponseWriter, r *http.Request) {
	var req attachMethodRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.payments.AttachMethod(r.Context(), appPayment.AttachMethodInput{
		IntentID:  chi.URLParam(r, "id"),
		MethodRef: req.MethodRef,
		ReturnURL: req.ReturnURL,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intentBody(result))
}

func (h *Handler) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	result, err := h.payments.VerifyPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intentBody(result))
}

func (h *Handler) handleCancelPayment(w http.ResponseWriter, r *http.Request) {
	result, err := h.payments.CancelPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intentBody(result))
}

type notificationResponse struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	items, err := h.notifications.ListForUser(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	out := make([]notificationResponse, 0, len(items))
	for _, n := range items {
		out = append(out, notificationResponse{
			ID:        n.ID,
			OrderID:   n.OrderID,
			Kind:      string(n.Kind),
			Message:   n.Message,
			Read:      n.Read,
			CreatedAt: n.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

func (h *Handler) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.MarkRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

type orderResponse struct {
	OrderID string `json:"order_id"`
	BuyerID string `json:"buyer_id"`
	Status  string `json:"status"`
	Amount  int64  `json:"amount"`
}

func (h *Handler) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateOrderStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	record, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{
		OrderID: record.ID,
		BuyerID: record.BuyerID,
		Status:  string(record.Status),
		Amount:  record.Amount,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeDomainError maps domain sentinels to status codes. Gateway outcomes
// get distinct codes: a provider rejection is the buyer's problem (422), a
// provider outage is ours (503), and an ambiguous timeout is a bad upstream
// answer (502).
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appPayment.ErrValidation),
		errors.Is(err, domainPayment.ErrInvalidAmount),
		errors.Is(err, domainPayment.ErrInvalidCurrency),
		errors.Is(err, domainOrder.ErrUnknownStatus),
		errors.Is(err, domainNotification.ErrInvalidRecipient):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domainPayment.ErrNotFound),
		errors.Is(err, domainOrder.ErrNotFound),
		errors.Is(err, domainNotification.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domainPayment.ErrInvalidStateTransition),
		errors.Is(err, domainOrder.ErrInvalidStateTransition),
		errors.Is(err, domainPayment.ErrStaleIntent):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, domainPayment.ErrGatewayRejected):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, domainPayment.ErrGatewayUnreachable):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, domainPayment.ErrGatewayTimeout):
		writeError(w, http.StatusBadGateway, err)
	default:
		h.log.Error("unhandled_domain_error", observability.F("error", err.Error()))
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}
