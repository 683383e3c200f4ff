package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/go_cart/settlement-service/internal/payment"
	"github.com/fjod/go_cart/settlement-service/internal/service"
)

type CheckoutService interface {
	Checkout(ctx context.Context, userID string, req payment.Request) (*service.CheckoutResult, error)
}

type CheckoutHandler struct {
	checkout CheckoutService
	timeout  time.Duration
	log      *slog.Logger
}

func NewCheckoutHandler(checkout CheckoutService, timeout time.Duration, log *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		timeout:  timeout,
		log:      log,
	}
}

type CheckoutRequestDTO struct {
	PaymentMethod string `json:"payment_method"`
	Phone         string `json:"phone,omitempty"`
	Reference     string `json:"reference,omitempty"`
}

type CheckoutResponseDTO struct {
	Message      string               `json:"message"`
	Order        OrderResponseDTO     `json:"order"`
	RedirectURL  string               `json:"redirect_url,omitempty"`
	Instructions string               `json:"instructions,omitempty"`
	BankDetails  *payment.BankDetails `json:"bank_details,omitempty"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req CheckoutRequestDTO
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	res, err := h.checkout.Checkout(ctx, userID, payment.Request{
		Method:    req.PaymentMethod,
		Phone:     req.Phone,
		Reference: req.Reference,
	})
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondJSON(w, http.StatusCreated, CheckoutResponseDTO{
		Message:      res.Instructions.Message,
		Order:        convertOrder(res.Order),
		RedirectURL:  res.Instructions.RedirectURL,
		Instructions: res.Instructions.Details,
		BankDetails:  res.Instructions.BankDetails,
	})
}
