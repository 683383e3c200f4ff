package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fjod/go_cart/settlement-service/internal/service"
)

type Reconciler interface {
	Reconcile(ctx context.Context, cb service.Callback) service.ReconcileOutcome
}

// CallbackHandler receives settlement callbacks from the mobile money
// provider. The provider only needs an acknowledgement, so every request gets
// 200 and the work happens after the response is written.
type CallbackHandler struct {
	reconciler Reconciler
	timeout    time.Duration
	log        *slog.Logger
	wg         sync.WaitGroup
}

func NewCallbackHandler(reconciler Reconciler, timeout time.Duration, log *slog.Logger) *CallbackHandler {
	return &CallbackHandler{
		reconciler: reconciler,
		timeout:    timeout,
		log:        log.With("component", "callback"),
	}
}

type CallbackItemDTO struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value,omitempty"`
}

type STKCallbackDTO struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        *int   `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []CallbackItemDTO `json:"Item"`
	} `json:"CallbackMetadata,omitempty"`
}

type CallbackRequestDTO struct {
	Body struct {
		STKCallback *STKCallbackDTO `json:"stkCallback"`
	} `json:"Body"`
}

type CallbackAckDTO struct {
	Message string `json:"message"`
}

// POST /api/v1/payments/mpesa/callback
func (h *CallbackHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	respondJSON(w, http.StatusOK, CallbackAckDTO{Message: "Callback received successfully."})
	if err != nil {
		h.log.WarnContext(r.Context(), "failed to read callback body", "error", err)
		return
	}

	h.log.InfoContext(r.Context(), "settlement callback received", "payload", string(body))

	cb, ok := parseCallback(body)
	if !ok {
		h.log.WarnContext(r.Context(), "malformed settlement callback dropped")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer cancel()
		h.reconciler.Reconcile(ctx, cb)
	}()
}

// Wait blocks until every accepted callback has been processed.
func (h *CallbackHandler) Wait() {
	h.wg.Wait()
}

func parseCallback(body []byte) (service.Callback, bool) {
	var req CallbackRequestDTO
	if err := json.Unmarshal(body, &req); err != nil {
		return service.Callback{}, false
	}
	stk := req.Body.STKCallback
	if stk == nil || stk.CheckoutRequestID == "" || stk.ResultCode == nil {
		return service.Callback{}, false
	}

	return service.Callback{
		ExternalRef:  stk.CheckoutRequestID,
		ResultCode:   *stk.ResultCode,
		ResultDetail: stk.ResultDesc,
	}, true
}
