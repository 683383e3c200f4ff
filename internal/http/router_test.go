package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fjod/go_cart/settlement-service/internal/catalog"
	"github.com/fjod/go_cart/settlement-service/internal/domain"
	"github.com/fjod/go_cart/settlement-service/internal/logger"
	"github.com/fjod/go_cart/settlement-service/internal/metrics"
	"github.com/fjod/go_cart/settlement-service/internal/notify"
	"github.com/fjod/go_cart/settlement-service/internal/payment"
	"github.com/fjod/go_cart/settlement-service/internal/repository"
	"github.com/fjod/go_cart/settlement-service/internal/service"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	url      string
	orders   *repository.MemoryOrderRepository
	catalog  *catalog.MemoryCatalog
	callback *CallbackHandler
	hub      *notify.Hub
}

func newTestServer(t *testing.T, gw payment.Gateway) *testServer {
	t.Helper()

	log := logger.Discard()
	m := metrics.New()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cartRepo := repository.NewMemoryCartRepository()
	orderRepo := repository.NewMemoryOrderRepository()
	cat := catalog.NewMemoryCatalog(
		catalog.Product{ID: "product-a", Name: "Product A", Price: decimal.RequireFromString("10.00")},
		catalog.Product{ID: "product-b", Name: "Product B", Price: decimal.RequireFromString("2.50")},
	)

	hub := notify.NewHub(log)
	go hub.Run(ctx)

	carts := service.NewCartService(cartRepo, nil, log, m)
	factory := service.NewOrderFactory(catalog.NewGuardedLookup(cat, time.Second), carts, log)
	methods := payment.Methods{
		Gateway:           gw,
		Bank:              payment.BankDetails{BankName: "Equity Bank", AccountName: "Shop", AccountNumber: "123"},
		ReceiptEmail:      "payments@example.com",
		PayPalCheckoutURL: "https://www.sandbox.paypal.com/checkoutnow",
	}
	dispatcher := service.NewDispatcher(carts, factory, orderRepo, methods, hub, log, m)
	reconciler := service.NewReconciler(orderRepo, carts, hub, log, m)

	callback := NewCallbackHandler(reconciler, time.Second, log)
	router := NewRouter(Routes{
		Cart:           NewCartHandler(carts, time.Second, log),
		Checkout:       NewCheckoutHandler(dispatcher, time.Second, log),
		Orders:         NewOrdersHandler(service.NewOrderService(orderRepo), time.Second, log),
		Callback:       callback,
		Notifications:  NewNotificationsHandler(hub, log),
		Metrics:        m.Handler(),
		RequestTimeout: 5 * time.Second,
		Log:            log,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{url: srv.URL, orders: orderRepo, catalog: cat, callback: callback, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path, userID string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.url+path, reader)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, payment.DemoGateway{})

	resp := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, payment.DemoGateway{})
	s.do(t, http.MethodPost, "/api/v1/cart/items", "user-1", AddItemRequestDTO{ProductID: "product-a", Quantity: 1})

	resp := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "settlement_cart_mutations_total")
}

func TestCartRoutes_Unauthorized(t *testing.T) {
	s := newTestServer(t, payment.DemoGateway{})

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/cart"},
		{http.MethodPost, "/api/v1/cart/items"},
		{http.MethodPost, "/api/v1/checkout"},
		{http.MethodGet, "/api/v1/orders"},
		{http.MethodGet, "/api/v1/notifications/ws"},
	} {
		resp := s.do(t, tc.method, tc.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "%s %s", tc.method, tc.path)

		var errResp ErrorResponse
		decode(t, resp, &errResp)
		assert.Equal(t, "unauthorized", errResp.Code)
	}
}

func TestCartRoutes_Lifecycle(t *testing.T) {
	s := newTestServer(t, payment.DemoGateway{})

	resp := s.do(t, http.MethodGet, "/api/v1/cart", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cart domain.Cart
	decode(t, resp, &cart)
	assert.Equal(t, "user-1", cart.UserID)
	assert.NotNil(t, cart.Items)
	assert.Empty(t, cart.Items)

	resp = s.do(t, http.MethodPost, "/api/v1/cart/items", "user-1", AddItemRequestDTO{ProductID: "product-a", Quantity: 2})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = s.do(t, http.MethodPut, "/api/v1/cart/items/product-a", "user-1", UpdateQuantityRequestDTO{Quantity: 5})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &cart)
	assert.Equal(t, 5, cart.Quantity("product-a"))

	resp = s.do(t, http.MethodPost, "/api/v1/cart/merge", "user-1", MergeCartRequestDTO{Items: []AddItemRequestDTO{
		{ProductID: "product-a", Quantity: 1},
		{ProductID: "product-b", Quantity: 3},
	}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &cart)
	assert.Equal(t, 6, cart.Quantity("product-a"))
	assert.Equal(t, 3, cart.Quantity("product-b"))

	resp = s.do(t, http.MethodDelete, "/api/v1/cart/items/product-b", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &cart)
	assert.Zero(t, cart.Quantity("product-b"))

	resp = s.do(t, http.MethodGet, "/api/v1/cart", "user-2", nil)
	decode(t, resp, &cart)
	assert.Empty(t, cart.Items)
}

func TestCartRoutes_Errors(t *testing.T) {
	s := newTestServer(t, payment.DemoGateway{})

	tests := []struct {
		name       string
		method     string
		path       string
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{"invalid json", http.MethodPost, "/api/v1/cart/items", "{", http.StatusBadRequest, "invalid_request"},
		{"fractional quantity", http.MethodPost, "/api/v1/cart/items", `{"product_id":"product-a","quantity":1.5}`, http.StatusBadRequest, "invalid_request"},
		{"zero quantity", http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{ProductID: "product-a"}, http.StatusBadRequest, "invalid_quantity"},
		{"missing product", http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{Quantity: 1}, http.StatusBadRequest, "invalid_product_id"},
		{"negative update", http.MethodPut, "/api/v1/cart/items/product-a", UpdateQuantityRequestDTO{Quantity: -1}, http.StatusBadRequest, "invalid_quantity"},
		{"update missing line", http.MethodPut, "/api/v1/cart/items/product-z", UpdateQuantityRequestDTO{Quantity: 1}, http.StatusNotFound, "not_found"},
		{"merge invalid line", http.MethodPost, "/api/v1/cart/merge", MergeCartRequestDTO{Items: []AddItemRequestDTO{{ProductID: "product-a", Quantity: 0}}}, http.StatusBadRequest, "invalid_quantity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, tt.method, tt.path, "user-1", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var errResp ErrorResponse
			decode(t, resp, &errResp)
			assert.Equal(t, tt.wantCode, errResp.Code)
			assert.NotEmpty(t, errResp.Error)
		})
	}
}

func TestCheckoutRoute_MobileMoneyDemo(t *testing.T) {
	s := newTestServer(t, payment.DemoGateway{})
	s.do(t, http.MethodPost, "/api/v1/cart/items", "user-1", AddItemRequestDTO{ProductID: "product-a", Quantity: 1})
	s.do(t, http.MethodPost, "/api/v1/cart/items", "user-1", AddItemRequestDTO{ProductID: "product-b", Quantity: 4})

	resp := s.do(t, http.MethodPost, "/api/v1/checkout", "user-1", CheckoutRequestDTO{PaymentMethod: "mpesa", Phone: "0712345678"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out CheckoutResponseDTO
	decode(t, resp, &out)
	assert.Equal(t, "20.00", out.Order.TotalAmount)
	assert.Equal(t, "completed", out.Order.PaymentStatus)
	assert.NotEmpty(t, out.Message)

	resp = s.do(t, http.MethodGet, "/api/v1/cart", "user-1", nil)
	var cart domain.Cart
	decode(t, resp, &cart)
	assert.Empty(t, cart.Items)
}

func TestCheckoutRoute_Errors(t *testing.T) {
	s := newTestServer(t, payment.DemoGateway{})

	resp := s.do(t, http.MethodPost, "/api/v1/checkout", "user-1", CheckoutRequestDTO{PaymentMethod: "paypal"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var errResp ErrorResponse
	decode(t, resp, &errResp)
	assert.Equal(t, "empty_cart", errResp.Code)

	s.do(t, http.MethodPost, "/api/v1/cart/items", "user-1", AddItemRequestDTO{ProductID: "product-a", Quantity: 1})

	resp = s.do(t, http.MethodPost, "/api/v1/checkout", "user-1", CheckoutRequestDTO{PaymentMethod: "mpesa", Phone: "071234"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	decode(t, resp, &errResp)
	assert.Equal(t, "invalid_phone", errResp.Code)

	resp = s.do(t, http.MethodPost, "/api/v1/checkout", "user-1", CheckoutRequestDTO{PaymentMethod: "cash"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	decode(t, resp, &errResp)
	assert.Equal(t, "invalid_argument", errResp.Code)

	s.catalog.Delete("product-a")
	resp = s.do(t, http.MethodPost, "/api/v1/checkout", "user-1", CheckoutRequestDTO{PaymentMethod: "paypal"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	decode(t, resp, &errResp)
	assert.Equal(t, "cart_cleared", errResp.Code)
}

func TestOrderRoutes(t *testing.T) {
	s := newTestServer(t, payment.DemoGateway{})
	s.do(t, http.MethodPost, "/api/v1/cart/items", "user-1", AddItemRequestDTO{ProductID: "product-a", Quantity: 1})
	resp := s.do(t, http.MethodPost, "/api/v1/checkout", "user-1", CheckoutRequestDTO{PaymentMethod: "bank_transfer"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out CheckoutResponseDTO
	decode(t, resp, &out)
	require.NotNil(t, out.BankDetails)
	assert.Equal(t, "pending", out.Order.PaymentStatus)

	resp = s.do(t, http.MethodGet, "/api/v1/orders/"+out.Order.ID, "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var order OrderResponseDTO
	decode(t, resp, &order)
	assert.Equal(t, out.Order.ID, order.ID)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "10.00", order.Items[0].UnitPrice)

	resp = s.do(t, http.MethodGet, "/api/v1/orders/"+out.Order.ID, "user-2", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/v1/orders/"+uuid.NewString(), "user-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/v1/orders/not-a-uuid", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/v1/orders", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []OrderResponseDTO
	decode(t, resp, &list)
	assert.Len(t, list, 1)

	resp = s.do(t, http.MethodGet, "/api/v1/orders", "user-2", nil)
	decode(t, resp, &list)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func callbackBody(ref string, code int, desc string) string {
	return `{"Body":{"stkCallback":{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"` + ref +
		`","ResultCode":` + jsonInt(code) + `,"ResultDesc":"` + desc + `"}}}`
}

func jsonInt(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestCallbackRoute_SettlesPendingOrder(t *testing.T) {
	s := newTestServer(t, payment.DeferredGateway{})
	s.do(t, http.MethodPost, "/api/v1/cart/items", "user-1", AddItemRequestDTO{ProductID: "product-a", Quantity: 1})

	resp := s.do(t, http.MethodPost, "/api/v1/checkout", "user-1", CheckoutRequestDTO{PaymentMethod: "mpesa", Phone: "254712345678"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out CheckoutResponseDTO
	decode(t, resp, &out)
	require.Equal(t, "pending", out.Order.PaymentStatus)
	require.NotEmpty(t, out.Order.ExternalRef)

	resp = s.do(t, http.MethodPost, "/api/v1/payments/mpesa/callback", "",
		callbackBody(out.Order.ExternalRef, 0, "The service request is processed successfully."))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var ack CallbackAckDTO
	decode(t, resp, &ack)
	assert.Equal(t, "Callback received successfully.", ack.Message)

	s.callback.Wait()

	resp = s.do(t, http.MethodGet, "/api/v1/orders/"+out.Order.ID, "user-1", nil)
	var order OrderResponseDTO
	decode(t, resp, &order)
	assert.Equal(t, "completed", order.PaymentStatus)
	assert.Equal(t, "The service request is processed successfully.", order.ResultDetail)
	assert.NotEmpty(t, order.SettledAt)
}

func TestCallbackRoute_AlwaysAcknowledges(t *testing.T) {
	s := newTestServer(t, payment.DemoGateway{})

	for _, body := range []string{
		"not json",
		`{}`,
		`{"Body":{"stkCallback":{"ResultCode":0}}}`,
		`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1"}}}`,
		callbackBody("ws_CO_unknown", 0, "ok"),
	} {
		resp := s.do(t, http.MethodPost, "/api/v1/payments/mpesa/callback", "", body)
		assert.Equal(t, http.StatusOK, resp.StatusCode, body)
	}
	s.callback.Wait()
}

func TestParseCallback(t *testing.T) {
	cb, ok := parseCallback([]byte(callbackBody("ws_CO_42", 1032, "Request cancelled by user")))
	require.True(t, ok)
	assert.Equal(t, service.Callback{ExternalRef: "ws_CO_42", ResultCode: 1032, ResultDetail: "Request cancelled by user"}, cb)

	_, ok = parseCallback([]byte(`{"Body":{}}`))
	assert.False(t, ok)
}

func TestNotificationsRoute_PushesSettlement(t *testing.T) {
	s := newTestServer(t, payment.DeferredGateway{})
	s.do(t, http.MethodPost, "/api/v1/cart/items", "user-1", AddItemRequestDTO{ProductID: "product-a", Quantity: 1})

	header := http.Header{}
	header.Set(UserIDHeader, "user-1")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.url, "http")+"/api/v1/notifications/ws", header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return s.hub.Connected("user-1") == 1 }, time.Second, 10*time.Millisecond)

	resp := s.do(t, http.MethodPost, "/api/v1/checkout", "user-1", CheckoutRequestDTO{PaymentMethod: "mpesa", Phone: "254712345678"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event domain.OrderEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, domain.EventOrderPlaced, event.Type)
	assert.Equal(t, domain.PaymentStatusPending, event.PaymentStatus)
}
