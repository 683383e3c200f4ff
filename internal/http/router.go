package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Routes struct {
	Cart           *CartHandler
	Checkout       *CheckoutHandler
	Orders         *OrdersHandler
	Callback       *CallbackHandler
	Notifications  *NotificationsHandler
	Metrics        http.Handler
	RequestTimeout time.Duration
	Log            *slog.Logger
}

func NewRouter(routes Routes) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(routes.Log.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if routes.Metrics != nil {
		r.Handle("/metrics", routes.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// The websocket outlives any request timeout and must not be
		// compressed, so it sits outside that group.
		r.With(AuthMiddleware).Get("/notifications/ws", routes.Notifications.Subscribe)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(routes.RequestTimeout))
			r.Use(middleware.Compress(5))

			r.Post("/payments/mpesa/callback", routes.Callback.HandleCallback)

			r.Group(func(r chi.Router) {
				r.Use(AuthMiddleware)

				r.Route("/cart", func(r chi.Router) {
					r.Get("/", routes.Cart.GetCart)
					r.Post("/items", routes.Cart.AddItem)
					r.Put("/items/{product_id}", routes.Cart.UpdateQuantity)
					r.Delete("/items/{product_id}", routes.Cart.RemoveItem)
					r.Post("/merge", routes.Cart.Merge)
				})
				r.Post("/checkout", routes.Checkout.Checkout)
				r.Get("/orders", routes.Orders.ListOrders)
				r.Get("/orders/{order_id}", routes.Orders.GetOrder)
			})
		})
	})

	return otelhttp.NewHandler(r, "settlement-service",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/metrics"
		}))
}
