package http

import (
	"log/slog"
	"net/http"

	"github.com/fjod/go_cart/settlement-service/internal/notify"
	"github.com/gorilla/websocket"
)

type NotificationsHandler struct {
	hub      *notify.Hub
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewNotificationsHandler(hub *notify.Hub, log *slog.Logger) *NotificationsHandler {
	return &NotificationsHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log,
	}
}

// GET /api/v1/notifications/ws
func (h *NotificationsHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WarnContext(r.Context(), "websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	h.hub.Serve(r.Context(), userID, conn)
}
