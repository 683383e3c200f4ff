package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderPlaced  EventType = "order.placed"
	EventOrderSettled EventType = "order.settled"
)

// OrderEvent is what buyers and downstream consumers hear about an order's
// payment lifecycle.
type OrderEvent struct {
	Type          EventType       `json:"type"`
	OrderID       uuid.UUID       `json:"order_id"`
	UserID        string          `json:"user_id"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Detail        string          `json:"detail,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func NewOrderEvent(t EventType, o *Order) OrderEvent {
	return OrderEvent{
		Type:          t,
		OrderID:       o.ID,
		UserID:        o.UserID,
		PaymentMethod: o.PaymentMethod,
		PaymentStatus: o.PaymentStatus,
		TotalAmount:   o.TotalAmount,
		Detail:        o.ResultDetail,
		OccurredAt:    time.Now().UTC(),
	}
}
