package checkout

import "github.com/dukex/orderflow/pkg/events"

const OrderCompletedEvent events.EventType = "order.completed"

type OrderCompleted struct {
	events.BaseEvent

	OrderID      string `json:"order_id"`
	CustomerID   string `json:"customer_id"`
	PaymentID    string `json:"payment_id"`
	Confirmation string `json:"confirmation"`
	TotalCents   int64  `json:"total_cents"`
}

func (e OrderCompleted) GetType() events.EventType {
	return OrderCompletedEvent
}
