package models

import "time"

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeOrderCancelled     = "ORDER_CANCELLED"
	EventTypeDeliveryAssigned   = "DELIVERY_ASSIGNED"
	EventTypeOrderDelivered     = "ORDER_DELIVERED"
	EventTypeCheckoutRequested  = "CHECKOUT_REQUESTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is placed
type OrderCreatedEvent struct {
	BaseEvent
	OrderID string          `json:"order_id"`
	UserID  string          `json:"user_id"`
	Total   float64         `json:"total"`
	Items   []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published on every lifecycle transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID        string `json:"order_id"`
	UserID         string `json:"user_id"`
	PreviousStatus string `json:"previous_status"`
	Status         string `json:"status"`
	Message        string `json:"message"`
	UpdatedBy      string `json:"updated_by,omitempty"`
	Version        int64  `json:"version"`
}

// OrderCancelledEvent published when an order is cancelled and its stock released
type OrderCancelledEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Reason  string `json:"reason"`
}

// DeliveryAssignedEvent published when an order is bound to a delivery person
type DeliveryAssignedEvent struct {
	BaseEvent
	OrderID            string `json:"order_id"`
	DeliveryPersonID   string `json:"delivery_person_id"`
	DeliveryPersonName string `json:"delivery_person_name"`
	PreviousPersonID   string `json:"previous_person_id,omitempty"`
}

// OrderDeliveredEvent published after OTP confirmation
type OrderDeliveredEvent struct {
	BaseEvent
	OrderID          string    `json:"order_id"`
	UserID           string    `json:"user_id"`
	DeliveryPersonID string    `json:"delivery_person_id,omitempty"`
	Total            float64   `json:"total"`
	DeliveredAt      time.Time `json:"delivered_at"`
}

// CheckoutRequestedEvent is consumed from the checkout topic and turned into an order
type CheckoutRequestedEvent struct {
	BaseEvent
	UserID         string             `json:"user_id"`
	UserName       string             `json:"user_name"`
	Items          []CheckoutItemData `json:"items"`
	Shipping       ShippingInfo       `json:"shipping"`
	PaymentMethod  string             `json:"payment_method"`
	IdempotencyKey string             `json:"idempotency_key"`
}

// CheckoutItemData is a requested line: the catalog supplies name and price.
type CheckoutItemData struct {
	ProductID       string            `json:"product_id"`
	Quantity        int               `json:"quantity"`
	SelectedOptions map[string]string `json:"selected_options,omitempty"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID string  `json:"product_id"`
	SellerID  string  `json:"seller_id,omitempty"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}
