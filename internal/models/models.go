package models

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a referenced order, product or delivery person does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when an order was modified since it was read.
	ErrVersionConflict = errors.New("order was modified concurrently")
)

// Order statuses
const (
	OrderStatusPending        = "pending"
	OrderStatusConfirmed      = "confirmed"
	OrderStatusProcessing     = "processing"
	OrderStatusShipped        = "shipped"
	OrderStatusOutForDelivery = "out_for_delivery"
	OrderStatusDelivered      = "delivered"
	OrderStatusCancelled      = "cancelled"
	OrderStatusRefunded       = "refunded"
)

// Payment statuses
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

const PaymentMethodCOD = "cod"

// Delivery person approval states
const (
	DeliveryPersonPending   = "pending"
	DeliveryPersonApproved  = "approved"
	DeliveryPersonSuspended = "suspended"
)

// Order is the aggregate root of the order lifecycle.
type Order struct {
	ID                 string           `json:"id" bson:"id"`
	UserID             string           `json:"userId" bson:"userId"`
	UserName           string           `json:"userName,omitempty" bson:"userName,omitempty"`
	Items              []OrderItem      `json:"items" bson:"items"`
	Subtotal           float64          `json:"subtotal" bson:"subtotal"`
	Tax                float64          `json:"tax" bson:"tax"`
	Total              float64          `json:"total" bson:"total"`
	Status             string           `json:"status" bson:"status"`
	PaymentMethod      string           `json:"paymentMethod" bson:"paymentMethod"`
	PaymentStatus      string           `json:"paymentStatus" bson:"paymentStatus"`
	Shipping           ShippingInfo     `json:"shipping" bson:"shipping"`
	TrackingStages     []TrackingStage  `json:"trackingStages" bson:"trackingStages"`
	TrackingUpdates    []TrackingUpdate `json:"trackingUpdates" bson:"trackingUpdates"`
	DeliveryPersonID   string           `json:"deliveryPersonId,omitempty" bson:"deliveryPersonId,omitempty"`
	DeliveryPersonName string           `json:"deliveryPersonName,omitempty" bson:"deliveryPersonName,omitempty"`
	DeliveryOtp        string           `json:"-" bson:"deliveryOtp,omitempty"`
	EstimatedDelivery  time.Time        `json:"estimatedDelivery" bson:"estimatedDelivery"`
	DeliveredAt        *time.Time       `json:"deliveredAt,omitempty" bson:"deliveredAt,omitempty"`
	CancellationReason string           `json:"cancellationReason,omitempty" bson:"cancellationReason,omitempty"`
	Version            int64            `json:"version" bson:"version"`
	CreatedAt          time.Time        `json:"createdAt" bson:"createdAt"`
	UpdatedAt          time.Time        `json:"updatedAt" bson:"updatedAt"`
}

// SellerIDs returns the distinct seller ids referenced by the order items, in item order.
func (o *Order) SellerIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		if item.SellerID == "" {
			continue
		}
		if _, ok := seen[item.SellerID]; ok {
			continue
		}
		seen[item.SellerID] = struct{}{}
		ids = append(ids, item.SellerID)
	}
	return ids
}

// HasSeller reports whether any item of the order is sold by sellerID.
func (o *Order) HasSeller(sellerID string) bool {
	for _, item := range o.Items {
		if item.SellerID == sellerID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the order. Nil slices stay nil.
func (o *Order) Clone() *Order {
	c := *o
	if o.Items != nil {
		c.Items = make([]OrderItem, len(o.Items))
		for i, item := range o.Items {
			c.Items[i] = item
			if item.SelectedOptions != nil {
				opts := make(map[string]string, len(item.SelectedOptions))
				for k, v := range item.SelectedOptions {
					opts[k] = v
				}
				c.Items[i].SelectedOptions = opts
			}
		}
	}
	if o.TrackingStages != nil {
		c.TrackingStages = make([]TrackingStage, len(o.TrackingStages))
		for i, st := range o.TrackingStages {
			c.TrackingStages[i] = st
			if st.Timestamp != nil {
				ts := *st.Timestamp
				c.TrackingStages[i].Timestamp = &ts
			}
		}
	}
	if o.TrackingUpdates != nil {
		c.TrackingUpdates = make([]TrackingUpdate, len(o.TrackingUpdates))
		copy(c.TrackingUpdates, o.TrackingUpdates)
	}
	if o.DeliveredAt != nil {
		d := *o.DeliveredAt
		c.DeliveredAt = &d
	}
	return &c
}

// OrderItem is a line item; name, price and seller are snapshotted from the catalog at checkout.
type OrderItem struct {
	ProductID       string            `json:"productId" bson:"productId"`
	Name            string            `json:"name" bson:"name"`
	Price           float64           `json:"price" bson:"price"`
	Quantity        int               `json:"quantity" bson:"quantity"`
	Image           string            `json:"image,omitempty" bson:"image,omitempty"`
	SellerID        string            `json:"sellerId,omitempty" bson:"sellerId,omitempty"`
	SellerName      string            `json:"sellerName,omitempty" bson:"sellerName,omitempty"`
	SelectedOptions map[string]string `json:"selectedOptions,omitempty" bson:"selectedOptions,omitempty"`
}

type ShippingInfo struct {
	Name     string `json:"name" bson:"name"`
	Email    string `json:"email" bson:"email"`
	Phone    string `json:"phone" bson:"phone"`
	Address  string `json:"address" bson:"address"`
	City     string `json:"city" bson:"city"`
	State    string `json:"state,omitempty" bson:"state,omitempty"`
	Pincode  string `json:"pincode" bson:"pincode"`
	Landmark string `json:"landmark,omitempty" bson:"landmark,omitempty"`
}

// TrackingStage is one step of the customer-facing checklist.
type TrackingStage struct {
	Stage     string     `json:"stage" bson:"stage"`
	Completed bool       `json:"completed" bson:"completed"`
	Timestamp *time.Time `json:"timestamp,omitempty" bson:"timestamp,omitempty"`
}

// TrackingUpdate is an append-only audit entry.
type TrackingUpdate struct {
	Status    string    `json:"status" bson:"status"`
	Message   string    `json:"message" bson:"message"`
	Location  string    `json:"location,omitempty" bson:"location,omitempty"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	UpdatedBy string    `json:"updatedBy,omitempty" bson:"updatedBy,omitempty"`
}

// OrderFilter narrows ListOrders; empty fields match everything.
type OrderFilter struct {
	Status           string
	SellerID         string
	UserID           string
	DeliveryPersonID string
}

// Product carries the catalog snapshot fields and the inventory counters.
type Product struct {
	ID         string  `json:"id" bson:"id"`
	Name       string  `json:"name" bson:"name"`
	Price      float64 `json:"price" bson:"price"`
	Image      string  `json:"image,omitempty" bson:"image,omitempty"`
	SellerID   string  `json:"sellerId,omitempty" bson:"sellerId,omitempty"`
	SellerName string  `json:"sellerName,omitempty" bson:"sellerName,omitempty"`
	Stock      int     `json:"stock" bson:"stock"`
	TotalSales int     `json:"totalSales" bson:"totalSales"`
}

type DeliveryPerson struct {
	ID                  string    `json:"id" bson:"id"`
	UserID              string    `json:"userId" bson:"userId"`
	Name                string    `json:"name" bson:"name"`
	IsAvailable         bool      `json:"isAvailable" bson:"isAvailable"`
	CurrentOrders       int       `json:"currentOrders" bson:"currentOrders"`
	CompletedDeliveries int       `json:"completedDeliveries" bson:"completedDeliveries"`
	TotalDeliveries     int       `json:"totalDeliveries" bson:"totalDeliveries"`
	Earnings            float64   `json:"earnings" bson:"earnings"`
	Rating              float64   `json:"rating" bson:"rating"`
	Status              string    `json:"status" bson:"status"`
	UpdatedAt           time.Time `json:"updatedAt" bson:"updatedAt"`
}

// DeliveryPersonDelta is an additive change to a delivery person's counters.
type DeliveryPersonDelta struct {
	CurrentOrders       int
	CompletedDeliveries int
	TotalDeliveries     int
	Earnings            float64
}

type Seller struct {
	ID         string  `json:"id" bson:"id"`
	UserID     string  `json:"userId" bson:"userId"`
	StoreName  string  `json:"storeName" bson:"storeName"`
	TotalSales int     `json:"totalSales" bson:"totalSales"`
	Rating     float64 `json:"rating" bson:"rating"`
}

// Inventory adjustment kinds
const (
	AdjustmentReserve = "reserve"
	AdjustmentRestore = "restore"
)

// Inventory adjustment statuses
const (
	AdjustmentPending = "pending"
	AdjustmentApplied = "applied"
)

// InventoryAdjustment is an outbox record written together with the order
// change that caused it and settled against product counters afterwards.
type InventoryAdjustment struct {
	ID              string          `json:"id" bson:"id"`
	OrderID         string          `json:"orderId" bson:"orderId"`
	Kind            string          `json:"kind" bson:"kind"`
	Lines           []InventoryLine `json:"lines" bson:"lines"`
	Status          string          `json:"status" bson:"status"`
	Attempts        int             `json:"attempts" bson:"attempts"`
	LastError       string          `json:"lastError,omitempty" bson:"lastError,omitempty"`
	MissingProducts []string        `json:"missingProducts,omitempty" bson:"missingProducts,omitempty"`
	CreatedAt       time.Time       `json:"createdAt" bson:"createdAt"`
	AppliedAt       *time.Time      `json:"appliedAt,omitempty" bson:"appliedAt,omitempty"`
}

// InventoryLine is the signed change to one product's counters.
type InventoryLine struct {
	ProductID  string `json:"productId" bson:"productId"`
	StockDelta int    `json:"stockDelta" bson:"stockDelta"`
	SalesDelta int    `json:"salesDelta" bson:"salesDelta"`
}
