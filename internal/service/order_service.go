package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront-orders/internal/auth"
	"storefront-orders/internal/inventory"
	"storefront-orders/internal/lifecycle"
	"storefront-orders/internal/models"
	"storefront-orders/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const idempotencyClaimTTL = 30 * time.Second

// CreateOrderRequest represents a checkout. Prices come from the catalog,
// never from the request.
type CreateOrderRequest struct {
	Items          []OrderItemRequest  `json:"items" binding:"required,min=1,dive"`
	Shipping       models.ShippingInfo `json:"shipping"`
	PaymentMethod  string              `json:"paymentMethod" binding:"required"`
	IdempotencyKey string              `json:"-"`
}

// OrderItemRequest represents an item in a checkout
type OrderItemRequest struct {
	ProductID       string            `json:"productId" binding:"required"`
	Quantity        int               `json:"quantity" binding:"required,min=1"`
	SelectedOptions map[string]string `json:"selectedOptions,omitempty"`
}

// StatusUpdateRequest is a manual status change by an admin or the assigned
// delivery person.
type StatusUpdateRequest struct {
	Status   string `json:"status" binding:"required"`
	Message  string `json:"message"`
	Location string `json:"location"`
}

// CreateOrder places an order for the principal, snapshotting the catalog
// and reserving stock.
func (s *OrderService) CreateOrder(ctx context.Context, p auth.Principal, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if p.UserID == "" {
		return nil, ErrForbidden
	}
	if err := validateCheckout(req); err != nil {
		return nil, err
	}

	var idemKey string
	if req.IdempotencyKey != "" && s.idempotency != nil {
		idemKey = p.UserID + ":" + req.IdempotencyKey
		existing, err := s.lookupIdempotent(ctx, idemKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}

		token, claimed, err := s.idempotency.Claim(ctx, idemKey, idempotencyClaimTTL)
		switch {
		case err != nil:
			s.logger.Warn("Idempotency claim failed, continuing without it",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Error(err))
			idemKey = ""
		case !claimed:
			return nil, ErrDuplicateRequest
		default:
			defer func() {
				if err := s.idempotency.Release(context.WithoutCancel(ctx), idemKey, token); err != nil {
					s.logger.Warn("Failed to release idempotency claim", zap.Error(err))
				}
			}()
		}
	}

	items, err := s.snapshotItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(decimal.NewFromFloat(item.Price).Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	subtotal = subtotal.Round(2)
	tax := subtotal.Mul(decimal.NewFromFloat(s.settings.TaxRate)).Round(2)
	total := subtotal.Add(tax)

	paymentStatus, err := s.payments.Authorize(ctx, req.PaymentMethod, total)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	order := &models.Order{
		ID:                uuid.New().String(),
		UserID:            p.UserID,
		UserName:          p.Name,
		Items:             items,
		Subtotal:          subtotal.InexactFloat64(),
		Tax:               tax.InexactFloat64(),
		Total:             total.InexactFloat64(),
		Status:            models.OrderStatusPending,
		PaymentMethod:     req.PaymentMethod,
		PaymentStatus:     paymentStatus,
		Shipping:          req.Shipping,
		TrackingStages:    lifecycle.NewTrackingStages(now),
		EstimatedDelivery: now.AddDate(0, 0, s.settings.EstimatedDeliveryDays),
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	order.TrackingUpdates = []models.TrackingUpdate{{
		Status:    models.OrderStatusPending,
		Message:   "Order placed successfully",
		Timestamp: now,
		UpdatedBy: p.Actor(),
	}}

	reservation := inventory.Reservation(order.ID, order.Items, now)
	if err := s.repo.CreateOrder(ctx, order, reservation); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	s.ledger.Settle(ctx, reservation)

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.Float64("total", order.Total))

	if idemKey != "" {
		if err := s.idempotency.RememberOrder(ctx, idemKey, order.ID, s.settings.IdempotencyTTL); err != nil {
			s.logger.Warn("Failed to remember idempotency key",
				zap.String("order_id", order.ID),
				zap.Error(err))
		}
	}

	s.publishCreated(ctx, order)
	s.notifyCustomer(ctx, order, "")
	return order, nil
}

func validateCheckout(req *CreateOrderRequest) error {
	if req == nil || len(req.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidOrder)
	}
	for _, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: item without product id", ErrInvalidOrder)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: quantity for %s must be at least 1", ErrInvalidOrder, item.ProductID)
		}
	}
	sh := req.Shipping
	if strings.TrimSpace(sh.Name) == "" || strings.TrimSpace(sh.Phone) == "" || strings.TrimSpace(sh.Address) == "" {
		return fmt.Errorf("%w: shipping name, phone and address are required", ErrInvalidOrder)
	}
	return nil
}

// lookupIdempotent returns the order already created for key, if any.
// Redis trouble degrades to a normal checkout.
func (s *OrderService) lookupIdempotent(ctx context.Context, key string) (*models.Order, error) {
	orderID, found, err := s.idempotency.LookupOrder(ctx, key)
	if err != nil {
		s.logger.Warn("Idempotency lookup failed", zap.Error(err))
		return nil, nil
	}
	if !found {
		return nil, nil
	}

	existing, err := s.repo.GetOrder(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.String("order_id", existing.ID))
	return existing, nil
}

// snapshotItems copies name, price, image and seller from the catalog onto
// each requested line.
func (s *OrderService) snapshotItems(ctx context.Context, reqItems []OrderItemRequest) ([]models.OrderItem, error) {
	ids := make([]string, 0, len(reqItems))
	for _, item := range reqItems {
		ids = append(ids, item.ProductID)
	}

	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	items := make([]models.OrderItem, 0, len(reqItems))
	for _, item := range reqItems {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %s: %w", item.ProductID, models.ErrNotFound)
		}
		items = append(items, models.OrderItem{
			ProductID:       product.ID,
			Name:            product.Name,
			Price:           product.Price,
			Quantity:        item.Quantity,
			Image:           product.Image,
			SellerID:        product.SellerID,
			SellerName:      product.SellerName,
			SelectedOptions: item.SelectedOptions,
		})
	}
	return items, nil
}

// ListOrders returns the orders matching filter that the principal may see,
// newest first.
func (s *OrderService) ListOrders(ctx context.Context, p auth.Principal, filter models.OrderFilter) ([]*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	scoped, err := scopeFilter(p, filter)
	if err != nil {
		return nil, err
	}
	if scoped.Status != "" && !lifecycle.IsValidStatus(scoped.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidOrder, scoped.Status)
	}
	return s.repo.ListOrders(ctx, scoped)
}

func (s *OrderService) GetOrder(ctx context.Context, p auth.Principal, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canView(p, o) {
		return nil, ErrForbidden
	}
	return o, nil
}

// UpdateStatus applies a manual status change. Cancellation is routed to
// CancelOrder so stock is always restored, and only admins may mark an
// order delivered without the OTP handshake.
func (s *OrderService) UpdateStatus(ctx context.Context, p auth.Principal, orderID string, req StatusUpdateRequest) (*models.Order, error) {
	if req.Status == models.OrderStatusCancelled {
		return s.CancelOrder(ctx, p, orderID, req.Message)
	}

	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canMoveStatus(p, o) {
		return nil, ErrForbidden
	}
	if req.Status == models.OrderStatusDelivered && !p.IsAdmin() {
		return nil, ErrForbidden
	}

	readVersion := o.Version
	previous := o.Status
	err = lifecycle.Apply(o, lifecycle.Transition{
		Status:    req.Status,
		Message:   req.Message,
		Location:  req.Location,
		UpdatedBy: p.Actor(),
	}, s.clock())
	if err != nil {
		rejected("invalid_transition")
		return nil, err
	}
	if err := s.save(ctx, o, readVersion, nil); err != nil {
		return nil, err
	}

	util.OrderTransitionsTotal.WithLabelValues(o.Status).Inc()
	s.logger.Info("Order status updated",
		zap.String("order_id", o.ID),
		zap.String("from", previous),
		zap.String("to", o.Status))

	switch o.Status {
	case models.OrderStatusDelivered:
		util.OrdersDeliveredTotal.Inc()
		s.stats.RecordDelivery(ctx, o)
		s.publishDelivered(ctx, o)
	case models.OrderStatusRefunded:
		s.stats.ReleaseAssignment(ctx, o.ID, o.DeliveryPersonID)
	}
	s.publishStatusChanged(ctx, o, previous)
	s.notifyCustomer(ctx, o, "")
	return o, nil
}

// CancelOrder cancels a non-terminal order and restores its stock.
func (s *OrderService) CancelOrder(ctx context.Context, p auth.Principal, orderID, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !isOwnerOrAdmin(p, o) {
		return nil, ErrForbidden
	}

	readVersion := o.Version
	previous := o.Status
	now := s.clock()
	if err := lifecycle.Cancel(o, strings.TrimSpace(reason), p.Actor(), now); err != nil {
		rejected("invalid_cancellation")
		return nil, err
	}

	restoration := inventory.Restoration(o.ID, o.Items, now)
	if err := s.save(ctx, o, readVersion, restoration); err != nil {
		return nil, err
	}
	s.ledger.Settle(ctx, restoration)
	s.stats.ReleaseAssignment(ctx, o.ID, o.DeliveryPersonID)

	util.OrdersCancelledTotal.Inc()
	util.OrderTransitionsTotal.WithLabelValues(o.Status).Inc()
	s.logger.Info("Order cancelled",
		zap.String("order_id", o.ID),
		zap.String("from", previous),
		zap.String("reason", o.CancellationReason))

	s.publishCancelled(ctx, o)
	s.publishStatusChanged(ctx, o, previous)
	s.notifyCustomer(ctx, o, "")
	return o, nil
}
