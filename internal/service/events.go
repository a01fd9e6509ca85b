package service

import (
	"context"

	"storefront-orders/internal/models"
	"storefront-orders/internal/notify"
	"storefront-orders/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (s *OrderService) newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: s.clock(),
	}
}

func lastMessage(o *models.Order) string {
	if n := len(o.TrackingUpdates); n > 0 {
		return o.TrackingUpdates[n-1].Message
	}
	return ""
}

func lastUpdatedBy(o *models.Order) string {
	if n := len(o.TrackingUpdates); n > 0 {
		return o.TrackingUpdates[n-1].UpdatedBy
	}
	return ""
}

func (s *OrderService) publishFailed(channel, eventType string, orderID string, err error) {
	util.EventPublishFailures.WithLabelValues(channel).Inc()
	s.logger.Error("Failed to publish event",
		zap.String("channel", channel),
		zap.String("type", eventType),
		zap.String("order_id", orderID),
		zap.Error(err))
}

func (s *OrderService) publishCreated(ctx context.Context, o *models.Order) {
	if s.events == nil {
		return
	}
	items := make([]models.OrderItemData, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, models.OrderItemData{
			ProductID: item.ProductID,
			SellerID:  item.SellerID,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		})
	}
	event := &models.OrderCreatedEvent{
		BaseEvent: s.newBaseEvent(models.EventTypeOrderCreated),
		OrderID:   o.ID,
		UserID:    o.UserID,
		Total:     o.Total,
		Items:     items,
	}
	if err := s.events.PublishOrderCreated(ctx, event); err != nil {
		s.publishFailed("kafka", event.EventType, o.ID, err)
	}
}

func (s *OrderService) publishStatusChanged(ctx context.Context, o *models.Order, previous string) {
	if s.events == nil {
		return
	}
	event := &models.OrderStatusChangedEvent{
		BaseEvent:      s.newBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:        o.ID,
		UserID:         o.UserID,
		PreviousStatus: previous,
		Status:         o.Status,
		Message:        lastMessage(o),
		UpdatedBy:      lastUpdatedBy(o),
		Version:        o.Version,
	}
	if err := s.events.PublishOrderStatusChanged(ctx, event); err != nil {
		s.publishFailed("kafka", event.EventType, o.ID, err)
	}
}

func (s *OrderService) publishCancelled(ctx context.Context, o *models.Order) {
	if s.events == nil {
		return
	}
	event := &models.OrderCancelledEvent{
		BaseEvent: s.newBaseEvent(models.EventTypeOrderCancelled),
		OrderID:   o.ID,
		UserID:    o.UserID,
		Reason:    o.CancellationReason,
	}
	if err := s.events.PublishOrderCancelled(ctx, event); err != nil {
		s.publishFailed("kafka", event.EventType, o.ID, err)
	}
}

func (s *OrderService) publishAssigned(ctx context.Context, o *models.Order, previousPersonID string) {
	if s.events == nil {
		return
	}
	event := &models.DeliveryAssignedEvent{
		BaseEvent:          s.newBaseEvent(models.EventTypeDeliveryAssigned),
		OrderID:            o.ID,
		DeliveryPersonID:   o.DeliveryPersonID,
		DeliveryPersonName: o.DeliveryPersonName,
		PreviousPersonID:   previousPersonID,
	}
	if err := s.events.PublishDeliveryAssigned(ctx, event); err != nil {
		s.publishFailed("kafka", event.EventType, o.ID, err)
	}
}

func (s *OrderService) publishDelivered(ctx context.Context, o *models.Order) {
	if s.events == nil || o.DeliveredAt == nil {
		return
	}
	event := &models.OrderDeliveredEvent{
		BaseEvent:        s.newBaseEvent(models.EventTypeOrderDelivered),
		OrderID:          o.ID,
		UserID:           o.UserID,
		DeliveryPersonID: o.DeliveryPersonID,
		Total:            o.Total,
		DeliveredAt:      *o.DeliveredAt,
	}
	if err := s.events.PublishOrderDelivered(ctx, event); err != nil {
		s.publishFailed("kafka", event.EventType, o.ID, err)
	}
}

// notifyCustomer tells the order owner about its latest status. otp is set
// only when a delivery code was just issued.
func (s *OrderService) notifyCustomer(ctx context.Context, o *models.Order, otp string) {
	if s.notifier == nil {
		return
	}
	n := notify.StatusNotification{
		OrderID:   o.ID,
		UserID:    o.UserID,
		Status:    o.Status,
		Message:   lastMessage(o),
		Otp:       otp,
		Email:     o.Shipping.Email,
		Phone:     o.Shipping.Phone,
		Timestamp: o.UpdatedAt,
	}
	if err := s.notifier.NotifyStatus(ctx, n); err != nil {
		s.publishFailed("rabbitmq", "status_notification", o.ID, err)
	}
}
