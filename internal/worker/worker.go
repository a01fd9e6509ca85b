package worker

import (
	"context"
	"errors"
	"time"

	"storefront-orders/internal/auth"
	"storefront-orders/internal/broker"
	"storefront-orders/internal/inventory"
	"storefront-orders/internal/lifecycle"
	"storefront-orders/internal/models"
	"storefront-orders/internal/service"
	"storefront-orders/internal/util"

	"go.uber.org/zap"
)

// MessageSource is a Kafka consumer loop. *broker.Consumer implements it.
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

type OrderCreator interface {
	CreateOrder(ctx context.Context, p auth.Principal, req *service.CreateOrderRequest) (*models.Order, error)
}

// EventLog remembers which events were already handled.
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// CheckoutWorker turns checkout commands from Kafka into orders.
type CheckoutWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	orders       OrderCreator
	events       EventLog
	logger       *zap.Logger
}

// NewCheckoutWorker creates a new checkout worker
func NewCheckoutWorker(consumer MessageSource, orders OrderCreator, events EventLog) *CheckoutWorker {
	logger := util.GetLogger()
	w := &CheckoutWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(logger),
		orders:       orders,
		events:       events,
		logger:       logger,
	}
	w.eventHandler.OnCheckoutRequested(w.HandleCheckoutRequested)
	return w
}

// Start blocks consuming checkout commands until ctx is cancelled.
func (w *CheckoutWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting checkout worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

func (w *CheckoutWorker) Stop() error {
	w.logger.Info("Stopping checkout worker")
	return w.consumer.Close()
}

// HandleCheckoutRequested creates the order for one checkout command. Commands
// that can never succeed are logged and acknowledged; anything else is
// returned so the consumer retries the message before moving on.
func (w *CheckoutWorker) HandleCheckoutRequested(ctx context.Context, event *models.CheckoutRequestedEvent) error {
	ctx, span := util.StartSpan(ctx, "CheckoutWorker.HandleCheckoutRequested")
	defer span.End()

	processed, err := w.events.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		w.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	req := &service.CreateOrderRequest{
		Shipping:       event.Shipping,
		PaymentMethod:  event.PaymentMethod,
		IdempotencyKey: event.IdempotencyKey,
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = event.EventID
	}
	for _, item := range event.Items {
		req.Items = append(req.Items, service.OrderItemRequest{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			SelectedOptions: item.SelectedOptions,
		})
	}
	customer := auth.Principal{UserID: event.UserID, Name: event.UserName, Role: auth.RoleUser}

	order, err := w.orders.CreateOrder(ctx, customer, req)
	switch {
	case err == nil:
		w.logger.Info("Checkout converted to order",
			zap.String("event_id", event.EventID),
			zap.String("order_id", order.ID))
	case isPermanent(err):
		w.logger.Warn("Dropping checkout that cannot be fulfilled",
			zap.String("event_id", event.EventID),
			zap.String("user_id", event.UserID),
			zap.Error(err))
	default:
		return err
	}

	if err := w.events.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		w.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

func isPermanent(err error) bool {
	return errors.Is(err, service.ErrInvalidOrder) ||
		errors.Is(err, service.ErrUnsupportedPayment) ||
		errors.Is(err, service.ErrForbidden) ||
		errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, lifecycle.ErrInvalidTransition)
}

// InventoryRelay periodically retries inventory adjustments that could not be
// settled inline.
type InventoryRelay struct {
	ledger   *inventory.Ledger
	interval time.Duration
	batch    int
	logger   *zap.Logger
}

func NewInventoryRelay(ledger *inventory.Ledger, interval time.Duration, batch int) *InventoryRelay {
	return &InventoryRelay{
		ledger:   ledger,
		interval: interval,
		batch:    batch,
		logger:   util.GetLogger(),
	}
}

// Run blocks until ctx is cancelled.
func (r *InventoryRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Inventory relay started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Inventory relay stopped")
			return
		case <-ticker.C:
			if _, err := r.ledger.RelayPending(ctx, r.batch); err != nil {
				r.logger.Error("Inventory relay pass failed", zap.Error(err))
			}
		}
	}
}
