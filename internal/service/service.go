package service

import (
	"context"
	"errors"
	"io"
	"time"

	"storefront-orders/internal/inventory"
	"storefront-orders/internal/models"
	"storefront-orders/internal/notify"
	"storefront-orders/internal/util"

	"go.uber.org/zap"
)

var (
	ErrForbidden                 = errors.New("not allowed to perform this action")
	ErrOtpLocked                 = errors.New("too many failed otp attempts")
	ErrDeliveryPersonUnavailable = errors.New("delivery person is not available")
	ErrInvalidOrder              = errors.New("invalid order")
	ErrUnsupportedPayment        = errors.New("unsupported payment method")
	ErrDuplicateRequest          = errors.New("a request with this idempotency key is already in progress")
)

// OrderRepository is the persistence used by the order use cases. The
// postgres, mongo and in-memory stores all implement it.
type OrderRepository interface {
	inventory.Store
	StatsStore

	CreateOrder(ctx context.Context, order *models.Order, reservation *models.InventoryAdjustment) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64, adj *models.InventoryAdjustment) error
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]*models.Product, error)
	GetDeliveryPerson(ctx context.Context, id string) (*models.DeliveryPerson, error)
	SetDeliveryPersonAvailability(ctx context.Context, id string, available bool) (*models.DeliveryPerson, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// EventPublisher emits domain events. broker.EventPublisher implements it.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishDeliveryAssigned(ctx context.Context, event *models.DeliveryAssignedEvent) error
	PublishOrderDelivered(ctx context.Context, event *models.OrderDeliveredEvent) error
}

type Notifier interface {
	NotifyStatus(ctx context.Context, n notify.StatusNotification) error
}

// IdempotencyStore maps checkout idempotency keys to the order they created.
type IdempotencyStore interface {
	LookupOrder(ctx context.Context, key string) (string, bool, error)
	RememberOrder(ctx context.Context, key, orderID string, ttl time.Duration) error
	Claim(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// OtpAttemptGuard limits wrong delivery OTP submissions per order.
type OtpAttemptGuard interface {
	Allow(ctx context.Context, orderID string) (bool, error)
	RecordFailure(ctx context.Context, orderID string) (int, error)
	Reset(ctx context.Context, orderID string) error
}

// Settings are the business knobs of the order use cases.
type Settings struct {
	TaxRate               float64
	EstimatedDeliveryDays int
	StrictAssignment      bool
	IdempotencyTTL        time.Duration
}

// OrderService implements the order, delivery and OTP use cases.
type OrderService struct {
	repo     OrderRepository
	ledger   *inventory.Ledger
	payments *PaymentService
	stats    *StatsAggregator
	settings Settings

	events      EventPublisher
	notifier    Notifier
	idempotency IdempotencyStore
	otpGuard    OtpAttemptGuard

	logger    *zap.Logger
	clock     func() time.Time
	otpSource io.Reader
}

// NewOrderService creates a new order service. Events, notifications,
// idempotency and OTP attempt limiting are optional and attached with the
// With* methods.
func NewOrderService(
	repo OrderRepository,
	ledger *inventory.Ledger,
	payments *PaymentService,
	stats *StatsAggregator,
	settings Settings,
) *OrderService {
	return &OrderService{
		repo:     repo,
		ledger:   ledger,
		payments: payments,
		stats:    stats,
		settings: settings,
		logger:   util.GetLogger(),
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *OrderService) WithEventPublisher(p EventPublisher) *OrderService {
	s.events = p
	return s
}

func (s *OrderService) WithNotifier(n Notifier) *OrderService {
	s.notifier = n
	return s
}

func (s *OrderService) WithIdempotency(store IdempotencyStore) *OrderService {
	s.idempotency = store
	return s
}

func (s *OrderService) WithOtpGuard(g OtpAttemptGuard) *OrderService {
	s.otpGuard = g
	return s
}

// save writes a mutated order guarded by the version it was read at.
func (s *OrderService) save(ctx context.Context, o *models.Order, readVersion int64, adj *models.InventoryAdjustment) error {
	if err := s.repo.UpdateOrder(ctx, o, readVersion, adj); err != nil {
		if errors.Is(err, models.ErrVersionConflict) {
			util.OrderVersionConflicts.Inc()
			s.logger.Warn("Stale order write rejected",
				zap.String("order_id", o.ID),
				zap.Int64("version", readVersion))
		}
		return err
	}
	return nil
}

func rejected(reason string) {
	util.OrderTransitionsRejected.WithLabelValues(reason).Inc()
}
