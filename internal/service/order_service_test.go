package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"storefront-orders/internal/auth"
	"storefront-orders/internal/inventory"
	"storefront-orders/internal/lifecycle"
	"storefront-orders/internal/models"
	"storefront-orders/internal/notify"
	"storefront-orders/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	customer  = auth.Principal{UserID: "u1", Name: "Asha", Role: auth.RoleUser}
	stranger  = auth.Principal{UserID: "u2", Name: "Vik", Role: auth.RoleUser}
	admin     = auth.Principal{UserID: "a1", Name: "admin", Role: auth.RoleAdmin}
	courier   = auth.Principal{UserID: "u10", Name: "Ravi", Role: auth.RoleDelivery, DeliveryPersonID: "d1"}
	courier3  = auth.Principal{UserID: "u13", Name: "Meena", Role: auth.RoleDelivery, DeliveryPersonID: "d3"}
	sellerOne = auth.Principal{UserID: "u20", Name: "Phone Hub", Role: auth.RoleSeller, SellerID: "s1"}
	sellerTwo = auth.Principal{UserID: "u21", Name: "Case Co", Role: auth.RoleSeller, SellerID: "s2"}
)

type recordingEvents struct {
	mu    sync.Mutex
	types []string
}

func (r *recordingEvents) record(t string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, t)
	return nil
}

func (r *recordingEvents) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	return r.record(e.EventType)
}

func (r *recordingEvents) PublishOrderStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	return r.record(e.EventType + ":" + e.Status)
}

func (r *recordingEvents) PublishOrderCancelled(ctx context.Context, e *models.OrderCancelledEvent) error {
	return r.record(e.EventType)
}

func (r *recordingEvents) PublishDeliveryAssigned(ctx context.Context, e *models.DeliveryAssignedEvent) error {
	return r.record(e.EventType)
}

func (r *recordingEvents) PublishOrderDelivered(ctx context.Context, e *models.OrderDeliveredEvent) error {
	return r.record(e.EventType)
}

type recordingNotifier struct {
	sent []notify.StatusNotification
	err  error
}

func (r *recordingNotifier) NotifyStatus(ctx context.Context, n notify.StatusNotification) error {
	r.sent = append(r.sent, n)
	return r.err
}

type fakeIdempotency struct {
	orders map[string]string
	claims map[string]string
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{orders: map[string]string{}, claims: map[string]string{}}
}

func (f *fakeIdempotency) LookupOrder(ctx context.Context, key string) (string, bool, error) {
	id, ok := f.orders[key]
	return id, ok, nil
}

func (f *fakeIdempotency) RememberOrder(ctx context.Context, key, orderID string, ttl time.Duration) error {
	f.orders[key] = orderID
	return nil
}

func (f *fakeIdempotency) Claim(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if _, taken := f.claims[key]; taken {
		return "", false, nil
	}
	f.claims[key] = "token-" + key
	return f.claims[key], true, nil
}

func (f *fakeIdempotency) Release(ctx context.Context, key, token string) error {
	if f.claims[key] == token {
		delete(f.claims, key)
	}
	return nil
}

type fakeOtpGuard struct {
	max      int
	failures map[string]int
}

func (g *fakeOtpGuard) Allow(ctx context.Context, orderID string) (bool, error) {
	return g.failures[orderID] < g.max, nil
}

func (g *fakeOtpGuard) RecordFailure(ctx context.Context, orderID string) (int, error) {
	g.failures[orderID]++
	return g.failures[orderID], nil
}

func (g *fakeOtpGuard) Reset(ctx context.Context, orderID string) error {
	delete(g.failures, orderID)
	return nil
}

type fixture struct {
	store    *memstore.Store
	svc      *OrderService
	events   *recordingEvents
	notifier *recordingNotifier
}

func newFixture(t *testing.T, settings Settings) *fixture {
	t.Helper()

	ms := memstore.New()
	ms.PutProduct(models.Product{ID: "p1", Name: "Pixel 8", Price: 1000, SellerID: "s1", SellerName: "Phone Hub", Stock: 10})
	ms.PutProduct(models.Product{ID: "p2", Name: "Case", Price: 25.5, SellerID: "s2", SellerName: "Case Co", Stock: 6})
	ms.PutSeller(models.Seller{ID: "s1", StoreName: "Phone Hub"})
	ms.PutSeller(models.Seller{ID: "s2", StoreName: "Case Co"})
	ms.PutDeliveryPerson(models.DeliveryPerson{ID: "d1", Name: "Ravi", IsAvailable: true, Status: models.DeliveryPersonApproved})
	ms.PutDeliveryPerson(models.DeliveryPerson{ID: "d2", Name: "Kiran", IsAvailable: false, Status: models.DeliveryPersonApproved})
	ms.PutDeliveryPerson(models.DeliveryPerson{ID: "d3", Name: "Meena", IsAvailable: true, Status: models.DeliveryPersonApproved})

	if settings.TaxRate == 0 {
		settings.TaxRate = 0.18
	}
	if settings.EstimatedDeliveryDays == 0 {
		settings.EstimatedDeliveryDays = 5
	}

	events := &recordingEvents{}
	notifier := &recordingNotifier{}
	svc := NewOrderService(ms, inventory.NewLedger(ms, zap.NewNop()), NewPaymentService(), NewStatsAggregator(ms, 0.05), settings).
		WithEventPublisher(events).
		WithNotifier(notifier)
	svc.clock = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	return &fixture{store: ms, svc: svc, events: events, notifier: notifier}
}

func checkout(items ...OrderItemRequest) *CreateOrderRequest {
	return &CreateOrderRequest{
		Items:         items,
		PaymentMethod: models.PaymentMethodCOD,
		Shipping: models.ShippingInfo{
			Name:    "Asha",
			Email:   "asha@example.com",
			Phone:   "9000000000",
			Address: "12 MG Road",
			City:    "Pune",
			Pincode: "411001",
		},
	}
}

func (f *fixture) placeOrder(t *testing.T, items ...OrderItemRequest) *models.Order {
	t.Helper()
	if len(items) == 0 {
		items = []OrderItemRequest{{ProductID: "p1", Quantity: 2}}
	}
	o, err := f.svc.CreateOrder(context.Background(), customer, checkout(items...))
	require.NoError(t, err)
	return o
}

func completedStages(o *models.Order) []bool {
	out := make([]bool, len(o.TrackingStages))
	for i, st := range o.TrackingStages {
		out[i] = st.Completed
	}
	return out
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t, Settings{})

	o := f.placeOrder(t)

	assert.Equal(t, models.OrderStatusPending, o.Status)
	assert.Equal(t, "u1", o.UserID)
	assert.Equal(t, int64(1), o.Version)
	assert.Equal(t, 2000.0, o.Subtotal)
	assert.Equal(t, 360.0, o.Tax)
	assert.Equal(t, 2360.0, o.Total)
	assert.Equal(t, models.PaymentStatusPending, o.PaymentStatus)
	assert.Equal(t, o.CreatedAt.AddDate(0, 0, 5), o.EstimatedDelivery)
	assert.Equal(t, []bool{true, false, false, false, false}, completedStages(o))
	require.Len(t, o.TrackingUpdates, 1)
	assert.Equal(t, "Order placed successfully", o.TrackingUpdates[0].Message)

	require.Len(t, o.Items, 1)
	assert.Equal(t, "Pixel 8", o.Items[0].Name)
	assert.Equal(t, 1000.0, o.Items[0].Price)
	assert.Equal(t, "s1", o.Items[0].SellerID)

	p1, _ := f.store.Product("p1")
	assert.Equal(t, 8, p1.Stock)
	assert.Equal(t, 2, p1.TotalSales)

	assert.Equal(t, []string{models.EventTypeOrderCreated}, f.events.types)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "asha@example.com", f.notifier.sent[0].Email)
}

func TestCreateOrder_RoundsMoney(t *testing.T) {
	f := newFixture(t, Settings{})

	o := f.placeOrder(t, OrderItemRequest{ProductID: "p2", Quantity: 3})

	assert.Equal(t, 76.5, o.Subtotal)
	assert.Equal(t, 13.77, o.Tax)
	assert.Equal(t, 90.27, o.Total)
}

func TestCreateOrder_Rejections(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, customer, checkout(OrderItemRequest{ProductID: "missing", Quantity: 1}))
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.svc.CreateOrder(ctx, customer, checkout())
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = f.svc.CreateOrder(ctx, customer, checkout(OrderItemRequest{ProductID: "p1", Quantity: 0}))
	assert.ErrorIs(t, err, ErrInvalidOrder)

	noAddress := checkout(OrderItemRequest{ProductID: "p1", Quantity: 1})
	noAddress.Shipping.Address = " "
	_, err = f.svc.CreateOrder(ctx, customer, noAddress)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	card := checkout(OrderItemRequest{ProductID: "p1", Quantity: 1})
	card.PaymentMethod = "card"
	_, err = f.svc.CreateOrder(ctx, customer, card)
	assert.ErrorIs(t, err, ErrUnsupportedPayment)

	_, err = f.svc.CreateOrder(ctx, auth.Principal{}, checkout(OrderItemRequest{ProductID: "p1", Quantity: 1}))
	assert.ErrorIs(t, err, ErrForbidden)

	orders, err := f.store.ListOrders(ctx, models.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
	p1, _ := f.store.Product("p1")
	assert.Equal(t, 10, p1.Stock)
}

func TestCreateOrder_Idempotent(t *testing.T) {
	f := newFixture(t, Settings{})
	idem := newFakeIdempotency()
	f.svc.WithIdempotency(idem)
	ctx := context.Background()

	req := checkout(OrderItemRequest{ProductID: "p1", Quantity: 1})
	req.IdempotencyKey = "k1"

	first, err := f.svc.CreateOrder(ctx, customer, req)
	require.NoError(t, err)
	second, err := f.svc.CreateOrder(ctx, customer, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	p1, _ := f.store.Product("p1")
	assert.Equal(t, 9, p1.Stock)
	assert.Empty(t, idem.claims)

	// The key is scoped to the user placing the order.
	other, err := f.svc.CreateOrder(ctx, stranger, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestCreateOrder_InFlightDuplicate(t *testing.T) {
	f := newFixture(t, Settings{})
	idem := newFakeIdempotency()
	idem.claims["u1:k2"] = "someone-else"
	f.svc.WithIdempotency(idem)

	req := checkout(OrderItemRequest{ProductID: "p1", Quantity: 1})
	req.IdempotencyKey = "k2"

	_, err := f.svc.CreateOrder(context.Background(), customer, req)
	assert.ErrorIs(t, err, ErrDuplicateRequest)
}

func TestCreateOrder_NotificationFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, Settings{})
	f.notifier.err = errors.New("broker down")

	o := f.placeOrder(t)
	assert.NotEmpty(t, o.ID)
}

func TestListOrders_ScopedByRole(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()

	phone := f.placeOrder(t, OrderItemRequest{ProductID: "p1", Quantity: 1})
	caseOrder := f.placeOrder(t, OrderItemRequest{ProductID: "p2", Quantity: 1})
	_, err := f.svc.AssignDelivery(ctx, admin, phone.ID, AssignDeliveryRequest{DeliveryPersonID: "d1"})
	require.NoError(t, err)

	all, err := f.svc.ListOrders(ctx, admin, models.OrderFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := f.svc.ListOrders(ctx, customer, models.OrderFilter{UserID: "u2"})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	none, err := f.svc.ListOrders(ctx, stranger, models.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)

	sellerOrders, err := f.svc.ListOrders(ctx, sellerTwo, models.OrderFilter{SellerID: "s1"})
	require.NoError(t, err)
	require.Len(t, sellerOrders, 1)
	assert.Equal(t, caseOrder.ID, sellerOrders[0].ID)

	assigned, err := f.svc.ListOrders(ctx, courier, models.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, phone.ID, assigned[0].ID)

	confirmed, err := f.svc.ListOrders(ctx, admin, models.OrderFilter{Status: models.OrderStatusConfirmed})
	require.NoError(t, err)
	assert.Len(t, confirmed, 1)

	_, err = f.svc.ListOrders(ctx, admin, models.OrderFilter{Status: "lost"})
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestGetOrder_Access(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()
	o := f.placeOrder(t)

	for _, p := range []auth.Principal{customer, admin, sellerOne} {
		_, err := f.svc.GetOrder(ctx, p, o.ID)
		assert.NoError(t, err, p.Name)
	}
	for _, p := range []auth.Principal{stranger, sellerTwo, courier} {
		_, err := f.svc.GetOrder(ctx, p, o.ID)
		assert.ErrorIs(t, err, ErrForbidden, p.Name)
	}

	_, err := f.svc.AssignDelivery(ctx, admin, o.ID, AssignDeliveryRequest{DeliveryPersonID: "d1"})
	require.NoError(t, err)
	_, err = f.svc.GetOrder(ctx, courier, o.ID)
	assert.NoError(t, err)

	_, err = f.svc.GetOrder(ctx, admin, "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdateStatus_StagesAreMonotonic(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()
	o := f.placeOrder(t)

	steps := []string{
		models.OrderStatusConfirmed,
		models.OrderStatusProcessing,
		models.OrderStatusShipped,
		models.OrderStatusOutForDelivery,
		models.OrderStatusShipped,
		models.OrderStatusOutForDelivery,
	}
	prev := completedStages(o)
	for _, status := range steps {
		updated, err := f.svc.UpdateStatus(ctx, admin, o.ID, StatusUpdateRequest{Status: status})
		require.NoError(t, err, status)
		cur := completedStages(updated)
		for i := range cur {
			assert.False(t, prev[i] && !cur[i], "stage %d reopened after %s", i, status)
		}
		prev = cur
	}

	got, err := f.svc.GetOrder(ctx, admin, o.ID)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true, true, false}, completedStages(got))
	assert.Len(t, got.TrackingUpdates, 1+len(steps))
	assert.Equal(t, int64(1+len(steps)), got.Version)

	_, err = f.svc.UpdateStatus(ctx, admin, o.ID, StatusUpdateRequest{Status: models.OrderStatusPending})
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	_, err = f.svc.UpdateStatus(ctx, admin, o.ID, StatusUpdateRequest{Status: "teleported"})
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestUpdateStatus_Access(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()
	o := f.placeOrder(t)

	_, err := f.svc.UpdateStatus(ctx, customer, o.ID, StatusUpdateRequest{Status: models.OrderStatusShipped})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.UpdateStatus(ctx, courier, o.ID, StatusUpdateRequest{Status: models.OrderStatusShipped})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.AssignDelivery(ctx, admin, o.ID, AssignDeliveryRequest{DeliveryPersonID: "d1"})
	require.NoError(t, err)

	updated, err := f.svc.UpdateStatus(ctx, courier, o.ID, StatusUpdateRequest{Status: models.OrderStatusShipped, Location: "Hub 4"})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, updated.Status)
	last := updated.TrackingUpdates[len(updated.TrackingUpdates)-1]
	assert.Equal(t, "Hub 4", last.Location)
	assert.Equal(t, "Ravi", last.UpdatedBy)

	_, err = f.svc.UpdateStatus(ctx, courier, o.ID, StatusUpdateRequest{Status: models.OrderStatusDelivered})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUpdateStatus_CancelledRoutesToCancel(t *testing.T) {
	f := newFixture(t, Settings{})
	o := f.placeOrder(t)

	cancelled, err := f.svc.UpdateStatus(context.Background(), admin, o.ID, StatusUpdateRequest{
		Status:  models.OrderStatusCancelled,
		Message: "customer unreachable",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, "customer unreachable", cancelled.CancellationReason)

	p1, _ := f.store.Product("p1")
	assert.Equal(t, 10, p1.Stock)
	assert.Equal(t, 0, p1.TotalSales)
}

func TestUpdateStatus_AdminDeliveredRecordsStats(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()
	o := f.placeOrder(t)

	_, err := f.svc.AssignDelivery(ctx, admin, o.ID, AssignDeliveryRequest{DeliveryPersonID: "d1"})
	require.NoError(t, err)
	delivered, err := f.svc.UpdateStatus(ctx, admin, o.ID, StatusUpdateRequest{Status: models.OrderStatusDelivered})
	require.NoError(t, err)
	assert.NotNil(t, delivered.DeliveredAt)

	dp, err := f.store.GetDeliveryPerson(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 0, dp.CurrentOrders)
	assert.Equal(t, 1, dp.CompletedDeliveries)
}

func TestCancelOrder_ShippedRestoresStock(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()
	o := f.placeOrder(t, OrderItemRequest{ProductID: "p2", Quantity: 1})

	p2, _ := f.store.Product("p2")
	require.Equal(t, 5, p2.Stock)

	_, err := f.svc.UpdateStatus(ctx, admin, o.ID, StatusUpdateRequest{Status: models.OrderStatusShipped})
	require.NoError(t, err)

	cancelled, err := f.svc.CancelOrder(ctx, customer, o.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)

	p2, _ = f.store.Product("p2")
	assert.Equal(t, 6, p2.Stock)
	assert.Equal(t, 0, p2.TotalSales)

	adjs := f.store.Adjustments(o.ID)
	require.Len(t, adjs, 2)
	for _, adj := range adjs {
		assert.Equal(t, models.AdjustmentApplied, adj.Status)
	}

	assert.Contains(t, f.events.types, models.EventTypeOrderCancelled)
}

func TestCancelOrder_Twice(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()
	o := f.placeOrder(t)

	_, err := f.svc.CancelOrder(ctx, customer, o.ID, "first")
	require.NoError(t, err)
	_, err = f.svc.CancelOrder(ctx, admin, o.ID, "second")
	assert.ErrorIs(t, err, lifecycle.ErrInvalidCancellation)

	got, err := f.svc.GetOrder(ctx, admin, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.CancellationReason)

	p1, _ := f.store.Product("p1")
	assert.Equal(t, 10, p1.Stock)
}

func TestCancelOrder_Access(t *testing.T) {
	f := newFixture(t, Settings{})
	o := f.placeOrder(t)

	_, err := f.svc.CancelOrder(context.Background(), stranger, o.ID, "")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.CancelOrder(context.Background(), sellerOne, o.ID, "")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCancelOrder_ReleasesDeliveryPerson(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()
	o := f.placeOrder(t)

	_, err := f.svc.AssignDelivery(ctx, admin, o.ID, AssignDeliveryRequest{DeliveryPersonID: "d1"})
	require.NoError(t, err)
	_, err = f.svc.CancelOrder(ctx, admin, o.ID, "")
	require.NoError(t, err)

	dp, err := f.store.GetDeliveryPerson(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 0, dp.CurrentOrders)
}

func TestUpdateStatus_RefundReleasesDeliveryPersonAndCloses(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()
	o := f.placeOrder(t)

	_, err := f.svc.AssignDelivery(ctx, admin, o.ID, AssignDeliveryRequest{DeliveryPersonID: "d1"})
	require.NoError(t, err)
	dp, err := f.store.GetDeliveryPerson(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, 1, dp.CurrentOrders)

	refunded, err := f.svc.UpdateStatus(ctx, admin, o.ID, StatusUpdateRequest{Status: models.OrderStatusRefunded})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRefunded, refunded.Status)

	dp, err = f.store.GetDeliveryPerson(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 0, dp.CurrentOrders)

	_, err = f.svc.CancelOrder(ctx, admin, o.ID, "after refund")
	assert.ErrorIs(t, err, lifecycle.ErrInvalidCancellation)

	p1, _ := f.store.Product("p1")
	assert.Equal(t, 8, p1.Stock, "a refunded order does not restore stock")
	assert.Len(t, f.store.Adjustments(o.ID), 1)

	got, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRefunded, got.Status)
}

// racingRepo lets another writer update the order between our read and write.
type racingRepo struct {
	*memstore.Store
	raced bool
}

func (r *racingRepo) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	o, err := r.Store.GetOrder(ctx, id)
	if err != nil || r.raced {
		return o, err
	}
	r.raced = true
	other := o.Clone()
	other.Shipping.Landmark = "near the temple"
	if err := r.Store.UpdateOrder(ctx, other, o.Version, nil); err != nil {
		return nil, err
	}
	return o, nil
}

func TestUpdateStatus_VersionConflict(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()
	o := f.placeOrder(t)

	repo := &racingRepo{Store: f.store}
	svc := NewOrderService(repo, inventory.NewLedger(repo, zap.NewNop()), NewPaymentService(), NewStatsAggregator(repo, 0.05), Settings{})

	_, err := svc.UpdateStatus(ctx, admin, o.ID, StatusUpdateRequest{Status: models.OrderStatusShipped})
	assert.ErrorIs(t, err, models.ErrVersionConflict)

	got, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Status)
	assert.Equal(t, "near the temple", got.Shipping.Landmark)
	assert.Equal(t, int64(2), got.Version)
}

func TestAssignDelivery_ConfirmsPendingOrder(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()
	o := f.placeOrder(t)

	assigned, err := f.svc.AssignDelivery(ctx, admin, o.ID, AssignDeliveryRequest{DeliveryPersonID: "d1"})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusConfirmed, assigned.Status)
	assert.True(t, assigned.TrackingStages[1].Completed)
	assert.Equal(t, "d1", assigned.DeliveryPersonID)
	assert.Equal(t, "Ravi", assigned.DeliveryPersonName)
	require.Len(t, assigned.TrackingUpdates, 2)
	assert.Equal(t, "Assigned to delivery person Ravi", assigned.TrackingUpdates[1].Message)

	dp, err := f.store.GetDeliveryPerson(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 1, dp.CurrentOrders)

	assert.Contains(t, f.events.types, models.EventTypeDeliveryAssigned)
}

func TestAssignDelivery_Reassign(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()
	o := f.placeOrder(t)

	_, err := f.svc.AssignDelivery(ctx, admin, o.ID, AssignDeliveryRequest{DeliveryPersonID: "d1"})
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, admin, o.ID, StatusUpdateRequest{Status: models.OrderStatusShipped})
	require.NoError(t, err)

	reassigned, err := f.svc.AssignDelivery(ctx, admin, o.ID, AssignDeliveryRequest{DeliveryPersonID: "d3", DeliveryPersonName: "Meena K"})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, reassigned.Status)
	assert.Equal(t, "Meena K", reassigned.DeliveryPersonName)

	d1, _ := f.store.GetDeliveryPerson(ctx, "d1")
	d3, _ := f.store.GetDeliveryPerson(ctx, "d3")
	assert.Equal(t, 0, d1.CurrentOrders)
	assert.Equal(t, 1, d3.CurrentOrders)

	_, err = f.svc.GetOrder(ctx, courier, o.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.GetOrder(ctx, courier3, o.ID)
	assert.NoError(t, err)
}

func TestAssignDelivery_UnavailablePerson(t *testing.T) {
	ctx := context.Background()

	lenient := newFixture(t, Settings{})
	o := lenient.placeOrder(t)
	assigned, err := lenient.svc.AssignDelivery(ctx, admin, o.ID, AssignDeliveryRequest{DeliveryPersonID: "d2"})
	require.NoError(t, err)
	assert.Contains(t, assigned.TrackingUpdates[1].Message, "marked unavailable")

	strict := newFixture(t, Settings{StrictAssignment: true})
	o = strict.placeOrder(t)
	_, err = strict.svc.AssignDelivery(ctx, admin, o.ID, AssignDeliveryRequest{DeliveryPersonID: "d2"})
	assert.ErrorIs(t, err, ErrDeliveryPersonUnavailable)

	got, err := strict.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Status)
	assert.Empty(t, got.DeliveryPersonID)
}

func TestAssignDelivery_Errors(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()
	o := f.placeOrder(t)

	_, err := f.svc.AssignDelivery(ctx, customer, o.ID, AssignDeliveryRequest{DeliveryPersonID: "d1"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.AssignDelivery(ctx, admin, o.ID, AssignDeliveryRequest{DeliveryPersonID: "ghost"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.svc.CancelOrder(ctx, admin, o.ID, "")
	require.NoError(t, err)
	_, err = f.svc.AssignDelivery(ctx, admin, o.ID, AssignDeliveryRequest{DeliveryPersonID: "d1"})
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestDeliveryHandshake(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()
	o := f.placeOrder(t, OrderItemRequest{ProductID: "p1", Quantity: 2}, OrderItemRequest{ProductID: "p2", Quantity: 1})

	_, err := f.svc.AssignDelivery(ctx, admin, o.ID, AssignDeliveryRequest{DeliveryPersonID: "d1"})
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, courier, o.ID, StatusUpdateRequest{Status: models.OrderStatusShipped})
	require.NoError(t, err)

	code, err := f.svc.GenerateDeliveryOtp(ctx, courier, o.ID)
	require.NoError(t, err)
	assert.Len(t, code, 6)
	assert.GreaterOrEqual(t, code, "100000")
	assert.LessOrEqual(t, code, "999999")

	last := f.notifier.sent[len(f.notifier.sent)-1]
	assert.Equal(t, code, last.Otp)
	assert.Equal(t, models.OrderStatusOutForDelivery, last.Status)

	_, err = f.svc.ConfirmDelivery(ctx, customer, o.ID, wrongCode(code))
	assert.ErrorIs(t, err, lifecycle.ErrOtpMismatch)

	delivered, err := f.svc.ConfirmDelivery(ctx, customer, o.ID, code)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, delivered.Status)
	assert.Empty(t, delivered.DeliveryOtp)
	assert.NotNil(t, delivered.DeliveredAt)
	assert.Equal(t, []bool{true, true, true, true, true}, completedStages(delivered))

	dp, err := f.store.GetDeliveryPerson(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 0, dp.CurrentOrders)
	assert.Equal(t, 1, dp.CompletedDeliveries)
	assert.Equal(t, 1, dp.TotalDeliveries)
	assert.InDelta(t, delivered.Total*0.05, dp.Earnings, 0.01)

	s1, _ := f.store.Seller("s1")
	s2, _ := f.store.Seller("s2")
	assert.Equal(t, 1, s1.TotalSales)
	assert.Equal(t, 1, s2.TotalSales)

	assert.Contains(t, f.events.types, models.EventTypeOrderDelivered)

	_, err = f.svc.ConfirmDelivery(ctx, customer, o.ID, code)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func wrongCode(code string) string {
	if code == "123456" {
		return "654321"
	}
	return "123456"
}

func TestGenerateDeliveryOtp_Rules(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()
	o := f.placeOrder(t)

	_, err := f.svc.GenerateDeliveryOtp(ctx, admin, o.ID)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	_, err = f.svc.AssignDelivery(ctx, admin, o.ID, AssignDeliveryRequest{DeliveryPersonID: "d1"})
	require.NoError(t, err)

	_, err = f.svc.GenerateDeliveryOtp(ctx, customer, o.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.GenerateDeliveryOtp(ctx, admin, "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)

	first, err := f.svc.GenerateDeliveryOtp(ctx, courier, o.ID)
	require.NoError(t, err)

	stored, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, first, stored.DeliveryOtp)

	// Failed hand-over voids the outstanding code.
	_, err = f.svc.UpdateStatus(ctx, courier, o.ID, StatusUpdateRequest{Status: models.OrderStatusShipped, Message: "Customer not home"})
	require.NoError(t, err)
	_, err = f.svc.ConfirmDelivery(ctx, customer, o.ID, first)
	assert.ErrorIs(t, err, lifecycle.ErrOtpNotIssued)
}

func TestConfirmDelivery_LocksAfterFailures(t *testing.T) {
	f := newFixture(t, Settings{})
	guard := &fakeOtpGuard{max: 2, failures: map[string]int{}}
	f.svc.WithOtpGuard(guard)
	ctx := context.Background()
	o := f.placeOrder(t)

	_, err := f.svc.AssignDelivery(ctx, admin, o.ID, AssignDeliveryRequest{DeliveryPersonID: "d1"})
	require.NoError(t, err)
	code, err := f.svc.GenerateDeliveryOtp(ctx, courier, o.ID)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = f.svc.ConfirmDelivery(ctx, customer, o.ID, wrongCode(code))
		assert.ErrorIs(t, err, lifecycle.ErrOtpMismatch, fmt.Sprintf("attempt %d", i+1))
	}
	_, err = f.svc.ConfirmDelivery(ctx, customer, o.ID, code)
	assert.ErrorIs(t, err, ErrOtpLocked)

	// A new code opens a fresh window.
	code, err = f.svc.GenerateDeliveryOtp(ctx, courier, o.ID)
	require.NoError(t, err)
	_, err = f.svc.ConfirmDelivery(ctx, customer, o.ID, code)
	require.NoError(t, err)
	assert.Empty(t, guard.failures)
}

func TestConfirmDelivery_Access(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()
	o := f.placeOrder(t)

	_, err := f.svc.AssignDelivery(ctx, admin, o.ID, AssignDeliveryRequest{DeliveryPersonID: "d1"})
	require.NoError(t, err)
	code, err := f.svc.GenerateDeliveryOtp(ctx, courier, o.ID)
	require.NoError(t, err)

	_, err = f.svc.ConfirmDelivery(ctx, courier, o.ID, code)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.ConfirmDelivery(ctx, stranger, o.ID, code)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestDeliveryPersonAvailability(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()

	dp, err := f.svc.SetAvailability(ctx, courier, "d1", false)
	require.NoError(t, err)
	assert.False(t, dp.IsAvailable)

	_, err = f.svc.SetAvailability(ctx, courier, "d3", false)
	assert.ErrorIs(t, err, ErrForbidden)

	dp, err = f.svc.SetAvailability(ctx, admin, "d3", false)
	require.NoError(t, err)
	assert.False(t, dp.IsAvailable)

	_, err = f.svc.SetAvailability(ctx, admin, "ghost", true)
	assert.ErrorIs(t, err, models.ErrNotFound)

	got, err := f.svc.GetDeliveryPerson(ctx, courier, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Ravi", got.Name)
	_, err = f.svc.GetDeliveryPerson(ctx, customer, "d1")
	assert.ErrorIs(t, err, ErrForbidden)
}
