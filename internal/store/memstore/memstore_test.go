package memstore

import (
	"context"
	"testing"
	"time"

	"storefront-orders/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateOrder_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateOrder(ctx, &models.Order{ID: "o1", Status: models.OrderStatusPending, Version: 1}, nil))

	first, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	second, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)

	first.Status = models.OrderStatusConfirmed
	require.NoError(t, s.UpdateOrder(ctx, first, 1, nil))
	assert.Equal(t, int64(2), first.Version)

	second.Status = models.OrderStatusCancelled
	err = s.UpdateOrder(ctx, second, 1, &models.InventoryAdjustment{ID: "a1", OrderID: "o1", Status: models.AdjustmentPending})
	assert.ErrorIs(t, err, models.ErrVersionConflict)

	stored, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)
	assert.Empty(t, s.Adjustments("o1"), "a rejected write must not record its adjustment")
}

func TestGetOrder_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	order := &models.Order{ID: "o1", Items: []models.OrderItem{{ProductID: "p1", Quantity: 1}}, Version: 1}
	require.NoError(t, s.CreateOrder(ctx, order, nil))

	order.Items[0].Quantity = 99
	got, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Items[0].Quantity)
}

func TestListOrders_Filters(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	orders := []*models.Order{
		{ID: "o1", UserID: "u1", Status: models.OrderStatusPending, CreatedAt: base,
			Items: []models.OrderItem{{ProductID: "p1", SellerID: "s1"}}},
		{ID: "o2", UserID: "u2", Status: models.OrderStatusShipped, DeliveryPersonID: "d1", CreatedAt: base.Add(time.Hour),
			Items: []models.OrderItem{{ProductID: "p2", SellerID: "s2"}}},
		{ID: "o3", UserID: "u1", Status: models.OrderStatusShipped, CreatedAt: base.Add(2 * time.Hour),
			Items: []models.OrderItem{{ProductID: "p1", SellerID: "s1"}, {ProductID: "p2", SellerID: "s2"}}},
	}
	for _, o := range orders {
		require.NoError(t, s.CreateOrder(ctx, o, nil))
	}

	ids := func(list []*models.Order) []string {
		out := make([]string, len(list))
		for i, o := range list {
			out[i] = o.ID
		}
		return out
	}

	all, err := s.ListOrders(ctx, models.OrderFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"o3", "o2", "o1"}, ids(all), "newest first")

	byUser, _ := s.ListOrders(ctx, models.OrderFilter{UserID: "u1"})
	assert.Equal(t, []string{"o3", "o1"}, ids(byUser))

	bySeller, _ := s.ListOrders(ctx, models.OrderFilter{SellerID: "s2"})
	assert.Equal(t, []string{"o3", "o2"}, ids(bySeller))

	byStatus, _ := s.ListOrders(ctx, models.OrderFilter{Status: models.OrderStatusShipped, DeliveryPersonID: "d1"})
	assert.Equal(t, []string{"o2"}, ids(byStatus))
}

func TestApplyAdjustment_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutProduct(models.Product{ID: "p1", Stock: 10})
	adj := &models.InventoryAdjustment{
		ID: "a1", OrderID: "o1", Kind: models.AdjustmentReserve, Status: models.AdjustmentPending,
		Lines: []models.InventoryLine{{ProductID: "p1", StockDelta: -2, SalesDelta: 2}, {ProductID: "ghost", StockDelta: -1, SalesDelta: 1}},
	}
	require.NoError(t, s.CreateOrder(ctx, &models.Order{ID: "o1", Version: 1}, adj))

	missing, err := s.ApplyAdjustment(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, missing)

	_, err = s.ApplyAdjustment(ctx, "a1")
	require.NoError(t, err)

	p, _ := s.Product("p1")
	assert.Equal(t, 8, p.Stock)
	assert.Equal(t, 2, p.TotalSales)

	n, err := s.CountPendingAdjustments(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateDeliveryPersonCounters_ClampsCurrentOrders(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutDeliveryPerson(models.DeliveryPerson{ID: "d1"})

	require.NoError(t, s.UpdateDeliveryPersonCounters(ctx, "d1", models.DeliveryPersonDelta{CurrentOrders: -1, CompletedDeliveries: 1, Earnings: 2.5}))

	dp, err := s.GetDeliveryPerson(ctx, "d1")
	require.NoError(t, err)
	assert.Zero(t, dp.CurrentOrders)
	assert.Equal(t, 1, dp.CompletedDeliveries)
	assert.Equal(t, 2.5, dp.Earnings)

	assert.ErrorIs(t, s.UpdateDeliveryPersonCounters(ctx, "nobody", models.DeliveryPersonDelta{}), models.ErrNotFound)
}
