package service

import (
	"context"

	"storefront-orders/internal/models"
	"storefront-orders/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StatsStore holds the advisory delivery person and seller counters.
type StatsStore interface {
	UpdateDeliveryPersonCounters(ctx context.Context, id string, delta models.DeliveryPersonDelta) error
	IncrementSellerSales(ctx context.Context, sellerID string, n int) error
}

// StatsAggregator keeps delivery person workload and earnings and seller
// sales in step with orders. Counter updates never fail the order operation
// that caused them.
type StatsAggregator struct {
	store          StatsStore
	commissionRate decimal.Decimal
	logger         *zap.Logger
}

func NewStatsAggregator(store StatsStore, commissionRate float64) *StatsAggregator {
	return &StatsAggregator{
		store:          store,
		commissionRate: decimal.NewFromFloat(commissionRate),
		logger:         util.GetLogger(),
	}
}

// Commission is the delivery person's earning for an order total, rounded to cents.
func (sa *StatsAggregator) Commission(total float64) float64 {
	return decimal.NewFromFloat(total).Mul(sa.commissionRate).Round(2).InexactFloat64()
}

// RecordAssignment moves one unit of workload from the previous delivery
// person (if any) to the new one.
func (sa *StatsAggregator) RecordAssignment(ctx context.Context, orderID, deliveryPersonID, previousID string) {
	if deliveryPersonID == previousID {
		return
	}
	if previousID != "" {
		sa.updatePerson(ctx, orderID, previousID, models.DeliveryPersonDelta{CurrentOrders: -1})
	}
	sa.updatePerson(ctx, orderID, deliveryPersonID, models.DeliveryPersonDelta{CurrentOrders: 1})
}

// ReleaseAssignment drops the workload of an order that will no longer be delivered.
func (sa *StatsAggregator) ReleaseAssignment(ctx context.Context, orderID, deliveryPersonID string) {
	if deliveryPersonID == "" {
		return
	}
	sa.updatePerson(ctx, orderID, deliveryPersonID, models.DeliveryPersonDelta{CurrentOrders: -1})
}

// RecordDelivery credits the delivery person and every distinct seller of a
// delivered order.
func (sa *StatsAggregator) RecordDelivery(ctx context.Context, o *models.Order) {
	ctx, span := util.StartSpan(ctx, "StatsAggregator.RecordDelivery")
	defer span.End()

	if o.DeliveryPersonID != "" {
		sa.updatePerson(ctx, o.ID, o.DeliveryPersonID, models.DeliveryPersonDelta{
			CurrentOrders:       -1,
			CompletedDeliveries: 1,
			TotalDeliveries:     1,
			Earnings:            sa.Commission(o.Total),
		})
	}

	for _, sellerID := range o.SellerIDs() {
		if err := sa.store.IncrementSellerSales(ctx, sellerID, 1); err != nil {
			util.StatsUpdateFailures.WithLabelValues("seller").Inc()
			sa.logger.Error("Failed to update seller stats",
				zap.String("order_id", o.ID),
				zap.String("seller_id", sellerID),
				zap.Error(err))
		}
	}
}

func (sa *StatsAggregator) updatePerson(ctx context.Context, orderID, id string, delta models.DeliveryPersonDelta) {
	if err := sa.store.UpdateDeliveryPersonCounters(ctx, id, delta); err != nil {
		util.StatsUpdateFailures.WithLabelValues("delivery_person").Inc()
		sa.logger.Error("Failed to update delivery person stats",
			zap.String("order_id", orderID),
			zap.String("delivery_person_id", id),
			zap.Error(err))
	}
}
