// Package inventory keeps product stock and sales counters in step with
// order creation and cancellation.
//
// Adjustments are written as outbox records in the same storage transaction
// as the order change and settled against the product counters afterwards.
// Settlement is best-effort: a failure never fails the order operation, the
// adjustment stays pending and the relay retries it.
package inventory

import (
	"context"
	"fmt"
	"time"

	"storefront-orders/internal/models"
	"storefront-orders/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the persistence the ledger needs. ApplyAdjustment must be
// idempotent: settling an already applied adjustment is a no-op.
type Store interface {
	ApplyAdjustment(ctx context.Context, id string) (missing []string, err error)
	PendingAdjustments(ctx context.Context, limit int) ([]*models.InventoryAdjustment, error)
	MarkAdjustmentFailed(ctx context.Context, id, reason string) error
	CountPendingAdjustments(ctx context.Context) (int, error)
}

// Reservation builds the adjustment for a newly placed order: stock goes down
// and sales go up by each item quantity.
func Reservation(orderID string, items []models.OrderItem, now time.Time) *models.InventoryAdjustment {
	return newAdjustment(orderID, models.AdjustmentReserve, items, -1, now)
}

// Restoration is the exact inverse of Reservation for the same items.
func Restoration(orderID string, items []models.OrderItem, now time.Time) *models.InventoryAdjustment {
	return newAdjustment(orderID, models.AdjustmentRestore, items, 1, now)
}

func newAdjustment(orderID, kind string, items []models.OrderItem, stockSign int, now time.Time) *models.InventoryAdjustment {
	lines := make([]models.InventoryLine, 0, len(items))
	for _, item := range items {
		q := item.Quantity
		if q < 0 {
			q = 0
		}
		lines = append(lines, models.InventoryLine{
			ProductID:  item.ProductID,
			StockDelta: stockSign * q,
			SalesDelta: -stockSign * q,
		})
	}
	return &models.InventoryAdjustment{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Kind:      kind,
		Lines:     lines,
		Status:    models.AdjustmentPending,
		CreatedAt: now,
	}
}

type Ledger struct {
	store  Store
	logger *zap.Logger
}

func NewLedger(store Store, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger,
	}
}

// Settle applies a persisted adjustment to the product counters. Failures are
// recorded on the adjustment and logged; they are never returned.
func (l *Ledger) Settle(ctx context.Context, adj *models.InventoryAdjustment) {
	if adj == nil {
		return
	}
	ctx, span := util.StartSpan(ctx, "Ledger.Settle")
	defer span.End()

	_ = l.settle(ctx, adj)
}

func (l *Ledger) settle(ctx context.Context, adj *models.InventoryAdjustment) error {
	start := time.Now()
	missing, err := l.store.ApplyAdjustment(ctx, adj.ID)
	util.InventorySettleLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		util.InventorySyncFailures.WithLabelValues(adj.Kind).Inc()
		l.logger.Error("Inventory sync failure",
			zap.String("adjustment_id", adj.ID),
			zap.String("order_id", adj.OrderID),
			zap.String("kind", adj.Kind),
			zap.Error(err))
		if markErr := l.store.MarkAdjustmentFailed(ctx, adj.ID, err.Error()); markErr != nil {
			l.logger.Error("Failed to record inventory sync failure",
				zap.String("adjustment_id", adj.ID),
				zap.Error(markErr))
		}
		return err
	}

	if len(missing) > 0 {
		util.InventorySyncFailures.WithLabelValues(adj.Kind).Inc()
		l.logger.Warn("Inventory adjustment skipped unknown products",
			zap.String("adjustment_id", adj.ID),
			zap.String("order_id", adj.OrderID),
			zap.Strings("product_ids", missing))
	}
	return nil
}

// RelayPending retries up to limit pending adjustments and returns how many
// were settled.
func (l *Ledger) RelayPending(ctx context.Context, limit int) (int, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.RelayPending")
	defer span.End()

	pending, err := l.store.PendingAdjustments(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending adjustments: %w", err)
	}

	settled := 0
	for _, adj := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := l.settle(ctx, adj); err == nil {
			settled++
		}
	}

	if count, err := l.store.CountPendingAdjustments(ctx); err == nil {
		util.InventoryAdjustmentsPending.Set(float64(count))
	}

	if settled > 0 {
		l.logger.Info("Relayed pending inventory adjustments", zap.Int("settled", settled))
	}
	return settled, nil
}

// Health is the admin-facing inventory sync signal.
type Health struct {
	Healthy            bool           `json:"healthy"`
	PendingAdjustments int            `json:"pendingAdjustments"`
	RecentFailures     []FailedAdjust `json:"recentFailures"`
}

type FailedAdjust struct {
	AdjustmentID string `json:"adjustmentId"`
	OrderID      string `json:"orderId"`
	Kind         string `json:"kind"`
	Attempts     int    `json:"attempts"`
	LastError    string `json:"lastError"`
}

const healthFailureSample = 20

func (l *Ledger) Health(ctx context.Context) (*Health, error) {
	count, err := l.store.CountPendingAdjustments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending adjustments: %w", err)
	}
	util.InventoryAdjustmentsPending.Set(float64(count))

	pending, err := l.store.PendingAdjustments(ctx, healthFailureSample)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending adjustments: %w", err)
	}

	h := &Health{
		Healthy:            count == 0,
		PendingAdjustments: count,
		RecentFailures:     []FailedAdjust{},
	}
	for _, adj := range pending {
		if adj.LastError == "" {
			continue
		}
		h.RecentFailures = append(h.RecentFailures, FailedAdjust{
			AdjustmentID: adj.ID,
			OrderID:      adj.OrderID,
			Kind:         adj.Kind,
			Attempts:     adj.Attempts,
			LastError:    adj.LastError,
		})
	}
	return h, nil
}
