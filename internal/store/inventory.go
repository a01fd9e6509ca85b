package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront-orders/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const adjustmentColumns = `id, order_id, kind, lines, status, attempts, last_error,
	missing_products, created_at, applied_at`

type adjustmentRow struct {
	ID              string                             `db:"id"`
	OrderID         string                             `db:"order_id"`
	Kind            string                             `db:"kind"`
	Lines           jsonColumn[[]models.InventoryLine] `db:"lines"`
	Status          string                             `db:"status"`
	Attempts        int                                `db:"attempts"`
	LastError       string                             `db:"last_error"`
	MissingProducts pq.StringArray                     `db:"missing_products"`
	CreatedAt       time.Time                          `db:"created_at"`
	AppliedAt       sql.NullTime                       `db:"applied_at"`
}

func (r *adjustmentRow) toModel() *models.InventoryAdjustment {
	adj := &models.InventoryAdjustment{
		ID:              r.ID,
		OrderID:         r.OrderID,
		Kind:            r.Kind,
		Lines:           r.Lines.V,
		Status:          r.Status,
		Attempts:        r.Attempts,
		LastError:       r.LastError,
		MissingProducts: []string(r.MissingProducts),
		CreatedAt:       r.CreatedAt,
	}
	if r.AppliedAt.Valid {
		t := r.AppliedAt.Time
		adj.AppliedAt = &t
	}
	return adj
}

func insertAdjustment(ctx context.Context, tx *sqlx.Tx, adj *models.InventoryAdjustment) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_adjustments (id, order_id, kind, lines, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		adj.ID, adj.OrderID, adj.Kind, jsonColumn[[]models.InventoryLine]{V: adj.Lines}, adj.Status, adj.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record inventory adjustment: %w", err)
	}
	return nil
}

// ApplyAdjustment settles a pending adjustment under a row lock. Applying an
// already applied adjustment is a no-op. Lines for unknown products are
// skipped and reported.
func (s *Store) ApplyAdjustment(ctx context.Context, id string) ([]string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var row adjustmentRow
	err = tx.GetContext(ctx, &row,
		"SELECT "+adjustmentColumns+" FROM inventory_adjustments WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, notFound(err, "inventory adjustment %s", id)
	}
	if row.Status == models.AdjustmentApplied {
		return []string(row.MissingProducts), nil
	}

	missing := []string{}
	for _, line := range row.Lines.V {
		res, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock + $1, total_sales = total_sales + $2 WHERE id = $3",
			line.StockDelta, line.SalesDelta, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("failed to adjust product %s: %w", line.ProductID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			missing = append(missing, line.ProductID)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE inventory_adjustments SET
			status = $1, attempts = attempts + 1, last_error = '',
			missing_products = $2, applied_at = NOW()
		WHERE id = $3`,
		models.AdjustmentApplied, pq.Array(missing), id)
	if err != nil {
		return nil, fmt.Errorf("failed to mark adjustment applied: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if len(missing) == 0 {
		return nil, nil
	}
	return missing, nil
}

func (s *Store) PendingAdjustments(ctx context.Context, limit int) ([]*models.InventoryAdjustment, error) {
	var rows []adjustmentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+adjustmentColumns+` FROM inventory_adjustments
		WHERE status = $1 ORDER BY created_at LIMIT $2`,
		models.AdjustmentPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending adjustments: %w", err)
	}
	out := make([]*models.InventoryAdjustment, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *Store) MarkAdjustmentFailed(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE inventory_adjustments SET attempts = attempts + 1, last_error = $1 WHERE id = $2 AND status = $3",
		reason, id, models.AdjustmentPending)
	return expectOneRow(res, err, "inventory adjustment %s", id)
}

func (s *Store) CountPendingAdjustments(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM inventory_adjustments WHERE status = $1", models.AdjustmentPending)
	return n, err
}

// AdjustmentsForOrder lists an order's adjustments, oldest first.
func (s *Store) AdjustmentsForOrder(ctx context.Context, orderID string) ([]*models.InventoryAdjustment, error) {
	var rows []adjustmentRow
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT "+adjustmentColumns+" FROM inventory_adjustments WHERE order_id = $1 ORDER BY created_at", orderID); err != nil {
		return nil, err
	}
	out := make([]*models.InventoryAdjustment, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}
