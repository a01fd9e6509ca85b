package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"storefront-orders/internal/models"

	"github.com/lib/pq"
)

const orderColumns = `id, user_id, user_name, items, seller_ids, subtotal, tax, total, status,
	payment_method, payment_status, shipping, tracking_stages, tracking_updates,
	delivery_person_id, delivery_person_name, delivery_otp, estimated_delivery,
	delivered_at, cancellation_reason, version, created_at, updated_at`

type orderRow struct {
	ID                 string                              `db:"id"`
	UserID             string                              `db:"user_id"`
	UserName           string                              `db:"user_name"`
	Items              jsonColumn[[]models.OrderItem]      `db:"items"`
	SellerIDs          pq.StringArray                      `db:"seller_ids"`
	Subtotal           float64                             `db:"subtotal"`
	Tax                float64                             `db:"tax"`
	Total              float64                             `db:"total"`
	Status             string                              `db:"status"`
	PaymentMethod      string                              `db:"payment_method"`
	PaymentStatus      string                              `db:"payment_status"`
	Shipping           jsonColumn[models.ShippingInfo]     `db:"shipping"`
	TrackingStages     jsonColumn[[]models.TrackingStage]  `db:"tracking_stages"`
	TrackingUpdates    jsonColumn[[]models.TrackingUpdate] `db:"tracking_updates"`
	DeliveryPersonID   sql.NullString                      `db:"delivery_person_id"`
	DeliveryPersonName string                              `db:"delivery_person_name"`
	DeliveryOtp        sql.NullString                      `db:"delivery_otp"`
	EstimatedDelivery  time.Time                           `db:"estimated_delivery"`
	DeliveredAt        sql.NullTime                        `db:"delivered_at"`
	CancellationReason string                              `db:"cancellation_reason"`
	Version            int64                               `db:"version"`
	CreatedAt          time.Time                           `db:"created_at"`
	UpdatedAt          time.Time                           `db:"updated_at"`
}

func newOrderRow(o *models.Order) orderRow {
	r := orderRow{
		ID:                 o.ID,
		UserID:             o.UserID,
		UserName:           o.UserName,
		Items:              jsonColumn[[]models.OrderItem]{V: o.Items},
		SellerIDs:          pq.StringArray(o.SellerIDs()),
		Subtotal:           o.Subtotal,
		Tax:                o.Tax,
		Total:              o.Total,
		Status:             o.Status,
		PaymentMethod:      o.PaymentMethod,
		PaymentStatus:      o.PaymentStatus,
		Shipping:           jsonColumn[models.ShippingInfo]{V: o.Shipping},
		TrackingStages:     jsonColumn[[]models.TrackingStage]{V: o.TrackingStages},
		TrackingUpdates:    jsonColumn[[]models.TrackingUpdate]{V: o.TrackingUpdates},
		DeliveryPersonID:   sql.NullString{String: o.DeliveryPersonID, Valid: o.DeliveryPersonID != ""},
		DeliveryPersonName: o.DeliveryPersonName,
		DeliveryOtp:        sql.NullString{String: o.DeliveryOtp, Valid: o.DeliveryOtp != ""},
		EstimatedDelivery:  o.EstimatedDelivery,
		CancellationReason: o.CancellationReason,
		Version:            o.Version,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
	if o.DeliveredAt != nil {
		r.DeliveredAt = sql.NullTime{Time: *o.DeliveredAt, Valid: true}
	}
	return r
}

func (r *orderRow) toModel() *models.Order {
	o := &models.Order{
		ID:                 r.ID,
		UserID:             r.UserID,
		UserName:           r.UserName,
		Items:              r.Items.V,
		Subtotal:           r.Subtotal,
		Tax:                r.Tax,
		Total:              r.Total,
		Status:             r.Status,
		PaymentMethod:      r.PaymentMethod,
		PaymentStatus:      r.PaymentStatus,
		Shipping:           r.Shipping.V,
		TrackingStages:     r.TrackingStages.V,
		TrackingUpdates:    r.TrackingUpdates.V,
		DeliveryPersonID:   r.DeliveryPersonID.String,
		DeliveryPersonName: r.DeliveryPersonName,
		DeliveryOtp:        r.DeliveryOtp.String,
		EstimatedDelivery:  r.EstimatedDelivery,
		CancellationReason: r.CancellationReason,
		Version:            r.Version,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.DeliveredAt.Valid {
		t := r.DeliveredAt.Time
		o.DeliveredAt = &t
	}
	return o
}

// CreateOrder inserts the order and its inventory reservation in one transaction.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, reservation *models.InventoryAdjustment) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO orders (` + orderColumns + `) VALUES (
		:id, :user_id, :user_name, :items, :seller_ids, :subtotal, :tax, :total, :status,
		:payment_method, :payment_status, :shipping, :tracking_stages, :tracking_updates,
		:delivery_person_id, :delivery_person_name, :delivery_otp, :estimated_delivery,
		:delivered_at, :cancellation_reason, :version, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, newOrderRow(order)); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	if reservation != nil {
		if err := insertAdjustment(ctx, tx, reservation); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetOrder retrieves an order by ID
func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "order %s", id)
	}
	return row.toModel(), nil
}

// ListOrders returns matching orders, newest first.
func (s *Store) ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.DeliveryPersonID != "" {
		add("delivery_person_id = $%d", filter.DeliveryPersonID)
	}
	if filter.SellerID != "" {
		add("$%d = ANY(seller_ids)", filter.SellerID)
	}

	query := "SELECT " + orderColumns + " FROM orders"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	var rows []orderRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	orders := make([]*models.Order, 0, len(rows))
	for i := range rows {
		orders = append(orders, rows[i].toModel())
	}
	return orders, nil
}

// UpdateOrder writes the order if its stored version is still expectedVersion
// and records adj in the same transaction. On success order.Version is bumped.
func (s *Store) UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64, adj *models.InventoryAdjustment) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := newOrderRow(order)
	row.Version = expectedVersion
	res, err := tx.NamedExecContext(ctx, `
		UPDATE orders SET
			status = :status,
			payment_status = :payment_status,
			tracking_stages = :tracking_stages,
			tracking_updates = :tracking_updates,
			delivery_person_id = :delivery_person_id,
			delivery_person_name = :delivery_person_name,
			delivery_otp = :delivery_otp,
			delivered_at = :delivered_at,
			cancellation_reason = :cancellation_reason,
			updated_at = :updated_at,
			version = version + 1
		WHERE id = :id AND version = :version`, row)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", order.ID); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("order %s: %w", order.ID, models.ErrNotFound)
		}
		return fmt.Errorf("order %s expected version %d: %w", order.ID, expectedVersion, models.ErrVersionConflict)
	}

	if adj != nil {
		if err := insertAdjustment(ctx, tx, adj); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	order.Version = expectedVersion + 1
	return nil
}

func (s *Store) GetDeliveryPerson(ctx context.Context, id string) (*models.DeliveryPerson, error) {
	var row deliveryPersonRow
	err := s.db.GetContext(ctx, &row, "SELECT "+deliveryPersonColumns+" FROM delivery_persons WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "delivery person %s", id)
	}
	return row.toModel(), nil
}

// UpdateDeliveryPersonCounters adds delta to the counters; current_orders never drops below zero.
func (s *Store) UpdateDeliveryPersonCounters(ctx context.Context, id string, delta models.DeliveryPersonDelta) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE delivery_persons SET
			current_orders = GREATEST(0, current_orders + $1),
			completed_deliveries = completed_deliveries + $2,
			total_deliveries = total_deliveries + $3,
			earnings = earnings + $4,
			updated_at = NOW()
		WHERE id = $5`,
		delta.CurrentOrders, delta.CompletedDeliveries, delta.TotalDeliveries, delta.Earnings, id)
	return expectOneRow(res, err, "delivery person %s", id)
}

func (s *Store) SetDeliveryPersonAvailability(ctx context.Context, id string, available bool) (*models.DeliveryPerson, error) {
	var row deliveryPersonRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE delivery_persons SET is_available = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING `+deliveryPersonColumns, available, id)
	if err != nil {
		return nil, notFound(err, "delivery person %s", id)
	}
	return row.toModel(), nil
}

// UpsertDeliveryPerson inserts or replaces a delivery person.
func (s *Store) UpsertDeliveryPerson(ctx context.Context, dp *models.DeliveryPerson) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO delivery_persons (`+deliveryPersonColumns+`) VALUES (
			:id, :user_id, :name, :is_available, :current_orders, :completed_deliveries,
			:total_deliveries, :earnings, :rating, :status, NOW())
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id, name = EXCLUDED.name, is_available = EXCLUDED.is_available,
			current_orders = EXCLUDED.current_orders, completed_deliveries = EXCLUDED.completed_deliveries,
			total_deliveries = EXCLUDED.total_deliveries, earnings = EXCLUDED.earnings,
			rating = EXCLUDED.rating, status = EXCLUDED.status, updated_at = NOW()`,
		newDeliveryPersonRow(dp))
	return err
}

func (s *Store) IncrementSellerSales(ctx context.Context, sellerID string, n int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sellers SET total_sales = total_sales + $1 WHERE id = $2", n, sellerID)
	return expectOneRow(res, err, "seller %s", sellerID)
}

// UpsertSeller inserts or replaces a seller.
func (s *Store) UpsertSeller(ctx context.Context, sl *models.Seller) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sellers (id, user_id, store_name, total_sales, rating)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id, store_name = EXCLUDED.store_name,
			total_sales = EXCLUDED.total_sales, rating = EXCLUDED.rating`,
		sl.ID, sl.UserID, sl.StoreName, sl.TotalSales, sl.Rating)
	return err
}

func (s *Store) GetSeller(ctx context.Context, id string) (*models.Seller, error) {
	var sl models.Seller
	err := s.db.QueryRowxContext(ctx,
		"SELECT id, user_id, store_name, total_sales, rating FROM sellers WHERE id = $1", id).
		Scan(&sl.ID, &sl.UserID, &sl.StoreName, &sl.TotalSales, &sl.Rating)
	if err != nil {
		return nil, notFound(err, "seller %s", id)
	}
	return &sl, nil
}

const deliveryPersonColumns = `id, user_id, name, is_available, current_orders, completed_deliveries,
	total_deliveries, earnings, rating, status, updated_at`

type deliveryPersonRow struct {
	ID                  string    `db:"id"`
	UserID              string    `db:"user_id"`
	Name                string    `db:"name"`
	IsAvailable         bool      `db:"is_available"`
	CurrentOrders       int       `db:"current_orders"`
	CompletedDeliveries int       `db:"completed_deliveries"`
	TotalDeliveries     int       `db:"total_deliveries"`
	Earnings            float64   `db:"earnings"`
	Rating              float64   `db:"rating"`
	Status              string    `db:"status"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func newDeliveryPersonRow(dp *models.DeliveryPerson) deliveryPersonRow {
	return deliveryPersonRow{
		ID:                  dp.ID,
		UserID:              dp.UserID,
		Name:                dp.Name,
		IsAvailable:         dp.IsAvailable,
		CurrentOrders:       dp.CurrentOrders,
		CompletedDeliveries: dp.CompletedDeliveries,
		TotalDeliveries:     dp.TotalDeliveries,
		Earnings:            dp.Earnings,
		Rating:              dp.Rating,
		Status:              dp.Status,
		UpdatedAt:           dp.UpdatedAt,
	}
}

func (r deliveryPersonRow) toModel() *models.DeliveryPerson {
	return &models.DeliveryPerson{
		ID:                  r.ID,
		UserID:              r.UserID,
		Name:                r.Name,
		IsAvailable:         r.IsAvailable,
		CurrentOrders:       r.CurrentOrders,
		CompletedDeliveries: r.CompletedDeliveries,
		TotalDeliveries:     r.TotalDeliveries,
		Earnings:            r.Earnings,
		Rating:              r.Rating,
		Status:              r.Status,
		UpdatedAt:           r.UpdatedAt,
	}
}

func expectOneRow(res sql.Result, err error, format string, args ...any) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf(format+": %w", append(args, models.ErrNotFound)...)
	}
	return nil
}
