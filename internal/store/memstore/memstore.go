// Package memstore is an in-process implementation of the order repository,
// used by unit tests and the "memory" store driver.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"storefront-orders/internal/models"
)

type Store struct {
	mu              sync.RWMutex
	orders          map[string]*models.Order
	products        map[string]*models.Product
	sellers         map[string]*models.Seller
	deliveryPersons map[string]*models.DeliveryPerson
	adjustments     map[string]*models.InventoryAdjustment
	processed       map[string]string
}

func New() *Store {
	return &Store{
		orders:          make(map[string]*models.Order),
		products:        make(map[string]*models.Product),
		sellers:         make(map[string]*models.Seller),
		deliveryPersons: make(map[string]*models.DeliveryPerson),
		adjustments:     make(map[string]*models.InventoryAdjustment),
		processed:       make(map[string]string),
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// PutProduct inserts or replaces a catalog product.
func (s *Store) PutProduct(p models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = &p
}

func (s *Store) PutSeller(sl models.Seller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sellers[sl.ID] = &sl
}

func (s *Store) PutDeliveryPerson(dp models.DeliveryPerson) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveryPersons[dp.ID] = &dp
}

func (s *Store) Product(id string) (models.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return models.Product{}, false
	}
	return *p, true
}

func (s *Store) Seller(id string) (models.Seller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.sellers[id]
	if !ok {
		return models.Seller{}, false
	}
	return *sl, true
}

// Adjustments returns the inventory adjustments recorded for an order, oldest first.
func (s *Store) Adjustments(orderID string) []models.InventoryAdjustment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.InventoryAdjustment
	for _, adj := range s.adjustments {
		if adj.OrderID == orderID {
			out = append(out, *cloneAdjustment(adj))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) CreateOrder(ctx context.Context, order *models.Order, reservation *models.InventoryAdjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	s.orders[order.ID] = order.Clone()
	if reservation != nil {
		s.adjustments[reservation.ID] = cloneAdjustment(reservation)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}
	return o.Clone(), nil
}

func (s *Store) ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Order, 0)
	for _, o := range s.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		if filter.DeliveryPersonID != "" && o.DeliveryPersonID != filter.DeliveryPersonID {
			continue
		}
		if filter.SellerID != "" && !o.HasSeller(filter.SellerID) {
			continue
		}
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// UpdateOrder replaces the order when its stored version still equals
// expectedVersion, and records adj in the same critical section.
func (s *Store) UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64, adj *models.InventoryAdjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders[order.ID]
	if !ok {
		return fmt.Errorf("order %s: %w", order.ID, models.ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("order %s at version %d, expected %d: %w", order.ID, cur.Version, expectedVersion, models.ErrVersionConflict)
	}

	order.Version = expectedVersion + 1
	s.orders[order.ID] = order.Clone()
	if adj != nil {
		s.adjustments[adj.ID] = cloneAdjustment(adj)
	}
	return nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*models.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *Store) GetDeliveryPerson(ctx context.Context, id string) (*models.DeliveryPerson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dp, ok := s.deliveryPersons[id]
	if !ok {
		return nil, fmt.Errorf("delivery person %s: %w", id, models.ErrNotFound)
	}
	cp := *dp
	return &cp, nil
}

// UpdateDeliveryPersonCounters adds delta to the counters; currentOrders never drops below zero.
func (s *Store) UpdateDeliveryPersonCounters(ctx context.Context, id string, delta models.DeliveryPersonDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dp, ok := s.deliveryPersons[id]
	if !ok {
		return fmt.Errorf("delivery person %s: %w", id, models.ErrNotFound)
	}
	dp.CurrentOrders += delta.CurrentOrders
	if dp.CurrentOrders < 0 {
		dp.CurrentOrders = 0
	}
	dp.CompletedDeliveries += delta.CompletedDeliveries
	dp.TotalDeliveries += delta.TotalDeliveries
	dp.Earnings += delta.Earnings
	dp.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SetDeliveryPersonAvailability(ctx context.Context, id string, available bool) (*models.DeliveryPerson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dp, ok := s.deliveryPersons[id]
	if !ok {
		return nil, fmt.Errorf("delivery person %s: %w", id, models.ErrNotFound)
	}
	dp.IsAvailable = available
	dp.UpdatedAt = time.Now().UTC()
	cp := *dp
	return &cp, nil
}

func (s *Store) IncrementSellerSales(ctx context.Context, sellerID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.sellers[sellerID]
	if !ok {
		return fmt.Errorf("seller %s: %w", sellerID, models.ErrNotFound)
	}
	sl.TotalSales += n
	return nil
}

// ApplyAdjustment settles a pending adjustment against the product counters.
// Unknown products are skipped and reported.
func (s *Store) ApplyAdjustment(ctx context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	adj, ok := s.adjustments[id]
	if !ok {
		return nil, fmt.Errorf("inventory adjustment %s: %w", id, models.ErrNotFound)
	}
	if adj.Status == models.AdjustmentApplied {
		return append([]string(nil), adj.MissingProducts...), nil
	}

	var missing []string
	for _, line := range adj.Lines {
		p, ok := s.products[line.ProductID]
		if !ok {
			missing = append(missing, line.ProductID)
			continue
		}
		p.Stock += line.StockDelta
		p.TotalSales += line.SalesDelta
	}

	now := time.Now().UTC()
	adj.Status = models.AdjustmentApplied
	adj.Attempts++
	adj.LastError = ""
	adj.MissingProducts = missing
	adj.AppliedAt = &now
	return missing, nil
}

func (s *Store) PendingAdjustments(ctx context.Context, limit int) ([]*models.InventoryAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.InventoryAdjustment, 0)
	for _, adj := range s.adjustments {
		if adj.Status == models.AdjustmentPending {
			out = append(out, cloneAdjustment(adj))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkAdjustmentFailed(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	adj, ok := s.adjustments[id]
	if !ok {
		return fmt.Errorf("inventory adjustment %s: %w", id, models.ErrNotFound)
	}
	adj.Attempts++
	adj.LastError = reason
	return nil
}

func (s *Store) CountPendingAdjustments(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, adj := range s.adjustments {
		if adj.Status == models.AdjustmentPending {
			n++
		}
	}
	return n, nil
}

func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processed[eventID]
	return ok, nil
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[eventID] = eventType
	return nil
}

func cloneAdjustment(adj *models.InventoryAdjustment) *models.InventoryAdjustment {
	c := *adj
	c.Lines = append([]models.InventoryLine(nil), adj.Lines...)
	c.MissingProducts = append([]string(nil), adj.MissingProducts...)
	if adj.AppliedAt != nil {
		t := *adj.AppliedAt
		c.AppliedAt = &t
	}
	return &c
}
