// Package mongostore implements the order repository on MongoDB. Order writes
// and their inventory adjustments share a multi-document transaction, so the
// deployment must be a replica set.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront-orders/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	colOrders          = "orders"
	colProducts        = "products"
	colSellers         = "sellers"
	colDeliveryPersons = "delivery_persons"
	colAdjustments     = "inventory_adjustments"
	colProcessedEvents = "processed_events"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials MongoDB and makes sure the id indexes exist.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := &Store{client: client, db: client.Database(database)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	for _, col := range []string{colOrders, colProducts, colSellers, colDeliveryPersons, colAdjustments} {
		_, err := s.db.Collection(col).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: unique,
		})
		if err != nil {
			return fmt.Errorf("failed to create index on %s: %w", col, err)
		}
	}

	_, err := s.db.Collection(colOrders).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "items.sellerId", Value: 1}}},
		{Keys: bson.D{{Key: "deliveryPersonId", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}

	_, err = s.db.Collection(colAdjustments).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create adjustment index: %w", err)
	}

	_, err = s.db.Collection(colProcessedEvents).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "eventId", Value: 1}},
		Options: unique,
	})
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// CreateOrder inserts the order and its reservation atomically.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, reservation *models.InventoryAdjustment) error {
	return s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		if _, err := s.db.Collection(colOrders).InsertOne(sc, order); err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}
		if reservation != nil {
			if _, err := s.db.Collection(colAdjustments).InsertOne(sc, reservation); err != nil {
				return fmt.Errorf("failed to record inventory adjustment: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	err := s.db.Collection(colOrders).FindOne(ctx, bson.M{"id": id}).Decode(&o)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	q := bson.M{}
	if filter.Status != "" {
		q["status"] = filter.Status
	}
	if filter.UserID != "" {
		q["userId"] = filter.UserID
	}
	if filter.DeliveryPersonID != "" {
		q["deliveryPersonId"] = filter.DeliveryPersonID
	}
	if filter.SellerID != "" {
		q["items.sellerId"] = filter.SellerID
	}

	cur, err := s.db.Collection(colOrders).Find(ctx, q, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]*models.Order, 0)
	for cur.Next(ctx) {
		var o models.Order
		if err := cur.Decode(&o); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, cur.Err()
}

// UpdateOrder replaces the order document only while its version matches.
func (s *Store) UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64, adj *models.InventoryAdjustment) error {
	next := order.Clone()
	next.Version = expectedVersion + 1

	err := s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		col := s.db.Collection(colOrders)
		res, err := col.ReplaceOne(sc, bson.M{"id": order.ID, "version": expectedVersion}, next)
		if err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		if res.MatchedCount == 0 {
			n, err := col.CountDocuments(sc, bson.M{"id": order.ID})
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("order %s: %w", order.ID, models.ErrNotFound)
			}
			return fmt.Errorf("order %s expected version %d: %w", order.ID, expectedVersion, models.ErrVersionConflict)
		}
		if adj != nil {
			if _, err := s.db.Collection(colAdjustments).InsertOne(sc, adj); err != nil {
				return fmt.Errorf("failed to record inventory adjustment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	order.Version = next.Version
	return nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]*models.Product, error) {
	out := make(map[string]*models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cur, err := s.db.Collection(colProducts).Find(ctx, bson.M{"id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var p models.Product
		if err := cur.Decode(&p); err != nil {
			return nil, err
		}
		out[p.ID] = &p
	}
	return out, cur.Err()
}

func (s *Store) GetDeliveryPerson(ctx context.Context, id string) (*models.DeliveryPerson, error) {
	var dp models.DeliveryPerson
	err := s.db.Collection(colDeliveryPersons).FindOne(ctx, bson.M{"id": id}).Decode(&dp)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("delivery person %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &dp, nil
}

// UpdateDeliveryPersonCounters adds delta with an aggregation pipeline update
// so currentOrders can be floored at zero server-side.
func (s *Store) UpdateDeliveryPersonCounters(ctx context.Context, id string, delta models.DeliveryPersonDelta) error {
	add := func(field string, v any) bson.D {
		return bson.D{{Key: "$add", Value: bson.A{bson.D{{Key: "$ifNull", Value: bson.A{"$" + field, 0}}}, v}}}
	}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "currentOrders", Value: bson.D{{Key: "$max", Value: bson.A{0, add("currentOrders", delta.CurrentOrders)}}}},
			{Key: "completedDeliveries", Value: add("completedDeliveries", delta.CompletedDeliveries)},
			{Key: "totalDeliveries", Value: add("totalDeliveries", delta.TotalDeliveries)},
			{Key: "earnings", Value: add("earnings", delta.Earnings)},
			{Key: "updatedAt", Value: time.Now().UTC()},
		}}},
	}

	res, err := s.db.Collection(colDeliveryPersons).UpdateOne(ctx, bson.M{"id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("delivery person %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *Store) SetDeliveryPersonAvailability(ctx context.Context, id string, available bool) (*models.DeliveryPerson, error) {
	var dp models.DeliveryPerson
	err := s.db.Collection(colDeliveryPersons).FindOneAndUpdate(ctx,
		bson.M{"id": id},
		bson.M{"$set": bson.M{"isAvailable": available, "updatedAt": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&dp)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("delivery person %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &dp, nil
}

func (s *Store) IncrementSellerSales(ctx context.Context, sellerID string, n int) error {
	res, err := s.db.Collection(colSellers).UpdateOne(ctx,
		bson.M{"id": sellerID},
		bson.M{"$inc": bson.M{"totalSales": n}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("seller %s: %w", sellerID, models.ErrNotFound)
	}
	return nil
}

// ApplyAdjustment settles a pending adjustment inside a transaction. The
// status-guarded update makes concurrent settlements conflict instead of
// double-applying.
func (s *Store) ApplyAdjustment(ctx context.Context, id string) ([]string, error) {
	var missing []string

	err := s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		missing = nil

		var adj models.InventoryAdjustment
		err := s.db.Collection(colAdjustments).FindOne(sc, bson.M{"id": id}).Decode(&adj)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("inventory adjustment %s: %w", id, models.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if adj.Status == models.AdjustmentApplied {
			missing = adj.MissingProducts
			return nil
		}

		for _, line := range adj.Lines {
			res, err := s.db.Collection(colProducts).UpdateOne(sc,
				bson.M{"id": line.ProductID},
				bson.M{"$inc": bson.M{"stock": line.StockDelta, "totalSales": line.SalesDelta}})
			if err != nil {
				return fmt.Errorf("failed to adjust product %s: %w", line.ProductID, err)
			}
			if res.MatchedCount == 0 {
				missing = append(missing, line.ProductID)
			}
		}

		res, err := s.db.Collection(colAdjustments).UpdateOne(sc,
			bson.M{"id": id, "status": models.AdjustmentPending},
			bson.M{
				"$set": bson.M{
					"status":          models.AdjustmentApplied,
					"lastError":       "",
					"missingProducts": missing,
					"appliedAt":       time.Now().UTC(),
				},
				"$inc": bson.M{"attempts": 1},
			})
		if err != nil {
			return fmt.Errorf("failed to mark adjustment applied: %w", err)
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("inventory adjustment %s settled concurrently", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return missing, nil
}

func (s *Store) PendingAdjustments(ctx context.Context, limit int) ([]*models.InventoryAdjustment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}).SetLimit(int64(limit))
	cur, err := s.db.Collection(colAdjustments).Find(ctx, bson.M{"status": models.AdjustmentPending}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]*models.InventoryAdjustment, 0)
	for cur.Next(ctx) {
		var adj models.InventoryAdjustment
		if err := cur.Decode(&adj); err != nil {
			return nil, err
		}
		out = append(out, &adj)
	}
	return out, cur.Err()
}

func (s *Store) MarkAdjustmentFailed(ctx context.Context, id, reason string) error {
	res, err := s.db.Collection(colAdjustments).UpdateOne(ctx,
		bson.M{"id": id, "status": models.AdjustmentPending},
		bson.M{"$set": bson.M{"lastError": reason}, "$inc": bson.M{"attempts": 1}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("inventory adjustment %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *Store) CountPendingAdjustments(ctx context.Context) (int, error) {
	n, err := s.db.Collection(colAdjustments).CountDocuments(ctx, bson.M{"status": models.AdjustmentPending})
	return int(n), err
}

func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := s.db.Collection(colProcessedEvents).CountDocuments(ctx, bson.M{"eventId": eventID})
	return n > 0, err
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.Collection(colProcessedEvents).UpdateOne(ctx,
		bson.M{"eventId": eventID},
		bson.M{"$setOnInsert": bson.M{
			"eventId":     eventID,
			"eventType":   eventType,
			"processedAt": time.Now().UTC(),
		}},
		options.Update().SetUpsert(true))
	return err
}
