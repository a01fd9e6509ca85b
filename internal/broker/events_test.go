package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"storefront-orders/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingWriter struct {
	keys   []string
	events []interface{}
}

func (w *recordingWriter) PublishEvent(ctx context.Context, key string, event interface{}) error {
	w.keys = append(w.keys, key)
	w.events = append(w.events, event)
	return nil
}

func TestEventPublisher_KeysByOrder(t *testing.T) {
	w := &recordingWriter{}
	ep := NewEventPublisher(w)
	ctx := context.Background()

	require.NoError(t, ep.PublishOrderCreated(ctx, &models.OrderCreatedEvent{OrderID: "o1"}))
	require.NoError(t, ep.PublishOrderStatusChanged(ctx, &models.OrderStatusChangedEvent{OrderID: "o1"}))
	require.NoError(t, ep.PublishDeliveryAssigned(ctx, &models.DeliveryAssignedEvent{OrderID: "o2"}))
	require.NoError(t, ep.PublishOrderCancelled(ctx, &models.OrderCancelledEvent{OrderID: "o2"}))
	require.NoError(t, ep.PublishOrderDelivered(ctx, &models.OrderDeliveredEvent{OrderID: "o3"}))

	assert.Equal(t, []string{"order-o1", "order-o1", "order-o2", "order-o2", "order-o3"}, w.keys)
}

func TestEventHandler_RoutesCheckout(t *testing.T) {
	eh := NewEventHandler(zap.NewNop())

	var got *models.CheckoutRequestedEvent
	eh.OnCheckoutRequested(func(ctx context.Context, e *models.CheckoutRequestedEvent) error {
		got = e
		return nil
	})

	payload, err := json.Marshal(models.CheckoutRequestedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-1", EventType: models.EventTypeCheckoutRequested},
		UserID:    "u1",
		Items:     []models.CheckoutItemData{{ProductID: "p1", Quantity: 2}},
	})
	require.NoError(t, err)

	require.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: payload}))
	require.NotNil(t, got)
	assert.Equal(t, "evt-1", got.EventID)
	assert.Equal(t, 2, got.Items[0].Quantity)
}

func TestEventHandler_PropagatesHandlerError(t *testing.T) {
	eh := NewEventHandler(zap.NewNop())
	eh.OnCheckoutRequested(func(ctx context.Context, e *models.CheckoutRequestedEvent) error {
		return errors.New("boom")
	})

	payload := []byte(`{"event_id":"e","event_type":"CHECKOUT_REQUESTED"}`)
	err := eh.HandleMessage(context.Background(), kafka.Message{Value: payload})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedMessage)
}

func TestEventHandler_IgnoresUnknownAndRejectsGarbage(t *testing.T) {
	eh := NewEventHandler(zap.NewNop())

	assert.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: []byte(`{"event_type":"SOMETHING_ELSE"}`)}))
	assert.ErrorIs(t, eh.HandleMessage(context.Background(), kafka.Message{Value: []byte(`not json`)}), ErrMalformedMessage)
}

func TestHeaderCarrier(t *testing.T) {
	msg := kafka.Message{}
	c := headerCarrier{msg: &msg}

	c.Set("traceparent", "a")
	c.Set("traceparent", "b")
	c.Set("baggage", "x=1")

	assert.Equal(t, "b", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent", "baggage"}, c.Keys())
	assert.Empty(t, c.Get("missing"))
}
