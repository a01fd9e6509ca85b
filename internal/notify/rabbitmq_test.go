package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	declared  []string
	published []amqp.Publishing
	exchanges []string
	closed    bool
	failDecl  bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	if c.failDecl {
		return errors.New("access refused")
	}
	c.declared = append(c.declared, name+"/"+kind)
	return nil
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.exchanges = append(c.exchanges, exchange)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

type fakeConnection struct {
	ch *fakeChannel
}

func (c *fakeConnection) Channel() (Channel, error) { return c.ch, nil }
func (c *fakeConnection) Close() error              { return nil }

func TestPublisher_NotifyStatus(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(&fakeConnection{ch: ch}, "order_notifications_fanout")

	n := StatusNotification{
		OrderID:   "o1",
		UserID:    "u1",
		Status:    "out_for_delivery",
		Message:   "Your order is out for delivery",
		Otp:       "482913",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.NotifyStatus(context.Background(), n))

	assert.Equal(t, []string{"order_notifications_fanout/fanout"}, ch.declared)
	assert.Equal(t, []string{"order_notifications_fanout"}, ch.exchanges)
	require.Len(t, ch.published, 1)
	assert.Equal(t, "application/json", ch.published[0].ContentType)
	assert.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)
	assert.True(t, ch.closed)

	var decoded StatusNotification
	require.NoError(t, json.Unmarshal(ch.published[0].Body, &decoded))
	assert.Equal(t, "482913", decoded.Otp)
}

func TestPublisher_DeclareFailure(t *testing.T) {
	ch := &fakeChannel{failDecl: true}
	p := NewPublisher(&fakeConnection{ch: ch}, "x")

	err := p.NotifyStatus(context.Background(), StatusNotification{OrderID: "o1"})
	assert.Error(t, err)
	assert.Empty(t, ch.published)
	assert.True(t, ch.closed)
}
