package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	kind       string
	durable    bool
	sent       []published
	declareErr error
	publishErr error
	closed     bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	f.declared = append(f.declared, name)
	f.kind = kind
	f.durable = durable
	return f.declareErr
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublisherDeclaresDurableTopicExchange(t *testing.T) {
	ch := &fakeChannel{}
	_, err := newPublisher(ch, "")
	require.NoError(t, err)

	assert.Equal(t, []string{DefaultExchange}, ch.declared)
	assert.Equal(t, amqp.ExchangeTopic, ch.kind)
	assert.True(t, ch.durable)
}

func TestPublisherDeclareFailureClosesChannel(t *testing.T) {
	ch := &fakeChannel{declareErr: errors.New("access refused")}
	_, err := newPublisher(ch, "bookings")
	require.Error(t, err)
	assert.True(t, ch.closed)
}

func TestPublishSendsPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newPublisher(ch, "bookings")
	require.NoError(t, err)

	payload := map[string]string{"payment_reference": "MEDTECH-1", "status": "scheduled"}
	require.NoError(t, p.Publish(context.Background(), "booking.scheduled", payload))

	require.Len(t, ch.sent, 1)
	sent := ch.sent[0]
	assert.Equal(t, "bookings", sent.exchange)
	assert.Equal(t, "booking.scheduled", sent.key)
	assert.Equal(t, "application/json", sent.msg.ContentType)
	assert.Equal(t, amqp.Persistent, sent.msg.DeliveryMode)

	var got map[string]string
	require.NoError(t, json.Unmarshal(sent.msg.Body, &got))
	assert.Equal(t, payload, got)
}

func TestPublishErrors(t *testing.T) {
	ch := &fakeChannel{publishErr: amqp.ErrClosed}
	p, err := newPublisher(ch, "bookings")
	require.NoError(t, err)

	err = p.Publish(context.Background(), "booking.created", map[string]string{})
	assert.ErrorIs(t, err, amqp.ErrClosed)

	err = p.Publish(context.Background(), "booking.created", make(chan int))
	assert.Error(t, err)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}
