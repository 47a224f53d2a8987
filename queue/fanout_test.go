package queue

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockFanout(t *testing.T) (*StatusFanout, *MockAMQPChannel) {
	t.Helper()
	ch := &MockAMQPChannel{}
	dialer := &MockAMQPDialer{MockConnection: &MockAMQPConnection{MockChannel: ch}}
	f, err := NewStatusFanoutWithDialer("amqp://localhost", "document-status", dialer)
	require.NoError(t, err)
	return f, ch
}

func TestStatusFanoutDeclaresDurableQueue(t *testing.T) {
	_, ch := newMockFanout(t)
	assert.True(t, ch.QueueDeclareCalled)
	assert.Equal(t, "document-status", ch.LastQueueName)
}

func TestStatusFanoutPublish(t *testing.T) {
	f, ch := newMockFanout(t)

	err := f.PublishStatus(DocumentStatusEvent{
		DocumentID: "doc-1",
		DealID:     "deal-1",
		OrgID:      "org-1",
		Status:     "complete",
	})
	require.NoError(t, err)
	require.Len(t, ch.PublishedMessages, 1)

	msg := ch.PublishedMessages[0]
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), msg.DeliveryMode)
	assert.Equal(t, "document-status", ch.PublishedKeys[0])

	var event DocumentStatusEvent
	require.NoError(t, json.Unmarshal(msg.Body, &event))
	assert.Equal(t, "doc-1", event.DocumentID)
	assert.Equal(t, "complete", event.Status)
	assert.False(t, event.OccurredAt.IsZero())
}

func TestStatusFanoutPublishError(t *testing.T) {
	f, ch := newMockFanout(t)
	ch.PublishErr = errors.New("broker gone")

	err := f.PublishStatus(DocumentStatusEvent{DocumentID: "doc-1", Status: "failed"})
	assert.Error(t, err)
}

func TestStatusFanoutDialError(t *testing.T) {
	dialer := &MockAMQPDialer{DialErr: errors.New("refused")}
	_, err := NewStatusFanoutWithDialer("amqp://localhost", "q", dialer)
	assert.Error(t, err)
}

func TestStatusFanoutChannelFailureCleansUp(t *testing.T) {
	conn := &MockAMQPConnection{ChannelErr: errors.New("no channel")}
	dialer := &MockAMQPDialer{MockConnection: conn}
	_, err := NewStatusFanoutWithDialer("amqp://localhost", "q", dialer)
	assert.Error(t, err)
	assert.True(t, conn.CloseCalled)
}

func TestNopStatusPublisher(t *testing.T) {
	var p NopStatusPublisher
	assert.NoError(t, p.PublishStatus(DocumentStatusEvent{DocumentID: "d"}))
	assert.NoError(t, p.Close())
}
