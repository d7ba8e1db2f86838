package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sdqueue/internal/logging"
)

type fakePublisher struct {
	mu     sync.Mutex
	sent   []Event
	fail   bool
	block  chan struct{}
	closed bool
}

func (p *fakePublisher) Name() string { return "fake" }

func (p *fakePublisher) Send(_ context.Context, evt Event) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.sent = append(p.sent, evt)
	return nil
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestForwarderDeliversInOrderAndDrainsOnClose(t *testing.T) {
	pub := &fakePublisher{}
	fwd := NewForwarder(pub, 16, logging.NewNop())

	for _, id := range []string{"a", "b", "c"} {
		fwd.Publish(New(JobAdded, id, nil))
	}
	require.NoError(t, fwd.Close())

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.sent, 3)
	assert.Equal(t, "a", pub.sent[0].JobID)
	assert.Equal(t, "c", pub.sent[2].JobID)
	assert.True(t, pub.closed)

	fwd.Publish(New(JobAdded, "late", nil))
	assert.Len(t, pub.sent, 3, "publish after close must be ignored")
}

func TestForwarderDropsWhenBufferFull(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	fwd := NewForwarder(pub, 1, logging.NewNop())

	for i := 0; i < 10; i++ {
		fwd.Publish(New(JobProgress, "job", map[string]any{"step": i}))
	}
	require.Eventually(t, func() bool { return fwd.Dropped() > 0 }, time.Second, 5*time.Millisecond)

	close(pub.block)
	require.NoError(t, fwd.Close())
}

func TestForwarderCountsFailures(t *testing.T) {
	pub := &fakePublisher{fail: true}
	fwd := NewForwarder(pub, 4, logging.NewNop())
	fwd.Publish(New(JobDeleted, "job", nil))
	require.NoError(t, fwd.Close())
	assert.Equal(t, uint64(1), fwd.Failed())
}

func TestEncodeProducesWireShape(t *testing.T) {
	evt := New(JobPreview, "job-7", map[string]any{"step": 4, "width": 512})
	evt.Sequence = 9

	payload, err := Encode(evt)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "job_preview", decoded["type"])
	assert.Equal(t, "job-7", decoded["job_id"])
	assert.EqualValues(t, 9, decoded["seq"])
	fields, ok := decoded["fields"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 512, fields["width"])
}

func TestAMQPMessageCarriesTypeAndJSON(t *testing.T) {
	evt := New(JobStatusChanged, "job-1", map[string]any{"status": "completed"})
	msg, err := amqpMessage(evt)
	require.NoError(t, err)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, string(JobStatusChanged), msg.Type)
	assert.Contains(t, string(msg.Body), `"job_id":"job-1"`)
}

func TestNewRedisPublisherRejectsBadURL(t *testing.T) {
	_, err := NewRedisPublisher(context.Background(), "not-a-url", "chan")
	require.Error(t, err)
}
