//go:build integration

package natsclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_Connect(t *testing.T) {
	tc := NewTestClient(t)

	assert.True(t, tc.Client.IsHealthy())
	assert.Equal(t, StatusConnected, tc.Client.Status())
	require.NotNil(t, tc.Client.Conn())
	require.NotNil(t, tc.Client.JetStream())

	// Connecting an already-connected client is a no-op.
	require.NoError(t, tc.Client.Connect(context.Background()))
}

func TestIntegration_PublishSubscribe(t *testing.T) {
	tc := NewTestClient(t)

	received := make(chan string, 1)
	_, err := tc.Client.Subscribe("events.test", "", func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	require.NoError(t, err)

	require.NoError(t, tc.Client.Publish("events.test", []byte("hello")))

	select {
	case got := <-received:
		assert.Equal(t, "hello", got)
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}

func TestIntegration_QueueGroupSharesLoad(t *testing.T) {
	tc := NewTestClient(t)

	var mu sync.Mutex
	total := 0
	handler := func(msg *nats.Msg) {
		mu.Lock()
		total++
		mu.Unlock()
	}

	_, err := tc.Client.Subscribe("events.shared", "workers", handler)
	require.NoError(t, err)
	_, err = tc.Client.Subscribe("events.shared", "workers", handler)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, tc.Client.Publish("events.shared", []byte("m")))
	}

	// Queue-group semantics: each message is delivered to exactly one member.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return total == 10
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, total, "queue group must not duplicate deliveries")
}

func TestIntegration_EnsureStream(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	cfg := jetstream.StreamConfig{
		Name:      "EVENTS_TEST",
		Subjects:  []string{"evt.>"},
		Retention: jetstream.WorkQueuePolicy,
	}
	stream, err := tc.Client.EnsureStream(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, stream)

	// EnsureStream is idempotent.
	_, err = tc.Client.EnsureStream(ctx, cfg)
	require.NoError(t, err)

	_, err = tc.Client.JetStream().Publish(ctx, "evt.one", []byte("payload"))
	require.NoError(t, err)

	consumer, err := tc.Client.JetStream().CreateOrUpdateConsumer(ctx, "EVENTS_TEST", jetstream.ConsumerConfig{
		Durable:   "evt-test",
		AckPolicy: jetstream.AckExplicitPolicy,
	})
	require.NoError(t, err)

	msg, err := consumer.Next(jetstream.FetchMaxWait(2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, "evt.one", msg.Subject())
	assert.Equal(t, []byte("payload"), msg.Data())
	require.NoError(t, msg.Ack())
}

func TestIntegration_PublishBeforeConnect(t *testing.T) {
	client := NewClient("nats://127.0.0.1:1")

	err := client.Publish("events.test", []byte("never"))
	require.Error(t, err)
	assert.False(t, client.IsHealthy())
}

func TestIntegration_CloseIsIdempotent(t *testing.T) {
	tc := NewTestClient(t)

	require.NoError(t, tc.Client.Close())
	require.NoError(t, tc.Client.Close())
	assert.Equal(t, StatusDisconnected, tc.Client.Status())
}
