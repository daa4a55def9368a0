package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventNodeOnline, NodeID: "n-1"})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventNodeOnline, ev.Type)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}
	}

	b.Unsubscribe(sub1)
	b.Unsubscribe(sub1)
	assert.Equal(t, 1, b.SubscriberCount())
}

func TestBrokerPublishDoesNotBlock(t *testing.T) {
	b := NewBroker() // not started: nothing drains the queue

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(&Event{Type: EventTaskQueued})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked")
	}
	assert.Greater(t, b.Dropped(), uint64(0))
	b.Stop()
	b.Stop()
}

type recordingSink struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (s *recordingSink) Publish(ctx context.Context, subject string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects = append(s.subjects, subject)
	s.payloads = append(s.payloads, data)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subjects)
}

func TestForwarderSubjects(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sink := &recordingSink{}
	f := NewForwarder(b, sink, "fleet")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	b.Publish(&Event{ID: "e-1", Type: EventNodeDeleted, NodeID: "n-1"})
	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "fleet.node.deleted", sink.subjects[0])

	var ev Event
	require.NoError(t, json.Unmarshal(sink.payloads[0], &ev))
	assert.Equal(t, "n-1", ev.NodeID)
	assert.Equal(t, EventNodeDeleted, ev.Type)
}

// startTestNATS runs an embedded NATS server on a random port
func startTestNATS(t *testing.T) string {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns.ClientURL()
}

func TestNATSSink(t *testing.T) {
	url := startTestNATS(t)

	conn, err := nats.Connect(url)
	require.NoError(t, err)
	defer conn.Close()

	msgs := make(chan *nats.Msg, 4)
	_, err = conn.ChanSubscribe("warden.>", msgs)
	require.NoError(t, err)
	require.NoError(t, conn.Flush())

	sink, err := NewNATSSink(url)
	require.NoError(t, err)
	defer sink.Close()

	b := NewBroker()
	b.Start()
	defer b.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewForwarder(b, sink, "warden").Run(ctx)
	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	b.Publish(&Event{Type: EventNodeOnline, NodeID: "n-7"})

	select {
	case msg := <-msgs:
		assert.Equal(t, "warden.node.online", msg.Subject)
		var ev Event
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, "n-7", ev.NodeID)
	case <-time.After(5 * time.Second):
		t.Fatal("no message received from NATS")
	}
}

func TestNewSinkSelection(t *testing.T) {
	sink, err := NewSink(configFor("none"))
	require.NoError(t, err)
	assert.Nil(t, sink)

	_, err = NewSink(configFor("sqs"))
	assert.Error(t, err)

	_, err = NewSink(configFor("kafka"))
	assert.Error(t, err, "kafka without brokers")

	cfg := configFor("kafka")
	cfg.KafkaBrokers = []string{"127.0.0.1:9092"}
	sink, err = NewSink(cfg)
	require.NoError(t, err)
	assert.IsType(t, &KafkaSink{}, sink)
	assert.NoError(t, sink.Close())
}
