package syncbus

import (
	"context"
	"os"
	"testing"
	"time"

	sarama "github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
)

func TestKafkaBusWithMocks(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	consumer := mocks.NewConsumer(t, cfg)
	pc := consumer.ExpectConsumePartition("locks", 0, sarama.OffsetNewest)

	bus, err := newKafkaBus(producer, consumer, "locks")
	if err != nil {
		t.Fatalf("new kafka bus: %v", err)
	}
	ctx := context.Background()
	ch, err := bus.Subscribe(ctx, "res")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	data, err := encode("res", []byte("node"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	pc.YieldMessage(&sarama.ConsumerMessage{Topic: "locks", Key: []byte("res"), Value: data})
	ev := expectEvent(t, ch, "res")
	if string(ev.Payload) != "node" {
		t.Fatalf("unexpected payload %q", ev.Payload)
	}

	producer.ExpectSendMessageAndSucceed()
	if err := bus.Publish(ctx, "res", nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if m := bus.Metrics(); m.Published != 1 || m.Delivered != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	expectClosed(t, ch)
}

func TestKafkaBusRealBroker(t *testing.T) {
	addr := os.Getenv("REDLOCK_TEST_KAFKA_ADDR")
	if addr == "" {
		t.Skip("REDLOCK_TEST_KAFKA_ADDR not set, skipping Kafka integration tests")
	}
	topic := "redlock-test-" + uuid.NewString()
	bus, err := NewKafkaBus([]string{addr}, nil, topic)
	if err != nil {
		t.Fatalf("NewKafkaBus: %v", err)
	}
	defer bus.Close()

	ctx := context.Background()
	ch, err := bus.Subscribe(ctx, "res")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// Give the partition consumer time to attach.
	time.Sleep(2 * time.Second)
	if err := bus.Publish(ctx, "res", nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}
