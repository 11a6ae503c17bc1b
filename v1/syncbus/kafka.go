package syncbus

import (
	"context"
	"log/slog"

	sarama "github.com/IBM/sarama"
)

// DefaultKafkaTopic is the topic used when none is given.
const DefaultKafkaTopic = "redlock-events"

// KafkaBus implements Bus using a Kafka backend. Events are produced to and
// consumed from partition 0 of a single topic, keyed by bus key.
type KafkaBus struct {
	topic    string
	client   sarama.Client
	producer sarama.SyncProducer
	consumer sarama.Consumer
	pc       sarama.PartitionConsumer
	hub      *hub
	logger   *slog.Logger
}

// NewKafkaBus connects to brokers and returns a bus on topic. A nil cfg
// means sarama.NewConfig(); an empty topic means DefaultKafkaTopic.
func NewKafkaBus(brokers []string, cfg *sarama.Config, topic string, opts ...Option) (*KafkaBus, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.Return.Successes = true
	cfg.Producer.Partitioner = sarama.NewManualPartitioner
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, err
	}
	b, err := newKafkaBus(producer, consumer, topic, opts...)
	if err != nil {
		_ = consumer.Close()
		_ = producer.Close()
		_ = client.Close()
		return nil, err
	}
	b.client = client
	return b, nil
}

func newKafkaBus(producer sarama.SyncProducer, consumer sarama.Consumer, topic string, opts ...Option) (*KafkaBus, error) {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	pc, err := consumer.ConsumePartition(topic, 0, sarama.OffsetNewest)
	if err != nil {
		return nil, err
	}
	b := &KafkaBus{
		topic:    topic,
		producer: producer,
		consumer: consumer,
		pc:       pc,
		hub:      newHub(),
		logger:   newBusOptions(opts).logger,
	}
	go b.dispatch()
	return b, nil
}

func (b *KafkaBus) dispatch() {
	for msg := range b.pc.Messages() {
		ev, err := decode(msg.Value)
		if err != nil {
			b.logger.Warn("redlock: dropping malformed bus message", "topic", b.topic, "error", err)
			continue
		}
		b.hub.deliver(ev)
	}
}

// Publish implements Bus.Publish.
func (b *KafkaBus) Publish(ctx context.Context, key string, payload []byte) error {
	data, err := encode(key, payload)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic:     b.topic,
		Partition: 0,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(data),
	}
	if _, _, err := b.producer.SendMessage(msg); err != nil {
		return err
	}
	b.hub.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *KafkaBus) Subscribe(ctx context.Context, key string) (<-chan Event, error) {
	return b.hub.subscribe(ctx, key)
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *KafkaBus) Unsubscribe(ctx context.Context, key string, ch <-chan Event) error {
	b.hub.unsubscribe(key, ch)
	return nil
}

// Metrics returns the published and delivered counts.
func (b *KafkaBus) Metrics() Metrics {
	return b.hub.metrics()
}

// Close releases resources used by the KafkaBus.
func (b *KafkaBus) Close() error {
	var errs []error
	errs = append(errs, b.pc.Close())
	b.hub.close()
	errs = append(errs, b.consumer.Close(), b.producer.Close())
	if b.client != nil {
		errs = append(errs, b.client.Close())
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
