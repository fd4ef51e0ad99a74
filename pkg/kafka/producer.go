package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message is a keyed event ready to publish
type Message struct {
	Key     string
	Type    string
	ID      string
	Time    time.Time
	Headers map[string]string
	Payload any
}

// Producer publishes JSON messages to Kafka topics, one writer per topic
type Producer struct {
	mu      sync.Mutex
	writers map[string]*kafka.Writer
	config  *Config
}

// NewProducer creates a new Kafka producer
func NewProducer(config *Config) *Producer {
	return &Producer{
		writers: make(map[string]*kafka.Writer),
		config:  config,
	}
}

func (p *Producer) getWriter(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if writer, exists := p.writers[topic]; exists {
		return writer
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(p.config.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    p.config.BatchSize,
		BatchTimeout: p.config.BatchTimeout,
		RequiredAcks: kafka.RequiredAcks(p.config.RequiredAcks),
		WriteTimeout: p.config.WriteTimeout,
	}

	p.writers[topic] = writer
	return writer
}

// ToKafkaMessage encodes a Message with CloudEvents-style headers
func ToKafkaMessage(m Message) (kafka.Message, error) {
	data, err := json.Marshal(m.Payload)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event %s: %w", m.ID, err)
	}

	msg := kafka.Message{
		Key:   []byte(m.Key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "ce-specversion", Value: []byte("1.0")},
			{Key: "ce-type", Value: []byte(m.Type)},
			{Key: "ce-source", Value: []byte("/biobank/shipments")},
			{Key: "ce-id", Value: []byte(m.ID)},
			{Key: "ce-time", Value: []byte(m.Time.UTC().Format(time.RFC3339Nano))},
			{Key: "content-type", Value: []byte("application/json")},
		},
		Time: m.Time,
	}

	for k, v := range m.Headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return msg, nil
}

// Publish writes messages to a topic in one batch. Messages with the same
// key land on the same partition, which keeps per-shipment ordering.
func (p *Producer) Publish(ctx context.Context, topic string, messages ...Message) error {
	if len(messages) == 0 {
		return nil
	}

	out := make([]kafka.Message, 0, len(messages))
	for _, m := range messages {
		msg, err := ToKafkaMessage(m)
		if err != nil {
			return err
		}
		out = append(out, msg)
	}

	if err := p.getWriter(topic).WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// Close closes all writers
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil {
			lastErr = fmt.Errorf("failed to close writer for topic %s: %w", topic, err)
		}
	}
	return lastErr
}
