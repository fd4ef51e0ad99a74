package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/biobank/shipment-lifecycle/internal/domain"
	pkgkafka "github.com/biobank/shipment-lifecycle/pkg/kafka"
	"github.com/biobank/shipment-lifecycle/pkg/logging"
	"github.com/biobank/shipment-lifecycle/pkg/metrics"
	"github.com/biobank/shipment-lifecycle/pkg/resilience"
	"github.com/biobank/shipment-lifecycle/pkg/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// MessageWriter is the part of the Kafka producer the publisher needs
type MessageWriter interface {
	Publish(ctx context.Context, topic string, messages ...pkgkafka.Message) error
}

// EventPublisher implements domain event publishing using Kafka
type EventPublisher struct {
	writer  MessageWriter
	metrics *metrics.Metrics
	logger  *logging.Logger
	retry   *resilience.RetryConfig
	tracer  trace.Tracer
}

// NewEventPublisher creates a new Kafka-based event publisher. metrics may be nil.
func NewEventPublisher(writer MessageWriter, m *metrics.Metrics, logger *logging.Logger) *EventPublisher {
	retry := resilience.DefaultRetryConfig()
	retry.RetryableErrors = func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}

	return &EventPublisher{
		writer:  writer,
		metrics: m,
		logger:  logger,
		retry:   retry,
		tracer:  otel.Tracer("event-publisher"),
	}
}

// topicFor routes specimen events to their own topic
func topicFor(event domain.DomainEvent) string {
	if _, ok := event.(*domain.SpecimensTaggedEvent); ok {
		return pkgkafka.Topics.SpecimenEvents
	}
	return pkgkafka.Topics.ShipmentEvents
}

func shipmentIDOf(event domain.DomainEvent) string {
	switch e := event.(type) {
	case *domain.ShipmentCreatedEvent:
		return e.ShipmentID
	case *domain.ShipmentTransitionedEvent:
		return e.ShipmentID
	case *domain.ShipmentRemovedEvent:
		return e.ShipmentID
	case *domain.SpecimensTaggedEvent:
		return e.ShipmentID
	}
	return ""
}

// Publish publishes a single domain event to Kafka, keyed by shipment ID.
// The message headers carry the producer span so consumers can continue the
// trace.
func (p *EventPublisher) Publish(ctx context.Context, event domain.DomainEvent) error {
	topic := topicFor(event)

	start := time.Now()
	_, err := tracing.TracedOperation(ctx, p.tracer, "publish "+topic, func(ctx context.Context) (struct{}, error) {
		headers := tracing.MapCarrier{}
		tracing.InjectMap(ctx, headers)

		msg := pkgkafka.Message{
			Key:     shipmentIDOf(event),
			Type:    event.EventType(),
			ID:      uuid.New().String(),
			Time:    event.OccurredAt(),
			Headers: headers,
			Payload: event,
		}

		return struct{}{}, resilience.Retry(ctx, p.retry, func() error {
			return p.writer.Publish(ctx, topic, msg)
		})
	}, tracing.MessagingSpanAttributes("kafka", topic, "publish")...)
	duration := time.Since(start)

	if p.metrics != nil {
		p.metrics.RecordKafkaPublish(topic, event.EventType(), err == nil, duration)
	}
	p.logger.KafkaPublish(ctx, topic, event.EventType(), err == nil, duration)

	if err != nil {
		return fmt.Errorf("failed to publish event to kafka: %w", err)
	}
	return nil
}

// PublishAll publishes multiple domain events to Kafka
func (p *EventPublisher) PublishAll(ctx context.Context, events []domain.DomainEvent) error {
	for _, event := range events {
		if err := p.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// NoopPublisher drops every event. Used when Kafka is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, domain.DomainEvent) error { return nil }

func (NoopPublisher) PublishAll(context.Context, []domain.DomainEvent) error { return nil }
