package mongodb

import (
	"context"
	"time"

	"github.com/biobank/shipment-lifecycle/pkg/logging"
	"github.com/biobank/shipment-lifecycle/pkg/metrics"
	"github.com/biobank/shipment-lifecycle/pkg/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// observer records a span, a metric and a debug log line per operation.
// Metrics and logger are optional.
type observer struct {
	collection string
	database   string
	metrics    *metrics.Metrics
	logger     *logging.Logger
	tracer     trace.Tracer
}

func newObserver(database, collection string, m *metrics.Metrics, logger *logging.Logger) *observer {
	return &observer{
		collection: collection,
		database:   database,
		metrics:    m,
		logger:     logger,
		tracer:     otel.Tracer("mongodb"),
	}
}

// observe runs fn inside a span. fn returns the number of affected documents.
func (o *observer) observe(ctx context.Context, operation string, fn func(ctx context.Context) (int64, error)) error {
	ctx, span := o.tracer.Start(ctx, "mongodb."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(tracing.DatabaseSpanAttributes("mongodb", o.database, operation, o.collection)...),
	)
	defer span.End()

	start := time.Now()
	n, err := fn(ctx)
	duration := time.Since(start)

	tracing.RecordError(span, err)
	if o.metrics != nil {
		o.metrics.RecordMongoDBOperation(o.collection, operation, err == nil, duration)
	}
	if o.logger != nil {
		o.logger.DatabaseQuery(ctx, o.collection, operation, duration, err == nil, n)
	}
	return err
}
