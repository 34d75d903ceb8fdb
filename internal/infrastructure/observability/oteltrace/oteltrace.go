package oteltrace

import (
	"context"

	"github.com/azeloquendo/farm2table-payments/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type tracer struct{ t trace.Tracer }

// New returns a tracer port backed by the global otel provider. Exporter and
// sdktrace.TracerProvider setup are the deployment's concern; without them
// spans are no-ops.
func New(name string) observability.Tracer {
	if name == "" {
		name = "farm2table-payments"
	}
	return &tracer{t: otel.Tracer(name)}
}

func (t *tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.t.Start(ctx, name, trace.WithAttributes(attrs...))
}
