package pubsub

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const payloadPreviewLen = 100

// payloadPreview cuts payload to at most payloadPreviewLen bytes without
// splitting a UTF-8 sequence.
func payloadPreview(payload string) string {
	if len(payload) <= payloadPreviewLen {
		return payload
	}
	cut := payloadPreviewLen
	for cut > 0 && !utf8.RuneStart(payload[cut]) {
		cut--
	}
	return payload[:cut] + "..."
}

// TracePatternHandler wraps h so that every pattern message is processed
// inside its own span.
func TracePatternHandler(tracer trace.Tracer, h PatternHandler) PatternHandler {
	return func(ctx context.Context, msg PatternMessage) {
		spanCtx, span := tracer.Start(ctx, fmt.Sprintf("pubsub.process.%s", msg.Pattern),
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.system", "redis"),
				attribute.String("messaging.operation", "process"),
				attribute.String("messaging.destination", msg.Channel),
				attribute.String("messaging.subscription.pattern", msg.Pattern),
				attribute.Int("messaging.message_payload_size_bytes", len(msg.Payload)),
				attribute.String("messaging.message_payload_preview", payloadPreview(msg.Payload)),
			),
		)
		defer span.End()
		h(spanCtx, msg)
	}
}

// TraceMessageHandler wraps h so that every direct channel message is
// processed inside its own span.
func TraceMessageHandler(tracer trace.Tracer, h MessageHandler) MessageHandler {
	return func(ctx context.Context, msg Message) {
		spanCtx, span := tracer.Start(ctx, fmt.Sprintf("pubsub.process.%s", msg.Channel),
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.system", "redis"),
				attribute.String("messaging.operation", "process"),
				attribute.String("messaging.destination", msg.Channel),
				attribute.Int("messaging.message_payload_size_bytes", len(msg.Payload)),
			),
		)
		defer span.End()
		h(spanCtx, msg)
	}
}

// PublisherTracingMiddleware wraps a publisher with tracing capabilities.
type PublisherTracingMiddleware struct {
	publisher Publisher
	tracer    trace.Tracer
}

// NewPublisherTracingMiddleware creates a new publisher with tracing middleware.
func NewPublisherTracingMiddleware(publisher Publisher, tracer trace.Tracer) *PublisherTracingMiddleware {
	return &PublisherTracingMiddleware{
		publisher: publisher,
		tracer:    tracer,
	}
}

// Publish wraps the publish operation in a producer span.
func (p *PublisherTracingMiddleware) Publish(ctx context.Context, channel, payload string) error {
	spanCtx, span := p.tracer.Start(ctx, fmt.Sprintf("pubsub.publish.%s", channel),
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "redis"),
			attribute.String("messaging.operation", "publish"),
			attribute.String("messaging.destination", channel),
			attribute.Int("messaging.message_payload_size_bytes", len(payload)),
			attribute.String("messaging.message_payload_preview", payloadPreview(payload)),
		),
	)
	defer span.End()

	if err := p.publisher.Publish(spanCtx, channel, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Close closes the underlying publisher.
func (p *PublisherTracingMiddleware) Close() error {
	return p.publisher.Close()
}
