// Package worker handles SQS batches delivered to the queue-worker Lambda.
//
// Each record body is forwarded as the input variable of a GraphQL mutation.
// Records that fail on their own are reported back as batch item failures so
// SQS redelivers only those; credential and configuration failures fail the
// whole invocation.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pineapplepizza/tokenkeeper/internal/graphql"
	"github.com/pineapplepizza/tokenkeeper/internal/tokencache"
)

// CorrelationAttribute is the SQS message attribute carrying the correlation id.
const CorrelationAttribute = "correlation_id"

const tracerName = "github.com/pineapplepizza/tokenkeeper/internal/worker"

// GraphQLDoer sends a GraphQL operation.
type GraphQLDoer interface {
	Do(ctx context.Context, req graphql.Request, out any) error
}

var _ GraphQLDoer = (*graphql.Client)(nil)

// Option configures a Handler.
type Option func(*Handler)

// WithTracerProvider sets the tracer provider. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(h *Handler) {
		h.tracer = tp.Tracer(tracerName)
	}
}

// WithFlush registers a function run after every batch, once its span has
// ended. The Lambda runtime freezes the sandbox between invocations, so
// buffered telemetry has to be exported before Handle returns.
func WithFlush(flush func(context.Context) error) Option {
	return func(h *Handler) {
		h.flush = flush
	}
}

// Handler forwards SQS records to the GraphQL API.
type Handler struct {
	client    GraphQLDoer
	mutation  string
	logger    *slog.Logger
	tracer    trace.Tracer
	flush     func(context.Context) error
	coldStart atomic.Bool
}

// NewHandler creates a Handler that sends mutation for every record.
func NewHandler(client GraphQLDoer, mutation string, logger *slog.Logger, opts ...Option) (*Handler, error) {
	if client == nil {
		return nil, tokencache.NewConfigurationError("graphql.url", "graphql client is required")
	}
	if mutation == "" {
		return nil, tokencache.NewConfigurationError("graphql.mutation", "mutation is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		client:   client,
		mutation: mutation,
		logger:   logger,
		tracer:   otel.GetTracerProvider().Tracer(tracerName),
	}
	h.coldStart.Store(true)
	for _, opt := range opts {
		opt(h)
	}

	return h, nil
}

// Handle processes one SQS batch.
func (h *Handler) Handle(ctx context.Context, event events.SQSEvent) (resp events.SQSEventResponse, err error) {
	logger := h.logger
	spanAttrs := []attribute.KeyValue{
		attribute.Int("messaging.batch.message_count", len(event.Records)),
		attribute.Bool("faas.coldstart", h.coldStart.Swap(false)),
	}
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		logger = logger.With("lambda_request_id", lc.AwsRequestID)
		spanAttrs = append(spanAttrs, attribute.String("faas.invocation_id", lc.AwsRequestID))
	}

	ctx, span := h.tracer.Start(ctx, "worker.Handle",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(spanAttrs...),
	)
	defer func() {
		span.SetAttributes(attribute.Int("worker.failures", len(resp.BatchItemFailures)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "batch aborted")
		}
		span.End()

		if h.flush != nil {
			if flushErr := h.flush(ctx); flushErr != nil {
				logger.WarnContext(ctx, "telemetry flush failed", "error", flushErr)
			}
		}
	}()

	for _, record := range event.Records {
		recordLogger := logger.With(
			"message_id", record.MessageId,
			"correlation_id", correlationID(record),
		)

		recordErr := h.process(ctx, record)
		if recordErr == nil {
			recordLogger.DebugContext(ctx, "record forwarded")
			continue
		}

		if tokencache.IsIssuerError(recordErr) || tokencache.IsConfigurationError(recordErr) {
			recordLogger.ErrorContext(ctx, "aborting batch", "error", recordErr)
			return events.SQSEventResponse{}, recordErr
		}

		recordLogger.WarnContext(ctx, "record failed", "error", recordErr)
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
			ItemIdentifier: record.MessageId,
		})
	}

	logger.InfoContext(ctx, "batch processed",
		"records", len(event.Records),
		"failures", len(resp.BatchItemFailures),
	)

	return resp, nil
}

func (h *Handler) process(ctx context.Context, record events.SQSMessage) (err error) {
	ctx, span := h.tracer.Start(ctx, "worker.process", trace.WithAttributes(
		attribute.String("messaging.message.id", record.MessageId),
		attribute.String("correlation_id", correlationID(record)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "record failed")
		}
		span.End()
	}()

	if !json.Valid([]byte(record.Body)) {
		return errors.New("record body is not valid JSON")
	}

	err = h.client.Do(ctx, graphql.Request{
		Query:     h.mutation,
		Variables: map[string]any{"input": json.RawMessage(record.Body)},
	}, nil)
	if err != nil {
		return fmt.Errorf("forwarding record: %w", err)
	}

	return nil
}

func correlationID(record events.SQSMessage) string {
	if attr, ok := record.MessageAttributes[CorrelationAttribute]; ok && attr.StringValue != nil && *attr.StringValue != "" {
		return *attr.StringValue
	}
	return record.MessageId
}
