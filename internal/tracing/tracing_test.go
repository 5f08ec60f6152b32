package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/opensource-finance/payguard/internal/domain"
)

func TestInitDisabled(t *testing.T) {
	tests := []domain.TracingConfig{
		{Enabled: false, Endpoint: "localhost:4317"},
		{Enabled: true, Endpoint: ""},
	}
	for _, cfg := range tests {
		shutdown, err := Init(context.Background(), cfg, nil)
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	}
}

func TestSampler(t *testing.T) {
	assert.Contains(t, Sampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, Sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, Sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestStartSpan(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "payout.assess", attribute.String("trader_id", "T1"))
	defer span.End()

	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
}

func TestStartSpanRecords(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer(TracerName).Start(context.Background(), "payout.assess")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}
