package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordJobTerminal(t *testing.T) {
	m := NewMetrics()

	m.RecordJobTerminal("completed")
	m.RecordJobTerminal("completed")
	m.RecordJobTerminal("failed")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.JobsTotal.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsTotal.WithLabelValues("failed")))
}

func TestMetrics_ObserveProviderLatency(t *testing.T) {
	m := NewMetrics()

	m.ObserveProviderLatency("anthropic", "translate_function", 150*time.Millisecond)

	count := testutil.CollectAndCount(m.ProviderLatencySeconds)
	assert.Equal(t, 1, count)
}

func TestStartJobSpan_EndSpan(t *testing.T) {
	NewTracerProvider()

	ctx, span := StartJobSpan(context.Background(), "job-1", "acme")
	require.NotNil(t, span)
	EndSpan(span, "completed", 10*time.Millisecond)

	assert.NotNil(t, ctx)
}
