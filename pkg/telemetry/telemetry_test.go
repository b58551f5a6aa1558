package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupTracingExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	shutdown, err := Setup(ctx, Config{Tracing: true, Writer: &buf})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "persist")
	span.End()
	require.NoError(t, shutdown(ctx))

	assert.Contains(t, buf.String(), `"Name":"persist"`)
}

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
