package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupExposesInstruments(t *testing.T) {
	shutdown, handler, err := Setup("tts-test", "test")
	require.NoError(t, err)
	defer shutdown(context.Background())

	m, err := NewMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.JobSubmitted(ctx, "fast")
	m.JobRejected(ctx, "QUEUE_FULL")
	m.SyncWaited(ctx, "completed", 0.4)
	m.JobProcessed(ctx, "fast", "completed", 1.2, 3)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	assert.Contains(t, string(body), "tts_jobs_submitted")
	assert.Contains(t, string(body), `tier="fast"`)
	assert.Contains(t, string(body), "tts_chunks_per_job")
}
