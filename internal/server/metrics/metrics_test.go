package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Records(t *testing.T) {
	c := NewCollector()

	c.RecordHTTP("/api/upload/initiate", 200, 10*time.Millisecond)
	c.RecordQuote("new")
	c.RecordQuote("new")
	c.RecordRateLimited("ip_rate_limit")
	c.RecordUploadOp("complete", errors.New("x"))
	c.RecordWorker("finalized")
	c.RecordArweaveAttempt(nil)
	c.SetQueueDepth(4)
	c.RecordExpired(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("/api/upload/initiate", "200")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.quotes.WithLabelValues("new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.uploadOps.WithLabelValues("complete", "error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.queueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.jobsExpired))
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordHTTP("/x", 500, time.Second)
		c.RecordQuote("new")
		c.RecordRateLimited("x")
		c.RecordUploadOp("x", nil)
		c.RecordWorker("x")
		c.RecordArweaveAttempt(nil)
		c.SetQueueDepth(1)
		c.RecordExpired(1)
	})
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.RecordWorker("enqueued")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `mintydoc_worker_events_total{event="enqueued"} 1`)
}
