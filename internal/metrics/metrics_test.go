package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveCountsByResult(t *testing.T) {
	m := New()
	m.Observe("send_message", time.Now(), nil)
	m.Observe("send_message", time.Now(), nil)
	m.Observe("send_message", time.Now(), errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("send_message", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("send_message", "error")))
}

func TestUploadBytesOnlyOnSuccess(t *testing.T) {
	m := New()
	m.Upload("photo", 100, nil)
	m.Upload("photo", 50, errors.New("denied"))

	assert.Equal(t, 100.0, testutil.ToFloat64(m.uploaded.WithLabelValues("photo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("photo", "error")))
}

func TestFeedGauge(t *testing.T) {
	m := New()
	done := m.FeedOpened("messages")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.feeds.WithLabelValues("messages")))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.feeds.WithLabelValues("messages")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Observe("x", time.Now(), nil)
	m.Partial("x")
	m.Upload("photo", 1, nil)
	m.FeedOpened("x")()
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Partial("create_conversation")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `messenger_partial_failures_total{operation="create_conversation"} 1`))
}
