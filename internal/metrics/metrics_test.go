package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveCacheLookup(true)
	m.ObserveCacheLookup(false)
	m.ObserveCacheLookup(false)
	m.ObserveQuotaRejection()
	m.ObserveMoveAttempt("rename", false)
	m.ObserveMoveAttempt("copy-delete", true)
	m.ObservePurge(100)
	m.ObservePurge(50)
	m.ObserveUpload(10, true)
	m.ObserveUpload(0, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.quotaRejections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.moveAttempts.WithLabelValues("rename", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.moveAttempts.WithLabelValues("copy-delete", "success")))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.purgedBytes))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.purgedEntries))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.uploadedBytes))
}

func TestMetrics_RequestStarted(t *testing.T) {
	m := New()

	done := m.RequestStarted("GET", "/api/files")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsInFlight))
	done(200)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.requestsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/api/files", "200")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveQuotaRejection()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "drive_quota_rejections_total 1"))
}
