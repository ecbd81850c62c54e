package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserver(t *testing.T) {
	m := New()

	m.ConnectionOpened(nil)
	m.ConnectionOpened(nil)
	m.ConnectionOpened(errors.New("refused"))
	m.ConnectionReleased(nil)
	m.ConnectionReleased(errors.New("broken pipe"))
	m.CallTimedOut("list vms")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connections.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.releaseFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.callTimeouts.WithLabelValues("list vms")))
}

func TestObserveRequest(t *testing.T) {
	m := New()

	m.ObserveRequest("/api/vm", http.MethodGet, 200, 10*time.Millisecond)
	m.ObserveRequest("/api/vm", http.MethodGet, 200, 20*time.Millisecond)
	m.ObserveRequest("/api/vm/{name}/start", http.MethodPatch, 404, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("/api/vm", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/api/vm/{name}/start", "PATCH", "404")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.requestDuration))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ConnectionReleased(errors.New("broken pipe"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "virtweb_backend_release_failures_total 1"))
	assert.Contains(t, string(body), "go_goroutines")
}
