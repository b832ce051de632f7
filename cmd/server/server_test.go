package server

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/apm-collector/pkg/config"
)

func newTestServer(t *testing.T, status StatusFunc, health HealthFunc) *Server {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "apm_collector_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	cfg := &config.ServerConfig{Addr: "127.0.0.1:0", ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second}
	return NewHTTPServer(cfg, zaptest.NewLogger(t), reg, status, health)
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestEndpoints(t *testing.T) {
	s := newTestServer(t, func() any {
		return map[string]any{"phase": "running", "data_collection_minute": 3}
	}, nil)
	h := s.Handler()

	code, body := get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "apm_collector_test_total 1")

	code, body = get(t, h, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)

	code, body = get(t, h, "/status")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"phase":"running","data_collection_minute":3}`, body)
}

func TestHealthUnavailable(t *testing.T) {
	s := newTestServer(t, nil, func() error { return errors.New("task failed") })
	code, body := get(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "task failed")

	code, body = get(t, s.Handler(), "/status")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{}`, body)
}

func TestStartShutdown(t *testing.T) {
	s := newTestServer(t, nil, nil)
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.listener.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown())
}
